package db

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const logColumns = `epoch, log_id, tick_number, log_type, tx_hash, source, dest, amount, asset_name, raw_data, timestamp`

func scanLogs(rows driver.Rows) ([]models.Log, error) {
	defer rows.Close()

	var logs []models.Log
	for rows.Next() {
		var l models.Log
		if err := rows.Scan(&l.Epoch, &l.LogID, &l.TickNumber, &l.LogType, &l.TxHash,
			&l.Source, &l.Dest, &l.Amount, &l.AssetName, &l.RawData, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MaxLogID returns the highest log id stored for an epoch (-1 when none).
func (s *Store) MaxLogID(ctx context.Context, epoch uint32) (int64, error) {
	var maxID int64
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT max(log_id), count() FROM logs WHERE epoch = ?`, epoch)
	if err := row.Scan(&maxID, &count); err != nil {
		return -1, err
	}
	if count == 0 {
		return -1, nil
	}
	return maxID, nil
}

// InsertLogs bulk-inserts log rows in 10k batches.
func (s *Store) InsertLogs(ctx context.Context, logs []models.Log) error {
	return s.sendBatch(ctx, `INSERT INTO logs`, len(logs), func(b driver.Batch, i int) error {
		l := logs[i]
		return b.Append(l.Epoch, l.LogID, l.TickNumber, l.LogType, l.TxHash,
			l.Source, l.Dest, l.Amount, l.AssetName, l.RawData, l.Timestamp)
	})
}

// LogsInIDRange returns the logs of an epoch with log_id in [startID, endID],
// ordered by log id.
func (s *Store) LogsInIDRange(ctx context.Context, epoch uint32, startID, endID int64) ([]models.Log, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE epoch = ? AND log_id BETWEEN ? AND ?
		ORDER BY log_id`, epoch, startID, endID)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

// OutboundTransfers returns every QU transfer whose source is in addrs within
// the tick range, strictly ordered by (tick, log_id). The flow tracker
// depends on this ordering for deterministic attribution.
func (s *Store) OutboundTransfers(ctx context.Context, addrs []string, tickStart, tickEnd uint64) ([]models.Log, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE log_type = 0 AND source IN (?) AND tick_number BETWEEN ? AND ?
		ORDER BY tick_number, log_id`, addrs, tickStart, tickEnd)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

// TransfersFromAddress returns the QU transfers sent by one address in the
// tick range, ordered by (tick, log_id). Used to build the multicast output
// map for the pass-through contract.
func (s *Store) TransfersFromAddress(ctx context.Context, addr string, tickStart, tickEnd uint64) ([]models.Log, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE log_type = 0 AND source = ? AND tick_number BETWEEN ? AND ?
		ORDER BY tick_number, log_id`, addr, tickStart, tickEnd)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

// LatestTransfersTouching returns the most recent QU transfers where the
// address appears as source or destination.
func (s *Store) LatestTransfersTouching(ctx context.Context, addr string, limit int) ([]models.Log, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE log_type = 0 AND (source = ? OR dest = ?)
		ORDER BY tick_number DESC, log_id DESC
		LIMIT ?`, addr, addr, limit)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows)
}

// InflowToAddresses sums QU transfers received by addrs in the tick range,
// excluding the given source (the burn address when measuring non-emission
// computor inflow).
func (s *Store) InflowToAddresses(ctx context.Context, addrs []string, tickStart, tickEnd uint64, excludeSource string) (int64, error) {
	var total int64
	row := s.conn.QueryRow(ctx, `
		SELECT sum(amount)
		FROM logs
		WHERE log_type = 0 AND dest IN (?) AND source != ?
		  AND tick_number BETWEEN ? AND ?`, addrs, excludeSource, tickStart, tickEnd)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// EmissionRow is one grouped emission aggregate for a computor.
type EmissionRow struct {
	Dest      string
	Amount    int64
	Timestamp time.Time
}

// EmissionTransfers groups the QU transfers from the burn address to the
// epoch's computors inside the end tick: one row per receiving computor.
func (s *Store) EmissionTransfers(ctx context.Context, epoch uint32, endTick uint64, burnAddr string, computors []string) ([]EmissionRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT dest, sum(amount), max(timestamp)
		FROM logs
		WHERE epoch = ? AND log_type = 0 AND tick_number = ? AND source = ? AND dest IN (?)
		GROUP BY dest`, epoch, endTick, burnAddr, computors)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmissionRow
	for rows.Next() {
		var r EmissionRow
		if err := rows.Scan(&r.Dest, &r.Amount, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RewardRanges pairs each OP_START_DISTRIBUTE_REWARDS marker with the
// earliest later OP_END_DISTRIBUTE_REWARDS marker in the same tick, producing
// half-open (start_log_id, end_log_id) ranges.
func (s *Store) RewardRanges(ctx context.Context, epoch uint32) ([]models.RewardRange, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT st.tick_number, st.log_id,
		       min(en.log_id) AS end_log_id
		FROM logs AS st
		INNER JOIN logs AS en
		    ON en.epoch = st.epoch
		   AND en.tick_number = st.tick_number
		   AND en.log_id > st.log_id
		WHERE st.epoch = ?
		  AND st.log_type = 255 AND JSONExtractUInt(st.raw_data, 'customMessage') = ?
		  AND en.log_type = 255 AND JSONExtractUInt(en.raw_data, 'customMessage') = ?
		GROUP BY st.tick_number, st.log_id
		ORDER BY st.tick_number, st.log_id`,
		epoch, models.OpStartDistributeRewards, models.OpEndDistributeRewards)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []models.RewardRange
	for rows.Next() {
		r := models.RewardRange{Epoch: epoch}
		if err := rows.Scan(&r.TickNumber, &r.StartLogID, &r.EndLogID); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// RewardRangeAmount sums the QU transfer logs strictly inside a reward
// bracket whose source is the rewarding contract.
func (s *Store) RewardRangeAmount(ctx context.Context, epoch uint32, r models.RewardRange, rewardSource string) (int64, error) {
	var total int64
	row := s.conn.QueryRow(ctx, `
		SELECT sum(amount)
		FROM logs
		WHERE epoch = ? AND log_type = 0 AND source = ?
		  AND log_id > ? AND log_id < ?`, epoch, rewardSource, r.StartLogID, r.EndLogID)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// HasEndEpochMarker reports whether the log range [startID, endID] of an
// epoch contains at least one END_EPOCH custom message.
func (s *Store) HasEndEpochMarker(ctx context.Context, epoch uint32, startID, endID int64) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count()
		FROM logs
		WHERE epoch = ? AND log_id BETWEEN ? AND ?
		  AND log_type = 255 AND JSONExtractUInt(raw_data, 'customMessage') = ?`,
		epoch, startID, endID, models.OpEndEpoch)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
