package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// UpsertEpochMeta writes the epoch row; the table is keyed by epoch and keeps
// the latest version, so repeated syncs are idempotent.
func (s *Store) UpsertEpochMeta(ctx context.Context, meta models.EpochMeta) error {
	stats := ""
	if meta.FinalStats != nil {
		raw, err := json.Marshal(meta.FinalStats)
		if err != nil {
			return fmt.Errorf("marshal final stats: %w", err)
		}
		stats = string(raw)
	}
	return s.conn.Exec(ctx, `
		INSERT INTO epoch_meta
		(epoch, initial_tick, end_tick, end_tick_start_log_id, end_tick_end_log_id, is_complete, final_stats, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.Epoch, meta.InitialTick, meta.EndTick, meta.EndTickStartLogID,
		meta.EndTickEndLogID, meta.IsComplete, stats, time.Now().UTC())
}

// GetEpochMeta loads the current row for an epoch.
func (s *Store) GetEpochMeta(ctx context.Context, epoch uint32) (models.EpochMeta, bool, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, initial_tick, end_tick, end_tick_start_log_id, end_tick_end_log_id, is_complete, final_stats
		FROM epoch_meta FINAL
		WHERE epoch = ?`, epoch)
	if err != nil {
		return models.EpochMeta{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.EpochMeta{}, false, rows.Err()
	}

	var meta models.EpochMeta
	var stats string
	if err := rows.Scan(&meta.Epoch, &meta.InitialTick, &meta.EndTick,
		&meta.EndTickStartLogID, &meta.EndTickEndLogID, &meta.IsComplete, &stats); err != nil {
		return models.EpochMeta{}, false, err
	}
	if stats != "" {
		var fs models.EpochFinalStats
		if err := json.Unmarshal([]byte(stats), &fs); err == nil {
			meta.FinalStats = &fs
		}
	}
	return meta, true, nil
}

// CompletedEpochs returns the most recent complete epochs, newest first.
func (s *Store) CompletedEpochs(ctx context.Context, limit int) ([]models.EpochMeta, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, initial_tick, end_tick, end_tick_start_log_id, end_tick_end_log_id, is_complete
		FROM epoch_meta FINAL
		WHERE is_complete
		ORDER BY epoch DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []models.EpochMeta
	for rows.Next() {
		var m models.EpochMeta
		if err := rows.Scan(&m.Epoch, &m.InitialTick, &m.EndTick,
			&m.EndTickStartLogID, &m.EndTickEndLogID, &m.IsComplete); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ComputeFinalStats aggregates the immutable end-of-epoch statistics over the
// epoch's tick range.
func (s *Store) ComputeFinalStats(ctx context.Context, epoch uint32, burnAddr string) (models.EpochFinalStats, error) {
	var stats models.EpochFinalStats

	row := s.conn.QueryRow(ctx, `
		SELECT count(), toUInt64(sum(tx_count)), toUInt64(sum(log_count))
		FROM ticks
		WHERE epoch = ?`, epoch)
	if err := row.Scan(&stats.TickCount, &stats.TotalTransactions, &stats.TotalLogs); err != nil {
		return stats, err
	}

	row = s.conn.QueryRow(ctx, `
		SELECT
			sumIf(amount, log_type = 0),
			sumIf(amount, log_type IN (8, 9) OR (log_type = 0 AND dest = ?)),
			uniqExact(source)
		FROM logs
		WHERE epoch = ?`, burnAddr, epoch)
	if err := row.Scan(&stats.TransferVolume, &stats.BurnedAmount, &stats.UniqueAddresses); err != nil {
		return stats, err
	}

	return stats, nil
}

// ImportComputors replaces the ordered computor list for an epoch.
func (s *Store) ImportComputors(ctx context.Context, epoch uint32, addrs []string) error {
	return s.sendBatch(ctx, `INSERT INTO computors`, len(addrs), func(b driver.Batch, i int) error {
		return b.Append(epoch, uint16(i), addrs[i])
	})
}

// GetComputors returns the epoch's computor addresses in index order.
func (s *Store) GetComputors(ctx context.Context, epoch uint32) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT address FROM computors FINAL
		WHERE epoch = ?
		ORDER BY idx`, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// SaveEmissions persists the per-computor emission rows plus the epoch
// summary marker. The marker in emission_imports is the idempotence guard:
// callers must check HasEmissionImport before re-running capture.
func (s *Store) SaveEmissions(ctx context.Context, emissions []models.ComputorEmission, summary models.EmissionSummary) error {
	err := s.sendBatch(ctx, `INSERT INTO computor_emissions`, len(emissions), func(b driver.Batch, i int) error {
		e := emissions[i]
		return b.Append(e.Epoch, e.Address, e.Amount, e.EmissionTick, e.Timestamp)
	})
	if err != nil {
		return err
	}
	return s.conn.Exec(ctx, `
		INSERT INTO emission_imports (epoch, computor_count, total_emission, emission_tick, imported_at)
		VALUES (?, ?, ?, ?, ?)`,
		summary.Epoch, summary.ComputorCount, summary.TotalEmission, summary.EmissionTick, time.Now().UTC())
}

// HasEmissionImport reports whether emission capture already ran for the
// epoch.
func (s *Store) HasEmissionImport(ctx context.Context, epoch uint32) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM emission_imports WHERE epoch = ?`, epoch)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetEmissions returns the captured emissions for an epoch.
func (s *Store) GetEmissions(ctx context.Context, epoch uint32) ([]models.ComputorEmission, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, address, amount, emission_tick, timestamp
		FROM computor_emissions FINAL
		WHERE epoch = ?
		ORDER BY address`, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ComputorEmission
	for rows.Next() {
		var e models.ComputorEmission
		if err := rows.Scan(&e.Epoch, &e.Address, &e.Amount, &e.EmissionTick, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEmissionSummary returns the epoch's emission import marker.
func (s *Store) GetEmissionSummary(ctx context.Context, epoch uint32) (models.EmissionSummary, bool, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, computor_count, total_emission, emission_tick
		FROM emission_imports FINAL
		WHERE epoch = ?`, epoch)
	if err != nil {
		return models.EmissionSummary{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.EmissionSummary{}, false, rows.Err()
	}
	var sum models.EmissionSummary
	if err := rows.Scan(&sum.Epoch, &sum.ComputorCount, &sum.TotalEmission, &sum.EmissionTick); err != nil {
		return models.EmissionSummary{}, false, err
	}
	return sum, true, nil
}
