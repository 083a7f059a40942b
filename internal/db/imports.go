package db

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// ReplaceBalanceSnapshots deletes any existing spectrum rows for the epoch
// and bulk-inserts the new set in 10k batches. A crash between delete and
// insert is repaired by the next import cycle, which re-runs both.
func (s *Store) ReplaceBalanceSnapshots(ctx context.Context, epoch uint32, rows []models.BalanceSnapshot) error {
	if err := s.conn.Exec(ctx, `DELETE FROM balance_snapshots WHERE epoch = ?`, epoch); err != nil {
		return err
	}
	return s.sendBatch(ctx, `INSERT INTO balance_snapshots`, len(rows), func(b driver.Batch, i int) error {
		r := rows[i]
		return b.Append(r.Epoch, r.Address, r.Balance, r.IncomingAmount, r.OutgoingAmount,
			r.NumIncoming, r.NumOutgoing, r.LatestIncomingTick, r.LatestOutgoingTick)
	})
}

// ReplaceAssetSnapshots deletes and re-inserts the universe rows for an
// epoch.
func (s *Store) ReplaceAssetSnapshots(ctx context.Context, epoch uint32, rows []models.AssetSnapshot) error {
	if err := s.conn.Exec(ctx, `DELETE FROM asset_snapshots WHERE epoch = ?`, epoch); err != nil {
		return err
	}
	return s.sendBatch(ctx, `INSERT INTO asset_snapshots`, len(rows), func(b driver.Batch, i int) error {
		r := rows[i]
		return b.Append(r.Epoch, r.Issuer, r.AssetName, r.Holder, r.RecordType,
			r.ManagingContractIndex, r.NumberOfShares, r.NumberOfDecimalPlaces)
	})
}

func (s *Store) markImport(ctx context.Context, table string, m models.ImportMarker) error {
	return s.conn.Exec(ctx, `
		INSERT INTO `+table+` (epoch, tick_number, record_count, file_size, duration_ms, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Epoch, m.TickNumber, m.RecordCount, m.FileSize, m.DurationMS, m.ImportedAt)
}

func (s *Store) hasImport(ctx context.Context, table string, epoch uint32) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM `+table+` WHERE epoch = ?`, epoch)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkSpectrumImport records a completed spectrum archive import.
func (s *Store) MarkSpectrumImport(ctx context.Context, m models.ImportMarker) error {
	return s.markImport(ctx, "spectrum_imports", m)
}

// HasSpectrumImport reports whether the epoch's spectrum file was imported.
func (s *Store) HasSpectrumImport(ctx context.Context, epoch uint32) (bool, error) {
	return s.hasImport(ctx, "spectrum_imports", epoch)
}

// MarkUniverseImport records a completed universe archive import.
func (s *Store) MarkUniverseImport(ctx context.Context, m models.ImportMarker) error {
	return s.markImport(ctx, "universe_imports", m)
}

// HasUniverseImport reports whether the epoch's universe file was imported.
func (s *Store) HasUniverseImport(ctx context.Context, epoch uint32) (bool, error) {
	return s.hasImport(ctx, "universe_imports", epoch)
}

// LatestSpectrumImport returns the most recent spectrum import marker; the
// holder snapshotter anchors balance deltas on it.
func (s *Store) LatestSpectrumImport(ctx context.Context) (models.ImportMarker, bool, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT epoch, tick_number, record_count, file_size, duration_ms, imported_at
		FROM spectrum_imports FINAL
		ORDER BY epoch DESC
		LIMIT 1`)
	if err != nil {
		return models.ImportMarker{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.ImportMarker{}, false, rows.Err()
	}
	var m models.ImportMarker
	if err := rows.Scan(&m.Epoch, &m.TickNumber, &m.RecordCount, &m.FileSize, &m.DurationMS, &m.ImportedAt); err != nil {
		return models.ImportMarker{}, false, err
	}
	return m, true, nil
}
