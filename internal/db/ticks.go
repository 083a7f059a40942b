package db

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// MaxEpoch returns the highest epoch seen in the tick stream, or 0 with
// ok=false when the store is empty.
func (s *Store) MaxEpoch(ctx context.Context) (uint32, bool, error) {
	var epoch uint32
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT max(epoch), count() FROM ticks`)
	if err := row.Scan(&epoch, &count); err != nil {
		return 0, false, err
	}
	return epoch, count > 0, nil
}

func (s *Store) scanTick(row driver.Row) (models.Tick, bool, error) {
	var t models.Tick
	var count uint64
	if err := row.Scan(&t.TickNumber, &t.Epoch, &t.Timestamp, &t.TxCount, &t.LogCount, &count); err != nil {
		return models.Tick{}, false, err
	}
	return t, count > 0, nil
}

const tickColumns = `max(tick_number), max(epoch), max(timestamp), max(tx_count), max(log_count), count()`

// FirstTick returns the earliest tick in the store.
func (s *Store) FirstTick(ctx context.Context) (models.Tick, bool, error) {
	return s.scanTick(s.conn.QueryRow(ctx, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE tick_number = (SELECT min(tick_number) FROM ticks)`))
}

// FirstTickAfter returns the earliest tick strictly greater than the given
// tick number. Tick numbers may skip, so this is not simply n+1.
func (s *Store) FirstTickAfter(ctx context.Context, tickNumber uint64) (models.Tick, bool, error) {
	return s.scanTick(s.conn.QueryRow(ctx, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE tick_number = (SELECT min(tick_number) FROM ticks WHERE tick_number > ?)`, tickNumber))
}

// LatestTick returns the most recent tick in the store.
func (s *Store) LatestTick(ctx context.Context) (models.Tick, bool, error) {
	return s.scanTick(s.conn.QueryRow(ctx, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE tick_number = (SELECT max(tick_number) FROM ticks)`))
}

// LatestTickAtOrBefore returns the latest tick whose timestamp does not
// exceed the bound; used to close 4-hour snapshot windows.
func (s *Store) LatestTickAtOrBefore(ctx context.Context, bound time.Time) (models.Tick, bool, error) {
	return s.scanTick(s.conn.QueryRow(ctx, `
		SELECT `+tickColumns+`
		FROM ticks
		WHERE tick_number = (SELECT max(tick_number) FROM ticks WHERE timestamp <= ?)`, bound))
}

// TickEpoch returns the epoch a tick belongs to.
func (s *Store) TickEpoch(ctx context.Context, tickNumber uint64) (uint32, bool, error) {
	var epoch uint32
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT max(epoch), count() FROM ticks WHERE tick_number = ?`, tickNumber)
	if err := row.Scan(&epoch, &count); err != nil {
		return 0, false, err
	}
	return epoch, count > 0, nil
}

// InsertTicks bulk-inserts tick rows. The live ingestor is an external
// process; this entry point exists for backfill tooling and tests.
func (s *Store) InsertTicks(ctx context.Context, ticks []models.Tick) error {
	return s.sendBatch(ctx, `INSERT INTO ticks`, len(ticks), func(b driver.Batch, i int) error {
		t := ticks[i]
		return b.Append(t.TickNumber, t.Epoch, t.Timestamp, t.TxCount, t.LogCount)
	})
}
