// Package analytics hosts the periodic snapshotter that materialises the
// 4-hour holder, network, burn and miner-flow history rows. Each snapshot
// kind keeps its own cursor (the last persisted tick_end), so a kind that
// fell behind catches up window by window without affecting the others.
package analytics

import (
	"context"
	"time"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// windowSpan is the wall-clock width of one analytic window. Each window is
// anchored at its start tick's timestamp and closes exactly one span later.
const windowSpan = 4 * time.Hour

// tickSource is the tick lookup slice used by the window cursor.
type tickSource interface {
	FirstTick(ctx context.Context) (models.Tick, bool, error)
	FirstTickAfter(ctx context.Context, tickNumber uint64) (models.Tick, bool, error)
	LatestTick(ctx context.Context) (models.Tick, bool, error)
	LatestTickAtOrBefore(ctx context.Context, bound time.Time) (models.Tick, bool, error)
}

// nextWindow computes the next closed window for a cursor position.
// lastTickEnd is the previous window's tick_end (0 when no row exists yet).
// The window opens at the start tick's timestamp and spans windowSpan; it is
// closed once the latest tick has reached the window end. Until then ok is
// false and the caller tries again next cycle.
func nextWindow(ctx context.Context, ticks tickSource, lastTickEnd uint64) (models.SnapshotWindow, bool, error) {
	var start models.Tick
	var found bool
	var err error
	if lastTickEnd == 0 {
		start, found, err = ticks.FirstTick(ctx)
	} else {
		start, found, err = ticks.FirstTickAfter(ctx, lastTickEnd)
	}
	if err != nil || !found {
		return models.SnapshotWindow{}, false, err
	}

	windowEnd := start.Timestamp.Add(windowSpan)

	latest, found, err := ticks.LatestTick(ctx)
	if err != nil || !found {
		return models.SnapshotWindow{}, false, err
	}
	if latest.Timestamp.Before(windowEnd) {
		// Window still open.
		return models.SnapshotWindow{}, false, nil
	}

	end, found, err := ticks.LatestTickAtOrBefore(ctx, windowEnd)
	if err != nil || !found {
		return models.SnapshotWindow{}, false, err
	}
	if end.TickNumber <= start.TickNumber {
		// A window needs at least two ticks.
		return models.SnapshotWindow{}, false, nil
	}

	return models.SnapshotWindow{
		Epoch:      end.Epoch,
		SnapshotAt: windowEnd,
		TickStart:  start.TickNumber,
		TickEnd:    end.TickNumber,
	}, true, nil
}

// topShare returns the combined share of the n largest balances over total.
func topShare(top []int64, n int, total int64) float64 {
	if total <= 0 {
		return 0
	}
	if n > len(top) {
		n = len(top)
	}
	var sum int64
	for _, b := range top[:n] {
		sum += b
	}
	return float64(sum) / float64(total)
}
