package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// fakeTicks serves a fixed, ordered tick list.
type fakeTicks struct {
	ticks []models.Tick
}

func (f *fakeTicks) FirstTick(ctx context.Context) (models.Tick, bool, error) {
	if len(f.ticks) == 0 {
		return models.Tick{}, false, nil
	}
	return f.ticks[0], true, nil
}

func (f *fakeTicks) FirstTickAfter(ctx context.Context, tickNumber uint64) (models.Tick, bool, error) {
	for _, tk := range f.ticks {
		if tk.TickNumber > tickNumber {
			return tk, true, nil
		}
	}
	return models.Tick{}, false, nil
}

func (f *fakeTicks) LatestTick(ctx context.Context) (models.Tick, bool, error) {
	if len(f.ticks) == 0 {
		return models.Tick{}, false, nil
	}
	return f.ticks[len(f.ticks)-1], true, nil
}

func (f *fakeTicks) LatestTickAtOrBefore(ctx context.Context, bound time.Time) (models.Tick, bool, error) {
	var best models.Tick
	var found bool
	for _, tk := range f.ticks {
		if !tk.Timestamp.After(bound) {
			best = tk
			found = true
		}
	}
	return best, found, nil
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %s: %v", value, err)
	}
	return ts
}

func TestNextWindowAnchoredAtStartTick(t *testing.T) {
	ctx := context.Background()

	// First tick at 01:00, so the first window is 01:00..05:00 regardless of
	// clock alignment; the second window starts at 07:59 and stays open.
	ticks := &fakeTicks{ticks: []models.Tick{
		{TickNumber: 100, Epoch: 150, Timestamp: at(t, "2026-08-24T01:00:00Z")},
		{TickNumber: 110, Epoch: 150, Timestamp: at(t, "2026-08-24T03:00:00Z")},
		{TickNumber: 120, Epoch: 150, Timestamp: at(t, "2026-08-24T05:00:00Z")},
		{TickNumber: 130, Epoch: 151, Timestamp: at(t, "2026-08-24T07:59:00Z")},
		{TickNumber: 140, Epoch: 151, Timestamp: at(t, "2026-08-24T09:00:00Z")},
	}}

	win, ok, err := nextWindow(ctx, ticks, 0)
	if err != nil || !ok {
		t.Fatalf("nextWindow(0) = ok %v, err %v", ok, err)
	}
	if win.TickStart != 100 || win.TickEnd != 120 {
		t.Fatalf("window 1 = [%d, %d], want [100, 120]", win.TickStart, win.TickEnd)
	}
	if !win.SnapshotAt.Equal(at(t, "2026-08-24T05:00:00Z")) {
		t.Fatalf("window 1 snapshot_at = %s, want start + 4h", win.SnapshotAt)
	}
	if win.Epoch != 150 {
		t.Fatalf("window 1 epoch = %d, want 150", win.Epoch)
	}

	// Second window: starts at tick 130 (07:59), would close at 11:59; the
	// latest tick is 09:00, so it is still open.
	_, ok, err = nextWindow(ctx, ticks, win.TickEnd)
	if err != nil {
		t.Fatalf("nextWindow(%d) error: %v", win.TickEnd, err)
	}
	if ok {
		t.Fatal("open window must not be emitted")
	}
}

func TestNextWindowClosesOnExactBoundaryTick(t *testing.T) {
	// The latest tick lands exactly on the window end: that is enough data,
	// and the tick itself is the window's end.
	ticks := &fakeTicks{ticks: []models.Tick{
		{TickNumber: 300, Epoch: 152, Timestamp: at(t, "2026-08-24T01:00:00Z")},
		{TickNumber: 310, Epoch: 152, Timestamp: at(t, "2026-08-24T05:00:00Z")},
	}}

	win, ok, err := nextWindow(context.Background(), ticks, 0)
	if err != nil || !ok {
		t.Fatalf("nextWindow = ok %v, err %v", ok, err)
	}
	if win.TickStart != 300 || win.TickEnd != 310 {
		t.Fatalf("window = [%d, %d], want [300, 310]", win.TickStart, win.TickEnd)
	}
}

func TestNextWindowNeedsTwoTicks(t *testing.T) {
	// The only tick inside the window is the start tick itself; even though
	// later data exists, tick_end must be greater than tick_start.
	ticks := &fakeTicks{ticks: []models.Tick{
		{TickNumber: 400, Epoch: 152, Timestamp: at(t, "2026-08-24T01:00:00Z")},
		{TickNumber: 410, Epoch: 152, Timestamp: at(t, "2026-08-24T06:00:00Z")},
	}}

	_, ok, err := nextWindow(context.Background(), ticks, 0)
	if err != nil || ok {
		t.Fatalf("single-tick window: ok %v, err %v", ok, err)
	}
}

func TestNextWindowEmptyStore(t *testing.T) {
	_, ok, err := nextWindow(context.Background(), &fakeTicks{}, 0)
	if err != nil || ok {
		t.Fatalf("empty store: ok %v, err %v", ok, err)
	}
}

func TestNextWindowGapInTickStream(t *testing.T) {
	// A tick gap inside the window: the window still closes four hours after
	// its start tick, ending on the last tick inside it.
	ticks := &fakeTicks{ticks: []models.Tick{
		{TickNumber: 200, Epoch: 152, Timestamp: at(t, "2026-08-24T13:00:00Z")},
		{TickNumber: 210, Epoch: 152, Timestamp: at(t, "2026-08-24T15:00:00Z")},
		{TickNumber: 220, Epoch: 152, Timestamp: at(t, "2026-08-24T21:00:00Z")},
	}}

	win, ok, err := nextWindow(context.Background(), ticks, 0)
	if err != nil || !ok {
		t.Fatalf("nextWindow = ok %v, err %v", ok, err)
	}
	if win.TickStart != 200 || win.TickEnd != 210 {
		t.Fatalf("window = [%d, %d], want [200, 210]", win.TickStart, win.TickEnd)
	}
	if !win.SnapshotAt.Equal(at(t, "2026-08-24T17:00:00Z")) {
		t.Fatalf("snapshot_at = %s, want 17:00", win.SnapshotAt)
	}

	// The next start tick is at 21:00; its window is open until a tick
	// reaches 01:00 the next day.
	_, ok, err = nextWindow(context.Background(), ticks, win.TickEnd)
	if err != nil || ok {
		t.Fatalf("trailing open window: ok %v, err %v", ok, err)
	}
}

func TestTopShare(t *testing.T) {
	top := []int64{500, 300, 200}
	if got := topShare(top, 2, 2000); got != 0.4 {
		t.Fatalf("topShare(2) = %f, want 0.4", got)
	}
	if got := topShare(top, 10, 2000); got != 0.5 {
		t.Fatalf("topShare beyond slice = %f, want 0.5", got)
	}
	if got := topShare(top, 2, 0); got != 0 {
		t.Fatalf("topShare with zero total = %f, want 0", got)
	}
}
