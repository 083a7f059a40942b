package analytics

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/flow"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/internal/labels"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	snapshotPeriod = 5 * time.Minute
	snapshotDelay  = 30 * time.Second
)

// Store is the store slice the snapshotter needs.
type Store interface {
	tickSource
	LastSnapshotTickEnd(ctx context.Context, kind string) (uint64, error)

	LatestSpectrumImport(ctx context.Context) (models.ImportMarker, bool, error)
	HolderAggregatesFromSnapshot(ctx context.Context, snapshotEpoch uint32, snapshotTick, asOfTick uint64) (db.HolderAggregates, error)
	HolderAggregatesFromTransfers(ctx context.Context, asOfTick uint64) (db.HolderAggregates, error)
	InsertHolderDistribution(ctx context.Context, r models.HolderDistribution) error

	NetworkAggregates(ctx context.Context, tickStart, tickEnd uint64, exchanges []string) (models.NetworkStats, error)
	InsertNetworkStats(ctx context.Context, r models.NetworkStats) error

	BurnAggregates(ctx context.Context, tickStart, tickEnd uint64, burnAddr string) (models.BurnStats, error)
	InsertBurnStats(ctx context.Context, r models.BurnStats) error

	GetEmissionSummary(ctx context.Context, epoch uint32) (models.EmissionSummary, bool, error)
	StateTotals(ctx context.Context, emissionEpoch uint32) (db.FlowStateTotals, error)
	InsertMinerFlowStats(ctx context.Context, r models.MinerFlowStats) error
}

var _ Store = (*db.Store)(nil)

// Snapshotter drives all four snapshot kinds on one timer.
type Snapshotter struct {
	store    Store
	registry *labels.Registry
	tracker  *flow.Tracker
}

// NewSnapshotter builds the analytics snapshotter.
func NewSnapshotter(store Store, registry *labels.Registry, tracker *flow.Tracker) *Snapshotter {
	return &Snapshotter{store: store, registry: registry, tracker: tracker}
}

// Run executes snapshot cycles until cancelled.
func (s *Snapshotter) Run(ctx context.Context) {
	log.Println("[Analytics] Starting snapshot worker")

	select {
	case <-ctx.Done():
		return
	case <-time.After(snapshotDelay):
	}

	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			log.Println("[Analytics] Stopping")
			return
		case <-ticker.C:
		}
	}
}

// runCycle advances every kind as far as its closed windows allow. A failing
// kind logs and moves on; its cursor did not advance so it retries next
// cycle.
func (s *Snapshotter) runCycle(ctx context.Context) {
	kinds := []struct {
		kind string
		emit func(context.Context, models.SnapshotWindow) (bool, error)
	}{
		{db.SnapshotKindHolder, s.emitHolderDistribution},
		{db.SnapshotKindNetwork, s.emitNetworkStats},
		{db.SnapshotKindBurn, s.emitBurnStats},
		{db.SnapshotKindMinerFlow, s.emitMinerFlowStats},
	}

	for _, k := range kinds {
		if err := s.catchUp(ctx, k.kind, k.emit); err != nil {
			log.Printf("[Analytics] %s: %v", k.kind, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// catchUp emits one row per closed window until the open window is reached.
// An emit func returning false declined the window without error (inputs not
// ready yet); the cursor stays put.
func (s *Snapshotter) catchUp(ctx context.Context, kind string, emit func(context.Context, models.SnapshotWindow) (bool, error)) error {
	for {
		lastEnd, err := s.store.LastSnapshotTickEnd(ctx, kind)
		if err != nil {
			return err
		}
		win, ok, err := nextWindow(ctx, s.store, lastEnd)
		if err != nil || !ok {
			return err
		}

		emitted, err := emit(ctx, win)
		if err != nil || !emitted {
			return err
		}
		log.Printf("[Analytics] %s: window [%d, %d] closed at %s",
			kind, win.TickStart, win.TickEnd, win.SnapshotAt.Format(time.RFC3339))
	}
}

func (s *Snapshotter) emitHolderDistribution(ctx context.Context, win models.SnapshotWindow) (bool, error) {
	marker, hasImport, err := s.store.LatestSpectrumImport(ctx)
	if err != nil {
		return false, err
	}

	var agg db.HolderAggregates
	row := models.HolderDistribution{SnapshotWindow: win}
	if hasImport && marker.TickNumber <= win.TickEnd {
		agg, err = s.store.HolderAggregatesFromSnapshot(ctx, marker.Epoch, marker.TickNumber, win.TickEnd)
		row.DataSource = models.DataSourceSnapshotDelta
	} else {
		agg, err = s.store.HolderAggregatesFromTransfers(ctx, win.TickEnd)
		row.DataSource = models.DataSourceTransferOnly
	}
	if err != nil {
		return false, err
	}

	row.TotalHolders = agg.TotalHolders
	row.WhaleCount, row.LargeCount = agg.WhaleCount, agg.LargeCount
	row.MediumCount, row.SmallCount, row.MicroCount = agg.MediumCount, agg.SmallCount, agg.MicroCount
	row.WhaleBalance, row.LargeBalance = agg.WhaleBalance, agg.LargeBalance
	row.MediumBalance, row.SmallBalance, row.MicroBalance = agg.MediumBalance, agg.SmallBalance, agg.MicroBalance
	row.TotalBalance = agg.TotalBalance
	row.Top10Share = topShare(agg.TopBalances, 10, agg.TotalBalance)
	row.Top50Share = topShare(agg.TopBalances, 50, agg.TotalBalance)
	row.Top100Share = topShare(agg.TopBalances, 100, agg.TotalBalance)

	if err := s.store.InsertHolderDistribution(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Snapshotter) emitNetworkStats(ctx context.Context, win models.SnapshotWindow) (bool, error) {
	exchanges := s.registry.AddressesByType(labels.KindExchange)

	row, err := s.store.NetworkAggregates(ctx, win.TickStart, win.TickEnd, exchanges)
	if err != nil {
		return false, err
	}
	row.SnapshotWindow = win

	if err := s.store.InsertNetworkStats(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Snapshotter) emitBurnStats(ctx context.Context, win models.SnapshotWindow) (bool, error) {
	row, err := s.store.BurnAggregates(ctx, win.TickStart, win.TickEnd, identity.BurnAddress)
	if err != nil {
		return false, err
	}
	row.SnapshotWindow = win

	if err := s.store.InsertBurnStats(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

// emitMinerFlowStats tracks the previous epoch's emission through the
// window. When that epoch's emissions are not captured yet the window is
// declined and retried next cycle.
func (s *Snapshotter) emitMinerFlowStats(ctx context.Context, win models.SnapshotWindow) (bool, error) {
	if win.Epoch == 0 {
		return false, nil
	}
	emissionEpoch := win.Epoch - 1

	summary, ok, err := s.store.GetEmissionSummary(ctx, emissionEpoch)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	result, err := s.tracker.RunWindow(ctx, emissionEpoch, win.Epoch, win.TickStart, win.TickEnd)
	if err != nil {
		return false, err
	}

	totals, err := s.store.StateTotals(ctx, emissionEpoch)
	if err != nil {
		return false, err
	}

	row := models.MinerFlowStats{
		SnapshotWindow:       win,
		EmissionEpoch:        emissionEpoch,
		TotalEmission:        summary.TotalEmission,
		TotalSent:            totals.TotalSent,
		TotalPending:         totals.TotalPending,
		ExchangeReceived:     result.Stats.ExchangeReceived,
		ContractReceived:     result.Stats.ContractReceived,
		ActiveIntermediaries: totals.ActiveIntermediaries,
		CompletedStates:      totals.CompletedStates,
		MaxHopLevel:          totals.MaxHopLevel,
		AdditionalInflow:     result.AdditionalInflow,
		MinerNetPosition:     totals.TotalPending + result.AdditionalInflow,
	}

	if err := s.store.InsertMinerFlowStats(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}
