// Package epochs hosts the epoch lifecycle manager: a meta sync worker that
// mirrors upstream epoch metadata into the store, and a transition validator
// that reconciles end-of-epoch log ranges, finalises per-epoch statistics
// exactly once and captures computor emissions.
package epochs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/internal/rpc"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	syncPeriod       = time.Minute
	syncInitialDelay = 10 * time.Second
	validatePeriod   = time.Minute
	validateDelay    = 15 * time.Second
	criticalBackoff  = 30 * time.Minute
)

// Store is the slice of the analytics store the manager mutates.
type Store interface {
	MaxEpoch(ctx context.Context) (uint32, bool, error)
	UpsertEpochMeta(ctx context.Context, meta models.EpochMeta) error
	GetEpochMeta(ctx context.Context, epoch uint32) (models.EpochMeta, bool, error)
	MaxLogID(ctx context.Context, epoch uint32) (int64, error)
	InsertLogs(ctx context.Context, logs []models.Log) error
	HasEndEpochMarker(ctx context.Context, epoch uint32, startID, endID int64) (bool, error)
	ComputeFinalStats(ctx context.Context, epoch uint32, burnAddr string) (models.EpochFinalStats, error)
	ImportComputors(ctx context.Context, epoch uint32, addrs []string) error
	GetComputors(ctx context.Context, epoch uint32) ([]string, error)
	EmissionTransfers(ctx context.Context, epoch uint32, endTick uint64, burnAddr string, computors []string) ([]db.EmissionRow, error)
	SaveEmissions(ctx context.Context, emissions []models.ComputorEmission, summary models.EmissionSummary) error
	HasEmissionImport(ctx context.Context, epoch uint32) (bool, error)
	RewardRanges(ctx context.Context, epoch uint32) ([]models.RewardRange, error)
	RewardRangeAmount(ctx context.Context, epoch uint32, r models.RewardRange, rewardSource string) (int64, error)
}

// Upstream is the slice of the RPC client the manager reads from.
type Upstream interface {
	GetEpochInfo(ctx context.Context, epoch uint32) (rpc.EpochInfo, error)
	GetEndEpochLogs(ctx context.Context, epoch uint32) ([]models.Log, error)
	GetComputors(ctx context.Context, epoch uint32) ([]string, error)
}

var (
	_ Store    = (*db.Store)(nil)
	_ Upstream = (*rpc.Client)(nil)
)

// Manager runs the meta sync and transition validation workers.
type Manager struct {
	store    Store
	upstream Upstream

	// RewardContract, when set, enables reward-distribution bracketing for
	// completed epochs.
	RewardContract string

	mu            sync.Mutex
	lastSeenEpoch uint32
	haveSeenEpoch bool
	criticalError bool
	errorEpoch    uint32
	errorReason   string
}

// NewManager builds the lifecycle manager.
func NewManager(store Store, upstream Upstream) *Manager {
	return &Manager{store: store, upstream: upstream}
}

// CriticalError reports the latched critical-error state.
func (m *Manager) CriticalError() (bool, uint32, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.criticalError, m.errorEpoch, m.errorReason
}

func (m *Manager) setCritical(epoch uint32, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticalError = true
	m.errorEpoch = epoch
	m.errorReason = reason
	log.Printf("[EpochManager] CRITICAL: epoch %d: %s (switching to %s retry cadence)",
		epoch, reason, criticalBackoff)
}

func (m *Manager) clearCritical() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.criticalError {
		log.Printf("[EpochManager] Critical error for epoch %d cleared", m.errorEpoch)
	}
	m.criticalError = false
	m.errorReason = ""
}

// RunMetaSync is the meta sync worker: on startup it syncs the previous and
// current epoch; afterwards it re-syncs whenever the store's max epoch moves.
func (m *Manager) RunMetaSync(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(syncInitialDelay):
	}

	m.syncCurrent(ctx, true)

	ticker := time.NewTicker(syncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[EpochManager] Stopping meta sync worker")
			return
		case <-ticker.C:
			m.syncCurrent(ctx, false)
		}
	}
}

func (m *Manager) syncCurrent(ctx context.Context, startup bool) {
	current, ok, err := m.store.MaxEpoch(ctx)
	if err != nil {
		log.Printf("[EpochManager] Failed to read max epoch: %v", err)
		return
	}
	if !ok {
		return
	}

	m.mu.Lock()
	rollover := startup || !m.haveSeenEpoch || current > m.lastSeenEpoch
	m.lastSeenEpoch = current
	m.haveSeenEpoch = true
	m.mu.Unlock()

	if !rollover {
		return
	}

	if current > 0 {
		if err := m.syncEpoch(ctx, current-1); err != nil {
			log.Printf("[EpochManager] Sync of epoch %d failed: %v", current-1, err)
		}
	}
	if err := m.syncEpoch(ctx, current); err != nil {
		log.Printf("[EpochManager] Sync of epoch %d failed: %v", current, err)
	}
}

// syncEpoch mirrors one epoch's upstream metadata into the store.
func (m *Manager) syncEpoch(ctx context.Context, epoch uint32) error {
	info, err := m.upstream.GetEpochInfo(ctx, epoch)
	if err != nil {
		return fmt.Errorf("epoch info: %w", err)
	}

	meta := models.EpochMeta{
		Epoch:             info.Epoch,
		InitialTick:       info.InitialTick,
		EndTick:           info.EndTick,
		EndTickStartLogID: info.EndTickStartLogID,
		EndTickEndLogID:   info.EndTickEndLogID,
		IsComplete:        info.EndTick > info.InitialTick && info.EndTick > 0,
	}

	// Preserve already-finalised stats: epoch_meta rows are immutable once
	// the validator writes them.
	if existing, ok, err := m.store.GetEpochMeta(ctx, epoch); err == nil && ok && existing.FinalStats != nil {
		meta.FinalStats = existing.FinalStats
	}

	if err := m.store.UpsertEpochMeta(ctx, meta); err != nil {
		return fmt.Errorf("upsert epoch meta: %w", err)
	}
	log.Printf("[EpochManager] Synced epoch %d (ticks %d..%d, complete=%v)",
		epoch, meta.InitialTick, meta.EndTick, meta.IsComplete)
	return nil
}

// RunTransitionValidator is the transition validator worker. The cadence
// drops from one minute to thirty while a critical error is latched.
func (m *Manager) RunTransitionValidator(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(validateDelay):
	}

	m.validatePrevious(ctx)

	for {
		period := validatePeriod
		m.mu.Lock()
		if m.criticalError {
			period = criticalBackoff
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			log.Println("[EpochManager] Stopping transition validator")
			return
		case <-time.After(period):
			m.validatePrevious(ctx)
		}
	}
}

func (m *Manager) validatePrevious(ctx context.Context) {
	current, ok, err := m.store.MaxEpoch(ctx)
	if err != nil || !ok || current == 0 {
		return
	}

	prev := current - 1
	imported, err := m.store.HasEmissionImport(ctx, prev)
	if err != nil {
		log.Printf("[EpochManager] Emission import check for epoch %d failed: %v", prev, err)
		return
	}
	if imported {
		// Epoch already validated and captured on an earlier pass.
		return
	}

	if err := m.ValidateEpoch(ctx, prev); err != nil {
		log.Printf("[EpochManager] Validation of epoch %d did not complete: %v", prev, err)
	}
}

// ValidateEpoch runs the transition validation algorithm for one epoch:
// reconcile the end-tick log range against the upstream, require the
// END_EPOCH marker, mark the epoch complete, compute final stats once and
// capture emissions. Critical findings latch the error state rather than
// guessing at data.
func (m *Manager) ValidateEpoch(ctx context.Context, epoch uint32) error {
	info, err := m.upstream.GetEpochInfo(ctx, epoch)
	if err != nil {
		return fmt.Errorf("epoch info: %w", err)
	}

	if info.EndTickStartLogID == 0 || info.EndTickEndLogID == 0 {
		m.setCritical(epoch, "incomplete end-tick info from upstream")
		return fmt.Errorf("incomplete end-tick info for epoch %d", epoch)
	}

	maxID, err := m.store.MaxLogID(ctx, epoch)
	if err != nil {
		return fmt.Errorf("max log id: %w", err)
	}
	startID, endID := info.EndTickStartLogID, info.EndTickEndLogID

	if maxID < startID-1 {
		m.setCritical(epoch, fmt.Sprintf("missing logs before end tick (have %d, need %d)", maxID, startID-1))
		return fmt.Errorf("missing logs before end tick of epoch %d", epoch)
	}

	if maxID < endID {
		logs, err := m.upstream.GetEndEpochLogs(ctx, epoch)
		if err != nil {
			return fmt.Errorf("fetch end-epoch logs: %w", err)
		}
		if err := m.store.InsertLogs(ctx, logs); err != nil {
			return fmt.Errorf("insert end-epoch logs: %w", err)
		}
		log.Printf("[EpochManager] Backfilled %d end-epoch logs for epoch %d", len(logs), epoch)
	}

	hasMarker, err := m.store.HasEndEpochMarker(ctx, epoch, startID, endID)
	if err != nil {
		return fmt.Errorf("check end-epoch marker: %w", err)
	}
	if !hasMarker {
		m.setCritical(epoch, "END_EPOCH marker absent from end-tick log range")
		return fmt.Errorf("END_EPOCH marker absent for epoch %d", epoch)
	}

	meta := models.EpochMeta{
		Epoch:             info.Epoch,
		InitialTick:       info.InitialTick,
		EndTick:           info.EndTick,
		EndTickStartLogID: startID,
		EndTickEndLogID:   endID,
		IsComplete:        true,
	}

	// Final stats are computed exactly once; a re-validation pass reuses the
	// stored aggregate.
	if existing, ok, err := m.store.GetEpochMeta(ctx, epoch); err == nil && ok && existing.FinalStats != nil {
		meta.FinalStats = existing.FinalStats
	} else {
		stats, err := m.store.ComputeFinalStats(ctx, epoch, identity.BurnAddress)
		if err != nil {
			return fmt.Errorf("compute final stats: %w", err)
		}
		meta.FinalStats = &stats
	}

	if err := m.store.UpsertEpochMeta(ctx, meta); err != nil {
		return fmt.Errorf("finalise epoch meta: %w", err)
	}

	if err := m.captureEmissions(ctx, epoch, info.EndTick); err != nil {
		return fmt.Errorf("capture emissions: %w", err)
	}

	m.clearCritical()
	log.Printf("[EpochManager] Epoch %d validated and finalised", epoch)
	return nil
}

// captureEmissions imports the computor list and persists what each computor
// received from the burn address in the end tick. The emission_imports row
// is the idempotence guard.
func (m *Manager) captureEmissions(ctx context.Context, epoch uint32, endTick uint64) error {
	imported, err := m.store.HasEmissionImport(ctx, epoch)
	if err != nil {
		return err
	}
	if imported {
		return nil
	}

	computors, err := m.store.GetComputors(ctx, epoch)
	if err != nil {
		return fmt.Errorf("load computors: %w", err)
	}
	if len(computors) != models.NumComputors {
		computors, err = m.upstream.GetComputors(ctx, epoch)
		if err != nil {
			return fmt.Errorf("fetch computors: %w", err)
		}
		if err := m.store.ImportComputors(ctx, epoch, computors); err != nil {
			return fmt.Errorf("import computors: %w", err)
		}
		log.Printf("[EpochManager] Imported %d computors for epoch %d", len(computors), epoch)
	}

	rows, err := m.store.EmissionTransfers(ctx, epoch, endTick, identity.BurnAddress, computors)
	if err != nil {
		return fmt.Errorf("aggregate emission transfers: %w", err)
	}

	emissions := make([]models.ComputorEmission, len(rows))
	var total int64
	for i, r := range rows {
		emissions[i] = models.ComputorEmission{
			Epoch:        epoch,
			Address:      r.Dest,
			Amount:       r.Amount,
			EmissionTick: endTick,
			Timestamp:    r.Timestamp,
		}
		total += r.Amount
	}

	summary := models.EmissionSummary{
		Epoch:         epoch,
		ComputorCount: uint32(len(emissions)),
		TotalEmission: total,
		EmissionTick:  endTick,
	}
	if err := m.store.SaveEmissions(ctx, emissions, summary); err != nil {
		return fmt.Errorf("save emissions: %w", err)
	}

	log.Printf("[EpochManager] Captured emissions for epoch %d: %d computors, total %d",
		epoch, len(emissions), total)
	return nil
}

// RewardDistributions resolves the reward-distribution brackets of a
// completed epoch: each OP_START marker paired with the earliest later
// OP_END marker in the same tick, with the bracketed transfer aggregate and
// the per-share amount (aggregate divided by the computor count).
func (m *Manager) RewardDistributions(ctx context.Context, epoch uint32) ([]models.RewardRange, error) {
	if m.RewardContract == "" {
		return nil, fmt.Errorf("no reward contract configured")
	}

	ranges, err := m.store.RewardRanges(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("reward ranges: %w", err)
	}
	for i := range ranges {
		amount, err := m.store.RewardRangeAmount(ctx, epoch, ranges[i], m.RewardContract)
		if err != nil {
			return nil, fmt.Errorf("reward range amount: %w", err)
		}
		ranges[i].TotalAmount = amount
		ranges[i].PerShare = amount / models.NumComputors
	}
	return ranges, nil
}
