package epochs

import (
	"context"
	"strings"
	"testing"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/internal/rpc"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

type fakeStore struct {
	maxEpoch     uint32
	haveEpochs   bool
	meta         map[uint32]models.EpochMeta
	maxLogID     int64
	logsInserted []models.Log
	hasMarker    bool

	statsComputed int
	computors     []string
	imported      []string
	emissionRows  []db.EmissionRow
	savedSummary  *models.EmissionSummary
	hasEmission   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{meta: make(map[uint32]models.EpochMeta), maxLogID: -1}
}

func (f *fakeStore) MaxEpoch(ctx context.Context) (uint32, bool, error) {
	return f.maxEpoch, f.haveEpochs, nil
}

func (f *fakeStore) UpsertEpochMeta(ctx context.Context, meta models.EpochMeta) error {
	f.meta[meta.Epoch] = meta
	return nil
}

func (f *fakeStore) GetEpochMeta(ctx context.Context, epoch uint32) (models.EpochMeta, bool, error) {
	meta, ok := f.meta[epoch]
	return meta, ok, nil
}

func (f *fakeStore) MaxLogID(ctx context.Context, epoch uint32) (int64, error) {
	return f.maxLogID, nil
}

func (f *fakeStore) InsertLogs(ctx context.Context, logs []models.Log) error {
	f.logsInserted = append(f.logsInserted, logs...)
	if n := len(logs); n > 0 {
		f.maxLogID = logs[n-1].LogID
	}
	return nil
}

func (f *fakeStore) HasEndEpochMarker(ctx context.Context, epoch uint32, startID, endID int64) (bool, error) {
	return f.hasMarker, nil
}

func (f *fakeStore) ComputeFinalStats(ctx context.Context, epoch uint32, burnAddr string) (models.EpochFinalStats, error) {
	f.statsComputed++
	return models.EpochFinalStats{TickCount: 1000, TransferVolume: 777}, nil
}

func (f *fakeStore) ImportComputors(ctx context.Context, epoch uint32, addrs []string) error {
	f.imported = addrs
	f.computors = addrs
	return nil
}

func (f *fakeStore) GetComputors(ctx context.Context, epoch uint32) ([]string, error) {
	return f.computors, nil
}

func (f *fakeStore) EmissionTransfers(ctx context.Context, epoch uint32, endTick uint64, burnAddr string, computors []string) ([]db.EmissionRow, error) {
	return f.emissionRows, nil
}

func (f *fakeStore) SaveEmissions(ctx context.Context, emissions []models.ComputorEmission, summary models.EmissionSummary) error {
	f.savedSummary = &summary
	f.hasEmission = true
	return nil
}

func (f *fakeStore) HasEmissionImport(ctx context.Context, epoch uint32) (bool, error) {
	return f.hasEmission, nil
}

func (f *fakeStore) RewardRanges(ctx context.Context, epoch uint32) ([]models.RewardRange, error) {
	return []models.RewardRange{{Epoch: epoch, TickNumber: 50, StartLogID: 10, EndLogID: 20}}, nil
}

func (f *fakeStore) RewardRangeAmount(ctx context.Context, epoch uint32, r models.RewardRange, rewardSource string) (int64, error) {
	return 676_000, nil
}

type fakeUpstream struct {
	info          rpc.EpochInfo
	endEpochLogs  []models.Log
	computors     []string
	logsRequested int
}

func (f *fakeUpstream) GetEpochInfo(ctx context.Context, epoch uint32) (rpc.EpochInfo, error) {
	return f.info, nil
}

func (f *fakeUpstream) GetEndEpochLogs(ctx context.Context, epoch uint32) ([]models.Log, error) {
	f.logsRequested++
	return f.endEpochLogs, nil
}

func (f *fakeUpstream) GetComputors(ctx context.Context, epoch uint32) ([]string, error) {
	return f.computors, nil
}

func fullComputorSet() []string {
	addrs := make([]string, models.NumComputors)
	for i := range addrs {
		addrs[i] = strings.Repeat("C", 59) + string(rune('A'+i%26))
	}
	return addrs
}

func validationFixture() (*fakeStore, *fakeUpstream, *Manager) {
	store := newFakeStore()
	store.maxLogID = 999 // all logs up to the end tick already ingested
	store.hasMarker = true
	store.computors = fullComputorSet()
	store.emissionRows = []db.EmissionRow{
		{Dest: store.computors[0], Amount: 100},
		{Dest: store.computors[1], Amount: 250},
	}

	upstream := &fakeUpstream{
		info: rpc.EpochInfo{
			Epoch:             150,
			InitialTick:       10_000,
			EndTick:           20_000,
			EndTickStartLogID: 900,
			EndTickEndLogID:   999,
		},
	}
	return store, upstream, NewManager(store, upstream)
}

func TestValidateEpochHappyPath(t *testing.T) {
	store, upstream, mgr := validationFixture()
	ctx := context.Background()

	if err := mgr.ValidateEpoch(ctx, 150); err != nil {
		t.Fatalf("ValidateEpoch failed: %v", err)
	}

	meta := store.meta[150]
	if !meta.IsComplete || meta.EndTick != 20_000 {
		t.Fatalf("epoch meta not finalised: %+v", meta)
	}
	if meta.FinalStats == nil || meta.FinalStats.TransferVolume != 777 {
		t.Fatalf("final stats missing: %+v", meta.FinalStats)
	}
	if upstream.logsRequested != 0 {
		t.Fatal("backfill requested although all logs were present")
	}

	if store.savedSummary == nil {
		t.Fatal("emissions not captured")
	}
	if store.savedSummary.TotalEmission != 350 || store.savedSummary.ComputorCount != 2 {
		t.Fatalf("emission summary wrong: %+v", store.savedSummary)
	}
	if store.savedSummary.EmissionTick != 20_000 {
		t.Fatalf("emission tick = %d, want end tick", store.savedSummary.EmissionTick)
	}

	if critical, _, _ := mgr.CriticalError(); critical {
		t.Fatal("critical error latched on a clean validation")
	}
}

func TestValidateEpochBackfillsEndTickLogs(t *testing.T) {
	store, upstream, mgr := validationFixture()
	store.maxLogID = 950 // end-tick range partially missing
	upstream.endEpochLogs = []models.Log{
		{Epoch: 150, LogID: 951}, {Epoch: 150, LogID: 999},
	}

	if err := mgr.ValidateEpoch(context.Background(), 150); err != nil {
		t.Fatalf("ValidateEpoch failed: %v", err)
	}
	if upstream.logsRequested != 1 {
		t.Fatalf("backfill requested %d times, want 1", upstream.logsRequested)
	}
	if len(store.logsInserted) != 2 {
		t.Fatalf("inserted %d backfill logs, want 2", len(store.logsInserted))
	}
}

func TestValidateEpochLatchesOnMissingLogs(t *testing.T) {
	store, _, mgr := validationFixture()
	store.maxLogID = 500 // gap before the end-tick range

	if err := mgr.ValidateEpoch(context.Background(), 150); err == nil {
		t.Fatal("expected error for missing pre-end-tick logs")
	}
	critical, epoch, reason := mgr.CriticalError()
	if !critical || epoch != 150 {
		t.Fatalf("critical state = (%v, %d), want latched for 150", critical, epoch)
	}
	if !strings.Contains(reason, "missing logs") {
		t.Fatalf("unexpected reason: %s", reason)
	}
	if store.savedSummary != nil {
		t.Fatal("emissions captured despite failed validation")
	}
}

func TestValidateEpochLatchesOnAbsentMarker(t *testing.T) {
	store, _, mgr := validationFixture()
	store.hasMarker = false

	if err := mgr.ValidateEpoch(context.Background(), 150); err == nil {
		t.Fatal("expected error for absent END_EPOCH marker")
	}
	if critical, _, _ := mgr.CriticalError(); !critical {
		t.Fatal("critical error not latched")
	}
}

func TestValidateEpochLatchesOnIncompleteEndTickInfo(t *testing.T) {
	_, upstream, mgr := validationFixture()
	upstream.info.EndTickEndLogID = 0

	if err := mgr.ValidateEpoch(context.Background(), 150); err == nil {
		t.Fatal("expected error for incomplete end-tick info")
	}
	if critical, _, _ := mgr.CriticalError(); !critical {
		t.Fatal("critical error not latched")
	}
}

func TestValidateEpochComputesStatsOnce(t *testing.T) {
	store, _, mgr := validationFixture()
	ctx := context.Background()

	if err := mgr.ValidateEpoch(ctx, 150); err != nil {
		t.Fatalf("first validation failed: %v", err)
	}
	if err := mgr.ValidateEpoch(ctx, 150); err != nil {
		t.Fatalf("second validation failed: %v", err)
	}
	if store.statsComputed != 1 {
		t.Fatalf("final stats computed %d times, want 1", store.statsComputed)
	}
}

func TestValidateEpochClearsCriticalAfterRecovery(t *testing.T) {
	store, _, mgr := validationFixture()
	store.hasMarker = false

	ctx := context.Background()
	if err := mgr.ValidateEpoch(ctx, 150); err == nil {
		t.Fatal("expected marker failure")
	}

	// The marker shows up after a re-ingest upstream.
	store.hasMarker = true
	if err := mgr.ValidateEpoch(ctx, 150); err != nil {
		t.Fatalf("recovery validation failed: %v", err)
	}
	if critical, _, _ := mgr.CriticalError(); critical {
		t.Fatal("critical error not cleared after successful validation")
	}
}

func TestCaptureEmissionsImportsComputorsWhenMissing(t *testing.T) {
	store, upstream, mgr := validationFixture()
	store.computors = nil // store has no computor list yet
	upstream.computors = fullComputorSet()
	store.emissionRows = []db.EmissionRow{{Dest: upstream.computors[0], Amount: 42}}

	if err := mgr.ValidateEpoch(context.Background(), 150); err != nil {
		t.Fatalf("ValidateEpoch failed: %v", err)
	}
	if len(store.imported) != models.NumComputors {
		t.Fatalf("imported %d computors, want %d", len(store.imported), models.NumComputors)
	}
	if store.savedSummary == nil || store.savedSummary.TotalEmission != 42 {
		t.Fatalf("emission summary wrong: %+v", store.savedSummary)
	}
}

func TestRewardDistributions(t *testing.T) {
	_, _, mgr := validationFixture()

	if _, err := mgr.RewardDistributions(context.Background(), 150); err == nil {
		t.Fatal("expected error with no reward contract configured")
	}

	mgr.RewardContract = identity.BurnAddress // any valid address works here
	ranges, err := mgr.RewardDistributions(context.Background(), 150)
	if err != nil {
		t.Fatalf("RewardDistributions failed: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1", len(ranges))
	}
	if ranges[0].TotalAmount != 676_000 || ranges[0].PerShare != 1000 {
		t.Fatalf("range amounts wrong: %+v", ranges[0])
	}
}
