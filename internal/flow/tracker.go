package flow

import (
	"context"
	"fmt"
	"log"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/internal/labels"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// Store is the store slice the tracker needs.
type Store interface {
	HasFlowInit(ctx context.Context, emissionEpoch uint32) (bool, error)
	GetEmissions(ctx context.Context, epoch uint32) ([]models.ComputorEmission, error)
	GetComputors(ctx context.Context, epoch uint32) ([]string, error)
	PendingStates(ctx context.Context, emissionEpoch uint32) ([]models.TrackingState, error)
	AllStates(ctx context.Context, emissionEpoch uint32) ([]models.TrackingState, error)
	UpsertStates(ctx context.Context, states []models.TrackingState) error
	InsertFlowHops(ctx context.Context, hops []models.FlowHop) error
	OutboundTransfers(ctx context.Context, addrs []string, tickStart, tickEnd uint64) ([]models.Log, error)
	TransfersFromAddress(ctx context.Context, addr string, tickStart, tickEnd uint64) ([]models.Log, error)
	InflowToAddresses(ctx context.Context, addrs []string, tickStart, tickEnd uint64, excludeSource string) (int64, error)
	GetEmissionSummary(ctx context.Context, epoch uint32) (models.EmissionSummary, bool, error)
	FlowEdgeAggregates(ctx context.Context, emissionEpoch uint32) ([]models.FlowEdge, error)
	HopSourceDepths(ctx context.Context, emissionEpoch uint32) (map[string]int, error)
}

var _ Store = (*db.Store)(nil)

// WindowResult is what one persisted window pass contributes to the
// miner-flow analytics row.
type WindowResult struct {
	Stats            WindowStats
	AdditionalInflow int64
	ActiveAddresses  int
	PendingTotal     int64
}

// Tracker follows captured emissions hop by hop. Multicast is the
// pass-through contract address whose outputs are re-attributed to the
// caller; empty disables Case-B handling.
type Tracker struct {
	store     Store
	registry  *labels.Registry
	Multicast string
}

// NewTracker builds a flow tracker over the given store and label registry.
func NewTracker(store Store, registry *labels.Registry) *Tracker {
	return &Tracker{store: store, registry: registry}
}

// EnsureInitialized seeds hop-1 computor states from the captured emissions
// of the epoch. Idempotent: already-seeded epochs are left alone.
func (t *Tracker) EnsureInitialized(ctx context.Context, emissionEpoch uint32) error {
	seeded, err := t.store.HasFlowInit(ctx, emissionEpoch)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}

	emissions, err := t.store.GetEmissions(ctx, emissionEpoch)
	if err != nil {
		return err
	}
	if len(emissions) == 0 {
		return fmt.Errorf("epoch %d has no captured emissions to seed from", emissionEpoch)
	}

	states := make([]models.TrackingState, 0, len(emissions))
	var total int64
	for _, em := range emissions {
		states = append(states, models.TrackingState{
			EmissionEpoch: emissionEpoch,
			Address:       em.Address,
			Origin:        em.Address,
			AddressType:   models.AddressTypeComputor,
			Received:      em.Amount,
			Pending:       em.Amount,
			HopLevel:      1,
		})
		total += em.Amount
	}

	if err := t.store.UpsertStates(ctx, states); err != nil {
		return err
	}
	log.Printf("[FlowTracker] Epoch %d: seeded %d computor states, %d qu total",
		emissionEpoch, len(states), total)
	return nil
}

// classifier builds the address category sets for a pass. The emission
// epoch's computors are excluded as flow destinations even when they also
// carry an exchange or contract label.
func (t *Tracker) classifier(ctx context.Context, emissionEpoch uint32) (Classifier, error) {
	computors, err := t.store.GetComputors(ctx, emissionEpoch)
	if err != nil {
		return Classifier{}, err
	}

	cls := Classifier{
		Exchanges: make(map[string]bool),
		Contracts: make(map[string]bool),
		Computors: make(map[string]bool, len(computors)),
		Multicast: t.Multicast,
		LabelOf: func(addr string) string {
			if meta, ok := t.registry.Lookup(addr); ok {
				return meta.Label
			}
			return ""
		},
	}
	for _, addr := range computors {
		cls.Computors[addr] = true
	}
	for _, addr := range t.registry.AddressesByType(labels.KindExchange) {
		cls.Exchanges[addr] = true
	}
	for _, addr := range t.registry.AddressesByType(labels.KindSmartContract) {
		cls.Contracts[addr] = true
	}
	return cls, nil
}

// RunWindow processes one tick window [tickStart, tickEnd] for an emission
// epoch and persists the resulting hops and state changes.
func (t *Tracker) RunWindow(ctx context.Context, emissionEpoch, currentEpoch uint32, tickStart, tickEnd uint64) (WindowResult, error) {
	var result WindowResult

	if err := t.EnsureInitialized(ctx, emissionEpoch); err != nil {
		return result, err
	}

	cls, err := t.classifier(ctx, emissionEpoch)
	if err != nil {
		return result, err
	}

	states, err := t.store.PendingStates(ctx, emissionEpoch)
	if err != nil {
		return result, err
	}
	if len(states) == 0 {
		return result, nil
	}

	addrSet := make(map[string]bool, len(states))
	var addrs []string
	for _, st := range states {
		if !addrSet[st.Address] {
			addrSet[st.Address] = true
			addrs = append(addrs, st.Address)
		}
	}

	transfers, err := t.store.OutboundTransfers(ctx, addrs, tickStart, tickEnd)
	if err != nil {
		return result, err
	}

	multicast, err := t.multicastOutputs(ctx, tickStart, tickEnd)
	if err != nil {
		return result, err
	}

	updated, hops, stats := ProcessWindow(emissionEpoch, currentEpoch, cls, states, transfers, multicast)

	if len(hops) > 0 {
		if err := t.store.InsertFlowHops(ctx, hops); err != nil {
			return result, err
		}
	}
	if len(updated) > 0 {
		if err := t.store.UpsertStates(ctx, updated); err != nil {
			return result, err
		}
	}

	// Non-emission inflow into the epoch's computors, reported separately so
	// it never mixes into tracked attribution.
	computors, err := t.store.GetComputors(ctx, emissionEpoch)
	if err != nil {
		return result, err
	}
	inflow, err := t.store.InflowToAddresses(ctx, computors, tickStart, tickEnd, identity.BurnAddress)
	if err != nil {
		return result, err
	}

	result.Stats = stats
	result.AdditionalInflow = inflow
	result.ActiveAddresses, result.PendingTotal = pendingSummary(states, updated)

	if stats.TransfersProcessed > 0 {
		log.Printf("[FlowTracker] Epoch %d window [%d, %d]: %d transfers, %d hops, %d qu to exchanges, max hop %d",
			emissionEpoch, tickStart, tickEnd, stats.TransfersProcessed, len(hops),
			stats.ExchangeReceived, stats.MaxHopLevel)
	}
	return result, nil
}

// multicastOutputs groups the pass-through contract's outbound transfers by
// tick, so a Case-B inbound call can be matched to the outputs of its tick.
func (t *Tracker) multicastOutputs(ctx context.Context, tickStart, tickEnd uint64) (map[uint64][]MulticastOutput, error) {
	if t.Multicast == "" {
		return nil, nil
	}
	logs, err := t.store.TransfersFromAddress(ctx, t.Multicast, tickStart, tickEnd)
	if err != nil {
		return nil, err
	}

	outputs := make(map[uint64][]MulticastOutput)
	for _, l := range logs {
		outputs[l.TickNumber] = append(outputs[l.TickNumber], MulticastOutput{Dest: l.Dest, Amount: l.Amount})
	}
	return outputs, nil
}

// pendingSummary counts the still-active states after a pass, applying the
// window's updates over the loaded snapshot.
func pendingSummary(loaded, updated []models.TrackingState) (int, int64) {
	final := make(map[stateKey]models.TrackingState, len(loaded))
	for _, st := range loaded {
		final[stateKey{st.Address, st.Origin}] = st
	}
	for _, st := range updated {
		final[stateKey{st.Address, st.Origin}] = st
	}

	var active int
	var pending int64
	for _, st := range final {
		if !st.IsComplete && st.Pending > 0 {
			active++
			pending += st.Pending
		}
	}
	return active, pending
}
