// Package flow implements the continuous multi-hop emission tracker: every
// unit minted to a computor at an epoch boundary is followed forward through
// outbound transfers, across overlapping analysis windows, until it reaches a
// terminal destination (exchange or smart contract) or the hop limit.
//
// State is keyed by (address, origin): each origin computor's pending balance
// propagates independently, so an address reappearing at a higher hop level
// cannot double-count, and the no-flow-back-into-computors rule prevents true
// cycles. Transfers are processed strictly by (tick, log_id) with a
// write-through pending map, so two spends by the same source inside one
// window see the cumulative effect of the earlier one.
package flow

import (
	"math/bits"
	"sort"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// Classifier resolves address categories for a window pass. Multicast is the
// designated pass-through contract; its outbound transfers are matched to the
// tick of the inbound call and it never appears in hop rows.
type Classifier struct {
	Exchanges map[string]bool
	Contracts map[string]bool
	Computors map[string]bool
	Multicast string
	LabelOf   func(addr string) string
}

func (c Classifier) destType(addr string) (models.AddressType, bool) {
	switch {
	case c.Exchanges[addr]:
		return models.AddressTypeExchange, true
	case c.Contracts[addr]:
		return models.AddressTypeSmartContract, true
	default:
		return models.AddressTypeIntermediary, false
	}
}

func (c Classifier) label(addr string) string {
	if c.LabelOf == nil {
		return ""
	}
	return c.LabelOf(addr)
}

// MulticastOutput is one outbound transfer of the pass-through contract.
type MulticastOutput struct {
	Dest   string
	Amount int64
}

// WindowStats aggregates what one window pass observed.
type WindowStats struct {
	TransfersProcessed int
	ExchangeReceived   int64
	ContractReceived   int64
	ExchangeByHop      map[int]int64
	MaxHopLevel        int
	CompletedStates    int
}

type stateKey struct {
	address string
	origin  string
}

// engine is the in-memory working set of one window pass.
type engine struct {
	emissionEpoch uint32
	currentEpoch  uint32
	cls           Classifier

	states map[stateKey]*models.TrackingState
	dirty  map[stateKey]bool
	// origins per source address, kept sorted for deterministic iteration.
	origins map[string][]string

	hops  []models.FlowHop
	stats WindowStats
}

func newEngine(emissionEpoch, currentEpoch uint32, cls Classifier, loaded []models.TrackingState) *engine {
	e := &engine{
		emissionEpoch: emissionEpoch,
		currentEpoch:  currentEpoch,
		cls:           cls,
		states:        make(map[stateKey]*models.TrackingState, len(loaded)),
		dirty:         make(map[stateKey]bool),
		origins:       make(map[string][]string),
	}
	for i := range loaded {
		st := loaded[i]
		key := stateKey{st.Address, st.Origin}
		e.states[key] = &st
		e.origins[st.Address] = append(e.origins[st.Address], st.Origin)
	}
	for addr := range e.origins {
		sort.Strings(e.origins[addr])
	}
	return e
}

// effectiveSources lists the (origin, pending) pairs of a source address,
// reading the in-memory write-set so earlier transfers in the window are
// visible. Origins iterate in sorted order for determinism.
func (e *engine) effectiveSources(src string) ([]string, []int64, int64) {
	var origins []string
	var pendings []int64
	var total int64
	for _, origin := range e.origins[src] {
		st := e.states[stateKey{src, origin}]
		if st == nil || st.IsComplete || st.Pending <= 0 {
			continue
		}
		origins = append(origins, origin)
		pendings = append(pendings, st.Pending)
		total += st.Pending
	}
	return origins, pendings, total
}

// mulDiv computes a*b/c without intermediate overflow. Shares are floored;
// the residual dust stays pending at the source, within the validator's
// tolerance.
func mulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		// Quotient would overflow; callers clamp to b anyway.
		return b
	}
	quo, _ := bits.Div64(hi, lo, uint64(c))
	return int64(quo)
}

// share attributes amount to one origin holding p of total pending. The
// result is capped at p so a source spending more than its tracked pending
// can never mint attribution out of thin air.
func share(amount, p, total int64) int64 {
	s := mulDiv(amount, p, total)
	if s > p {
		return p
	}
	return s
}

// processTransfer applies one outbound transfer in (tick, log_id) order.
func (e *engine) processTransfer(transfer models.Log, multicast map[uint64][]MulticastOutput) {
	origins, pendings, total := e.effectiveSources(transfer.Source)
	if total == 0 {
		return
	}
	e.stats.TransfersProcessed++

	if transfer.Dest == e.cls.Multicast {
		e.processMulticast(transfer, origins, pendings, total, multicast[transfer.TickNumber])
		return
	}

	for i, origin := range origins {
		s := share(transfer.Amount, pendings[i], total)
		if s <= 0 {
			continue
		}
		e.emitHop(transfer, transfer.Source, transfer.Dest, s, origin)
		e.creditDest(transfer.Dest, origin, s, e.level(transfer.Source, origin))
		e.debitSource(transfer.Source, origin, s)
	}
}

// processMulticast is the Case-B pass-through: the contract's outputs in the
// same tick are attributed directly from the original sender, and the sender
// is debited by the inbound amount regardless of whether any outputs were
// found (the transfer into the contract is a real spend).
func (e *engine) processMulticast(transfer models.Log, origins []string, pendings []int64, total int64, outputs []MulticastOutput) {
	for _, out := range outputs {
		if out.Dest == e.cls.Multicast || out.Dest == identity.BurnAddress {
			continue
		}
		for i, origin := range origins {
			s := share(out.Amount, pendings[i], total)
			if s <= 0 {
				continue
			}
			e.emitHop(transfer, transfer.Source, out.Dest, s, origin)
			e.creditDest(out.Dest, origin, s, e.level(transfer.Source, origin))
		}
	}

	for i, origin := range origins {
		debit := share(transfer.Amount, pendings[i], total)
		if debit > 0 {
			e.debitSource(transfer.Source, origin, debit)
		}
	}
}

// level returns the hop level of a source state; computor seeds sit at 1.
func (e *engine) level(addr, origin string) int {
	if st := e.states[stateKey{addr, origin}]; st != nil {
		return st.HopLevel
	}
	return 1
}

func (e *engine) emitHop(transfer models.Log, src, dest string, amount int64, origin string) {
	destType, terminal := e.cls.destType(dest)
	hop := models.FlowHop{
		EmissionEpoch: e.emissionEpoch,
		CurrentEpoch:  e.currentEpoch,
		TickNumber:    transfer.TickNumber,
		LogID:         transfer.LogID,
		TxHash:        transfer.TxHash,
		Source:        src,
		Dest:          dest,
		Amount:        amount,
		Origin:        origin,
		HopLevel:      e.level(src, origin),
		DestType:      destType,
	}
	if terminal {
		hop.DestLabel = e.cls.label(dest)
	}
	e.hops = append(e.hops, hop)

	if hop.HopLevel > e.stats.MaxHopLevel {
		e.stats.MaxHopLevel = hop.HopLevel
	}
	switch destType {
	case models.AddressTypeExchange:
		e.stats.ExchangeReceived += amount
		if e.stats.ExchangeByHop == nil {
			e.stats.ExchangeByHop = make(map[int]int64)
		}
		e.stats.ExchangeByHop[hop.HopLevel] += amount
	case models.AddressTypeSmartContract:
		e.stats.ContractReceived += amount
	}
}

// creditDest applies the destination-state update: terminal destinations
// complete immediately and never accrue pending; computors are never
// re-entered; non-terminal destinations past the hop limit are not tracked.
func (e *engine) creditDest(dest, origin string, amount int64, srcLevel int) {
	if e.cls.Computors[dest] {
		return
	}

	destType, terminal := e.cls.destType(dest)
	key := stateKey{dest, origin}
	st := e.states[key]

	if st == nil {
		newLevel := srcLevel + 1
		if !terminal && newLevel > models.MaxHopLevels {
			return
		}
		st = &models.TrackingState{
			EmissionEpoch: e.emissionEpoch,
			Address:       dest,
			Origin:        origin,
			AddressType:   destType,
			HopLevel:      newLevel,
		}
		e.states[key] = st
		e.origins[dest] = insertSorted(e.origins[dest], origin)
	}

	st.Received += amount
	if terminal {
		st.IsTerminal = true
		if !st.IsComplete {
			st.IsComplete = true
			e.stats.CompletedStates++
		}
	} else {
		st.Pending += amount
		if srcLevel+1 < st.HopLevel {
			st.HopLevel = srcLevel + 1
		}
	}
	e.dirty[key] = true
}

// debitSource applies the source-state update; a drained source completes.
func (e *engine) debitSource(src, origin string, amount int64) {
	key := stateKey{src, origin}
	st := e.states[key]
	if st == nil {
		return
	}
	st.Sent += amount
	st.Pending -= amount
	if st.Pending <= 0 {
		st.Pending = 0
		if !st.IsComplete {
			st.IsComplete = true
			e.stats.CompletedStates++
		}
	}
	e.dirty[key] = true
}

// dirtyStates returns the states mutated by this pass, in deterministic
// order.
func (e *engine) dirtyStates() []models.TrackingState {
	keys := make([]stateKey, 0, len(e.dirty))
	for key := range e.dirty {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].address != keys[j].address {
			return keys[i].address < keys[j].address
		}
		return keys[i].origin < keys[j].origin
	})

	out := make([]models.TrackingState, 0, len(keys))
	for _, key := range keys {
		out = append(out, *e.states[key])
	}
	return out
}

func insertSorted(list []string, v string) []string {
	idx := sort.SearchStrings(list, v)
	if idx < len(list) && list[idx] == v {
		return list
	}
	list = append(list, "")
	copy(list[idx+1:], list[idx:])
	list[idx] = v
	return list
}

// ProcessWindow runs the deterministic per-window pass over transfers that
// must already be sorted by (tick, log_id). It returns the mutated states,
// the hop rows to persist and the pass statistics.
func ProcessWindow(emissionEpoch, currentEpoch uint32, cls Classifier,
	loaded []models.TrackingState, transfers []models.Log,
	multicast map[uint64][]MulticastOutput) ([]models.TrackingState, []models.FlowHop, WindowStats) {

	e := newEngine(emissionEpoch, currentEpoch, cls, loaded)
	for _, transfer := range transfers {
		e.processTransfer(transfer, multicast)
	}
	return e.dirtyStates(), e.hops, e.stats
}
