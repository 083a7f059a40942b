package db

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const stateColumns = `emission_epoch, address, origin, address_type, received, sent, pending, hop_level, is_terminal, is_complete`

func scanStates(rows driver.Rows) ([]models.TrackingState, error) {
	defer rows.Close()

	var states []models.TrackingState
	for rows.Next() {
		var st models.TrackingState
		var hop int32
		var addrType string
		if err := rows.Scan(&st.EmissionEpoch, &st.Address, &st.Origin, &addrType,
			&st.Received, &st.Sent, &st.Pending, &hop, &st.IsTerminal, &st.IsComplete); err != nil {
			return nil, err
		}
		st.AddressType = models.AddressType(addrType)
		st.HopLevel = int(hop)
		states = append(states, st)
	}
	return states, rows.Err()
}

// PendingStates loads every not-yet-complete tracking state for an emission
// epoch. These are the rows the next window pass carries forward.
func (s *Store) PendingStates(ctx context.Context, emissionEpoch uint32) ([]models.TrackingState, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+stateColumns+`
		FROM flow_tracking_state FINAL
		WHERE emission_epoch = ? AND NOT is_complete`, emissionEpoch)
	if err != nil {
		return nil, err
	}
	return scanStates(rows)
}

// AllStates loads every tracking state for an emission epoch.
func (s *Store) AllStates(ctx context.Context, emissionEpoch uint32) ([]models.TrackingState, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+stateColumns+`
		FROM flow_tracking_state FINAL
		WHERE emission_epoch = ?`, emissionEpoch)
	if err != nil {
		return nil, err
	}
	return scanStates(rows)
}

// HasFlowInit reports whether computor seed states exist for the emission
// epoch.
func (s *Store) HasFlowInit(ctx context.Context, emissionEpoch uint32) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM flow_tracking_state
		WHERE emission_epoch = ?`, emissionEpoch)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpsertStates writes state rows; the replacing key (emission_epoch, address,
// origin) keeps the newest version.
func (s *Store) UpsertStates(ctx context.Context, states []models.TrackingState) error {
	now := time.Now().UTC()
	return s.sendBatch(ctx, `INSERT INTO flow_tracking_state`, len(states), func(b driver.Batch, i int) error {
		st := states[i]
		return b.Append(st.EmissionEpoch, st.Address, st.Origin, string(st.AddressType),
			st.Received, st.Sent, st.Pending, int32(st.HopLevel), st.IsTerminal, st.IsComplete, now)
	})
}

// InsertFlowHops appends the immutable hop rows produced by a window pass.
func (s *Store) InsertFlowHops(ctx context.Context, hops []models.FlowHop) error {
	return s.sendBatch(ctx, `INSERT INTO flow_hops`, len(hops), func(b driver.Batch, i int) error {
		h := hops[i]
		return b.Append(h.EmissionEpoch, h.CurrentEpoch, h.TickNumber, h.LogID, h.TxHash,
			h.Source, h.Dest, h.Amount, h.Origin, int32(h.HopLevel), string(h.DestType), h.DestLabel)
	})
}

// FlowStateTotals is the store-side rollup of an epoch's tracking state.
type FlowStateTotals struct {
	TotalSent            int64
	TotalPending         int64
	ActiveIntermediaries uint64
	CompletedStates      uint64
	MaxHopLevel          int
}

// StateTotals aggregates the tracking state of an emission epoch for the
// miner-flow snapshot row.
func (s *Store) StateTotals(ctx context.Context, emissionEpoch uint32) (FlowStateTotals, error) {
	var t FlowStateTotals
	var maxHop int32
	row := s.conn.QueryRow(ctx, `
		SELECT
			sum(sent),
			sum(pending),
			countIf(NOT is_complete AND pending > 0 AND address_type = 'intermediary'),
			countIf(is_complete),
			toInt32(max(hop_level))
		FROM flow_tracking_state FINAL
		WHERE emission_epoch = ?`, emissionEpoch)
	if err := row.Scan(&t.TotalSent, &t.TotalPending, &t.ActiveIntermediaries,
		&t.CompletedStates, &maxHop); err != nil {
		return t, err
	}
	t.MaxHopLevel = int(maxHop)
	return t, nil
}

// FlowEdgeAggregates returns the (source, dest) aggregates over every hop row
// of an emission epoch, for the visualisation build.
func (s *Store) FlowEdgeAggregates(ctx context.Context, emissionEpoch uint32) ([]models.FlowEdge, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT source, dest, sum(amount), count(), toInt32(min(hop_level))
		FROM flow_hops
		WHERE emission_epoch = ?
		GROUP BY source, dest
		ORDER BY source, dest`, emissionEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []models.FlowEdge
	for rows.Next() {
		var e models.FlowEdge
		var minHop int32
		if err := rows.Scan(&e.Source, &e.Dest, &e.Amount, &e.HopCount, &minHop); err != nil {
			return nil, err
		}
		e.MinHop = int(minHop)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// HopSourceDepths returns, per address, the minimum hop level at which it
// appears as a hop source for the emission epoch.
func (s *Store) HopSourceDepths(ctx context.Context, emissionEpoch uint32) (map[string]int, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT source, toInt32(min(hop_level))
		FROM flow_hops
		WHERE emission_epoch = ?
		GROUP BY source`, emissionEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var addr string
		var hop int32
		if err := rows.Scan(&addr, &hop); err != nil {
			return nil, err
		}
		depths[addr] = int(hop)
	}
	return depths, rows.Err()
}
