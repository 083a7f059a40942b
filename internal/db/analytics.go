package db

import (
	"context"
	"fmt"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// Snapshot kinds map to their history tables.
const (
	SnapshotKindHolder    = "holder_distribution_history"
	SnapshotKindNetwork   = "network_stats_history"
	SnapshotKindBurn      = "burn_stats_history"
	SnapshotKindMinerFlow = "miner_flow_stats"
)

var snapshotTables = map[string]bool{
	SnapshotKindHolder:    true,
	SnapshotKindNetwork:   true,
	SnapshotKindBurn:      true,
	SnapshotKindMinerFlow: true,
}

// LastSnapshotTickEnd returns max(tick_end) for a snapshot kind, 0 when the
// table has no rows yet.
func (s *Store) LastSnapshotTickEnd(ctx context.Context, kind string) (uint64, error) {
	if !snapshotTables[kind] {
		return 0, fmt.Errorf("unknown snapshot kind: %s", kind)
	}
	var tickEnd uint64
	row := s.conn.QueryRow(ctx, `SELECT toUInt64(max(tick_end)) FROM `+kind)
	if err := row.Scan(&tickEnd); err != nil {
		return 0, err
	}
	return tickEnd, nil
}

// InsertHolderDistribution appends one immutable holder snapshot row; the
// insert is the atomic commit point of the window.
func (s *Store) InsertHolderDistribution(ctx context.Context, r models.HolderDistribution) error {
	return s.conn.Exec(ctx, `
		INSERT INTO holder_distribution_history
		(epoch, snapshot_at, tick_start, tick_end, total_holders,
		 whale_count, large_count, medium_count, small_count, micro_count,
		 whale_balance, large_balance, medium_balance, small_balance, micro_balance,
		 total_balance, top10_share, top50_share, top100_share, data_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd, r.TotalHolders,
		r.WhaleCount, r.LargeCount, r.MediumCount, r.SmallCount, r.MicroCount,
		r.WhaleBalance, r.LargeBalance, r.MediumBalance, r.SmallBalance, r.MicroBalance,
		r.TotalBalance, r.Top10Share, r.Top50Share, r.Top100Share, r.DataSource)
}

// InsertNetworkStats appends one network stats row.
func (s *Store) InsertNetworkStats(ctx context.Context, r models.NetworkStats) error {
	return s.conn.Exec(ctx, `
		INSERT INTO network_stats_history
		(epoch, snapshot_at, tick_start, tick_end, tx_count, transfer_count, transfer_volume,
		 unique_senders, unique_receivers, exchange_inflow, exchange_outflow, exchange_netflow, sc_call_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd, r.TxCount, r.TransferCount, r.TransferVolume,
		r.UniqueSenders, r.UniqueReceivers, r.ExchangeInflow, r.ExchangeOutflow, r.ExchangeNetFlow, r.SCCallCount)
}

// InsertBurnStats appends one burn stats row.
func (s *Store) InsertBurnStats(ctx context.Context, r models.BurnStats) error {
	return s.conn.Exec(ctx, `
		INSERT INTO burn_stats_history
		(epoch, snapshot_at, tick_start, tick_end, burn_count, dust_burn_count, burned_amount,
		 dust_burned_amount, transferred_to_burn, unique_burners, largest_burn, cumulative_burned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.SnapshotAt, r.TickStart, r.TickEnd, r.BurnCount, r.DustBurnCount, r.BurnedAmount,
		r.DustBurnedAmount, r.TransferredToBurn, r.UniqueBurners, r.LargestBurn, r.CumulativeBurned)
}

// InsertMinerFlowStats appends one miner-flow stats row.
func (s *Store) InsertMinerFlowStats(ctx context.Context, r models.MinerFlowStats) error {
	return s.conn.Exec(ctx, `
		INSERT INTO miner_flow_stats
		(epoch, emission_epoch, snapshot_at, tick_start, tick_end, total_emission, total_sent,
		 total_pending, exchange_received, contract_received, active_intermediaries,
		 completed_states, max_hop_level, additional_inflow, miner_net_position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Epoch, r.EmissionEpoch, r.SnapshotAt, r.TickStart, r.TickEnd, r.TotalEmission, r.TotalSent,
		r.TotalPending, r.ExchangeReceived, r.ContractReceived, r.ActiveIntermediaries,
		r.CompletedStates, r.MaxHopLevel, r.AdditionalInflow, r.MinerNetPosition)
}

// HolderAggregates holds the SQL-side holder distribution aggregation.
type HolderAggregates struct {
	TotalHolders                            uint64
	WhaleCount, LargeCount                  uint64
	MediumCount, SmallCount, MicroCount     uint64
	WhaleBalance, LargeBalance              int64
	MediumBalance, SmallBalance             int64
	MicroBalance, TotalBalance              int64
	TopBalances                             []int64
}

// balanceExpr yields per-address balances as of asOfTick. In snapshot mode
// the latest spectrum snapshot provides the base and only logs after its tick
// are replayed; otherwise every transfer log is folded. Holders with
// non-positive balance are excluded.
const balanceExprSnapshot = `
	SELECT address, sum(delta) AS balance FROM (
		SELECT address, balance AS delta FROM balance_snapshots WHERE epoch = ?
		UNION ALL
		SELECT dest AS address, amount AS delta FROM logs
		WHERE log_type = 0 AND tick_number > ? AND tick_number <= ?
		UNION ALL
		SELECT source AS address, -amount AS delta FROM logs
		WHERE log_type = 0 AND tick_number > ? AND tick_number <= ?
	)
	GROUP BY address
	HAVING balance > 0`

const balanceExprTransferOnly = `
	SELECT address, sum(delta) AS balance FROM (
		SELECT dest AS address, amount AS delta FROM logs
		WHERE log_type = 0 AND tick_number <= ?
		UNION ALL
		SELECT source AS address, -amount AS delta FROM logs
		WHERE log_type = 0 AND tick_number <= ?
	)
	GROUP BY address
	HAVING balance > 0`

// Holder bracket bounds in whole units.
const (
	bracketWhale  = 100_000_000_000
	bracketLarge  = 20_000_000_000
	bracketMedium = 5_000_000_000
	bracketSmall  = 500_000_000
)

func (s *Store) holderAggregates(ctx context.Context, balanceExpr string, args []any) (HolderAggregates, error) {
	var agg HolderAggregates

	row := s.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			count(),
			countIf(balance >= %[1]d),
			countIf(balance >= %[2]d AND balance < %[1]d),
			countIf(balance >= %[3]d AND balance < %[2]d),
			countIf(balance >= %[4]d AND balance < %[3]d),
			countIf(balance < %[4]d),
			sumIf(balance, balance >= %[1]d),
			sumIf(balance, balance >= %[2]d AND balance < %[1]d),
			sumIf(balance, balance >= %[3]d AND balance < %[2]d),
			sumIf(balance, balance >= %[4]d AND balance < %[3]d),
			sumIf(balance, balance < %[4]d),
			sum(balance)
		FROM (%[5]s)`,
		bracketWhale, bracketLarge, bracketMedium, bracketSmall, balanceExpr), args...)
	if err := row.Scan(&agg.TotalHolders,
		&agg.WhaleCount, &agg.LargeCount, &agg.MediumCount, &agg.SmallCount, &agg.MicroCount,
		&agg.WhaleBalance, &agg.LargeBalance, &agg.MediumBalance, &agg.SmallBalance, &agg.MicroBalance,
		&agg.TotalBalance); err != nil {
		return agg, err
	}

	rows, err := s.conn.Query(ctx,
		fmt.Sprintf(`SELECT balance FROM (%s) ORDER BY balance DESC LIMIT 100`, balanceExpr), args...)
	if err != nil {
		return agg, err
	}
	defer rows.Close()
	for rows.Next() {
		var b int64
		if err := rows.Scan(&b); err != nil {
			return agg, err
		}
		agg.TopBalances = append(agg.TopBalances, b)
	}
	return agg, rows.Err()
}

// HolderAggregatesFromSnapshot computes holder balances anchored on a
// spectrum snapshot plus transfer deltas.
func (s *Store) HolderAggregatesFromSnapshot(ctx context.Context, snapshotEpoch uint32, snapshotTick, asOfTick uint64) (HolderAggregates, error) {
	return s.holderAggregates(ctx, balanceExprSnapshot,
		[]any{snapshotEpoch, snapshotTick, asOfTick, snapshotTick, asOfTick})
}

// HolderAggregatesFromTransfers computes holder balances from transfer logs
// alone, for stores without any spectrum import yet.
func (s *Store) HolderAggregatesFromTransfers(ctx context.Context, asOfTick uint64) (HolderAggregates, error) {
	return s.holderAggregates(ctx, balanceExprTransferOnly, []any{asOfTick, asOfTick})
}

// NetworkAggregates computes the network stats metrics for a tick range.
// Exchange flow is measured over the given exchange address set.
func (s *Store) NetworkAggregates(ctx context.Context, tickStart, tickEnd uint64, exchanges []string) (models.NetworkStats, error) {
	var r models.NetworkStats
	r.TickStart, r.TickEnd = tickStart, tickEnd

	row := s.conn.QueryRow(ctx, `
		SELECT count(), countIf(executed AND input_type > 0)
		FROM transactions
		WHERE tick_number BETWEEN ? AND ?`, tickStart, tickEnd)
	if err := row.Scan(&r.TxCount, &r.SCCallCount); err != nil {
		return r, err
	}

	row = s.conn.QueryRow(ctx, `
		SELECT
			countIf(log_type = 0),
			sumIf(amount, log_type = 0),
			uniqExactIf(source, log_type = 0),
			uniqExactIf(dest, log_type = 0),
			sumIf(amount, log_type = 0 AND dest IN (?)),
			sumIf(amount, log_type = 0 AND source IN (?))
		FROM logs
		WHERE tick_number BETWEEN ? AND ?`, exchanges, exchanges, tickStart, tickEnd)
	if err := row.Scan(&r.TransferCount, &r.TransferVolume, &r.UniqueSenders, &r.UniqueReceivers,
		&r.ExchangeInflow, &r.ExchangeOutflow); err != nil {
		return r, err
	}
	r.ExchangeNetFlow = r.ExchangeInflow - r.ExchangeOutflow
	return r, nil
}

// BurnAggregates computes the burn stats metrics for a tick range, including
// the running cumulative total up to tickEnd.
func (s *Store) BurnAggregates(ctx context.Context, tickStart, tickEnd uint64, burnAddr string) (models.BurnStats, error) {
	var r models.BurnStats
	r.TickStart, r.TickEnd = tickStart, tickEnd

	row := s.conn.QueryRow(ctx, `
		SELECT
			countIf(log_type = 8),
			countIf(log_type = 9),
			sumIf(amount, log_type = 8),
			sumIf(amount, log_type = 9),
			sumIf(amount, log_type = 0 AND dest = ?),
			uniqExactIf(source, log_type IN (8, 9) OR (log_type = 0 AND dest = ?)),
			maxIf(amount, log_type IN (8, 9) OR (log_type = 0 AND dest = ?))
		FROM logs
		WHERE tick_number BETWEEN ? AND ?`, burnAddr, burnAddr, burnAddr, tickStart, tickEnd)
	if err := row.Scan(&r.BurnCount, &r.DustBurnCount, &r.BurnedAmount, &r.DustBurnedAmount,
		&r.TransferredToBurn, &r.UniqueBurners, &r.LargestBurn); err != nil {
		return r, err
	}

	row = s.conn.QueryRow(ctx, `
		SELECT sumIf(amount, log_type IN (8, 9) OR (log_type = 0 AND dest = ?))
		FROM logs
		WHERE tick_number <= ?`, burnAddr, tickEnd)
	if err := row.Scan(&r.CumulativeBurned); err != nil {
		return r, err
	}
	return r, nil
}
