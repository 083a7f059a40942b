package models

import "time"

// NumComputors is the fixed validator set size; every epoch has exactly this
// many computor addresses (indices 0..675).
const NumComputors = 676

// EpochFinalStats is the immutable aggregate computed exactly once when an
// epoch transition is validated.
type EpochFinalStats struct {
	TickCount         uint64 `json:"tickCount"`
	TotalTransactions uint64 `json:"totalTransactions"`
	TotalLogs         uint64 `json:"totalLogs"`
	TransferVolume    int64  `json:"transferVolume"`
	BurnedAmount      int64  `json:"burnedAmount"`
	UniqueAddresses   uint64 `json:"uniqueAddresses"`
}

// EpochMeta is the per-epoch lifecycle row. For a complete epoch
// end_tick > initial_tick and the end-tick log range [EndTickStartLogID,
// EndTickEndLogID] contains an END_EPOCH marker.
type EpochMeta struct {
	Epoch             uint32           `json:"epoch"`
	InitialTick       uint64           `json:"initialTick"`
	EndTick           uint64           `json:"endTick"`
	EndTickStartLogID int64            `json:"endTickStartLogId"`
	EndTickEndLogID   int64            `json:"endTickEndLogId"`
	IsComplete        bool             `json:"isComplete"`
	FinalStats        *EpochFinalStats `json:"finalStats,omitempty"`
}

// Computor is one entry of an epoch's ordered validator list, immutable once
// imported.
type Computor struct {
	Epoch   uint32 `json:"epoch"`
	Index   uint16 `json:"index"`
	Address string `json:"address"`
}

// ComputorEmission records what one computor received in the epoch's end tick
// from the burn address (protocol minting).
type ComputorEmission struct {
	Epoch        uint32    `json:"epoch"`
	Address      string    `json:"address"`
	Amount       int64     `json:"amount"`
	EmissionTick uint64    `json:"emissionTick"`
	Timestamp    time.Time `json:"timestamp"`
}

// EmissionSummary is the one-per-epoch aggregate written alongside the
// per-computor emission rows.
type EmissionSummary struct {
	Epoch         uint32 `json:"epoch"`
	ComputorCount uint32 `json:"computorCount"`
	TotalEmission int64  `json:"totalEmission"`
	EmissionTick  uint64 `json:"emissionTick"`
}

// RewardRange is a half-open (start_log_id, end_log_id) bracket produced by
// pairing an OP_START_DISTRIBUTE_REWARDS marker with the earliest later
// OP_END_DISTRIBUTE_REWARDS marker in the same tick.
type RewardRange struct {
	Epoch       uint32 `json:"epoch"`
	TickNumber  uint64 `json:"tickNumber"`
	StartLogID  int64  `json:"startLogId"`
	EndLogID    int64  `json:"endLogId"`
	TotalAmount int64  `json:"totalAmount"`
	PerShare    int64  `json:"perShare"`
}
