package models

import "time"

// BalanceSnapshot is one spectrum record captured at the start of an epoch
// (its first tick). Balance is incoming minus outgoing; a zero balance with
// matching counters is a valid, kept record.
type BalanceSnapshot struct {
	Epoch              uint32 `json:"epoch"`
	Address            string `json:"address"`
	Balance            int64  `json:"balance"`
	IncomingAmount     int64  `json:"incomingAmount"`
	OutgoingAmount     int64  `json:"outgoingAmount"`
	NumIncoming        uint32 `json:"numIncoming"`
	NumOutgoing        uint32 `json:"numOutgoing"`
	LatestIncomingTick uint32 `json:"latestIncomingTick"`
	LatestOutgoingTick uint32 `json:"latestOutgoingTick"`
}

// Asset snapshot record types.
const (
	AssetRecordIssuance   = "issuance"
	AssetRecordOwnership  = "ownership"
	AssetRecordPossession = "possession"
)

// AssetSnapshot is one resolved universe record. Ownership rows resolve to an
// issuance, possession rows resolve through an ownership to an issuance;
// records with dangling references never make it into the store.
type AssetSnapshot struct {
	Epoch                 uint32 `json:"epoch"`
	Issuer                string `json:"issuer"`
	AssetName             string `json:"assetName"`
	Holder                string `json:"holder"`
	RecordType            string `json:"recordType"`
	ManagingContractIndex uint16 `json:"managingContractIndex"`
	NumberOfShares        int64  `json:"numberOfShares"`
	NumberOfDecimalPlaces int8   `json:"numberOfDecimalPlaces"`
}

// ImportMarker records one completed archive import for an epoch.
type ImportMarker struct {
	Epoch       uint32    `json:"epoch"`
	TickNumber  uint64    `json:"tickNumber"`
	RecordCount uint64    `json:"recordCount"`
	FileSize    int64     `json:"fileSize"`
	DurationMS  int64     `json:"durationMs"`
	ImportedAt  time.Time `json:"importedAt"`
}

// SnapshotWindow is the common (epoch, snapshot_at, tick range) header shared
// by every analytic snapshot row. Windows tile contiguously per kind: each
// next window starts at the first tick after the previous TickEnd.
type SnapshotWindow struct {
	Epoch      uint32    `json:"epoch"`
	SnapshotAt time.Time `json:"snapshotAt"`
	TickStart  uint64    `json:"tickStart"`
	TickEnd    uint64    `json:"tickEnd"`
}

// Holder distribution data sources.
const (
	DataSourceSnapshotDelta = "snapshot_delta"
	DataSourceTransferOnly  = "transfer_only"
)

// HolderDistribution is one 4-hour holder-bracket snapshot. Bracket bounds
// (in whole units, B = 1e9): Whale >= 100B, Large [20B, 100B),
// Medium [5B, 20B), Small [500M, 5B), Micro < 500M.
type HolderDistribution struct {
	SnapshotWindow
	TotalHolders  uint64  `json:"totalHolders"`
	WhaleCount    uint64  `json:"whaleCount"`
	LargeCount    uint64  `json:"largeCount"`
	MediumCount   uint64  `json:"mediumCount"`
	SmallCount    uint64  `json:"smallCount"`
	MicroCount    uint64  `json:"microCount"`
	WhaleBalance  int64   `json:"whaleBalance"`
	LargeBalance  int64   `json:"largeBalance"`
	MediumBalance int64   `json:"mediumBalance"`
	SmallBalance  int64   `json:"smallBalance"`
	MicroBalance  int64   `json:"microBalance"`
	TotalBalance  int64   `json:"totalBalance"`
	Top10Share    float64 `json:"top10Share"`
	Top50Share    float64 `json:"top50Share"`
	Top100Share   float64 `json:"top100Share"`
	DataSource    string  `json:"dataSource"`
}

// NetworkStats is one 4-hour network activity snapshot.
type NetworkStats struct {
	SnapshotWindow
	TxCount         uint64 `json:"txCount"`
	TransferCount   uint64 `json:"transferCount"`
	TransferVolume  int64  `json:"transferVolume"`
	UniqueSenders   uint64 `json:"uniqueSenders"`
	UniqueReceivers uint64 `json:"uniqueReceivers"`
	ExchangeInflow  int64  `json:"exchangeInflow"`
	ExchangeOutflow int64  `json:"exchangeOutflow"`
	ExchangeNetFlow int64  `json:"exchangeNetFlow"`
	SCCallCount     uint64 `json:"scCallCount"`
}

// BurnStats is one 4-hour burn snapshot covering burn logs (type 8), dust
// burns (type 9) and plain transfers into the burn address.
type BurnStats struct {
	SnapshotWindow
	BurnCount         uint64 `json:"burnCount"`
	DustBurnCount     uint64 `json:"dustBurnCount"`
	BurnedAmount      int64  `json:"burnedAmount"`
	DustBurnedAmount  int64  `json:"dustBurnedAmount"`
	TransferredToBurn int64  `json:"transferredToBurn"`
	UniqueBurners     uint64 `json:"uniqueBurners"`
	LargestBurn       int64  `json:"largestBurn"`
	CumulativeBurned  int64  `json:"cumulativeBurned"`
}

// MinerFlowStats is one 4-hour emission-flow snapshot. EmissionEpoch is the
// epoch whose emissions are being tracked (current epoch minus one).
// MinerNetPosition additionally counts non-emission inflow observed at
// computor addresses during the window; it never feeds per-origin received.
type MinerFlowStats struct {
	SnapshotWindow
	EmissionEpoch        uint32 `json:"emissionEpoch"`
	TotalEmission        int64  `json:"totalEmission"`
	TotalSent            int64  `json:"totalSent"`
	TotalPending         int64  `json:"totalPending"`
	ExchangeReceived     int64  `json:"exchangeReceived"`
	ContractReceived     int64  `json:"contractReceived"`
	ActiveIntermediaries uint64 `json:"activeIntermediaries"`
	CompletedStates      uint64 `json:"completedStates"`
	MaxHopLevel          int    `json:"maxHopLevel"`
	AdditionalInflow     int64  `json:"additionalInflow"`
	MinerNetPosition     int64  `json:"minerNetPosition"`
}
