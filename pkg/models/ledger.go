package models

import (
	"encoding/json"
	"time"
)

// Tick is the smallest ordered unit of on-chain time. Ticks are inserted once
// and never mutated; tick numbers are strictly increasing but may skip.
type Tick struct {
	TickNumber uint64    `json:"tickNumber"`
	Epoch      uint32    `json:"epoch"`
	Timestamp  time.Time `json:"timestamp"`
	TxCount    uint32    `json:"txCount"`
	LogCount   uint32    `json:"logCount"`
}

// TickHeader is the lightweight shape delivered by the live-tick subscription.
// The upstream re-emits the same tick once per computor vote, so consumers
// must deduplicate against a monotone high-water mark.
type TickHeader struct {
	TickNumber uint64    `json:"tickNumber"`
	Epoch      uint32    `json:"epoch"`
	TxCount    uint32    `json:"transactionCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transaction references an inclusive log range recording its effects:
// [LogIDFrom, LogIDFrom+LogIDLength).
type Transaction struct {
	Hash        string    `json:"hash"`
	TickNumber  uint64    `json:"tickNumber"`
	Epoch       uint32    `json:"epoch"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      int64     `json:"amount"`
	InputType   uint16    `json:"inputType"`
	InputData   string    `json:"inputData"`
	Executed    bool      `json:"executed"`
	LogIDFrom   int64     `json:"logIdFrom"`
	LogIDLength int64     `json:"logIdLength"`
	Timestamp   time.Time `json:"timestamp"`
}

// Log type discriminators.
const (
	LogTypeQUTransfer      uint8 = 0
	LogTypeAssetIssuance   uint8 = 1
	LogTypeAssetOwnership  uint8 = 2
	LogTypeAssetPossession uint8 = 3
	LogTypeBurn            uint8 = 8
	LogTypeDustBurn        uint8 = 9
	LogTypeCustomMessage   uint8 = 255
)

// Custom-message sub-opcodes carried inside raw_data.customMessage for
// log_type 255 entries.
const (
	OpEndEpoch               uint64 = 1
	OpStartDistributeRewards uint64 = 2
	OpEndDistributeRewards   uint64 = 3
)

// Log is one effect record produced by a transaction. Log ids are monotonic
// within an epoch; the pair (epoch, log_id) identifies a log.
type Log struct {
	Epoch      uint32    `json:"epoch"`
	LogID      int64     `json:"logId"`
	TickNumber uint64    `json:"tickNumber"`
	LogType    uint8     `json:"logType"`
	TxHash     string    `json:"txHash,omitempty"`
	Source     string    `json:"source"`
	Dest       string    `json:"dest"`
	Amount     int64     `json:"amount"`
	AssetName  string    `json:"assetName,omitempty"`
	RawData    string    `json:"rawData,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventKind is the decoded variant of a log entry.
type EventKind int

const (
	EventQUTransfer EventKind = iota
	EventAssetIssuance
	EventAssetOwnership
	EventAssetPossession
	EventBurn
	EventDustBurn
	EventCustomMessage
	EventUnknown
)

// CustomEvent is the sub-variant decoded from a type-255 log payload.
type CustomEvent struct {
	Op uint64 `json:"customMessage"`
}

// Event is the tagged-union view of a log: Kind selects the variant, and for
// EventCustomMessage the Custom field carries the decoded sub-opcode.
type Event struct {
	Kind   EventKind
	Custom *CustomEvent
}

// Decode maps the log's type byte to an event variant. For custom messages
// the raw JSON payload is decoded to extract the sub-opcode; a malformed
// payload yields EventUnknown rather than an error, since upstream logs are
// immutable and re-fetching would not change them.
func (l *Log) Decode() Event {
	switch l.LogType {
	case LogTypeQUTransfer:
		return Event{Kind: EventQUTransfer}
	case LogTypeAssetIssuance:
		return Event{Kind: EventAssetIssuance}
	case LogTypeAssetOwnership:
		return Event{Kind: EventAssetOwnership}
	case LogTypeAssetPossession:
		return Event{Kind: EventAssetPossession}
	case LogTypeBurn:
		return Event{Kind: EventBurn}
	case LogTypeDustBurn:
		return Event{Kind: EventDustBurn}
	case LogTypeCustomMessage:
		var custom CustomEvent
		if err := json.Unmarshal([]byte(l.RawData), &custom); err != nil {
			return Event{Kind: EventUnknown}
		}
		return Event{Kind: EventCustomMessage, Custom: &custom}
	default:
		return Event{Kind: EventUnknown}
	}
}

// IsEndEpochMarker reports whether this log is the END_EPOCH custom message
// required inside a complete epoch's end-tick log range.
func (l *Log) IsEndEpochMarker() bool {
	ev := l.Decode()
	return ev.Kind == EventCustomMessage && ev.Custom.Op == OpEndEpoch
}
