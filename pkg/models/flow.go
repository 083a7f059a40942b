package models

import "time"

// Address classification used by the flow tracker. Exchange and smart
// contract destinations are terminal; computors never re-enter a flow.
type AddressType string

const (
	AddressTypeComputor      AddressType = "computor"
	AddressTypeIntermediary  AddressType = "intermediary"
	AddressTypeExchange      AddressType = "exchange"
	AddressTypeSmartContract AddressType = "smartcontract"
)

// MaxHopLevels bounds how far emission is followed from a computor before a
// non-terminal destination stops being tracked.
const MaxHopLevels = 10

// TrackingState is the per-(emission epoch, address, origin) flow state.
// Pending = Received - Sent and never goes negative; once IsComplete the row
// is read-only. For a computor entry Received equals that computor's captured
// emission for the epoch.
type TrackingState struct {
	EmissionEpoch uint32      `json:"emissionEpoch"`
	Address       string      `json:"address"`
	Origin        string      `json:"origin"`
	AddressType   AddressType `json:"addressType"`
	Received      int64       `json:"received"`
	Sent          int64       `json:"sent"`
	Pending       int64       `json:"pending"`
	HopLevel      int         `json:"hopLevel"`
	IsTerminal    bool        `json:"isTerminal"`
	IsComplete    bool        `json:"isComplete"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// FlowHop is the immutable record of one attributed transfer slice.
type FlowHop struct {
	EmissionEpoch uint32      `json:"emissionEpoch"`
	CurrentEpoch  uint32      `json:"currentEpoch"`
	TickNumber    uint64      `json:"tickNumber"`
	LogID         int64       `json:"logId"`
	TxHash        string      `json:"txHash,omitempty"`
	Source        string      `json:"source"`
	Dest          string      `json:"dest"`
	Amount        int64       `json:"amount"`
	Origin        string      `json:"origin"`
	HopLevel      int         `json:"hopLevel"`
	DestType      AddressType `json:"destType"`
	DestLabel     string      `json:"destLabel,omitempty"`
}

// FlowNode is one address in the aggregated visualisation graph. Depth is the
// minimum hop level at which the address appears as a source; computors are
// fixed at depth 0. A node is a sink iff it is an exchange or smart contract.
type FlowNode struct {
	Address  string      `json:"address"`
	Label    string      `json:"label,omitempty"`
	Type     AddressType `json:"type"`
	Depth    int         `json:"depth"`
	Inflow   int64       `json:"inflow"`
	Outflow  int64       `json:"outflow"`
	IsSink   bool        `json:"isSink"`
	IsSource bool        `json:"isSource"`
}

// FlowEdge is the (source, dest) aggregate over all hop rows of an emission
// epoch.
type FlowEdge struct {
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Amount   int64  `json:"amount"`
	HopCount uint64 `json:"hopCount"`
	MinHop   int    `json:"minHop"`
}

// FlowGraph is the visualisation payload for one emission epoch.
type FlowGraph struct {
	EmissionEpoch uint32     `json:"emissionEpoch"`
	Nodes         []FlowNode `json:"nodes"`
	Edges         []FlowEdge `json:"edges"`
	TotalTracked  int64      `json:"totalTracked"`
	MaxDepth      int        `json:"maxDepth"`
}

// ValidationReport is the structured result of the on-demand conservation
// validator. Violations are reported, never auto-remediated.
type ValidationReport struct {
	EmissionEpoch uint32   `json:"emissionEpoch"`
	IsValid       bool     `json:"isValid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
}
