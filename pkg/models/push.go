package models

import "time"

// Push event kinds a subscription can enable.
const (
	PushEventIncoming      = "incoming"
	PushEventOutgoing      = "outgoing"
	PushEventLargeTransfer = "large_transfer"
)

// PushSubscription is one web-push endpoint watching a set of addresses.
// Threshold applies to the large_transfer event kind only.
type PushSubscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	Addresses []string  `json:"addresses"`
	Events    []string  `json:"events"`
	Threshold int64     `json:"threshold"`
	CreatedAt time.Time `json:"createdAt"`
}

// WantsEvent reports whether the subscription has the given event kind
// enabled.
func (s *PushSubscription) WantsEvent(kind string) bool {
	for _, e := range s.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// NotificationRecord is the dedup row written after a successful push; the
// (subscription, address, tick) triple is sent at most once.
type NotificationRecord struct {
	SubscriptionID string    `json:"subscriptionId"`
	Address        string    `json:"address"`
	TickNumber     uint64    `json:"tickNumber"`
	SentAt         time.Time `json:"sentAt"`
}

// TransferNotification is the JSON payload delivered to push endpoints.
type TransferNotification struct {
	Address    string `json:"address"`
	Direction  string `json:"direction"`
	Peer       string `json:"peer"`
	Amount     int64  `json:"amount"`
	TickNumber uint64 `json:"tickNumber"`
	TxHash     string `json:"txHash,omitempty"`
}
