// Package push watches subscribed addresses for new transfers and delivers
// web-push notifications. Delivery is at-most-once per (subscription,
// address, tick): the dedup row is checked before sending and written after.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// VAPIDKeys is the server key pair used to sign push requests.
type VAPIDKeys struct {
	Public  string
	Private string
	Subject string
}

// LoadOrGenerateVAPID returns the configured key pair, or generates an
// ephemeral one when none is configured. Ephemeral keys invalidate every
// browser subscription on restart, so this is only acceptable for
// development.
func LoadOrGenerateVAPID(public, private, subject string) (VAPIDKeys, error) {
	if subject == "" {
		subject = "mailto:ops@localhost"
	}
	if public != "" && private != "" {
		return VAPIDKeys{Public: public, Private: private, Subject: subject}, nil
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	log.Println("[Push] WARNING: no VAPID keys configured, generated an ephemeral pair; existing subscriptions will stop working on restart")
	return VAPIDKeys{Public: pub, Private: priv, Subject: subject}, nil
}

// Sender delivers one notification payload to one push endpoint.
type Sender struct {
	keys VAPIDKeys
}

// NewSender builds a sender around a VAPID key pair.
func NewSender(keys VAPIDKeys) *Sender {
	return &Sender{keys: keys}
}

// errSubscriptionGone marks an endpoint that reported itself dead.
type errSubscriptionGone struct{ status int }

func (e errSubscriptionGone) Error() string {
	return fmt.Sprintf("push endpoint gone (status %d)", e.status)
}

// Send pushes the notification. A 404/410 from the endpoint returns an
// errSubscriptionGone so the caller can drop the subscription.
func (s *Sender) Send(ctx context.Context, sub models.PushSubscription, n models.TransferNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.keys.Subject,
		VAPIDPublicKey:  s.keys.Public,
		VAPIDPrivateKey: s.keys.Private,
		TTL:             3600,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return errSubscriptionGone{status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// PublicKey exposes the VAPID public key for subscription registration.
func (s *Sender) PublicKey() string {
	return s.keys.Public
}
