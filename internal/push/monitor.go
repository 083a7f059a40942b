package push

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	monitorPeriod = 30 * time.Second
	monitorDelay  = 20 * time.Second

	// transfersPerAddress bounds the per-cycle lookback; anything older than
	// the newest few transfers was either already notified or predates the
	// high-water mark.
	transfersPerAddress = 5
)

// Store is the store slice the monitor needs.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	HasNotification(ctx context.Context, subscriptionID, address string, tick uint64) (bool, error)
	RecordNotification(ctx context.Context, subscriptionID, address string, tick uint64) error
	LatestTransfersTouching(ctx context.Context, addr string, limit int) ([]models.Log, error)
}

var _ Store = (*db.Store)(nil)

// Deliverer sends one notification to one endpoint.
type Deliverer interface {
	Send(ctx context.Context, sub models.PushSubscription, n models.TransferNotification) error
}

// Monitor polls the store for new transfers touching watched addresses and
// pushes notifications. The per-address high-water mark starts at the newest
// transfer seen, so history present before an address was first watched is
// never notified.
type Monitor struct {
	store  Store
	sender Deliverer

	highWater map[string]uint64
}

// NewMonitor builds the address-watch monitor.
func NewMonitor(store Store, sender Deliverer) *Monitor {
	return &Monitor{
		store:     store,
		sender:    sender,
		highWater: make(map[string]uint64),
	}
}

// Run polls until cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Println("[Push] Starting address-watch monitor")

	select {
	case <-ctx.Done():
		return
	case <-time.After(monitorDelay):
	}

	ticker := time.NewTicker(monitorPeriod)
	defer ticker.Stop()

	for {
		if err := m.runCycle(ctx); err != nil {
			log.Printf("[Push] Cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("[Push] Stopping")
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) error {
	subs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	// Union of watched addresses, each checked once per cycle.
	watchers := make(map[string][]models.PushSubscription)
	for _, sub := range subs {
		for _, addr := range sub.Addresses {
			watchers[addr] = append(watchers[addr], sub)
		}
	}

	addrs := make([]string, 0, len(watchers))
	for addr := range watchers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if err := m.checkAddress(ctx, addr, watchers[addr]); err != nil {
			log.Printf("[Push] Address %s: %v", addr, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (m *Monitor) checkAddress(ctx context.Context, addr string, subs []models.PushSubscription) error {
	transfers, err := m.store.LatestTransfersTouching(ctx, addr, transfersPerAddress)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}

	var maxTick uint64
	for _, tr := range transfers {
		if tr.TickNumber > maxTick {
			maxTick = tr.TickNumber
		}
	}

	mark, seen := m.highWater[addr]
	m.highWater[addr] = maxTick
	if !seen {
		// First observation establishes the baseline silently.
		return nil
	}

	// Oldest first, so notifications arrive in chain order.
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].TickNumber != transfers[j].TickNumber {
			return transfers[i].TickNumber < transfers[j].TickNumber
		}
		return transfers[i].LogID < transfers[j].LogID
	})

	for _, tr := range transfers {
		if tr.TickNumber <= mark {
			continue
		}
		for _, sub := range subs {
			if err := m.notify(ctx, sub, addr, tr); err != nil {
				log.Printf("[Push] Subscription %s: %v", sub.ID, err)
			}
		}
	}
	return nil
}

// notify sends one transfer to one subscription if an enabled event kind
// matches and the (subscription, address, tick) triple was not sent before.
func (m *Monitor) notify(ctx context.Context, sub models.PushSubscription, addr string, tr models.Log) error {
	direction := models.PushEventIncoming
	peer := tr.Source
	if tr.Source == addr {
		direction = models.PushEventOutgoing
		peer = tr.Dest
	}

	wanted := sub.WantsEvent(direction)
	if !wanted && sub.WantsEvent(models.PushEventLargeTransfer) && tr.Amount >= sub.Threshold {
		wanted = true
	}
	if !wanted {
		return nil
	}

	sent, err := m.store.HasNotification(ctx, sub.ID, addr, tr.TickNumber)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	err = m.sender.Send(ctx, sub, models.TransferNotification{
		Address:    addr,
		Direction:  direction,
		Peer:       peer,
		Amount:     tr.Amount,
		TickNumber: tr.TickNumber,
		TxHash:     tr.TxHash,
	})
	if err != nil {
		var gone errSubscriptionGone
		if errors.As(err, &gone) {
			log.Printf("[Push] Removing dead subscription %s (%v)", sub.ID, err)
			return m.store.DeleteSubscription(ctx, sub.ID)
		}
		return err
	}
	return m.store.RecordNotification(ctx, sub.ID, addr, tr.TickNumber)
}
