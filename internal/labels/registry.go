// Package labels holds the process-wide address metadata registry. The whole
// registry is replaced by an atomic pointer swap on refresh, so lookups on
// the hot path never take a lock.
package labels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
)

// Address kinds.
const (
	KindKnown         = "known"
	KindExchange      = "exchange"
	KindSmartContract = "smartcontract"
	KindTokenIssuer   = "tokenissuer"
	KindBurn          = "burn"
)

const refreshInterval = time.Hour

// Meta is the registered metadata for one address.
type Meta struct {
	Address       string `json:"address"`
	Label         string `json:"label"`
	Kind          string `json:"kind"`
	ContractIndex uint32 `json:"contractIndex,omitempty"`
	Website       string `json:"website,omitempty"`
}

// bundle is the wire shape of the label bundle JSON.
type bundle struct {
	Addresses  []Meta `json:"addresses"`
	Procedures []struct {
		ContractAddress string `json:"contractAddress"`
		InputType       uint16 `json:"inputType"`
		Name            string `json:"name"`
	} `json:"procedures"`
}

type snapshot struct {
	byAddress  map[string]Meta
	byKind     map[string][]Meta
	procedures map[string]string // contractAddress|inputType -> name
	loadedAt   time.Time
}

// Registry maps addresses to labels and contract procedures to names.
type Registry struct {
	bundleURL string
	client    *http.Client

	current   atomic.Pointer[snapshot]
	refreshMu sync.Mutex
}

// New builds a registry seeded with the burn address only; call EnsureFresh
// (or let the hourly worker do it) to load the bundle.
func New(bundleURL string) *Registry {
	r := &Registry{
		bundleURL: bundleURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	r.current.Store(buildSnapshot(bundle{}, time.Time{}))
	return r
}

func buildSnapshot(b bundle, loadedAt time.Time) *snapshot {
	snap := &snapshot{
		byAddress:  make(map[string]Meta, len(b.Addresses)+1),
		byKind:     make(map[string][]Meta),
		procedures: make(map[string]string),
		loadedAt:   loadedAt,
	}

	for _, meta := range b.Addresses {
		snap.byAddress[meta.Address] = meta
		snap.byKind[meta.Kind] = append(snap.byKind[meta.Kind], meta)
	}

	// The burn address is always registered, bundle or not.
	if _, ok := snap.byAddress[identity.BurnAddress]; !ok {
		burn := Meta{Address: identity.BurnAddress, Label: "Burn Address", Kind: KindBurn}
		snap.byAddress[identity.BurnAddress] = burn
		snap.byKind[KindBurn] = append(snap.byKind[KindBurn], burn)
	}

	for _, p := range b.Procedures {
		snap.procedures[procedureKey(p.ContractAddress, p.InputType)] = p.Name
	}

	return snap
}

func procedureKey(contract string, inputType uint16) string {
	return fmt.Sprintf("%s|%d", contract, inputType)
}

// Lookup returns the metadata for an address.
func (r *Registry) Lookup(addr string) (Meta, bool) {
	meta, ok := r.current.Load().byAddress[addr]
	return meta, ok
}

// ByType lists every registered address of a kind.
func (r *Registry) ByType(kind string) []Meta {
	src := r.current.Load().byKind[kind]
	out := make([]Meta, len(src))
	copy(out, src)
	return out
}

// AddressesByType returns just the addresses of a kind, for set membership
// queries in the analytics workers.
func (r *Registry) AddressesByType(kind string) []string {
	src := r.current.Load().byKind[kind]
	out := make([]string, len(src))
	for i, meta := range src {
		out[i] = meta.Address
	}
	return out
}

// SearchByLabel ranks matches: exact match first, then prefix, then contains,
// ties broken by ascending label length. Matching is case-insensitive.
func (r *Registry) SearchByLabel(query string, limit int) []Meta {
	if query == "" || limit <= 0 {
		return nil
	}
	q := strings.ToLower(query)

	type ranked struct {
		meta Meta
		rank int
	}
	var matches []ranked
	for _, meta := range r.current.Load().byAddress {
		label := strings.ToLower(meta.Label)
		switch {
		case label == q:
			matches = append(matches, ranked{meta, 0})
		case strings.HasPrefix(label, q):
			matches = append(matches, ranked{meta, 1})
		case strings.Contains(label, q):
			matches = append(matches, ranked{meta, 2})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		if len(matches[i].meta.Label) != len(matches[j].meta.Label) {
			return len(matches[i].meta.Label) < len(matches[j].meta.Label)
		}
		return matches[i].meta.Label < matches[j].meta.Label
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Meta, len(matches))
	for i, m := range matches {
		out[i] = m.meta
	}
	return out
}

// ProcedureName resolves a contract procedure id to its display name.
func (r *Registry) ProcedureName(contractAddress string, inputType uint16) (string, bool) {
	name, ok := r.current.Load().procedures[procedureKey(contractAddress, inputType)]
	return name, ok
}

// EnsureFresh refreshes the registry when the current snapshot is older than
// an hour. Concurrent callers serialize on the refresh; readers keep using
// the old snapshot until the swap.
func (r *Registry) EnsureFresh() error {
	if time.Since(r.current.Load().loadedAt) < refreshInterval {
		return nil
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	// Re-check under the lock; another caller may have refreshed already.
	if time.Since(r.current.Load().loadedAt) < refreshInterval {
		return nil
	}
	return r.refresh()
}

func (r *Registry) refresh() error {
	resp, err := r.client.Get(r.bundleURL)
	if err != nil {
		return fmt.Errorf("fetch label bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch label bundle: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read label bundle: %w", err)
	}

	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("decode label bundle: %w", err)
	}

	r.current.Store(buildSnapshot(b, time.Now()))
	log.Printf("[Labels] Registry refreshed: %d addresses, %d procedures",
		len(b.Addresses), len(b.Procedures))
	return nil
}

// Run refreshes the registry hourly until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	if err := r.EnsureFresh(); err != nil {
		log.Printf("[Labels] Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.EnsureFresh(); err != nil {
				log.Printf("[Labels] Refresh failed: %v", err)
			}
		}
	}
}
