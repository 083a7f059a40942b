package rpc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Read-mostly query TTLs. Cache failures are never fatal: an RPC error
// serves the stale value when one exists.
const (
	balanceTTL         = 10 * time.Second
	computorsTTL       = time.Hour
	revenueDonationTTL = 10 * time.Minute
)

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string, ttl time.Duration) (any, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	return entry.value, true, time.Since(entry.fetchedAt) <= ttl
}

func (c *ttlCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: time.Now()}
}

// cached runs fetch through the TTL cache: fresh hit short-circuits, a fetch
// error falls back to the stale value when present.
func cached[T any](c *ttlCache, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if value, ok, fresh := c.get(key, ttl); ok && fresh {
		return value.(T), nil
	}

	value, err := fetch()
	if err != nil {
		if stale, ok, _ := c.get(key, ttl); ok {
			log.Printf("[RPC] %s failed (%v), serving cached value", key, err)
			return stale.(T), nil
		}
		var zero T
		return zero, err
	}

	c.put(key, value)
	return value, nil
}

// GetBalance returns the upstream account view, cached for 10 seconds.
func (c *Client) GetBalance(ctx context.Context, addr string) (BalanceInfo, error) {
	return cached(c.cache, "balance:"+addr, balanceTTL, func() (BalanceInfo, error) {
		var info BalanceInfo
		err := c.call(ctx, methodGetBalance, []any{addr}, &info)
		return info, err
	})
}

// GetComputors returns the sanitised computor list for an epoch, cached for
// one hour. The list is immutable per epoch, so a stale hit is always valid.
func (c *Client) GetComputors(ctx context.Context, epoch uint32) ([]string, error) {
	key := fmt.Sprintf("computors:%d", epoch)
	return cached(c.cache, key, computorsTTL, func() ([]string, error) {
		return c.getComputors(ctx, epoch)
	})
}

// RevenueDonation runs the revenue-donation contract query, cached for 10
// minutes.
func (c *Client) RevenueDonation(ctx context.Context, contract uint32, fn uint16, inputHex string) (string, error) {
	key := fmt.Sprintf("revenue-donation:%d:%d:%s", contract, fn, inputHex)
	return cached(c.cache, key, revenueDonationTTL, func() (string, error) {
		return c.QuerySmartContract(ctx, contract, fn, inputHex)
	})
}
