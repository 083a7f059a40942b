package rpc

import (
	"errors"
	"testing"
	"time"
)

func TestTTLCacheFreshness(t *testing.T) {
	c := newTTLCache()

	if _, ok, _ := c.get("missing", time.Minute); ok {
		t.Fatal("empty cache reported a hit")
	}

	c.put("k", 42)
	value, ok, fresh := c.get("k", time.Minute)
	if !ok || !fresh || value.(int) != 42 {
		t.Fatalf("get = (%v, %v, %v)", value, ok, fresh)
	}

	// Age the entry past its TTL: still present, no longer fresh.
	c.mu.Lock()
	entry := c.entries["k"]
	entry.fetchedAt = time.Now().Add(-2 * time.Minute)
	c.entries["k"] = entry
	c.mu.Unlock()

	value, ok, fresh = c.get("k", time.Minute)
	if !ok || fresh || value.(int) != 42 {
		t.Fatalf("aged get = (%v, %v, %v)", value, ok, fresh)
	}
}

func TestCachedShortCircuitsFreshHit(t *testing.T) {
	c := newTTLCache()
	calls := 0
	fetch := func() (string, error) {
		calls++
		return "live", nil
	}

	for i := 0; i < 3; i++ {
		value, err := cached(c, "k", time.Minute, fetch)
		if err != nil || value != "live" {
			t.Fatalf("cached = (%s, %v)", value, err)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
}

func TestCachedServesStaleOnFetchError(t *testing.T) {
	c := newTTLCache()
	c.put("k", "old")
	c.mu.Lock()
	entry := c.entries["k"]
	entry.fetchedAt = time.Now().Add(-time.Hour)
	c.entries["k"] = entry
	c.mu.Unlock()

	value, err := cached(c, "k", time.Minute, func() (string, error) {
		return "", errors.New("upstream down")
	})
	if err != nil {
		t.Fatalf("stale fallback returned error: %v", err)
	}
	if value != "old" {
		t.Fatalf("value = %s, want stale entry", value)
	}
}

func TestCachedErrorWithoutFallback(t *testing.T) {
	c := newTTLCache()

	fetchErr := errors.New("upstream down")
	value, err := cached(c, "k", time.Minute, func() (int, error) {
		return 0, fetchErr
	})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("err = %v, want fetch error", err)
	}
	if value != 0 {
		t.Fatalf("value = %d, want zero value", value)
	}
	if _, ok, _ := c.get("k", time.Minute); ok {
		t.Fatal("failed fetch cached a value")
	}
}

func TestCachedRefreshReplacesStaleValue(t *testing.T) {
	c := newTTLCache()
	c.put("k", "old")
	c.mu.Lock()
	entry := c.entries["k"]
	entry.fetchedAt = time.Now().Add(-time.Hour)
	c.entries["k"] = entry
	c.mu.Unlock()

	value, err := cached(c, "k", time.Minute, func() (string, error) {
		return "new", nil
	})
	if err != nil || value != "new" {
		t.Fatalf("cached = (%s, %v)", value, err)
	}
	if fresh, _, _ := c.get("k", time.Minute); fresh.(string) != "new" {
		t.Fatal("stale value not replaced after successful fetch")
	}
}
