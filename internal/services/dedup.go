// Package services – DedupGuard
//
// This file implements an in-process duplicate-request guard for the
// provisioner. A second request for the same (width, height, material)
// configuration arriving within a short window is rejected with a retry-after
// hint instead of being queued behind the first.
//
// The guard is an explicitly owned component constructed once at process
// start, not ambient global state. It is a best-effort, process-local
// mechanism: it bounds duplicate catalog mutations from double-clicks and
// client retries, but it is not a correctness guarantee across multiple
// process instances.
package services

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Dedup guard defaults, matching the provisioner's observed behavior.
const (
	defaultDedupWindow  = 3 * time.Second
	defaultDedupTTL     = 5 * time.Second
	defaultDedupMaxSize = 1000
)

// DedupGuard tracks the most recent in-flight request per configuration key.
// Entries are pruned lazily once older than TTL, and when the map exceeds
// MaxEntries the oldest 20% are evicted. Safe for concurrent use.
type DedupGuard struct {
	// Window is how long a repeat request for the same key is rejected.
	Window time.Duration
	// TTL is the age past which entries are dropped during lazy pruning.
	TTL time.Duration
	// MaxEntries caps the map size; exceeding it evicts the oldest 20%.
	MaxEntries int

	mu       sync.Mutex
	inflight map[string]time.Time

	now func() time.Time // test seam
}

// NewDedupGuard constructs a guard with the default window, TTL, and cap.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{
		Window:     defaultDedupWindow,
		TTL:        defaultDedupTTL,
		MaxEntries: defaultDedupMaxSize,
		inflight:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// dedupKey builds the map key for one configuration.
func dedupKey(width, height int, material string) string {
	return fmt.Sprintf("%dx%d|%s", width, height, material)
}

// Acquire registers a request for the given configuration. It returns
// ok=false with the remaining wait when an in-flight request for the same
// configuration was registered within the window; otherwise it records the
// request and returns ok=true.
func (g *DedupGuard) Acquire(width, height int, material string) (retryAfter time.Duration, ok bool) {
	key := dedupKey(width, height, material)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Lazy prune: drop entries past their cache TTL.
	for k, ts := range g.inflight {
		if now.Sub(ts) >= g.TTL {
			delete(g.inflight, k)
		}
	}

	if ts, exists := g.inflight[key]; exists {
		if elapsed := now.Sub(ts); elapsed < g.Window {
			return g.Window - elapsed, false
		}
	}

	g.inflight[key] = now

	// Bound the map: evict the oldest 20% once past the cap.
	if g.MaxEntries > 0 && len(g.inflight) > g.MaxEntries {
		g.evictOldest(len(g.inflight) / 5)
	}

	return 0, true
}

// Len returns the current number of tracked entries.
func (g *DedupGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// evictOldest removes the n oldest entries. Caller must hold g.mu.
func (g *DedupGuard) evictOldest(n int) {
	if n <= 0 {
		return
	}
	type entry struct {
		key string
		ts  time.Time
	}
	all := make([]entry, 0, len(g.inflight))
	for k, ts := range g.inflight {
		all = append(all, entry{k, ts})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(g.inflight, e.key)
	}
}
