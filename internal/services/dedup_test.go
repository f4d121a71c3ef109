package services

import (
	"fmt"
	"testing"
	"time"
)

func newTestGuard(now *time.Time) *DedupGuard {
	g := NewDedupGuard()
	g.now = func() time.Time { return *now }
	return g
}

func TestDedupGuard_AcquireThenConflict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)

	if _, ok := g.Acquire(200, 300, "oak"); !ok {
		t.Fatal("first acquire rejected")
	}

	now = now.Add(1 * time.Second)
	retryAfter, ok := g.Acquire(200, 300, "oak")
	if ok {
		t.Fatal("duplicate inside window accepted")
	}
	if retryAfter != 2*time.Second {
		t.Fatalf("retryAfter = %v, want 2s", retryAfter)
	}
}

func TestDedupGuard_DistinctKeysAllowed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)

	if _, ok := g.Acquire(200, 300, "oak"); !ok {
		t.Fatal("first acquire rejected")
	}
	if _, ok := g.Acquire(300, 200, "oak"); !ok {
		t.Fatal("swapped dimensions treated as duplicate")
	}
	if _, ok := g.Acquire(200, 300, "walnut"); !ok {
		t.Fatal("different material treated as duplicate")
	}
}

func TestDedupGuard_AllowedAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)

	if _, ok := g.Acquire(200, 300, "oak"); !ok {
		t.Fatal("first acquire rejected")
	}

	now = now.Add(g.Window)
	if _, ok := g.Acquire(200, 300, "oak"); !ok {
		t.Fatal("acquire after window rejected")
	}
}

func TestDedupGuard_LazyPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)

	g.Acquire(200, 300, "oak")
	g.Acquire(400, 500, "walnut")
	if got := g.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	now = now.Add(g.TTL)
	g.Acquire(100, 100, "pine")
	if got := g.Len(); got != 1 {
		t.Fatalf("Len after prune = %d, want 1", got)
	}
}

func TestDedupGuard_CapEvictsOldest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)
	g.MaxEntries = 10
	g.TTL = time.Hour // keep pruning out of the way
	g.Window = time.Millisecond

	for i := 0; i < 10; i++ {
		if _, ok := g.Acquire(i+1, i+1, "oak"); !ok {
			t.Fatalf("acquire %d rejected", i)
		}
		now = now.Add(10 * time.Millisecond)
	}

	if _, ok := g.Acquire(999, 999, "oak"); !ok {
		t.Fatal("acquire past cap rejected")
	}
	// 11 entries minus the oldest 20% (11/5 = 2).
	if got := g.Len(); got != 9 {
		t.Fatalf("Len after eviction = %d, want 9", got)
	}

	// The two oldest keys must be gone, so re-acquiring them succeeds even
	// though the window would otherwise still cover them.
	g.Window = time.Hour
	for i := 0; i < 2; i++ {
		if _, ok := g.Acquire(i+1, i+1, "oak"); !ok {
			t.Fatalf("evicted key %s still tracked", fmt.Sprintf("%dx%d|oak", i+1, i+1))
		}
		// Undo the insert so the second check is not skewed by the cap.
		g.mu.Lock()
		delete(g.inflight, dedupKey(i+1, i+1, "oak"))
		g.mu.Unlock()
	}
}
