package smp

import (
	"sync"
	"time"
)

// AttemptTracker counts failed pairing attempts per peer and enforces
// the repeated attempts backoff.
//
// Backoff behavior:
// - Attempts 1-3: tier 1 delay (usually none; user mistakes)
// - Attempts 4-6: tier 2 delay
// - Attempts 7-10: tier 3 delay
// - Attempts 11+: tier 4 delay
//
// The delay runs from the last failure. A successful pairing resets the
// peer's counter.
type AttemptTracker struct {
	mu    sync.Mutex
	tiers [4]time.Duration
	peers map[Address]*attemptRecord
	now   func() time.Time
}

type attemptRecord struct {
	failed int
	last   time.Time
}

// NewAttemptTracker creates a tracker with the given backoff tiers.
func NewAttemptTracker(tiers [4]time.Duration) *AttemptTracker {
	return &AttemptTracker{
		tiers: tiers,
		peers: make(map[Address]*attemptRecord),
		now:   time.Now,
	}
}

// Delay returns the backoff that applies to the next attempt from addr.
func (t *AttemptTracker) Delay(addr Address) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delayLocked(addr)
}

func (t *AttemptTracker) delayLocked(addr Address) time.Duration {
	attempt := 1
	if rec := t.peers[addr]; rec != nil {
		attempt = rec.failed + 1
	}
	switch {
	case attempt <= 3:
		return t.tiers[0]
	case attempt <= 6:
		return t.tiers[1]
	case attempt <= 10:
		return t.tiers[2]
	default:
		return t.tiers[3]
	}
}

// Blocked reports whether a new attempt from addr must be refused, and for
// how much longer.
func (t *AttemptTracker) Blocked(addr Address) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.peers[addr]
	if rec == nil {
		return false, 0
	}
	remaining := rec.last.Add(t.delayLocked(addr)).Sub(t.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// RecordFailure counts a failed attempt from addr.
func (t *AttemptTracker) RecordFailure(addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.peers[addr]
	if rec == nil {
		rec = &attemptRecord{}
		t.peers[addr] = rec
	}
	rec.failed++
	rec.last = t.now()
}

// Reset clears the counter of addr.
func (t *AttemptTracker) Reset(addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, addr)
}

// AttemptCount returns the number of failed attempts from addr.
func (t *AttemptTracker) AttemptCount(addr Address) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec := t.peers[addr]; rec != nil {
		return rec.failed
	}
	return 0
}
