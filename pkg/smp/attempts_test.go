package smp

import (
	"testing"
	"time"
)

func TestAttemptTrackerTiers(t *testing.T) {
	tiers := [4]time.Duration{0, 2 * time.Second, 10 * time.Second, time.Minute}
	tr := NewAttemptTracker(tiers)

	want := []time.Duration{
		0, 0, 0, // failures 0-2: next attempt is 1-3
		2 * time.Second, 2 * time.Second, 2 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second,
		time.Minute, time.Minute,
	}
	for failures, w := range want {
		if got := tr.Delay(addrB); got != w {
			t.Errorf("after %d failures: Delay = %v, want %v", failures, got, w)
		}
		tr.RecordFailure(addrB)
	}
	if got := tr.AttemptCount(addrB); got != len(want) {
		t.Errorf("AttemptCount = %d, want %d", got, len(want))
	}
	if got := tr.AttemptCount(addrA); got != 0 {
		t.Errorf("unrelated peer AttemptCount = %d", got)
	}
}

func TestAttemptTrackerBlocked(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewAttemptTracker([4]time.Duration{0, 2 * time.Second, 10 * time.Second, time.Minute})
	tr.now = func() time.Time { return now }

	if blocked, _ := tr.Blocked(addrB); blocked {
		t.Fatal("blocked without failures")
	}
	for i := 0; i < 3; i++ {
		tr.RecordFailure(addrB)
	}
	blocked, remaining := tr.Blocked(addrB)
	if !blocked || remaining != 2*time.Second {
		t.Fatalf("Blocked = %v, %v; want true, 2s", blocked, remaining)
	}

	now = now.Add(1500 * time.Millisecond)
	if blocked, remaining = tr.Blocked(addrB); !blocked || remaining != 500*time.Millisecond {
		t.Errorf("Blocked = %v, %v; want true, 500ms", blocked, remaining)
	}

	now = now.Add(time.Second)
	if blocked, _ = tr.Blocked(addrB); blocked {
		t.Error("still blocked after the delay")
	}

	tr.RecordFailure(addrB)
	tr.Reset(addrB)
	if blocked, _ = tr.Blocked(addrB); blocked {
		t.Error("blocked after Reset")
	}
	if got := tr.AttemptCount(addrB); got != 0 {
		t.Errorf("AttemptCount after Reset = %d", got)
	}
}

func TestReasonCountsAsAttempt(t *testing.T) {
	counted := map[Reason]bool{
		ReasonPasskeyEntryFailed:      true,
		ReasonAuthenticationFailure:   true,
		ReasonConfirmValueFailed:      true,
		ReasonDHKeyCheckFailed:        true,
		ReasonNumericComparisonFailed: true,
		ReasonTimeout:                 false,
		ReasonCancelled:               false,
		ReasonPairingNotSupported:     false,
		ReasonEncryptionKeySize:       false,
	}
	for r, want := range counted {
		if got := r.countsAsAttempt(); got != want {
			t.Errorf("%s.countsAsAttempt() = %v, want %v", r, got, want)
		}
	}
}
