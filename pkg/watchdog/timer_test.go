package watchdog

import (
	"sync"
	"testing"
	"time"
)

func TestTimerDefaults(t *testing.T) {
	timer, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if timer.State() != StateIdle {
		t.Errorf("State() = %v, want StateIdle", timer.State())
	}
	if timer.Duration() != DefaultDuration {
		t.Errorf("Duration() = %v, want %v", timer.Duration(), DefaultDuration)
	}
	if timer.Remaining() != 0 {
		t.Errorf("Remaining() = %v, want 0", timer.Remaining())
	}
}

func TestTimerConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		dur     time.Duration
		wantErr bool
	}{
		{"Default", 0, false},
		{"TooShort", time.Millisecond, true},
		{"MinValid", MinDuration, false},
		{"MaxValid", MaxDuration, false},
		{"TooLong", MaxDuration + time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Duration: tt.dur})
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%v) error = %v, wantErr %v", tt.dur, err, tt.wantErr)
			}
		})
	}
}

func TestTimerStartStop(t *testing.T) {
	timer, _ := New(Config{Duration: time.Minute})

	gen := timer.Start()
	if timer.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning", timer.State())
	}
	if timer.Generation() != gen {
		t.Errorf("Generation() = %d, want %d", timer.Generation(), gen)
	}
	remaining := timer.Remaining()
	if remaining < time.Minute-time.Second || remaining > time.Minute {
		t.Errorf("Remaining() = %v, expected ~1m", remaining)
	}

	timer.Stop()
	if timer.State() != StateIdle {
		t.Errorf("State() = %v, want StateIdle", timer.State())
	}
	if timer.Generation() == gen {
		t.Error("Stop did not advance the generation")
	}
}

func TestTimerExpires(t *testing.T) {
	fired := make(chan uint64, 1)
	timer, _ := New(Config{
		Duration: MinDuration,
		OnExpire: func(gen uint64) { fired <- gen },
	})

	gen := timer.Start()
	select {
	case got := <-fired:
		if got != gen {
			t.Errorf("expired generation = %d, want %d", got, gen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}
	if timer.State() != StateExpired {
		t.Errorf("State() = %v, want StateExpired", timer.State())
	}
}

func TestTimerStopPreventsExpiry(t *testing.T) {
	fired := make(chan uint64, 1)
	timer, _ := New(Config{
		Duration: MinDuration,
		OnExpire: func(gen uint64) { fired <- gen },
	})

	timer.Start()
	timer.Stop()

	select {
	case <-fired:
		t.Error("stopped timer expired")
	case <-time.After(3 * MinDuration):
	}
}

func TestTimerResetExtends(t *testing.T) {
	var mu sync.Mutex
	var fires []uint64
	timer, _ := New(Config{
		Duration: 300 * time.Millisecond,
		OnExpire: func(gen uint64) {
			mu.Lock()
			fires = append(fires, gen)
			mu.Unlock()
		},
	})

	first := timer.Start()
	time.Sleep(200 * time.Millisecond)
	timer.Reset()
	second := timer.Generation()
	if second == first {
		t.Fatal("Reset did not rearm")
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	if len(fires) != 0 {
		t.Errorf("fired early: %v", fires)
	}
	mu.Unlock()

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(fires) != 1 || fires[0] != second {
		t.Errorf("fires = %v, want [%d]", fires, second)
	}
}

func TestTimerResetIdleIsNoop(t *testing.T) {
	timer, _ := New(Config{})
	timer.Reset()
	if timer.State() != StateIdle {
		t.Errorf("State() = %v, want StateIdle", timer.State())
	}
}

func TestTimerStateCallback(t *testing.T) {
	timer, _ := New(Config{Duration: time.Minute})

	var transitions []State
	timer.OnStateChange(func(_, newState State) {
		transitions = append(transitions, newState)
	})

	timer.Start()
	timer.Start()
	timer.Stop()

	want := []State{StateRunning, StateIdle}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	if StateExpired.String() != "EXPIRED" || State(9).String() != "UNKNOWN" {
		t.Error("State.String")
	}
}
