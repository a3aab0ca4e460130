package watchdog

import (
	"errors"
	"sync"
	"time"
)

// Watchdog constants.
const (
	// MinDuration is the shortest accepted timeout.
	MinDuration = 100 * time.Millisecond

	// MaxDuration is the longest accepted timeout.
	MaxDuration = 5 * time.Minute

	// DefaultDuration is the Security Manager transaction timeout.
	DefaultDuration = 30 * time.Second
)

// Timer errors.
var (
	ErrInvalidDuration = errors.New("invalid watchdog duration")
)

// State represents the watchdog state.
type State uint8

const (
	// StateIdle indicates the timer is not armed.
	StateIdle State = iota

	// StateRunning indicates the timer is armed.
	StateRunning

	// StateExpired indicates the timer fired and has not been rearmed.
	StateExpired
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Config holds watchdog configuration.
type Config struct {
	// Duration is the timeout. Zero selects DefaultDuration.
	Duration time.Duration

	// OnExpire is called from the timer goroutine when an arming expires.
	// gen identifies the arming; callers compare it against Generation to
	// drop expiries that raced with a restart.
	OnExpire func(gen uint64)
}

// Timer is a restartable one-shot timeout.
type Timer struct {
	mu sync.RWMutex

	state     State
	duration  time.Duration
	timer     *time.Timer
	startedAt time.Time

	// gen increments on every arming and every stop.
	gen uint64

	onExpire      func(gen uint64)
	onStateChange func(oldState, newState State)
}

// New creates a watchdog timer.
func New(cfg Config) (*Timer, error) {
	if cfg.Duration != 0 && (cfg.Duration < MinDuration || cfg.Duration > MaxDuration) {
		return nil, ErrInvalidDuration
	}
	t := &Timer{
		state:    StateIdle,
		duration: cfg.Duration,
		onExpire: cfg.OnExpire,
	}
	if t.duration == 0 {
		t.duration = DefaultDuration
	}
	return t, nil
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Duration returns the configured timeout.
func (t *Timer) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// Generation returns the identifier of the current arming.
func (t *Timer) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

// Start arms the timer, restarting it if already running, and returns the
// new generation.
func (t *Timer) Start() uint64 {
	t.mu.Lock()

	if t.timer != nil {
		t.timer.Stop()
	}
	oldState := t.state
	t.gen++
	gen := t.gen
	t.state = StateRunning
	t.startedAt = time.Now()
	t.timer = time.AfterFunc(t.duration, func() {
		t.expire(gen)
	})

	fn := t.onStateChange
	t.mu.Unlock()

	if fn != nil && oldState != StateRunning {
		fn(oldState, StateRunning)
	}
	return gen
}

// Reset restarts a running timer. It does nothing when the timer is idle or
// expired.
func (t *Timer) Reset() {
	if t.State() != StateRunning {
		return
	}
	t.Start()
}

// Stop disarms the timer. A pending expiry of the previous arming is
// invalidated.
func (t *Timer) Stop() {
	t.mu.Lock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	oldState := t.state
	t.gen++
	t.state = StateIdle
	t.startedAt = time.Time{}

	fn := t.onStateChange
	t.mu.Unlock()

	if fn != nil && oldState != StateIdle {
		fn(oldState, StateIdle)
	}
}

// Remaining returns the time left before expiry, or 0 when not running.
func (t *Timer) Remaining() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.state != StateRunning {
		return 0
	}
	remaining := t.duration - time.Since(t.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OnStateChange sets a callback for state changes.
func (t *Timer) OnStateChange(fn func(oldState, newState State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()

	if t.gen != gen || t.state != StateRunning {
		t.mu.Unlock()
		return
	}
	t.state = StateExpired
	t.timer = nil

	stateFn := t.onStateChange
	expireFn := t.onExpire
	t.mu.Unlock()

	if stateFn != nil {
		stateFn(StateRunning, StateExpired)
	}
	if expireFn != nil {
		expireFn(gen)
	}
}
