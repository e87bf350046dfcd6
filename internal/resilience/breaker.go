package resilience

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects an attempt.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrAttemptTooSoon is returned when an attempt arrives before the
	// minimum inter-attempt interval has elapsed.
	ErrAttemptTooSoon = errors.New("attempt too soon after previous attempt")
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int
	// ResetTimeout is how long after the last failure an open breaker
	// waits before allowing a single half-open trial attempt.
	ResetTimeout time.Duration
	// MinInterval is the minimum time between attempts in any state.
	MinInterval time.Duration
	// InitialDelay seeds the exponential retry delay advertised to callers.
	InitialDelay time.Duration
	// BackoffFactor multiplies the retry delay per consecutive failure.
	BackoffFactor float64
	// MaxDelay caps the advertised retry delay.
	MaxDelay time.Duration
	// OnStateChange is called whenever the state changes.
	OnStateChange func(name string, from State, to State)
}

// Snapshot is a point-in-time view of the breaker for status reporting.
type Snapshot struct {
	State        State         `json:"state"`
	Failures     int           `json:"failures"`
	LastFailure  time.Time     `json:"last_failure"`
	LastAttempt  time.Time     `json:"last_attempt"`
	RetryDelay   time.Duration `json:"retry_delay"`
	TotalTrips   uint64        `json:"total_trips"`
	TotalAllowed uint64        `json:"total_allowed"`
	TotalDenied  uint64        `json:"total_denied"`
}

// Breaker guards a connect/attempt style operation against repeated failure.
//
// closed: attempts allowed. open: attempts rejected. half-open: exactly one
// trial attempt allowed; its outcome decides the next state. Independent of
// state, attempts arriving within MinInterval of the previous attempt are
// rejected to prevent attempt storms.
type Breaker struct {
	name     string
	settings Settings

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	lastAttempt time.Time
	trialActive bool

	totalTrips   uint64
	totalAllowed uint64
	totalDenied  uint64
}

// New creates a new circuit breaker with the given settings.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 3
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}
	if settings.MinInterval < 0 {
		settings.MinInterval = 0
	}
	if settings.InitialDelay <= 0 {
		settings.InitialDelay = time.Second
	}
	if settings.BackoffFactor < 1 {
		settings.BackoffFactor = 2
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = time.Minute
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether an attempt may proceed now. It returns nil when the
// attempt is permitted, ErrAttemptTooSoon within the cooldown window, and
// ErrCircuitOpen while the breaker is open. A permitted attempt must be
// followed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	// Cooldown applies in every state, including closed.
	if !b.lastAttempt.IsZero() && now.Sub(b.lastAttempt) < b.settings.MinInterval {
		b.totalDenied++
		return ErrAttemptTooSoon
	}

	switch b.state {
	case StateOpen:
		if now.Sub(b.lastFailure) < b.settings.ResetTimeout {
			b.totalDenied++
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen, now)
		b.trialActive = true
	case StateHalfOpen:
		if b.trialActive {
			b.totalDenied++
			return ErrCircuitOpen
		}
		b.trialActive = true
	}

	b.lastAttempt = now
	b.totalAllowed++
	return nil
}

// CanAttempt is a non-consuming probe: it reports whether Allow would
// currently permit an attempt, without reserving the half-open trial slot.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.lastAttempt.IsZero() && now.Sub(b.lastAttempt) < b.settings.MinInterval {
		return false
	}
	switch b.state {
	case StateOpen:
		return now.Sub(b.lastFailure) >= b.settings.ResetTimeout
	case StateHalfOpen:
		return !b.trialActive
	}
	return true
}

// RecordSuccess records the outcome of a permitted attempt that succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialActive = false
	if b.state != StateClosed {
		b.setState(StateClosed, time.Now())
	}
}

// RecordFailure records the outcome of a permitted attempt that failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures >= b.settings.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.trialActive = false
		b.setState(StateOpen, now)
	}
}

// Execute runs fn under the breaker, recording its outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RetryDelay returns the backoff delay callers should wait before retrying:
// initialDelay * backoffFactor^(failures-1), capped at MaxDelay.
func (b *Breaker) RetryDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryDelayLocked()
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:        b.state,
		Failures:     b.failures,
		LastFailure:  b.lastFailure,
		LastAttempt:  b.lastAttempt,
		RetryDelay:   b.retryDelayLocked(),
		TotalTrips:   b.totalTrips,
		TotalAllowed: b.totalAllowed,
		TotalDenied:  b.totalDenied,
	}
}

func (b *Breaker) retryDelayLocked() time.Duration {
	if b.failures == 0 {
		return 0
	}
	delay := float64(b.settings.InitialDelay) * math.Pow(b.settings.BackoffFactor, float64(b.failures-1))
	if delay > float64(b.settings.MaxDelay) {
		return b.settings.MaxDelay
	}
	return time.Duration(delay)
}

// setState changes the state, tracking trips and notifying listeners.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	if state == StateOpen {
		b.totalTrips++
	}
	if state == StateClosed {
		b.failures = 0
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
