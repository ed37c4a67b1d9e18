package resilience

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = "closed"
	// StateOpen fails all calls fast without invoking the operation.
	StateOpen BreakerState = "open"
	// StateHalfOpen allows a single trial call through.
	StateHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned when the breaker rejects a call without
// attempting the underlying operation.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a trial call.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used for external
// dependencies when the caller does not override them.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a circuit breaker guarding a single external dependency.
// It is safe for concurrent use.
type Breaker struct {
	name   string
	config BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	trialPending bool

	now func() time.Time // test hook
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state, accounting for reset timeout expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Do executes fn if the breaker admits the call. While open it returns
// ErrBreakerOpen immediately; in half-open only one trial call is admitted
// and its outcome decides the next state.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return errors.Wrapf(ErrBreakerOpen, "%s", b.name)
	case StateHalfOpen:
		if b.trialPending {
			return errors.Wrapf(ErrBreakerOpen, "%s (trial in flight)", b.name)
		}
		b.state = StateHalfOpen
		b.trialPending = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.trialPending
	b.trialPending = false

	if err == nil {
		b.failures = 0
		b.state = StateClosed
		return
	}

	b.lastFailure = b.now()
	if wasTrial {
		// The half-open trial failed, back to open.
		b.state = StateOpen
		return
	}

	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.state = StateOpen
	}
}

// currentState resolves open -> half-open once the reset timeout has elapsed.
// Caller must hold b.mu.
func (b *Breaker) currentState() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.ResetTimeout {
		b.state = StateHalfOpen
		b.trialPending = false
	}
	return b.state
}
