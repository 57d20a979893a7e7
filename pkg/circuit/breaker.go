// Package circuit implements a circuit breaker for calls to external services.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed
	StateOpen
	// StateHalfOpen lets calls through to test whether the service recovered
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the guarded service in logs, errors and metrics.
	Name string
	// MaxFailures is the number of outages within FailureWindow that opens
	// the circuit.
	MaxFailures int
	// SuccessRequired is the number of half-open successes that close it.
	SuccessRequired int
	// Cooldown is how long the circuit stays open before letting a trial call through.
	Cooldown time.Duration
	// FailureWindow is how long closed-state failures are remembered.
	FailureWindow time.Duration
}

// Breaker stops calling a service that keeps failing. Only outages as
// judged by errors.IsOutage count; a cancelled call or a request the
// service refused on its merits leaves the breaker alone.
type Breaker struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	trips       uint64
	rejected    uint64
	openedAt    time.Time
	windowStart time.Time
}

// New creates a closed breaker.
func New(cfg Config, logger *log.Logger) *Breaker {
	return &Breaker{
		cfg:         cfg,
		logger:      logger.WithFields("circuit", cfg.Name),
		now:         time.Now,
		windowStart: time.Now(),
	}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call is Execute for functions that return a result.
func Call[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if retryIn, ok := b.allow(); !ok {
		return zero, errors.New(errors.ErrorTypeInternal, b.cfg.Name, "circuit breaker is open").
			WithContext("circuit", b.cfg.Name).
			WithContext("retry_in_ms", retryIn.Milliseconds()).
			WithValues(log.ContextValues(ctx))
	}

	res, err := fn()
	b.record(err)
	return res, err
}

func (b *Breaker) allow() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.failures = 0
			b.windowStart = now
		}
		return 0, true
	case StateOpen:
		if elapsed := now.Sub(b.openedAt); elapsed < b.cfg.Cooldown {
			b.rejected++
			return b.cfg.Cooldown - elapsed, false
		}
		b.transition(StateHalfOpen, now)
		return 0, true
	default:
		return 0, true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if errors.IsOutage(err) {
		b.failures++
		switch {
		case b.state == StateHalfOpen:
			b.transition(StateOpen, now)
		case b.state == StateClosed && b.failures >= b.cfg.MaxFailures:
			b.transition(StateOpen, now)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessRequired {
			b.transition(StateClosed, now)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	b.successes = 0

	switch to {
	case StateOpen:
		b.trips++
		b.openedAt = now
		b.logger.Warn("circuit opened",
			"from", from.String(),
			"failures", b.failures,
			"cooldown_ms", b.cfg.Cooldown.Milliseconds(),
		)
	case StateHalfOpen:
		b.logger.Info("circuit half-open", "from", from.String())
	case StateClosed:
		b.failures = 0
		b.windowStart = now
		b.logger.Info("circuit closed", "from", from.String())
	}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name     string
	State    State
	Failures int
	// Trips counts transitions to open since the breaker was created.
	Trips uint64
	// Rejected counts calls refused while open.
	Rejected uint64
}

// Stats returns the breaker's current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:     b.cfg.Name,
		State:    b.state,
		Failures: b.failures,
		Trips:    b.trips,
		Rejected: b.rejected,
	}
}
