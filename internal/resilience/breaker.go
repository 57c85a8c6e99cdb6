// Package resilience provides a circuit breaker for calls to remote
// dependencies such as the database.
//
// A [Breaker] has three states (closed → open → half-open). While open,
// calls fail fast with [ErrOpen] so callers can switch to a local fallback
// without waiting on a dependency that is known to be down.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds the tuning knobs of a [Breaker].
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before it admits a probe.
	// Default: 30s.
	CoolDown time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed Breaker. Zero config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		now:         cfg.Now,
	}
}

// Do runs fn unless the breaker is open. Errors caused by the caller's own
// context being cancelled are returned but not counted as failures.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		if b.state != StateClosed {
			slog.Info("resilience: circuit closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the dependency.
	case probe:
		b.trip()
	default:
		b.failures++
		if b.failures >= b.maxFailures {
			b.trip()
		}
	}
	return err
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		slog.Info("resilience: circuit half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	slog.Warn("resilience: circuit opened", "name", b.name, "cool_down", b.coolDown)
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}
