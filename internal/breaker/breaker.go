package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without touching the
// network because the breaker for its service is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker state
type State int

const (
	// Closed is normal operation - requests pass through.
	Closed State = iota
	// Open means too many recent failures - requests are rejected.
	Open
	// HalfOpen is testing recovery - limited trial requests allowed.
	HalfOpen
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures breaker behavior
type Config struct {
	// FailureThreshold is the number of failures inside FailureWindow
	// before opening.
	FailureThreshold int
	// FailureWindow is the rolling window failures are counted over.
	FailureWindow time.Duration
	// ResetTimeout is how long to stay open before testing recovery.
	ResetTimeout time.Duration
	// SuccessThreshold is consecutive half-open successes needed to close.
	SuccessThreshold int
	// HalfOpenMax bounds concurrent trial requests while half-open.
	HalfOpenMax int
}

// Stats contains breaker statistics
type Stats struct {
	State            string    `json:"state"`
	TotalCalls       int64     `json:"total_calls"`
	TotalFailures    int64     `json:"total_failures"`
	TotalRejections  int64     `json:"total_rejections"`
	CurrentFailures  int       `json:"current_failures"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// Breaker is a per-service failure-tracking state machine. Transitions are
// the only mutations; no external party writes its fields directly.
// Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	failureStamps    []time.Time
	trialSuccesses   int
	halfOpenActive   int
	lastTransitionAt time.Time
	now              func() time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a breaker in the closed state
func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg, now: time.Now}
	b.lastTransitionAt = b.now()
	return b
}

// State returns the current state, applying the automatic open ->
// half-open transition when the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Allow checks if a request should proceed. The returned release func (may
// be nil) must be called when a half-open trial request completes.
func (b *Breaker) Allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.maybeHalfOpenLocked()

	switch b.state {
	case Closed:
		return true, nil
	case Open:
		b.totalRejections++
		return false, nil
	case HalfOpen:
		if b.halfOpenActive >= b.cfg.HalfOpenMax {
			b.totalRejections++
			return false, nil
		}
		b.halfOpenActive++
		return true, func() {
			b.mu.Lock()
			b.halfOpenActive--
			b.mu.Unlock()
		}
	}
	return false, nil
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureStamps = b.failureStamps[:0]
	case HalfOpen:
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	}
}

// RecordFailure records a failed request. A single failure while half-open
// immediately reopens and resets the timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++

	switch b.state {
	case Closed:
		now := b.now()
		cutoff := now.Add(-b.cfg.FailureWindow)
		kept := b.failureStamps[:0]
		for _, ts := range b.failureStamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		b.failureStamps = append(kept, now)
		if len(b.failureStamps) >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		b.transitionLocked(Open)
	}
}

// Stats returns breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:            b.state.String(),
		TotalCalls:       b.totalCalls,
		TotalFailures:    b.totalFailures,
		TotalRejections:  b.totalRejections,
		CurrentFailures:  len(b.failureStamps),
		LastTransitionAt: b.lastTransitionAt,
	}
}

// maybeHalfOpenLocked applies the timed open -> half-open transition.
// Caller holds the lock.
func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == Open && b.now().Sub(b.lastTransitionAt) >= b.cfg.ResetTimeout {
		b.transitionLocked(HalfOpen)
	}
}

// transitionLocked changes state and clears counters. Caller holds the lock.
func (b *Breaker) transitionLocked(next State) {
	b.state = next
	b.lastTransitionAt = b.now()
	b.failureStamps = b.failureStamps[:0]
	b.trialSuccesses = 0
	b.halfOpenActive = 0
}
