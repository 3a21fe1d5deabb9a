package ratelimit

import (
	"sync"
	"time"
)

// Outcome is the admission decision for one request
type Outcome int

const (
	// Allowed admits the request immediately.
	Allowed Outcome = iota
	// Wait denies the request due to the burst cap only; retry after
	// Decision.RetryAfter is expected to succeed.
	Wait
	// Rejected denies the request due to window exhaustion; the caller
	// decides whether to queue.
	Rejected
)

// Decision carries the outcome and, for Wait, the suggested delay
type Decision struct {
	Outcome    Outcome
	RetryAfter time.Duration
}

// Config holds sliding-window parameters
type Config struct {
	// Window is the rolling window size and Limit its request budget.
	Window time.Duration
	Limit  int
	// Burst is a shorter sub-window with its own cap, smoothing spikes
	// that would otherwise fit inside the main window.
	Burst      time.Duration
	BurstLimit int
}

// Limiter performs sliding-window admission control per (service, key).
// State is purely in-memory for the process lifetime. Safe for concurrent
// use.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// TryAcquire checks whether a request for (service, key) may proceed now.
// An admitted request is recorded against both windows.
func (l *Limiter) TryAcquire(service, key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := service + "|" + key

	// Prune to the rolling window
	stamps := l.history[id]
	cutoff := now.Add(-l.cfg.Window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.cfg.Limit {
		l.history[id] = kept
		return Decision{Outcome: Rejected}
	}

	burstCutoff := now.Add(-l.cfg.Burst)
	burstCount := 0
	oldestInBurst := now
	for _, ts := range kept {
		if ts.After(burstCutoff) {
			burstCount++
			if ts.Before(oldestInBurst) {
				oldestInBurst = ts
			}
		}
	}
	if burstCount >= l.cfg.BurstLimit {
		l.history[id] = kept
		// The burst slot frees up once its oldest timestamp leaves the
		// sub-window.
		wait := oldestInBurst.Add(l.cfg.Burst).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return Decision{Outcome: Wait, RetryAfter: wait}
	}

	l.history[id] = append(kept, now)
	return Decision{Outcome: Allowed}
}

// Pending returns the number of in-window timestamps for (service, key)
func (l *Limiter) Pending(service, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Window)
	n := 0
	for _, ts := range l.history[service+"|"+key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
