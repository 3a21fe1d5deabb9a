package client

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer smooths the outgoing request rate per service on top of the
// sliding-window admission control. Admission decides whether a call may
// happen inside the window at all; the pacer just spaces admitted calls
// out on the wire.
type Pacer struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // Track original rates for consistency check
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewPacer creates a pacer pool
func NewPacer(logger *slog.Logger) *Pacer {
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// getOrCreate returns an existing limiter or creates a new one. If a
// limiter exists with a different rate, the existing one wins.
func (p *Pacer) getOrCreate(service string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[service]; exists {
		if existingRate, ok := p.rates[service]; ok && existingRate != requestsPerMinute {
			p.logger.Warn("Pacer already exists with different rate, using existing rate",
				"service", service,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(2, requestsPerMinute/10)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[service] = limiter
	p.rates[service] = requestsPerMinute

	p.logger.Debug("Created pacer",
		"service", service,
		"rpm", requestsPerMinute,
		"rps", rps,
		"burst", burst)

	return limiter
}

// Wait blocks until the pacer allows the next request for the service
func (p *Pacer) Wait(ctx context.Context, service string, requestsPerMinute int) error {
	return p.getOrCreate(service, requestsPerMinute).Wait(ctx)
}
