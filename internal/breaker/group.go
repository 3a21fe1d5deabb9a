package breaker

import "sync"

// Group manages one independent breaker per upstream service, so one
// failing dependency never throttles calls to a healthy one.
type Group struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a breaker group sharing one config
func NewGroup(cfg Config) *Group {
	return &Group{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a service, creating it on first use
func (g *Group) For(service string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[service]
	if !ok {
		b = New(g.cfg)
		g.breakers[service] = b
	}
	return b
}

// Stats returns per-service statistics
func (g *Group) Stats() map[string]Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]Stats, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.Stats()
	}
	return out
}
