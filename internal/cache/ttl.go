package cache

import "time"

// TTLStrategy computes how long a cached value remains valid based on
// which service produced it and how large the response is. Implementations
// must be safe for concurrent use.
type TTLStrategy interface {
	TTLFor(service string, responseBytes int) time.Duration
}

// FixedTTL applies a per-service TTL with a fallback default
type FixedTTL struct {
	PerService map[string]time.Duration
	Default    time.Duration
}

// TTLFor returns the configured TTL for the service
func (f *FixedTTL) TTLFor(service string, responseBytes int) time.Duration {
	if ttl, ok := f.PerService[service]; ok {
		return ttl
	}
	return f.Default
}
