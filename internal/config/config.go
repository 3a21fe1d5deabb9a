package config

import (
	"fmt"
	"os"
	"strings"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline  PipelineConfig           `toml:"pipeline"`
	Cache     CacheConfig              `toml:"cache"`
	RateLimit RateLimitConfig          `toml:"rate_limit"`
	Breaker   BreakerConfig            `toml:"breaker"`
	Client    ClientConfig             `toml:"client"`
	Events    EventsConfig             `toml:"events"`
	Services  map[string]ServiceConfig `toml:"services"`
}

// PipelineConfig holds engine-level settings
type PipelineConfig struct {
	OutputDir            string `toml:"output_dir"`             // Session directories live here (default: "output")
	StoreFile            string `toml:"store_file"`             // SQLite database path (default: "<output_dir>/reqscope.db")
	ResearchConcurrency  int    `toml:"research_concurrency"`   // Max concurrent upstream branches in the research stage (default: 4)
	ResearchTimeoutSecs  int    `toml:"research_timeout_secs"`  // Stage-wide fan-out timeout (default: 60)
	MaxFindingsPerSource int    `toml:"max_findings_per_source"` // Cap per research service (default: 10)
}

// CacheConfig holds cache store settings
type CacheConfig struct {
	MaxSizeBytes  int64 `toml:"max_size_bytes"`  // Total cache budget (default: 16 MiB)
	DefaultTTLSec int   `toml:"default_ttl_sec"` // Fallback TTL when a service has none (default: 900)
	SweepSec      int   `toml:"sweep_sec"`       // Expired-entry sweep interval (default: 60)
}

// RateLimitConfig holds sliding-window admission settings
type RateLimitConfig struct {
	WindowSec   int `toml:"window_sec"`    // Rolling window size (default: 3600)
	WindowLimit int `toml:"window_limit"`  // Max requests per window (default: 100)
	BurstSec    int `toml:"burst_sec"`     // Burst sub-window size (default: 1)
	BurstLimit  int `toml:"burst_limit"`   // Max requests per burst sub-window (default: 2)
	MaxWaitMs   int `toml:"max_wait_ms"`   // Bound on waiting out a burst denial (default: 2000)
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"` // Failures within the window before opening (default: 5)
	FailureWindowSec int `toml:"failure_window_sec"` // Rolling failure window (default: 60)
	ResetTimeoutSec  int `toml:"reset_timeout_sec"` // Open -> half-open delay (default: 60)
	SuccessThreshold int `toml:"success_threshold"` // Half-open successes needed to close (default: 2)
	HalfOpenMax      int `toml:"half_open_max"`     // Concurrent trial calls while half-open (default: 1)
}

// ClientConfig holds resilient client settings
type ClientConfig struct {
	MaxRetries         int `toml:"max_retries"`          // Retry attempts for transient failures (default: 3)
	BaseRetryDelayMs   int `toml:"base_retry_delay_ms"`  // Exponential backoff base (default: 500)
	MaxBackoffSec      int `toml:"max_backoff_sec"`      // Backoff ceiling (default: 60)
	CallTimeoutSec     int `toml:"call_timeout_sec"`     // Per-call timeout (default: 30)
	PacerRatePerMinute int `toml:"pacer_rate_per_minute"` // Per-host smoothing rate (default: 120)
}

// EventsConfig holds progress-event buffering settings
type EventsConfig struct {
	BufferSize  int `toml:"buffer_size"`   // Max buffered events before forced flush (default: 64)
	FlushTickMs int `toml:"flush_tick_ms"` // Periodic flush interval (default: 250)
}

// ServiceConfig represents one upstream research service endpoint
type ServiceConfig struct {
	BaseURL            string `toml:"base_url"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"` // Optional per-service pacer override
	CacheTTLSec        int    `toml:"cache_ttl_sec"`         // Per-service TTL for the default TTL strategy
	Enabled            bool   `toml:"enabled"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

// GetAPIKey returns the API key for a service, or empty if none configured
func (s *Secrets) GetAPIKey(service string) string {
	return s.APIKeys[service]
}

// LoadSecrets reads per-service API keys from the environment. Keys follow
// the pattern REQSCOPE_API_KEY_<SERVICE> (service name upper-cased, dashes
// replaced with underscores).
func LoadSecrets(services map[string]ServiceConfig) (*Secrets, error) {
	secrets := &Secrets{APIKeys: make(map[string]string)}
	for name := range services {
		envName := "REQSCOPE_API_KEY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv(envName); v != "" {
			secrets.APIKeys[name] = v
		}
	}
	return secrets, nil
}

// Validate checks configuration invariants after defaults are applied
func (c *Config) Validate() error {
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache.max_size_bytes must be positive, got %d", c.Cache.MaxSizeBytes)
	}
	if c.RateLimit.WindowLimit <= 0 {
		return fmt.Errorf("rate_limit.window_limit must be positive, got %d", c.RateLimit.WindowLimit)
	}
	if c.RateLimit.BurstLimit <= 0 {
		return fmt.Errorf("rate_limit.burst_limit must be positive, got %d", c.RateLimit.BurstLimit)
	}
	if c.RateLimit.BurstSec > c.RateLimit.WindowSec {
		return fmt.Errorf("rate_limit.burst_sec (%d) must not exceed window_sec (%d)",
			c.RateLimit.BurstSec, c.RateLimit.WindowSec)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive, got %d", c.Breaker.SuccessThreshold)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must not be negative, got %d", c.Client.MaxRetries)
	}
	if c.Pipeline.ResearchConcurrency <= 0 {
		return fmt.Errorf("pipeline.research_concurrency must be positive, got %d", c.Pipeline.ResearchConcurrency)
	}
	for name, svc := range c.Services {
		if svc.Enabled && svc.BaseURL == "" {
			return fmt.Errorf("services.%s: base_url is required when enabled", name)
		}
	}
	return nil
}
