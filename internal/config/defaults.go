package config

import "path/filepath"

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "output"
	}
	if cfg.Pipeline.StoreFile == "" {
		cfg.Pipeline.StoreFile = filepath.Join(cfg.Pipeline.OutputDir, "reqscope.db")
	}
	if cfg.Pipeline.ResearchConcurrency == 0 {
		cfg.Pipeline.ResearchConcurrency = 4
	}
	if cfg.Pipeline.ResearchTimeoutSecs == 0 {
		cfg.Pipeline.ResearchTimeoutSecs = 60
	}
	if cfg.Pipeline.MaxFindingsPerSource == 0 {
		cfg.Pipeline.MaxFindingsPerSource = 10
	}

	if cfg.Cache.MaxSizeBytes == 0 {
		cfg.Cache.MaxSizeBytes = 16 << 20
	}
	if cfg.Cache.DefaultTTLSec == 0 {
		cfg.Cache.DefaultTTLSec = 900
	}
	if cfg.Cache.SweepSec == 0 {
		cfg.Cache.SweepSec = 60
	}

	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 3600
	}
	if cfg.RateLimit.WindowLimit == 0 {
		cfg.RateLimit.WindowLimit = 100
	}
	if cfg.RateLimit.BurstSec == 0 {
		cfg.RateLimit.BurstSec = 1
	}
	if cfg.RateLimit.BurstLimit == 0 {
		cfg.RateLimit.BurstLimit = 2
	}
	if cfg.RateLimit.MaxWaitMs == 0 {
		cfg.RateLimit.MaxWaitMs = 2000
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.FailureWindowSec == 0 {
		cfg.Breaker.FailureWindowSec = 60
	}
	if cfg.Breaker.ResetTimeoutSec == 0 {
		cfg.Breaker.ResetTimeoutSec = 60
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.HalfOpenMax == 0 {
		cfg.Breaker.HalfOpenMax = 1
	}

	if cfg.Client.MaxRetries == 0 {
		cfg.Client.MaxRetries = 3
	}
	if cfg.Client.BaseRetryDelayMs == 0 {
		cfg.Client.BaseRetryDelayMs = 500
	}
	if cfg.Client.MaxBackoffSec == 0 {
		cfg.Client.MaxBackoffSec = 60
	}
	if cfg.Client.CallTimeoutSec == 0 {
		cfg.Client.CallTimeoutSec = 30
	}
	if cfg.Client.PacerRatePerMinute == 0 {
		cfg.Client.PacerRatePerMinute = 120
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 64
	}
	if cfg.Events.FlushTickMs == 0 {
		cfg.Events.FlushTickMs = 250
	}

	for name, svc := range cfg.Services {
		if svc.CacheTTLSec == 0 {
			svc.CacheTTLSec = cfg.Cache.DefaultTTLSec
		}
		if svc.RateLimitPerMinute == 0 {
			svc.RateLimitPerMinute = cfg.Client.PacerRatePerMinute
		}
		cfg.Services[name] = svc
	}
}

// Default returns a fully-defaulted configuration with no services, usable
// directly by tests and by commands that run without a config file.
func Default() *Config {
	cfg := &Config{Services: map[string]ServiceConfig{}}
	applyDefaults(cfg)
	return cfg
}
