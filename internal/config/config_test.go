package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
output_dir = "out"
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.OutputDir != "out" {
		t.Errorf("explicit value lost: %q", cfg.Pipeline.OutputDir)
	}
	if cfg.Pipeline.ResearchConcurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Pipeline.ResearchConcurrency)
	}
	if cfg.Cache.MaxSizeBytes != 16*1024*1024 {
		t.Errorf("expected default cache size, got %d", cfg.Cache.MaxSizeBytes)
	}
	if cfg.RateLimit.WindowLimit != 100 || cfg.RateLimit.BurstLimit != 2 {
		t.Errorf("expected default window limits, got %d / %d",
			cfg.RateLimit.WindowLimit, cfg.RateLimit.BurstLimit)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Client.MaxRetries)
	}
}

func TestLoadParsesServices(t *testing.T) {
	path := writeConfig(t, `
[services.github]
base_url = "https://api.github.com"
rate_limit_per_minute = 30
cache_ttl_sec = 600
enabled = true

[services.disabled-svc]
base_url = "https://example.com"
enabled = false
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	gh, ok := cfg.Services["github"]
	if !ok {
		t.Fatal("github service not parsed")
	}
	if gh.BaseURL != "https://api.github.com" || gh.RateLimitPerMinute != 30 || !gh.Enabled {
		t.Errorf("github service mismatch: %+v", gh)
	}
	if cfg.Services["disabled-svc"].Enabled {
		t.Error("disabled service must stay disabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative cache size", func(c *Config) { c.Cache.MaxSizeBytes = -1 }},
		{"zero window limit", func(c *Config) { c.RateLimit.WindowLimit = 0 }},
		{"burst larger than window", func(c *Config) { c.RateLimit.BurstSec = c.RateLimit.WindowSec + 1 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"negative retries", func(c *Config) { c.Client.MaxRetries = -1 }},
		{"enabled service without url", func(c *Config) {
			c.Services["svc"] = ServiceConfig{Enabled: true}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestSecretsFromEnvironment(t *testing.T) {
	t.Setenv("REQSCOPE_API_KEY_MY_SVC", "sekrit")

	secrets, err := LoadSecrets(map[string]ServiceConfig{
		"my-svc": {BaseURL: "https://example.com", Enabled: true},
		"other":  {BaseURL: "https://example.com", Enabled: true},
	})
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}

	if got := secrets.GetAPIKey("my-svc"); got != "sekrit" {
		t.Errorf("expected key from env, got %q", got)
	}
	if got := secrets.GetAPIKey("other"); got != "" {
		t.Errorf("expected empty key for unset service, got %q", got)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
