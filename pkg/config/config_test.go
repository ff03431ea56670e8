package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 10
	cfg.RateLimiting.Burst = 20
	cfg.RateLimiting.MaxConcurrent = 5
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.RateLimiting.Burst = 0
	cfg.RateLimiting.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "link capacity must be > 0",
			mutate: func(c *Config) { c.Controller.LinkCapacityMbps = 0 },
		},
		{
			name:   "min bandwidth must be > 0",
			mutate: func(c *Config) { c.Controller.MinBandwidthMbps = 0 },
		},
		{
			name:   "max bandwidth above link capacity",
			mutate: func(c *Config) { c.Controller.MaxBandwidthMbps = 12 },
		},
		{
			name:   "probe interval must be > 0",
			mutate: func(c *Config) { c.Controller.ProbeInterval = 0 },
		},
		{
			name:   "regression fraction within (0,1)",
			mutate: func(c *Config) { c.Controller.RegressionFraction = 1 },
		},
		{
			name:   "idle threshold above capacity",
			mutate: func(c *Config) { c.Controller.IdleThresholdMbps = 11 },
		},
		{
			name:   "idle threshold above max bandwidth",
			mutate: func(c *Config) { c.Controller.MaxBandwidthMbps = 8 },
		},
		{
			name:   "unknown absent mode",
			mutate: func(c *Config) { c.Controller.AbsentMode = "average" },
		},
		{
			name:   "embedded collector needs stats url",
			mutate: func(c *Config) { c.Collector.Embedded = true; c.Collector.StatsURL = "" },
		},
		{
			name:   "enforcer method",
			mutate: func(c *Config) { c.Enforcer.Method = "POST" },
		},
		{
			name:   "negative lease ttl",
			mutate: func(c *Config) { c.Enforcer.LeaseTTL = -time.Second },
		},
		{
			name:   "unknown persistence backend",
			mutate: func(c *Config) { c.Persistence.Backend = "sqlite" },
		},
		{
			name:   "auth requires secret",
			mutate: func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" },
		},
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.Burst = 0 },
		},
		{
			name:   "http max concurrent must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.MaxConcurrent = -1 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Server.ReadTimeout = time.Second
			cfg.Server.WriteTimeout = time.Second
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Controller.LinkCapacityMbps != 10 {
		t.Fatalf("expected default link capacity 10, got %v", cfg.Controller.LinkCapacityMbps)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
controller:
  link_capacity_mbps: 20
  max_bandwidth_mbps: 20
  idle_threshold_mbps: 19
  probe_interval: 5s
  bandwidth_window: 3
persistence:
  backend: memory
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Controller.LinkCapacityMbps != 20 {
		t.Errorf("expected link capacity 20, got %v", cfg.Controller.LinkCapacityMbps)
	}
	if cfg.Controller.ProbeInterval != 5*time.Second {
		t.Errorf("expected probe interval 5s, got %v", cfg.Controller.ProbeInterval)
	}
	if cfg.Controller.BandwidthWindow != 3 {
		t.Errorf("expected bandwidth window 3, got %d", cfg.Controller.BandwidthWindow)
	}
	// untouched values keep their defaults
	if cfg.Controller.MinBandwidthMbps != 1 {
		t.Errorf("expected min bandwidth 1, got %v", cfg.Controller.MinBandwidthMbps)
	}
}

func TestLoad_InvalidYAMLFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("controller:\n  link_capacity_mbps: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NETQOS_ENFORCER_URL", "http://switch:8080/qos-policies")
	t.Setenv("NETQOS_LINK_CAPACITY_MBPS", "100")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Enforcer.URL != "http://switch:8080/qos-policies" {
		t.Errorf("unexpected enforcer url %q", cfg.Enforcer.URL)
	}
	if cfg.Controller.LinkCapacityMbps != 100 {
		t.Errorf("expected link capacity 100, got %v", cfg.Controller.LinkCapacityMbps)
	}
}

func TestResolve(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for an explicit path that does not exist")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "qosd.yaml")
	if err := os.WriteFile(path, []byte("controller:\n  probe_interval: 7s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Controller.ProbeInterval != 7*time.Second {
		t.Errorf("expected probe interval 7s, got %v", cfg.Controller.ProbeInterval)
	}

	orig := SearchPaths
	SearchPaths = []string{filepath.Join(dir, "absent.yaml"), path}
	defer func() { SearchPaths = orig }()
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Controller.ProbeInterval != 7*time.Second {
		t.Errorf("expected search path config to load, got probe interval %v", cfg.Controller.ProbeInterval)
	}
}
