package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Controller struct {
		LinkCapacityMbps      float64       `yaml:"link_capacity_mbps"`
		MinBandwidthMbps      float64       `yaml:"min_bandwidth_mbps"`
		MaxBandwidthMbps      float64       `yaml:"max_bandwidth_mbps"`
		ProbeInterval         time.Duration `yaml:"probe_interval"`
		LossThresholdPercent  float64       `yaml:"loss_threshold_percent"`
		LossPersistence       int           `yaml:"loss_persistence"`
		RegressionFraction    float64       `yaml:"regression_fraction"`
		DecreaseStepMbps      float64       `yaml:"decrease_step_mbps"`
		IncreaseStepMbps      float64       `yaml:"increase_step_mbps"`
		IdleThresholdMbps     float64       `yaml:"idle_threshold_mbps"`
		BandwidthWindow       int           `yaml:"bandwidth_window"`
		LossWindow            int           `yaml:"loss_window"`
		AbsentMode            string        `yaml:"absent_mode"` // total | per_class
		AbsentThresholdMbps   float64       `yaml:"absent_threshold_mbps"`
		VideoPresentMbps      float64       `yaml:"video_present_mbps"`
		VideoCeilingMbps      float64       `yaml:"video_ceiling_mbps"`
		VideoPriority         int           `yaml:"video_priority"`
		VideoElevatedPriority int           `yaml:"video_elevated_priority"`
		DownloadPriority      int           `yaml:"download_priority"`
		DownloadLowPriority   int           `yaml:"download_low_priority"`
		DecisionHistory       int           `yaml:"decision_history"`
	} `yaml:"controller"`

	Collector struct {
		Embedded  bool          `yaml:"embedded"`
		StatsURL  string        `yaml:"stats_url"`
		EngineURL string        `yaml:"engine_url"`
		Interval  time.Duration `yaml:"interval"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"collector"`

	Enforcer struct {
		Enabled bool          `yaml:"enabled"`
		URL     string        `yaml:"url"`
		Method  string        `yaml:"method"` // PUT | PATCH
		Timeout time.Duration `yaml:"timeout"`
		Queue   int           `yaml:"queue"`
		// LeaseTTL bounds how long a crashed owner blocks standby replicas
		// sharing the same Redis. Zero disables the lease.
		LeaseTTL time.Duration `yaml:"lease_ttl"`

		CircuitBreaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"enforcer"`

	Persistence struct {
		Backend       string        `yaml:"backend"` // file | redis | memory
		CSVPath       string        `yaml:"csv_path"`
		SnapshotPath  string        `yaml:"snapshot_path"`
		BatchSize     int           `yaml:"batch_size"`
		BatchInterval time.Duration `yaml:"batch_interval"`
		StreamMaxLen  int64         `yaml:"stream_max_len"`
	} `yaml:"persistence"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusPath    string `yaml:"prometheus_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Observer struct {
		Enabled      bool          `yaml:"enabled"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"observer"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Controller
	ctl := c.Controller
	if ctl.LinkCapacityMbps <= 0 {
		return fmt.Errorf("controller.link_capacity_mbps must be > 0")
	}
	if ctl.MinBandwidthMbps <= 0 {
		return fmt.Errorf("controller.min_bandwidth_mbps must be > 0")
	}
	if ctl.MaxBandwidthMbps < ctl.MinBandwidthMbps || ctl.MaxBandwidthMbps > ctl.LinkCapacityMbps {
		return fmt.Errorf("controller.max_bandwidth_mbps must be within [min_bandwidth_mbps, link_capacity_mbps]")
	}
	if ctl.ProbeInterval <= 0 {
		return fmt.Errorf("controller.probe_interval must be > 0")
	}
	if ctl.LossThresholdPercent < 0 || ctl.LossThresholdPercent > 100 {
		return fmt.Errorf("controller.loss_threshold_percent must be within [0, 100]")
	}
	if ctl.LossPersistence <= 0 {
		return fmt.Errorf("controller.loss_persistence must be > 0")
	}
	if ctl.RegressionFraction <= 0 || ctl.RegressionFraction >= 1 {
		return fmt.Errorf("controller.regression_fraction must be within (0, 1)")
	}
	if ctl.DecreaseStepMbps <= 0 || ctl.IncreaseStepMbps <= 0 {
		return fmt.Errorf("controller step sizes must be > 0")
	}
	if ctl.IdleThresholdMbps < ctl.MinBandwidthMbps || ctl.IdleThresholdMbps > ctl.LinkCapacityMbps {
		return fmt.Errorf("controller.idle_threshold_mbps must be within [min_bandwidth_mbps, link_capacity_mbps]")
	}
	if ctl.IdleThresholdMbps > ctl.MaxBandwidthMbps {
		return fmt.Errorf("controller.idle_threshold_mbps must not exceed max_bandwidth_mbps")
	}
	if ctl.BandwidthWindow <= 0 || ctl.LossWindow <= 0 {
		return fmt.Errorf("controller window sizes must be > 0")
	}
	if ctl.AbsentMode != "total" && ctl.AbsentMode != "per_class" {
		return fmt.Errorf("controller.absent_mode must be one of total, per_class")
	}
	if ctl.VideoCeilingMbps <= 0 || ctl.VideoCeilingMbps > ctl.LinkCapacityMbps {
		return fmt.Errorf("controller.video_ceiling_mbps must be within (0, link_capacity_mbps]")
	}

	// Collector
	if c.Collector.Embedded && c.Collector.StatsURL == "" {
		return fmt.Errorf("collector.stats_url must not be empty when collector.embedded=true")
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be > 0")
	}
	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("collector.timeout must be > 0")
	}

	// Enforcer
	if c.Enforcer.Enabled {
		if c.Enforcer.URL == "" {
			return fmt.Errorf("enforcer.url must not be empty when enforcer.enabled=true")
		}
		if c.Enforcer.Method != "PUT" && c.Enforcer.Method != "PATCH" {
			return fmt.Errorf("enforcer.method must be PUT or PATCH")
		}
	}
	if c.Enforcer.Timeout <= 0 {
		return fmt.Errorf("enforcer.timeout must be > 0")
	}
	if c.Enforcer.Queue <= 0 {
		return fmt.Errorf("enforcer.queue must be > 0")
	}
	if c.Enforcer.LeaseTTL < 0 {
		return fmt.Errorf("enforcer.lease_ttl must be >= 0")
	}
	if c.Enforcer.CircuitBreaker.Enabled {
		if c.Enforcer.CircuitBreaker.FailureThreshold <= 0 || c.Enforcer.CircuitBreaker.SuccessThreshold <= 0 {
			return fmt.Errorf("enforcer.circuit_breaker thresholds must be > 0")
		}
		if c.Enforcer.CircuitBreaker.OpenTimeout <= 0 {
			return fmt.Errorf("enforcer.circuit_breaker.open_timeout must be > 0")
		}
	}

	// Persistence
	switch c.Persistence.Backend {
	case "file":
		if c.Persistence.CSVPath == "" || c.Persistence.SnapshotPath == "" {
			return fmt.Errorf("persistence.csv_path and snapshot_path must be set for the file backend")
		}
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when persistence.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when persistence.backend=redis")
		}
	case "memory":
	default:
		return fmt.Errorf("persistence.backend must be one of file, redis, memory")
	}
	if c.Persistence.BatchSize <= 0 || c.Persistence.BatchInterval <= 0 {
		return fmt.Errorf("persistence batch settings must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within (0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SearchPaths are tried in order when no config path is given.
var SearchPaths = []string{
	"configs/config.yaml",
	"/etc/netqos/config.yaml",
	"config.yaml",
}

// Resolve loads path when set. Otherwise it loads the first existing file
// from SearchPaths, or the defaults when none exists.
func Resolve(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return Load(path)
	}
	for _, candidate := range SearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	return Load("")
}

// DefaultConfig returns configuration matching the 10 Mbps bottleneck testbed.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":5000"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Controller.LinkCapacityMbps = 10
	cfg.Controller.MinBandwidthMbps = 1
	cfg.Controller.MaxBandwidthMbps = 10
	cfg.Controller.ProbeInterval = 3 * time.Second
	cfg.Controller.LossThresholdPercent = 1.0
	cfg.Controller.LossPersistence = 3
	cfg.Controller.RegressionFraction = 0.2
	cfg.Controller.DecreaseStepMbps = 1.0
	cfg.Controller.IncreaseStepMbps = 1.0
	cfg.Controller.IdleThresholdMbps = 9.5
	cfg.Controller.BandwidthWindow = 10
	cfg.Controller.LossWindow = 3
	cfg.Controller.AbsentMode = "total"
	cfg.Controller.AbsentThresholdMbps = 0.1
	cfg.Controller.VideoPresentMbps = 0.1
	cfg.Controller.VideoCeilingMbps = 10
	cfg.Controller.VideoPriority = 7
	cfg.Controller.VideoElevatedPriority = 10
	cfg.Controller.DownloadPriority = 5
	cfg.Controller.DownloadLowPriority = 1
	cfg.Controller.DecisionHistory = 50

	cfg.Collector.Embedded = false
	cfg.Collector.StatsURL = "http://127.0.0.1:8080/stats"
	cfg.Collector.EngineURL = "http://127.0.0.1:5000/metrics"
	cfg.Collector.Interval = time.Second
	cfg.Collector.Timeout = time.Second

	cfg.Enforcer.Enabled = true
	cfg.Enforcer.URL = "http://127.0.0.1:8080/qos-policies"
	cfg.Enforcer.Method = "PUT"
	cfg.Enforcer.Timeout = 3 * time.Second
	cfg.Enforcer.Queue = 4
	cfg.Enforcer.LeaseTTL = 10 * time.Second
	cfg.Enforcer.CircuitBreaker.Enabled = true
	cfg.Enforcer.CircuitBreaker.FailureThreshold = 5
	cfg.Enforcer.CircuitBreaker.SuccessThreshold = 1
	cfg.Enforcer.CircuitBreaker.OpenTimeout = 10 * time.Second

	cfg.Persistence.Backend = "file"
	cfg.Persistence.CSVPath = "decision_engine_log.csv"
	cfg.Persistence.SnapshotPath = "latest_metrics.json"
	cfg.Persistence.BatchSize = 16
	cfg.Persistence.BatchInterval = 500 * time.Millisecond
	cfg.Persistence.StreamMaxLen = 86400

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPath = "/metrics/prometheus"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 14

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Observer.Enabled = true
	cfg.Observer.PingInterval = 30 * time.Second
	cfg.Observer.WriteTimeout = 5 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("NETQOS_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("NETQOS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if u := os.Getenv("NETQOS_ENFORCER_URL"); u != "" {
		c.Enforcer.URL = u
	}
	if u := os.Getenv("NETQOS_STATS_URL"); u != "" {
		c.Collector.StatsURL = u
	}
	if u := os.Getenv("NETQOS_ENGINE_URL"); u != "" {
		c.Collector.EngineURL = u
	}
	if capacity := os.Getenv("NETQOS_LINK_CAPACITY_MBPS"); capacity != "" {
		if v, err := strconv.ParseFloat(capacity, 64); err == nil {
			c.Controller.LinkCapacityMbps = v
		}
	}
	if secret := os.Getenv("NETQOS_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
