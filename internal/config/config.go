// Package config provides configuration management for the load balancer.
// Configuration is loaded from an optional YAML file with command-line flags
// and environment variables layered on top by the caller.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultListenHost is the default listen host. The balancer binds to
	// loopback only; fronting it with a public address is a deployment
	// concern.
	DefaultListenHost = "127.0.0.1"

	// DefaultListenPort is the default listen port.
	DefaultListenPort = 8080

	// DefaultRateLimitWindow is the default fixed-window length.
	DefaultRateLimitWindow = time.Minute

	// DefaultRateLimitMaxRequests is the default per-window request limit.
	DefaultRateLimitMaxRequests = 100

	// DefaultHealthCheckInterval is the default probe interval.
	DefaultHealthCheckInterval = 20 * time.Second

	// DefaultHealthCheckTimeout is the default probe timeout.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultMetricsPort is the default metrics server port.
	DefaultMetricsPort = 9090
)

// Config holds all configuration settings for the load balancer.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Backends    []string          `yaml:"backends"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	HealthCheck HealthCheckConfig `yaml:"healthCheck"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogSettings       `yaml:"log"`
}

// ListenConfig holds listener settings.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	Window      Duration `yaml:"window"`
	MaxRequests int      `yaml:"maxRequests"`
}

// HealthCheckConfig holds health monitor settings.
type HealthCheckConfig struct {
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogSettings holds logging settings.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host: DefaultListenHost,
			Port: DefaultListenPort,
		},
		RateLimit: RateLimitConfig{
			Window:      Duration(DefaultRateLimitWindow),
			MaxRequests: DefaultRateLimitMaxRequests,
		},
		HealthCheck: HealthCheckConfig{
			Interval: Duration(DefaultHealthCheckInterval),
			Timeout:  Duration(DefaultHealthCheckTimeout),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    DefaultMetricsPort,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path into a Config starting from defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", cfg.Listen.Port)
	}

	if cfg.RateLimit.Window.Duration() <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s",
			cfg.RateLimit.Window.Duration())
	}

	if cfg.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive, got %d",
			cfg.RateLimit.MaxRequests)
	}

	if cfg.HealthCheck.Interval.Duration() <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s",
			cfg.HealthCheck.Interval.Duration())
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	for _, raw := range cfg.Backends {
		endpoint, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid backend URL %q: %w", raw, err)
		}
		if endpoint.Scheme == "" || endpoint.Host == "" {
			return fmt.Errorf("invalid backend URL %q: missing scheme or host", raw)
		}
	}

	return nil
}
