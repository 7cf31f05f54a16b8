// Package config loads netsentryd's static configuration from defaults,
// file, and environment, in that order of increasing precedence,
// following the spf13/viper + mapstructure layering used by dittofs's
// pkg/config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree for netsentryd.
type Config struct {
	Mode     string         `mapstructure:"mode" yaml:"mode"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// CaptureConfig is the master switch and settings for C4/C7/C11/C12.
type CaptureConfig struct {
	Enabled   bool            `mapstructure:"enabled" yaml:"enabled"`
	MITMProxy MITMProxyConfig `mapstructure:"mitmproxy" yaml:"mitmproxy"`
	PCAP      PCAPConfig      `mapstructure:"pcap" yaml:"pcap"`
	Tcpdump   TcpdumpConfig   `mapstructure:"tcpdump" yaml:"tcpdump"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
}

// MITMProxyConfig configures the transparent interceptor's listen port.
type MITMProxyConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// PCAPConfig configures the ring-buffered pcap exporter (C11).
type PCAPConfig struct {
	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
}

// TcpdumpConfig configures the raw-capture subprocess supervisor.
type TcpdumpConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Filter  string `mapstructure:"filter" yaml:"filter"`
}

// SessionConfig configures the session tracker's inactivity timeout (C6).
type SessionConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// AnalysisConfig controls C9/C10: enable flags, concurrency, and cache.
type AnalysisConfig struct {
	Enabled              bool        `mapstructure:"enabled" yaml:"enabled"`
	HTTPAnalyzer         bool        `mapstructure:"http_analyzer" yaml:"http_analyzer"`
	TLSAnalyzer          bool        `mapstructure:"tls_analyzer" yaml:"tls_analyzer"`
	DNSAnalyzer          bool        `mapstructure:"dns_analyzer" yaml:"dns_analyzer"`
	PassiveScanner       bool        `mapstructure:"passive_scanner" yaml:"passive_scanner"`
	MaxAnalysisTimeMs    int         `mapstructure:"max_analysis_time_ms" yaml:"max_analysis_time_ms"`
	MaxConcurrentAnalyses int        `mapstructure:"max_concurrent_analyses" yaml:"max_concurrent_analyses"`
	Cache                CacheConfig `mapstructure:"cache" yaml:"cache"`
	PCAPPollInterval     time.Duration `mapstructure:"pcap_poll_interval" yaml:"pcap_poll_interval"`
}

func (a AnalysisConfig) MaxAnalysisTime() time.Duration {
	return time.Duration(a.MaxAnalysisTimeMs) * time.Millisecond
}

// CacheConfig controls the analysis result cache (C9).
type CacheConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSize        int  `mapstructure:"max_size" yaml:"max_size"`
	TTLSeconds     int  `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DatabaseConfig configures the flow store (C8).
type DatabaseConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	PoolSize    int    `mapstructure:"pool_size" yaml:"pool_size"`
	MaxOverflow int    `mapstructure:"max_overflow" yaml:"max_overflow"`
}

// LoggingConfig controls the structured logger, following dittofs's
// LoggingConfig shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

const envPrefix = "NETSENTRY"

// Load reads configuration from defaults, then configPath (or, when empty,
// config.yaml in the working directory or /etc/netsentry), then environment
// variables prefixed NETSENTRY_, in ascending precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(string(os.PathSeparator), "etc", "netsentry"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")

	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.mitmproxy.port", 8765)
	v.SetDefault("capture.pcap.output_dir", "/var/lib/netsentry/pcap")
	v.SetDefault("capture.pcap.buffer_size_mb", 64)
	v.SetDefault("capture.tcpdump.enabled", false)
	v.SetDefault("capture.tcpdump.filter", "")
	v.SetDefault("capture.session.timeout_seconds", 1800)

	v.SetDefault("analysis.enabled", true)
	v.SetDefault("analysis.http_analyzer", true)
	v.SetDefault("analysis.tls_analyzer", true)
	v.SetDefault("analysis.dns_analyzer", true)
	v.SetDefault("analysis.passive_scanner", true)
	v.SetDefault("analysis.max_analysis_time_ms", 5000)
	v.SetDefault("analysis.max_concurrent_analyses", 16)
	v.SetDefault("analysis.cache.enabled", true)
	v.SetDefault("analysis.cache.max_size", 1000)
	v.SetDefault("analysis.cache.ttl_seconds", 300)
	v.SetDefault("analysis.pcap_poll_interval", "5s")

	v.SetDefault("database.path", "/var/lib/netsentry/netsentry.db")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_overflow", 5)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Validate checks invariants Load's defaults cannot guarantee once
// overridden by file or environment.
func Validate(cfg *Config) error {
	if cfg.Mode != "dev" && cfg.Mode != "production" {
		return fmt.Errorf("mode must be %q or %q, got %q", "dev", "production", cfg.Mode)
	}
	if cfg.Capture.MITMProxy.Port <= 0 || cfg.Capture.MITMProxy.Port > 65535 {
		return fmt.Errorf("capture.mitmproxy.port out of range: %d", cfg.Capture.MITMProxy.Port)
	}
	if cfg.Analysis.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("analysis.max_concurrent_analyses must be positive, got %d", cfg.Analysis.MaxConcurrentAnalyses)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
