// Package config handles YAML configuration for astra.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/astra/providers/astra"
	"github.com/yairfalse/astra/types"
)

// Environment variables that override the file
const (
	EnvToken     = "ASTRA_DB_APPLICATION_TOKEN"
	EnvDevOpsURL = "ASTRA_DEVOPS_URL"
)

// Config is the root configuration structure.
type Config struct {
	Token      string           `yaml:"token"`
	DevOps     DevOpsConfig     `yaml:"devops"`
	DataPlane  DataPlaneConfig  `yaml:"data_plane"`
	Activation ActivationConfig `yaml:"activation"`
	Journal    JournalConfig    `yaml:"journal"`
	History    HistoryConfig    `yaml:"history"`
	Keepalive  KeepaliveConfig  `yaml:"keepalive"`
	OTEL       OTELConfig       `yaml:"otel"`
	Log        LogConfig        `yaml:"log"`
}

// DevOpsConfig holds control plane API settings.
type DevOpsConfig struct {
	URL        string        `yaml:"url"`
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	TimeoutStr string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// DataPlaneConfig holds resume request settings.
type DataPlaneConfig struct {
	EndpointTemplate string        `yaml:"endpoint_template"`
	ResumeTimeoutStr string        `yaml:"resume_timeout"`
	ResumeTimeout    time.Duration `yaml:"-"`
}

// ActivationConfig holds wait loop and creation defaults.
type ActivationConfig struct {
	PollIntervalStr string        `yaml:"poll_interval"`
	PollInterval    time.Duration `yaml:"-"`
	CeilingStr      string        `yaml:"ceiling"`
	Ceiling         time.Duration `yaml:"-"`
	DefaultKeyspace string        `yaml:"default_keyspace"`
	DefaultCloud    string        `yaml:"default_cloud"`
	DefaultRegion   string        `yaml:"default_region"`
	PolicyFile      string        `yaml:"policy_file"`
}

// JournalConfig holds activation journal settings.
type JournalConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// HistoryConfig holds activation history settings.
type HistoryConfig struct {
	Path        string `yaml:"path"`
	KeepRecords int64  `yaml:"keep_records"`
}

// KeepaliveConfig holds keepalive daemon settings.
type KeepaliveConfig struct {
	IntervalStr    string            `yaml:"interval"`
	Interval       time.Duration     `yaml:"-"`
	MetricsPort    int               `yaml:"metrics_port"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Databases      []KeepaliveTarget `yaml:"databases"`
}

// KeepaliveTarget is one database the daemon keeps awake. Exactly one of
// Name and ID is set.
type KeepaliveTarget struct {
	Name   string `yaml:"name"`
	ID     string `yaml:"id"`
	Cloud  string `yaml:"cloud"`
	Region string `yaml:"region"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() (*Config, error) {
	cfg := &Config{}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a YAML config file. An empty path yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	applyDefaults(cfg)
	applyEnv(cfg)

	if err := parseDurations(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DevOps.URL == "" {
		cfg.DevOps.URL = astra.DefaultBaseURL
	}
	if cfg.DevOps.RateLimit == 0 {
		cfg.DevOps.RateLimit = 10
	}
	if cfg.DevOps.Burst == 0 {
		cfg.DevOps.Burst = 5
	}
	if cfg.DevOps.TimeoutStr == "" {
		cfg.DevOps.TimeoutStr = "30s"
	}
	if cfg.DataPlane.EndpointTemplate == "" {
		cfg.DataPlane.EndpointTemplate = astra.DefaultEndpointTemplate
	}
	if cfg.DataPlane.ResumeTimeoutStr == "" {
		cfg.DataPlane.ResumeTimeoutStr = astra.DefaultResumeTimeout.String()
	}
	if cfg.Activation.PollIntervalStr == "" {
		cfg.Activation.PollIntervalStr = "5s"
	}
	if cfg.Activation.CeilingStr == "" {
		cfg.Activation.CeilingStr = "180s"
	}
	if cfg.Activation.DefaultKeyspace == "" {
		cfg.Activation.DefaultKeyspace = types.DefaultKeyspace
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = filepath.Join(stateDir(), "journal")
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(stateDir(), "history.db")
	}
	if cfg.History.KeepRecords == 0 {
		cfg.History.KeepRecords = 10000
	}
	if cfg.Keepalive.IntervalStr == "" {
		cfg.Keepalive.IntervalStr = "10m"
	}
	if cfg.Keepalive.MetricsPort == 0 {
		cfg.Keepalive.MetricsPort = 9090
	}
	if cfg.Keepalive.MaxConcurrency == 0 {
		cfg.Keepalive.MaxConcurrency = 4
	}
	for i := range cfg.Keepalive.Databases {
		target := &cfg.Keepalive.Databases[i]
		if target.Cloud == "" {
			target.Cloud = cfg.Activation.DefaultCloud
		}
		if target.Region == "" {
			target.Region = cfg.Activation.DefaultRegion
		}
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "astra"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(EnvToken); token != "" {
		cfg.Token = token
	}
	if url := os.Getenv(EnvDevOpsURL); url != "" {
		cfg.DevOps.URL = url
	}
}

// stateDir is where the journal and history live by default
func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".astra"
	}
	return filepath.Join(home, ".astra")
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"devops.timeout", cfg.DevOps.TimeoutStr, &cfg.DevOps.Timeout},
		{"data_plane.resume_timeout", cfg.DataPlane.ResumeTimeoutStr, &cfg.DataPlane.ResumeTimeout},
		{"activation.poll_interval", cfg.Activation.PollIntervalStr, &cfg.Activation.PollInterval},
		{"activation.ceiling", cfg.Activation.CeilingStr, &cfg.Activation.Ceiling},
		{"keepalive.interval", cfg.Keepalive.IntervalStr, &cfg.Keepalive.Interval},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.DevOps.RateLimit < 0 || c.DevOps.Burst < 0 {
		return fmt.Errorf("devops: rate_limit and burst must not be negative")
	}
	if c.DevOps.Timeout <= 0 || c.DataPlane.ResumeTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Activation.PollInterval <= 0 {
		return fmt.Errorf("activation: poll_interval must be positive (got %s)", c.Activation.PollInterval)
	}
	if c.Activation.Ceiling < c.Activation.PollInterval {
		return fmt.Errorf("activation: ceiling %s is shorter than poll_interval %s",
			c.Activation.Ceiling, c.Activation.PollInterval)
	}
	if c.Activation.DefaultCloud != "" {
		if _, err := types.ParseCloudProvider(c.Activation.DefaultCloud); err != nil {
			return fmt.Errorf("activation: %w", err)
		}
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal: retention_days must not be negative")
	}
	if c.History.KeepRecords < 0 {
		return fmt.Errorf("history: keep_records must not be negative")
	}
	if c.Keepalive.Interval <= 0 {
		return fmt.Errorf("keepalive: interval must be positive")
	}
	if c.Keepalive.MetricsPort < 0 || c.Keepalive.MetricsPort > 65535 {
		return fmt.Errorf("keepalive: metrics_port %d out of range", c.Keepalive.MetricsPort)
	}
	if c.Keepalive.MaxConcurrency < 1 {
		return fmt.Errorf("keepalive: max_concurrency must be at least 1")
	}
	for i, target := range c.Keepalive.Databases {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("keepalive: databases[%d]: %w", i, err)
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	return nil
}

// RequireToken reports a missing application token
func (c *Config) RequireToken() error {
	if c.Token == "" {
		return fmt.Errorf("no application token: set token in the config file or %s", EnvToken)
	}
	return nil
}

// Validate checks that the target names exactly one database
func (t KeepaliveTarget) Validate() error {
	switch {
	case t.Name == "" && t.ID == "":
		return errors.New("one of name or id is required")
	case t.Name != "" && t.ID != "":
		return errors.New("name and id are mutually exclusive")
	}
	if t.Cloud != "" {
		if _, err := types.ParseCloudProvider(t.Cloud); err != nil {
			return err
		}
	}
	return nil
}

// Selector returns the selector the target describes
func (t KeepaliveTarget) Selector() types.Selector {
	if t.ID != "" {
		return types.ByID(t.ID)
	}
	return types.ByName(t.Name)
}

// CloudProvider returns the target's cloud, or "" when none is configured
func (t KeepaliveTarget) CloudProvider() types.CloudProvider {
	cloud, err := types.ParseCloudProvider(t.Cloud)
	if err != nil {
		return ""
	}
	return cloud
}
