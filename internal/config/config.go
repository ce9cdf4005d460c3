// Package config loads the conductor configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/berinia/conductor/internal/connectors"
	"github.com/berinia/conductor/internal/connectors/rules"
	"github.com/berinia/conductor/internal/logging"
	"github.com/berinia/conductor/internal/orchestrator"
	"github.com/berinia/conductor/internal/pipeline"
	"github.com/berinia/conductor/internal/pivot"
	"github.com/berinia/conductor/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Backend names for campaign storage.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config is the full conductor configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Store      StoreConfig       `yaml:"store"`
	Scheduler  *scheduler.Config `yaml:"scheduler"`
	Pipeline   pipeline.Config   `yaml:"pipeline"`
	Pivot      pivot.Thresholds  `yaml:"pivot"`
	Strategy   StrategyConfig    `yaml:"strategy"`
	Connectors ConnectorsConfig  `yaml:"connectors"`
	Logging    logging.Config    `yaml:"logging"`
}

// ServerConfig configures the control plane listener.
type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
}

// StoreConfig selects where state is persisted.
type StoreConfig struct {
	// Path is the SQLite database. Agent logs and locks always live here.
	Path string `yaml:"path"`
	// CampaignBackend is sqlite or file.
	CampaignBackend string `yaml:"campaign_backend"`
	// CampaignFile is the JSON document used by the file backend.
	CampaignFile string `yaml:"campaign_file"`
}

// StrategyConfig drives automatic niche selection.
type StrategyConfig struct {
	// Niches are tried in order when a campaign names none.
	Niches                 []string      `yaml:"niches"`
	DefaultLocation        string        `yaml:"default_location"`
	DefaultTargetLeadCount int           `yaml:"default_target_lead_count"`
	LockTTL                time.Duration `yaml:"lock_ttl"`
}

// ConnectorsConfig wires the built-in capability implementations.
type ConnectorsConfig struct {
	// FixturePaths are YAML contact fixtures, chained in order.
	FixturePaths []string             `yaml:"fixture_paths"`
	Classifier   rules.Config         `yaml:"classifier"`
	CRMFile      string               `yaml:"crm_file"`
	Outbox       string               `yaml:"outbox"`
	RateLimit    connectors.RateLimit `yaml:"rate_limit"`
}

// DefaultConfig returns a configuration rooted at ~/.conductor.
func DefaultConfig() *Config {
	dir := defaultDir()
	orch := orchestrator.DefaultConfig()
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:7467"},
		Store: StoreConfig{
			Path:            filepath.Join(dir, "conductor.db"),
			CampaignBackend: BackendSQLite,
			CampaignFile:    filepath.Join(dir, "campaigns.json"),
		},
		Scheduler: scheduler.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Pivot:     pivot.DefaultThresholds(),
		Strategy: StrategyConfig{
			DefaultTargetLeadCount: orch.DefaultTargetLeadCount,
			LockTTL:                orch.LockTTL,
		},
		Connectors: ConnectorsConfig{
			Classifier: rules.DefaultConfig(),
			CRMFile:    filepath.Join(dir, "exports", "leads.csv"),
			Outbox:     filepath.Join(dir, "outbox.jsonl"),
		},
		Logging: logging.DefaultConfig(),
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

// DefaultPath returns ~/.conductor/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied before validation.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.conductor/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(DefaultPath())
}

// applyEnv overrides selected settings from CONDUCTOR_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONDUCTOR_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Store.CampaignBackend {
	case BackendSQLite:
	case BackendFile:
		if c.Store.CampaignFile == "" {
			return fmt.Errorf("store.campaign_file is required for the file backend")
		}
	default:
		return fmt.Errorf("invalid store.campaign_backend %q, must be: sqlite or file", c.Store.CampaignBackend)
	}

	if c.Scheduler == nil {
		c.Scheduler = scheduler.DefaultConfig()
	}
	if c.Scheduler.GlobalMax < 1 {
		return fmt.Errorf("scheduler.global_max must be at least 1")
	}

	if c.Pipeline.MinWarmConfidence < 0 || c.Pipeline.MinWarmConfidence > 1 {
		return fmt.Errorf("pipeline.min_warm_confidence must be between 0 and 1")
	}

	p := c.Pivot
	if p.LowExportRate < 0 || p.HighExportRate > 1 || p.LowExportRate >= p.HighExportRate {
		return fmt.Errorf("pivot export rates must satisfy 0 <= low_export_rate < high_export_rate <= 1")
	}
	if p.LowFeedback < 0 || p.HighFeedback > 5 || p.LowFeedback >= p.HighFeedback {
		return fmt.Errorf("pivot feedback thresholds must satisfy 0 <= low_feedback < high_feedback <= 5")
	}
	if p.ExhaustionWindow <= 0 {
		return fmt.Errorf("pivot.exhaustion_window must be positive")
	}

	if c.Strategy.DefaultTargetLeadCount < 1 {
		return fmt.Errorf("strategy.default_target_lead_count must be at least 1")
	}
	if c.Connectors.RateLimit.PerSecond < 0 {
		return fmt.Errorf("connectors.rate_limit.per_second cannot be negative")
	}
	return c.Logging.Validate()
}

// OrchestratorConfig derives the orchestrator settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.ExhaustionWindow = c.Pivot.ExhaustionWindow
	cfg.DefaultLocation = c.Strategy.DefaultLocation
	cfg.DefaultTargetLeadCount = c.Strategy.DefaultTargetLeadCount
	if c.Strategy.LockTTL > 0 {
		cfg.LockTTL = c.Strategy.LockTTL
	}
	return cfg
}
