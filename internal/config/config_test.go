package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.CampaignBackend)
	assert.Equal(t, 0.6, cfg.Pipeline.MinWarmConfidence)
	assert.Equal(t, []string{"classifier", "decider"}, cfg.Pivot.Units)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  addr: 0.0.0.0:9000
store:
  path: /tmp/c.db
  campaign_backend: file
  campaign_file: /tmp/campaigns.json
scheduler:
  global_max: 8
  by_niche:
    bakery: 2
pivot:
  high_export_rate: 0.4
  low_export_rate: 0.1
  high_feedback: 4.2
  low_feedback: 2
  exhaustion_window: 72h
strategy:
  niches: [bakery, florist]
  default_target_lead_count: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, BackendFile, cfg.Store.CampaignBackend)
	assert.Equal(t, 8, cfg.Scheduler.GlobalMax)
	assert.Equal(t, 2, cfg.Scheduler.GetNicheLimit("bakery"))
	assert.Equal(t, 72*time.Hour, cfg.Pivot.ExhaustionWindow)
	assert.Equal(t, []string{"bakery", "florist"}, cfg.Strategy.Niches)

	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 25, oc.DefaultTargetLeadCount)
	assert.Equal(t, 72*time.Hour, oc.ExhaustionWindow)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pivot:\n  low_export_rate: 0.5\n  high_export_rate: 0.2\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_ADDR", "127.0.0.1:1")
	t.Setenv("CONDUCTOR_LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Strategy.Niches = []string{"bakery"}
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Strategy, loaded.Strategy)
	assert.Equal(t, cfg.Pivot, loaded.Pivot)

	assert.Error(t, SaveConfig(path, nil))
}
