package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/social"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsMatchEngine(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	d := engine.DefaultConfig()
	assert.Equal(t, SourcePolicy, cfg.Decision.Source)
	assert.Equal(t, d.Agents, cfg.Run.Agents)
	assert.Equal(t, d.DecisionTimeout, cfg.Decision.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Minute, cfg.API.RateWindow)

	ec := cfg.EngineConfig()
	assert.Equal(t, d.Trade, ec.Trade)
	assert.Equal(t, d.Social, ec.Social)
	assert.Equal(t, d.NeedDecay, ec.NeedDecay)
	assert.Equal(t, d.HarvestCap, ec.HarvestCap)
}

func TestFileOverrides(t *testing.T) {
	path := writeConfig(t, `
run:
  agents: 40
  seed: 99
  ticks: 500
  interval: 250ms
decision:
  timeout: 3s
engine:
  voting_window: 12
  default_threshold: super_majority
  food_decay: 2.5
storage:
  snapshot_every: 25
api:
  cors_origins: ["https://agora.example"]
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Run.Agents)
	assert.Equal(t, 500, cfg.Run.Ticks)
	assert.Equal(t, 250*time.Millisecond, cfg.Run.Interval)
	assert.Equal(t, []string{"https://agora.example"}, cfg.API.CORSOrigins)
	assert.Equal(t, "json", cfg.Logging.Format)

	ec := cfg.EngineConfig()
	assert.Equal(t, int64(99), ec.Seed)
	assert.Equal(t, int64(99), ec.World.Seed)
	assert.Equal(t, 3*time.Second, ec.DecisionTimeout)
	assert.Equal(t, uint64(12), ec.Social.VotingWindow)
	assert.Equal(t, social.ThresholdSuperMajority, ec.Social.DefaultThreshold)
	assert.Equal(t, 2.5, ec.NeedDecay.Food)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "run:\n  agents: 40\n")
	t.Setenv("AGORA_RUN_AGENTS", "7")
	t.Setenv("AGORA_API_ADMIN_KEY", "s3cret-admin-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Run.Agents)
	assert.Equal(t, "s3cret-admin-key", cfg.API.AdminKey)
	assert.NotContains(t, cfg.API.String(), "s3cret-admin-key")
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown source":    "decision:\n  source: oracle\n",
		"zero timeout":      "decision:\n  timeout: 0s\n",
		"negative agents":   "run:\n  agents: -1\n",
		"bad threshold":     "engine:\n  default_threshold: most\n",
		"queue without key": "decision:\n  source: queue\n",
		"bad level":         "logging:\n  level: loud\n",
		"bad format":        "logging:\n  format: xml\n",
		"snapshots no dir":  "storage:\n  snapshot_dir: \"\"\n  snapshot_every: 5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestQueueSourceWithKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, "decision:\n  source: queue\napi:\n  action_key: k\n"))
	require.NoError(t, err)
	assert.Equal(t, SourceQueue, cfg.Decision.Source)
}
