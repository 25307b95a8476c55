// Package config loads agora settings from defaults, an optional YAML
// file and AGORA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/social"
)

// Decision sources.
const (
	SourcePolicy = "policy" // scripted archetype policy
	SourceQueue  = "queue"  // actions submitted over HTTP
	SourceIdle   = "idle"   // everyone idles
)

// Config holds all configuration for agora.
type Config struct {
	Run      RunConfig      `mapstructure:"run"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Decision DecisionConfig `mapstructure:"decision"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RunConfig sizes and paces a run.
type RunConfig struct {
	Agents   int           `mapstructure:"agents"`
	Seed     int64         `mapstructure:"seed"`  // 0 picks a random seed
	Ticks    int           `mapstructure:"ticks"` // 0 runs until stopped
	Interval time.Duration `mapstructure:"interval"`
	Demo     bool          `mapstructure:"demo"`
}

// CatalogConfig selects the world catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"` // empty uses the built-in catalog
}

// DecisionConfig controls action collection.
type DecisionConfig struct {
	Source        string        `mapstructure:"source"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

// EngineConfig holds resolver and lifecycle tuning.
type EngineConfig struct {
	HarvestCap       float64       `mapstructure:"harvest_cap"`
	HarvestXP        int           `mapstructure:"harvest_xp"`
	EatThreshold     float64       `mapstructure:"eat_threshold"`
	ShelterRate      float64       `mapstructure:"shelter_rate"`
	FoodDecay        float64       `mapstructure:"food_decay"`
	ShelterDecay     float64       `mapstructure:"shelter_decay"`
	ContractPenalty  float64       `mapstructure:"contract_penalty"`
	InboxCap         int           `mapstructure:"inbox_cap"`
	TradeExpiry      uint64        `mapstructure:"trade_expiry"`
	MaxPendingTrades int           `mapstructure:"max_pending_trades"`
	VotingWindow     uint64        `mapstructure:"voting_window"`
	DefaultThreshold string        `mapstructure:"default_threshold"`
	SlowTick         time.Duration `mapstructure:"slow_tick"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath        string `mapstructure:"db_path"` // empty disables run history
	SnapshotDir   string `mapstructure:"snapshot_dir"`
	SnapshotEvery uint64 `mapstructure:"snapshot_every"` // 0 snapshots only on shutdown
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ListenAddr  string        `mapstructure:"listen_addr"`
	AdminKey    string        `mapstructure:"admin_key"`
	ActionKey   string        `mapstructure:"action_key"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// String masks the keys.
func (c APIConfig) String() string {
	return fmt.Sprintf("APIConfig{Enabled:%t, ListenAddr:%s, AdminKey:%s, ActionKey:%s}",
		c.Enabled, c.ListenAddr, maskKey(c.AdminKey), maskKey(c.ActionKey))
}

func maskKey(key string) string {
	const visible = 4
	if key == "" {
		return ""
	}
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()

	v.SetDefault("run.agents", d.Agents)
	v.SetDefault("run.seed", d.Seed)
	v.SetDefault("run.ticks", 0)
	v.SetDefault("run.interval", time.Duration(0))
	v.SetDefault("run.demo", false)

	v.SetDefault("catalog.path", "")

	v.SetDefault("decision.source", SourcePolicy)
	v.SetDefault("decision.timeout", d.DecisionTimeout)
	v.SetDefault("decision.max_concurrent", d.MaxConcurrent)

	v.SetDefault("engine.harvest_cap", d.HarvestCap)
	v.SetDefault("engine.harvest_xp", d.HarvestXP)
	v.SetDefault("engine.eat_threshold", d.EatThreshold)
	v.SetDefault("engine.shelter_rate", d.ShelterRate)
	v.SetDefault("engine.food_decay", d.NeedDecay.Food)
	v.SetDefault("engine.shelter_decay", d.NeedDecay.Shelter)
	v.SetDefault("engine.contract_penalty", d.ContractPenalty)
	v.SetDefault("engine.inbox_cap", d.InboxCap)
	v.SetDefault("engine.trade_expiry", d.Trade.ExpiryTicks)
	v.SetDefault("engine.max_pending_trades", d.Trade.MaxPending)
	v.SetDefault("engine.voting_window", d.Social.VotingWindow)
	v.SetDefault("engine.default_threshold", string(d.Social.DefaultThreshold))
	v.SetDefault("engine.slow_tick", d.SlowTick)

	v.SetDefault("storage.db_path", filepath.Join("data", "agora.db"))
	v.SetDefault("storage.snapshot_dir", filepath.Join("data", "snapshots"))
	v.SetDefault("storage.snapshot_every", 100)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.admin_key", "")
	v.SetDefault("api.action_key", "")
	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("api.rate_window", time.Minute)
	v.SetDefault("api.cors_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads configuration. An empty path searches for agora.yaml in the
// working directory and ~/.agora; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agora")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agora"))
		}
	}

	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that settings are present and consistent.
func (c *Config) Validate() error {
	if c.Run.Agents < 0 {
		return fmt.Errorf("run.agents must be >= 0")
	}
	if c.Run.Ticks < 0 {
		return fmt.Errorf("run.ticks must be >= 0")
	}
	if c.Run.Interval < 0 {
		return fmt.Errorf("run.interval must be >= 0")
	}
	switch c.Decision.Source {
	case SourcePolicy, SourceQueue, SourceIdle:
	default:
		return fmt.Errorf("decision.source must be one of %s, %s, %s; got %q", SourcePolicy, SourceQueue, SourceIdle, c.Decision.Source)
	}
	if c.Decision.Timeout <= 0 {
		return fmt.Errorf("decision.timeout must be positive")
	}
	if c.Decision.MaxConcurrent < 0 {
		return fmt.Errorf("decision.max_concurrent must be >= 0")
	}
	if c.Engine.HarvestCap <= 0 {
		return fmt.Errorf("engine.harvest_cap must be positive")
	}
	if c.Engine.FoodDecay < 0 || c.Engine.ShelterDecay < 0 {
		return fmt.Errorf("engine need decay must be >= 0")
	}
	if c.Engine.ContractPenalty < 0 {
		return fmt.Errorf("engine.contract_penalty must be >= 0")
	}
	if c.Engine.TradeExpiry == 0 || c.Engine.MaxPendingTrades <= 0 {
		return fmt.Errorf("engine.trade_expiry and engine.max_pending_trades must be positive")
	}
	if c.Engine.VotingWindow == 0 {
		return fmt.Errorf("engine.voting_window must be positive")
	}
	switch social.Threshold(c.Engine.DefaultThreshold) {
	case social.ThresholdMajority, social.ThresholdSuperMajority, social.ThresholdUnanimous:
	default:
		return fmt.Errorf("engine.default_threshold %q is not a known threshold", c.Engine.DefaultThreshold)
	}
	if c.Storage.SnapshotEvery > 0 && c.Storage.SnapshotDir == "" {
		return fmt.Errorf("storage.snapshot_dir is required when storage.snapshot_every is set")
	}
	if c.API.Enabled {
		if c.API.ListenAddr == "" {
			return fmt.Errorf("api.listen_addr must not be empty")
		}
		if c.API.RateLimit <= 0 || c.API.RateWindow <= 0 {
			return fmt.Errorf("api.rate_limit and api.rate_window must be positive")
		}
	}
	if c.Decision.Source == SourceQueue && (!c.API.Enabled || c.API.ActionKey == "") {
		return fmt.Errorf("decision.source %q needs the API enabled with api.action_key set", SourceQueue)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// EngineConfig converts the run and engine sections into a simulation
// config.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.Agents = c.Run.Agents
	ec.Seed = c.Run.Seed
	ec.Demo = c.Run.Demo
	ec.DecisionTimeout = c.Decision.Timeout
	ec.MaxConcurrent = c.Decision.MaxConcurrent
	ec.HarvestCap = c.Engine.HarvestCap
	ec.HarvestXP = c.Engine.HarvestXP
	ec.EatThreshold = c.Engine.EatThreshold
	ec.ShelterRate = c.Engine.ShelterRate
	ec.NeedDecay.Food = c.Engine.FoodDecay
	ec.NeedDecay.Shelter = c.Engine.ShelterDecay
	ec.ContractPenalty = c.Engine.ContractPenalty
	ec.InboxCap = c.Engine.InboxCap
	ec.Trade.ExpiryTicks = c.Engine.TradeExpiry
	ec.Trade.MaxPending = c.Engine.MaxPendingTrades
	ec.Social.VotingWindow = c.Engine.VotingWindow
	ec.Social.DefaultThreshold = social.Threshold(c.Engine.DefaultThreshold)
	ec.SlowTick = c.Engine.SlowTick
	ec.World.Seed = c.Run.Seed
	return ec
}
