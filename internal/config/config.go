// Package config loads engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"copytrade-engine/internal/domain"
)

// Config holds all engine configuration.
type Config struct {
	Feed struct {
		Endpoint    string   `yaml:"endpoint"`
		Instruments []string `yaml:"instruments"`
		Wallets     []string `yaml:"wallets"`
	} `yaml:"feed"`

	Cycles struct {
		// Thresholds are opening thresholds as fractions (0.003 = 0.30%).
		Thresholds []float64 `yaml:"thresholds"`
		// StabilityFactor scales the close band relative to the opening
		// threshold; 1.0 reverts at the same magnitude.
		StabilityFactor float64 `yaml:"stability_factor"`
	} `yaml:"cycles"`

	Breaker struct {
		WindowSize    int     `yaml:"window_size"`
		TripThreshold float64 `yaml:"trip_threshold"`
	} `yaml:"breaker"`

	Gate struct {
		Tier           string  `yaml:"tier"`      // conservative, moderate, aggressive
		PerpMode       string  `yaml:"perp_mode"` // any, long_only, short_only
		HorizonMs      int64   `yaml:"horizon_ms"`
		CrashThreshold float64 `yaml:"crash_threshold"`
		ChaseCap       float64 `yaml:"chase_cap"`
	} `yaml:"gate"`

	Engine struct {
		PlayID         string               `yaml:"play_id"`
		EvalIntervalMs int64                `yaml:"eval_interval_ms"`
		Tolerance      ToleranceRulesConfig `yaml:"tolerance"`
	} `yaml:"engine"`

	Storage struct {
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickHouseDSN string `yaml:"clickhouse_dsn"`
		ClickHouseDB  string `yaml:"clickhouse_db"`
		RedisAddr     string `yaml:"redis_addr"`
	} `yaml:"storage"`

	Schedule struct {
		SnapshotCron    string `yaml:"snapshot_cron"`
		ArchiveCron     string `yaml:"archive_cron"`
		ReportCron      string `yaml:"report_cron"`
		CacheHealthCron string `yaml:"cache_health_cron"`
		ReportDir       string `yaml:"report_dir"`
	} `yaml:"schedule"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
}

// ToleranceRulesConfig is the YAML shape of the tiered exit bands.
type ToleranceRulesConfig struct {
	Increases []struct {
		GainFrom  float64  `yaml:"gain_from"`
		GainTo    *float64 `yaml:"gain_to"`
		Tolerance float64  `yaml:"tolerance"`
	} `yaml:"increases"`
	Decrease float64 `yaml:"decrease"`
}

// Rules converts the YAML shape into the domain document.
func (c ToleranceRulesConfig) Rules() domain.ToleranceRules {
	r := domain.ToleranceRules{
		SchemaVersion: domain.ToleranceSchemaVersion,
		Decrease:      c.Decrease,
	}
	for _, b := range c.Increases {
		r.Increases = append(r.Increases, domain.ToleranceBand{
			GainFrom:  b.GainFrom,
			GainTo:    b.GainTo,
			Tolerance: b.Tolerance,
		})
	}
	return r
}

// EvalInterval returns the evaluation cadence as a duration.
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.Engine.EvalIntervalMs) * time.Millisecond
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; env and defaults
// alone can configure the engine.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("FEED_INSTRUMENTS"); v != "" {
		cfg.Feed.Instruments = splitList(v)
	}
	if v := os.Getenv("TRACKED_WALLETS"); v != "" {
		cfg.Feed.Wallets = splitList(v)
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("BREAKER_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.WindowSize = n
		}
	}
	if v := os.Getenv("BREAKER_TRIP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Breaker.TripThreshold = f
		}
	}
	if v := os.Getenv("GATE_TIER"); v != "" {
		cfg.Gate.Tier = v
	}
	if v := os.Getenv("PERP_MODE"); v != "" {
		cfg.Gate.PerpMode = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Cycles.Thresholds) == 0 {
		cfg.Cycles.Thresholds = []float64{0.003, 0.005, 0.01}
	}
	if cfg.Cycles.StabilityFactor == 0 {
		cfg.Cycles.StabilityFactor = 1.0
	}
	if cfg.Breaker.WindowSize == 0 {
		cfg.Breaker.WindowSize = 20
	}
	if cfg.Breaker.TripThreshold == 0 {
		cfg.Breaker.TripThreshold = 0.35
	}
	if cfg.Gate.Tier == "" {
		cfg.Gate.Tier = "conservative"
	}
	if cfg.Gate.PerpMode == "" {
		cfg.Gate.PerpMode = "any"
	}
	if cfg.Gate.HorizonMs == 0 {
		cfg.Gate.HorizonMs = 60_000
	}
	if cfg.Gate.CrashThreshold == 0 {
		cfg.Gate.CrashThreshold = -0.02
	}
	if cfg.Gate.ChaseCap == 0 {
		cfg.Gate.ChaseCap = 0.03
	}
	if cfg.Engine.PlayID == "" {
		cfg.Engine.PlayID = "default"
	}
	if cfg.Engine.EvalIntervalMs == 0 {
		cfg.Engine.EvalIntervalMs = 1000
	}
	if len(cfg.Engine.Tolerance.Increases) == 0 {
		cfg.Engine.Tolerance.Increases = []struct {
			GainFrom  float64  `yaml:"gain_from"`
			GainTo    *float64 `yaml:"gain_to"`
			Tolerance float64  `yaml:"tolerance"`
		}{
			{GainFrom: 0, Tolerance: 0.012},
		}
	}
	if cfg.Engine.Tolerance.Decrease == 0 {
		cfg.Engine.Tolerance.Decrease = 0.02
	}
	if cfg.Schedule.ReportDir == "" {
		cfg.Schedule.ReportDir = "reports"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
}

// Validate checks that required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	for _, th := range c.Cycles.Thresholds {
		if th <= 0 {
			return fmt.Errorf("cycles.thresholds must be positive, got %v", th)
		}
	}
	if c.Cycles.StabilityFactor <= 0 {
		return fmt.Errorf("cycles.stability_factor must be positive")
	}
	if c.Breaker.WindowSize <= 0 {
		return fmt.Errorf("breaker.window_size must be positive")
	}
	if c.Breaker.TripThreshold <= 0 || c.Breaker.TripThreshold >= 1 {
		return fmt.Errorf("breaker.trip_threshold must be in (0, 1)")
	}
	switch c.Gate.Tier {
	case "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("gate.tier %q is not one of conservative, moderate, aggressive", c.Gate.Tier)
	}
	switch c.Gate.PerpMode {
	case "any", "long_only", "short_only":
	default:
		return fmt.Errorf("gate.perp_mode %q is not one of any, long_only, short_only", c.Gate.PerpMode)
	}
	if err := c.Engine.Tolerance.Rules().Validate(); err != nil {
		return fmt.Errorf("engine.tolerance: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
