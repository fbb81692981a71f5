// Package config provides configuration management for the engram engine.
// Settings are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables with the ENGRAM_ prefix. Environment
// variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/engram/internal/engine"
)

// Config holds all configuration for the engram application.
type Config struct {
	Storage      StorageConfig             `yaml:"storage"`
	Decay        engine.DecayConfig        `yaml:"decay"`
	Cognitive    engine.CognitiveConfig    `yaml:"cognitive"`
	TierPolicy   engine.TierPolicyConfig   `yaml:"tier_policy"`
	Orchestrator engine.OrchestratorConfig `yaml:"orchestrator"`
	Scanner      engine.ScannerConfig      `yaml:"scanner"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Engine is the storage backend: "sqlite" or "postgres".
	Engine string `yaml:"engine"`

	// DataPath is the SQLite database path (default: ./data/engram.db).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoadConfig resolves configuration from defaults and environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile resolves configuration from defaults, the given YAML
// file (when path is non-empty), and environment variables, in that order of
// precedence. A missing file at an explicitly requested path is an error.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every component configuration.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires ENGRAM_POSTGRES_DSN")
	}
	if err := c.Decay.Validate(); err != nil {
		return fmt.Errorf("config: decay: %w", err)
	}
	if err := c.Cognitive.Validate(); err != nil {
		return fmt.Errorf("config: cognitive: %w", err)
	}
	if err := c.TierPolicy.Validate(); err != nil {
		return fmt.Errorf("config: tier policy: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("config: orchestrator: %w", err)
	}
	if err := c.Scanner.Validate(); err != nil {
		return fmt.Errorf("config: scanner: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data/engram.db",
		},
		Decay:        engine.DefaultDecayConfig(),
		Cognitive:    engine.DefaultCognitiveConfig(),
		TierPolicy:   engine.DefaultTierPolicyConfig(),
		Orchestrator: engine.DefaultOrchestratorConfig(),
		Scanner:      engine.DefaultScannerConfig(),
	}
}

// applyEnv overlays ENGRAM_ environment variables onto the config.
func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("ENGRAM_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Decay.TimeScale = getEnvFloat("ENGRAM_DECAY_TIME_SCALE", cfg.Decay.TimeScale)
	cfg.Decay.MaxStrength = getEnvFloat("ENGRAM_DECAY_MAX_STRENGTH", cfg.Decay.MaxStrength)
	cfg.Decay.MinStrength = getEnvFloat("ENGRAM_DECAY_MIN_STRENGTH", cfg.Decay.MinStrength)

	cfg.Cognitive.Alpha = getEnvFloat("ENGRAM_COGNITIVE_ALPHA", cfg.Cognitive.Alpha)
	cfg.Cognitive.Beta = getEnvFloat("ENGRAM_COGNITIVE_BETA", cfg.Cognitive.Beta)
	cfg.Cognitive.ContextWeight = getEnvFloat("ENGRAM_COGNITIVE_CONTEXT_WEIGHT", cfg.Cognitive.ContextWeight)
	cfg.Cognitive.ClusteringThreshold = getEnvFloat("ENGRAM_COGNITIVE_CLUSTERING_THRESHOLD", cfg.Cognitive.ClusteringThreshold)
	cfg.Cognitive.MaxStrength = getEnvFloat("ENGRAM_COGNITIVE_MAX_STRENGTH", cfg.Cognitive.MaxStrength)

	cfg.TierPolicy.WorkingToWarmThreshold = getEnvFloat("ENGRAM_WORKING_TO_WARM_THRESHOLD", cfg.TierPolicy.WorkingToWarmThreshold)
	cfg.TierPolicy.WarmToColdThreshold = getEnvFloat("ENGRAM_WARM_TO_COLD_THRESHOLD", cfg.TierPolicy.WarmToColdThreshold)
	cfg.TierPolicy.ColdArchiveThreshold = getEnvFloat("ENGRAM_COLD_ARCHIVE_THRESHOLD", cfg.TierPolicy.ColdArchiveThreshold)

	cfg.Orchestrator.NeighborhoodLimit = getEnvInt("ENGRAM_NEIGHBORHOOD_LIMIT", cfg.Orchestrator.NeighborhoodLimit)
	cfg.Orchestrator.SimilarityThreshold = getEnvFloat("ENGRAM_SIMILARITY_THRESHOLD", cfg.Orchestrator.SimilarityThreshold)
	cfg.Orchestrator.NeighborhoodCacheSize = getEnvInt("ENGRAM_NEIGHBORHOOD_CACHE_SIZE", cfg.Orchestrator.NeighborhoodCacheSize)
	cfg.Orchestrator.BreakerTimeout = getEnvDuration("ENGRAM_BREAKER_TIMEOUT", cfg.Orchestrator.BreakerTimeout)

	cfg.Scanner.Schedule = getEnv("ENGRAM_SCAN_SCHEDULE", cfg.Scanner.Schedule)
	cfg.Scanner.BatchSize = getEnvInt("ENGRAM_SCAN_BATCH_SIZE", cfg.Scanner.BatchSize)
	cfg.Scanner.MaxMigrationsPerScan = getEnvInt("ENGRAM_SCAN_MAX_MIGRATIONS", cfg.Scanner.MaxMigrationsPerScan)
	cfg.Scanner.MigrationsPerSecond = getEnvFloat("ENGRAM_SCAN_MIGRATIONS_PER_SECOND", cfg.Scanner.MigrationsPerSecond)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a
// default value. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
