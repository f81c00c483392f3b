package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Redis           RedisConfig           `yaml:"redis"`
	Auth            AuthConfig            `yaml:"auth"`
	Scheduler       SchedulerConfig       `yaml:"scheduler"`
	Pipeline        PipelineConfig        `yaml:"pipeline"`
	Scoring         ScoringConfig         `yaml:"scoring"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains session store settings.
type RedisConfig struct {
	Addr       string   `yaml:"addr"`
	Password   string   `yaml:"-"` // env-only, never in YAML
	DB         int      `yaml:"db"`
	SessionTTL Duration `yaml:"session_ttl"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// RegressionPolicy selects how the skip number regresses on a failed stitch.
type RegressionPolicy string

const (
	// RegressionReset sends the skip number back to the start of the sequence.
	RegressionReset RegressionPolicy = "reset"
	// RegressionStepDown moves the skip number one sequence member down.
	RegressionStepDown RegressionPolicy = "step_down"
)

// SchedulerConfig contains spaced-repetition tuning parameters.
type SchedulerConfig struct {
	RegressionPolicy      RegressionPolicy `yaml:"regression_policy"`
	BoundaryAdvanceStreak int              `yaml:"boundary_advance_streak"`
}

// PipelineConfig contains prefetch pipeline settings.
type PipelineConfig struct {
	Workers          int      `yaml:"workers"`
	FactChunkSize    int      `yaml:"fact_chunk_size"`
	BufferStitches   int      `yaml:"buffer_stitches"`   // fact-buffer depth per tube
	RecipeBuffer     int      `yaml:"recipe_buffer"`     // recipe-buffer depth overall
	CacheMaxEntries  int      `yaml:"cache_max_entries"`
	RetryMaxAttempts int      `yaml:"retry_max_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
	RotationWait     Duration `yaml:"rotation_wait"`
	EvictionInterval Duration `yaml:"eviction_interval"`
}

// ScoringConfig contains bonus ladder settings.
type ScoringConfig struct {
	LadderPath string `yaml:"ladder_path"`
}

// SnapshotStorageConfig contains S3-compatible user-state snapshot settings.
// An empty bucket disables snapshot upload entirely.
type SnapshotStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	Interval  Duration `yaml:"interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("HELIX_CONFIG_PATH", "config/helix.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/helix.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			SessionTTL: Duration(12 * time.Hour),
		},
		Scheduler: SchedulerConfig{
			RegressionPolicy:      RegressionReset,
			BoundaryAdvanceStreak: 3,
		},
		Pipeline: PipelineConfig{
			Workers:          2,
			FactChunkSize:    50,
			BufferStitches:   10,
			RecipeBuffer:     30,
			CacheMaxEntries:  500,
			RetryMaxAttempts: 5,
			RetryBaseDelay:   Duration(200 * time.Millisecond),
			RotationWait:     Duration(5 * time.Second),
			EvictionInterval: Duration(1 * time.Minute),
		},
		Scoring: ScoringConfig{
			LadderPath: "config/ladders.yaml",
		},
		SnapshotStorage: SnapshotStorageConfig{
			URLExpiry: Duration(1 * time.Hour),
			Interval:  Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("HELIX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HELIX_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("HELIX_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("HELIX_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("HELIX_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Redis
	if v := os.Getenv("HELIX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HELIX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HELIX_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("HELIX_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.SessionTTL = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("HELIX_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Scheduler
	if v := os.Getenv("HELIX_REGRESSION_POLICY"); v != "" {
		cfg.Scheduler.RegressionPolicy = RegressionPolicy(v)
	}
	if v := os.Getenv("HELIX_BOUNDARY_ADVANCE_STREAK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.BoundaryAdvanceStreak = n
		}
	}

	// Pipeline
	if v := os.Getenv("HELIX_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("HELIX_FACT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.FactChunkSize = n
		}
	}
	if v := os.Getenv("HELIX_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.CacheMaxEntries = n
		}
	}
	if v := os.Getenv("HELIX_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("HELIX_ROTATION_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RotationWait = Duration(d)
		}
	}

	// Scoring
	if v := os.Getenv("HELIX_LADDER_PATH"); v != "" {
		cfg.Scoring.LadderPath = v
	}

	// Snapshot storage (S3 credential convention)
	if v := os.Getenv("HELIX_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("HELIX_S3_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("HELIX_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("HELIX_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotStorage.Interval = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("HELIX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HELIX_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (HELIX_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	switch c.Scheduler.RegressionPolicy {
	case RegressionReset, RegressionStepDown:
	default:
		return fmt.Errorf("invalid regression policy %q", c.Scheduler.RegressionPolicy)
	}
	if c.Scheduler.BoundaryAdvanceStreak < 1 {
		return errors.New("boundary_advance_streak must be at least 1")
	}
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline workers must be at least 1")
	}
	if c.Pipeline.FactChunkSize < 1 {
		return errors.New("fact_chunk_size must be at least 1")
	}

	// Dev mode bypasses API key validation
	if os.Getenv("HELIX_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("HELIX_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
