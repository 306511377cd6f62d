// Package config provides configuration loading for the compliance engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the compliance engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Database      DatabaseConfig      `yaml:"database"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	Cache         CacheConfig         `yaml:"cache"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Ranking       RankingConfig       `yaml:"ranking"`
	Comparison    ComparisonConfig    `yaml:"comparison"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ReasoningConfig configures the text-completion service.
type ReasoningConfig struct {
	Provider       string        `yaml:"provider"` // ollama or openrouter
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// DatabaseConfig holds relational store configuration.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// KnowledgeBaseConfig points at the series-keyed JSON document.
type KnowledgeBaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds cache configuration.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type ExtractionConfig struct {
	DedupeThreshold float64 `yaml:"dedupe_threshold"`
	Temperature     float64 `yaml:"temperature"`
}

// TierAdjustment scales a family's score for one budget posture.
type TierAdjustment struct {
	Prefix     string  `yaml:"prefix"`
	Multiplier float64 `yaml:"multiplier"`
	Floor      int     `yaml:"floor"`
}

type RankingConfig struct {
	MaxResults       int              `yaml:"max_results"`
	CandidateLimit   int              `yaml:"candidate_limit"`
	DescriptionChars int              `yaml:"description_chars"`
	Temperature      float64          `yaml:"temperature"`
	KnownModels      []string         `yaml:"known_models"`
	CostSensitive    []TierAdjustment `yaml:"cost_sensitive"`
	HighEnd          []TierAdjustment `yaml:"high_end"`
}

type ComparisonConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`
	ChunkDelay  time.Duration `yaml:"chunk_delay"`
	Threshold   float64       `yaml:"threshold"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Reasoning: ReasoningConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.1",
			Temperature:    0.2,
			Timeout:        120 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			CacheTTL:       24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "meters.db",
			},
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Path: "meter_knowledge_base.json",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 5000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Extraction: ExtractionConfig{
			DedupeThreshold: 0.7,
			Temperature:     0.1,
		},
		Ranking: RankingConfig{
			MaxResults:       5,
			CandidateLimit:   25,
			DescriptionChars: 120,
			Temperature:      0.2,
		},
		Comparison: ComparisonConfig{
			ChunkSize:   10,
			ChunkDelay:  2 * time.Second,
			Threshold:   0.8,
			Temperature: 0.1,
			Timeout:     120 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Reasoning.Provider != "ollama" && c.Reasoning.Provider != "openrouter" {
		return fmt.Errorf("invalid reasoning provider: %s", c.Reasoning.Provider)
	}

	if c.Reasoning.Provider == "openrouter" && c.Reasoning.APIKey == "" {
		return fmt.Errorf("openrouter provider requires an api key")
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Extraction.DedupeThreshold <= 0 || c.Extraction.DedupeThreshold > 1 {
		return fmt.Errorf("dedupe_threshold must be in (0, 1]")
	}

	if c.Comparison.Threshold <= 0 || c.Comparison.Threshold > 1 {
		return fmt.Errorf("comparison threshold must be in (0, 1]")
	}

	if c.Comparison.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive")
	}

	if c.Ranking.MaxResults < 1 {
		return fmt.Errorf("max_results must be positive")
	}

	return nil
}

// DatabaseDSN returns the driver name and data source for sql.Open.
func (c *Config) DatabaseDSN() (driver, dsn string) {
	if c.Database.Driver == "postgres" {
		return "postgres", c.Database.Postgres.DSN
	}
	return "sqlite3", c.Database.SQLite.Path
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("REASONING_PROVIDER"); v != "" {
		cfg.Reasoning.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("REASONING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reasoning.Timeout = d
		}
	}

	// DATABASE_URL selects postgres when it looks like a postgres URL, sqlite path otherwise.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		} else {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = v
		}
	}

	if v := os.Getenv("KNOWLEDGE_BASE_PATH"); v != "" {
		cfg.KnowledgeBase.Path = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
