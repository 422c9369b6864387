package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the TuneHub server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Paths    PathsConfig
	Jobs     JobsConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// PathsConfig locates the on-disk working areas: the model artifact cache,
// materialized datasets, and training outputs.
type PathsConfig struct {
	ModelCacheDir string
	DatasetDir    string
	OutputDir     string
}

type JobsConfig struct {
	MaxConcurrentDownloads int
	StatusCacheTTL         time.Duration
	RateLimitPerMinute     int
}

type EngineConfig struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
}

var validEngineModes = map[string]bool{
	"http":      true,
	"simulated": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	home, _ := os.UserHomeDir()
	defaultCache := filepath.Join(home, ".cache", "tunehub", "models")

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TUNEHUB_PORT", 8080),
			Env:  envString("TUNEHUB_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Paths: PathsConfig{
			ModelCacheDir: envString("MODEL_CACHE_DIR", defaultCache),
			DatasetDir:    envString("DATASET_DIR", "data/datasets"),
			OutputDir:     envString("OUTPUT_DIR", "outputs"),
		},
		Jobs: JobsConfig{
			MaxConcurrentDownloads: envInt("MAX_CONCURRENT_DOWNLOADS", 3),
			StatusCacheTTL:         envDuration("JOB_STATUS_CACHE_TTL", 30*time.Minute),
			RateLimitPerMinute:     envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Engine: EngineConfig{
			Mode:    envString("ENGINE_MODE", "http"),
			BaseURL: envString("ENGINE_BASE_URL", "http://localhost:8500"),
			Timeout: envDuration("ENGINE_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validEngineModes[c.Engine.Mode] {
		return fmt.Errorf("ENGINE_MODE must be one of http, simulated; got %q", c.Engine.Mode)
	}
	if c.Engine.Mode == "http" {
		if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
			return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
		}
	}

	if c.Jobs.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got %d", c.Jobs.MaxConcurrentDownloads)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
