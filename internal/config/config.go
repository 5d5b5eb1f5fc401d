// Package config handles loading and validating Chimera configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level Chimera configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Database  DatabaseConfig  `yaml:"database"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Limits    LimitsConfig    `yaml:"limits"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver          string   `yaml:"driver"` // "sqlite" or "postgres"
	Path            string   `yaml:"path"`   // sqlite only
	DSN             string   `yaml:"dsn"`    // postgres only
	MaxOpenConns    int      `yaml:"max_open_conns"`
	AnalyzeInterval Duration `yaml:"analyze_interval"` // planner statistics refresh
}

// CatalogConfig points at the field catalog document of each index.
type CatalogConfig struct {
	Inventory          string   `yaml:"inventory"`
	BusinessContinuity string   `yaml:"businesscontinuity"`
	CheckInterval      Duration `yaml:"check_interval"`
}

// LimitsConfig holds the query engine caps and delivery thresholds.
type LimitsConfig struct {
	MaxResults              int      `yaml:"max_results"`
	MaxFilterFields         int      `yaml:"max_filter_fields"`
	MaxFilterValuesPerField int      `yaml:"max_filter_values_per_field"`
	StreamingThreshold      int      `yaml:"streaming_threshold"`
	StreamingChunkSize      int      `yaml:"streaming_chunk_size"`
	PageSize                int      `yaml:"page_size"`
	MaxPageSize             int      `yaml:"max_page_size"`
	MaxConcurrentStreams    int      `yaml:"max_concurrent_streams"`
	RequestTimeout          Duration `yaml:"request_timeout"`
}

// RateLimitConfig throttles API requests per client address. A zero rate
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CacheConfig configures the distinct-value cache behind the introspection
// endpoint. When RedisURL is set the cache is shared through Redis.
type CacheConfig struct {
	TTL      Duration `yaml:"ttl"`
	Size     int      `yaml:"size"`
	RedisURL string   `yaml:"redis_url"`
}

// ServerConfig holds HTTP server timeouts. WriteTimeout defaults to zero so
// long streams are bounded by the request deadline instead.
type ServerConfig struct {
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. If no path is given, defaults
// and environment variables are used. If a path is given and the file does
// not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q (expected sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 2 {
		return fmt.Errorf("database.max_open_conns must be >= 2")
	}
	if c.Database.AnalyzeInterval.Duration <= 0 {
		return fmt.Errorf("database.analyze_interval must be > 0")
	}

	if c.Catalog.Inventory == "" {
		return fmt.Errorf("catalog.inventory is required")
	}
	if c.Catalog.BusinessContinuity == "" {
		return fmt.Errorf("catalog.businesscontinuity is required")
	}
	if c.Catalog.CheckInterval.Duration <= 0 {
		return fmt.Errorf("catalog.check_interval must be > 0")
	}

	l := c.Limits
	positive := []struct {
		name string
		v    int
	}{
		{"max_results", l.MaxResults},
		{"max_filter_fields", l.MaxFilterFields},
		{"max_filter_values_per_field", l.MaxFilterValuesPerField},
		{"streaming_threshold", l.StreamingThreshold},
		{"streaming_chunk_size", l.StreamingChunkSize},
		{"page_size", l.PageSize},
		{"max_page_size", l.MaxPageSize},
		{"max_concurrent_streams", l.MaxConcurrentStreams},
	}
	for _, p := range positive {
		if p.v < 1 {
			return fmt.Errorf("limits.%s must be >= 1", p.name)
		}
	}
	if l.StreamingThreshold >= l.MaxResults {
		return fmt.Errorf("limits.streaming_threshold must be < limits.max_results")
	}
	if l.PageSize > l.MaxPageSize {
		return fmt.Errorf("limits.page_size must be <= limits.max_page_size")
	}
	if l.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("limits.request_timeout must be > 0")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be >= 1 when rate limiting is enabled")
	}

	if c.Cache.TTL.Duration <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be >= 1")
	}
	if c.Cache.RedisURL != "" {
		if _, err := url.Parse(c.Cache.RedisURL); err != nil {
			return fmt.Errorf("cache.redis_url: invalid URL: %w", err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Listen:    ":8000",
		LogLevel:  "info",
		LogFormat: "text",
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "/data/chimera.db",
			MaxOpenConns:    16,
			AnalyzeInterval: Duration{6 * time.Hour},
		},
		Catalog: CatalogConfig{
			Inventory:          "catalog/inventory.json",
			BusinessContinuity: "catalog/businesscontinuity.json",
			CheckInterval:      Duration{5 * time.Second},
		},
		Limits: LimitsConfig{
			MaxResults:              2000000,
			MaxFilterFields:         15,
			MaxFilterValuesPerField: 15000,
			StreamingThreshold:      200,
			StreamingChunkSize:      10000,
			PageSize:                100,
			MaxPageSize:             200,
			MaxConcurrentStreams:    8,
			RequestTimeout:          Duration{10 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Cache: CacheConfig{
			TTL:  Duration{time.Hour},
			Size: 256,
		},
		Server: ServerConfig{
			ReadTimeout: Duration{30 * time.Second},
			IdleTimeout: Duration{2 * time.Minute},
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	strs := []struct {
		env string
		dst *string
	}{
		{"CHIMERA_LISTEN", &cfg.Listen},
		{"CHIMERA_LOG_LEVEL", &cfg.LogLevel},
		{"CHIMERA_LOG_FORMAT", &cfg.LogFormat},
		{"CHIMERA_DB_DRIVER", &cfg.Database.Driver},
		{"CHIMERA_DB_PATH", &cfg.Database.Path},
		{"CHIMERA_DB_DSN", &cfg.Database.DSN},
		{"CHIMERA_CATALOG_INVENTORY", &cfg.Catalog.Inventory},
		{"CHIMERA_CATALOG_BUSINESSCONTINUITY", &cfg.Catalog.BusinessContinuity},
		{"CHIMERA_REDIS_URL", &cfg.Cache.RedisURL},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	// Malformed integers are ignored and the configured value kept.
	ints := []struct {
		env string
		dst *int
	}{
		{"CHIMERA_MAX_RESULTS", &cfg.Limits.MaxResults},
		{"CHIMERA_MAX_FILTER_FIELDS", &cfg.Limits.MaxFilterFields},
		{"CHIMERA_MAX_FILTER_VALUES_PER_FIELD", &cfg.Limits.MaxFilterValuesPerField},
		{"CHIMERA_STREAMING_THRESHOLD", &cfg.Limits.StreamingThreshold},
		{"CHIMERA_STREAMING_CHUNK_SIZE", &cfg.Limits.StreamingChunkSize},
	}
	for _, i := range ints {
		if v := os.Getenv(i.env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*i.dst = n
			}
		}
	}
}
