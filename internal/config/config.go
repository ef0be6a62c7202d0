// Package config provides configuration loading for the document converter.
// Supports YAML files, .env files, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxWait      = 300 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Config holds all configuration for the converter.
type Config struct {
	MinerU        MinerUConfig        `yaml:"mineru"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Cache         CacheConfig         `yaml:"cache"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MinerUConfig holds the remote conversion API settings.
type MinerUConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIToken       string        `yaml:"api_token"`
	Enabled        bool          `yaml:"enabled"`
	ModelVersion   string        `yaml:"model_version"`
	Language       string        `yaml:"language"`
	EnableOCR      bool          `yaml:"enable_ocr"`
	EnableFormula  bool          `yaml:"enable_formula"`
	EnableTable    bool          `yaml:"enable_table"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxResultBytes int64         `yaml:"max_result_bytes"`
}

// ConversionConfig holds job wait policy.
type ConversionConfig struct {
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

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

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		MinerU: MinerUConfig{
			BaseURL:        "https://mineru.net",
			Enabled:        true,
			ModelVersion:   "pipeline",
			Language:       "ch",
			EnableOCR:      false,
			EnableFormula:  true,
			EnableTable:    true,
			RequestTimeout: 60 * time.Second,
			MaxRetries:     3,
			MaxResultBytes: 1 << 30,
		},
		Conversion: ConversionConfig{
			MaxWait:      DefaultMaxWait,
			PollInterval: DefaultPollInterval,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        24 * time.Hour,
			MaxEntries: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     DefaultMaxWait + time.Minute,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   200 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Conversion.MaxWait <= 0 {
		return fmt.Errorf("conversion.max_wait must be positive")
	}
	if c.Conversion.PollInterval <= 0 {
		return fmt.Errorf("conversion.poll_interval must be positive")
	}
	if c.MinerU.MaxRetries < 0 {
		return fmt.Errorf("mineru.max_retries must not be negative")
	}
	if c.MinerU.MaxResultBytes <= 0 {
		return fmt.Errorf("mineru.max_result_bytes must be positive")
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must not be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// writeTimeoutMargin leaves room to encode and flush a response once the
// conversion itself has finished or timed out.
const writeTimeoutMargin = 30 * time.Second

// ConversionRequestTimeout bounds one HTTP conversion request: the whole wait
// budget plus one remote request for the result download.
func (c *Config) ConversionRequestTimeout() time.Duration {
	return c.Conversion.MaxWait + c.MinerU.RequestTimeout
}

// EffectiveWriteTimeout returns server.write_timeout, raised when it would cut
// off a conversion that is still inside its budget. Zero means no limit.
func (c *Config) EffectiveWriteTimeout() time.Duration {
	if c.Server.WriteTimeout == 0 {
		return 0
	}
	floor := c.ConversionRequestTimeout() + writeTimeoutMargin
	if c.Server.WriteTimeout < floor {
		return floor
	}
	return c.Server.WriteTimeout
}

// ServiceConfigured reports whether the remote API can be called at all.
func (c *Config) ServiceConfigured() bool {
	return c.MinerU.Enabled && c.MinerU.BaseURL != "" && c.MinerU.APIToken != ""
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINERU_BASE_URL"); v != "" {
		cfg.MinerU.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("MINERU_API_TOKEN"); v != "" {
		cfg.MinerU.APIToken = v
	}

	if v := os.Getenv("MINERU_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinerU.Enabled = b
		}
	}

	if v := os.Getenv("MINERU_MODEL_VERSION"); v != "" {
		cfg.MinerU.ModelVersion = v
	}

	if v := os.Getenv("MINERU_LANGUAGE"); v != "" {
		cfg.MinerU.Language = v
	}

	if d, ok := millisEnv("CONVERSION_MAX_WAIT_MS"); ok {
		cfg.Conversion.MaxWait = d
	}

	if d, ok := millisEnv("CONVERSION_POLL_INTERVAL_MS"); ok {
		cfg.Conversion.PollInterval = d
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func millisEnv(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
