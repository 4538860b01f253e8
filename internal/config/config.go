// Package config loads feedctl configuration from a YAML file, FEED_
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/logging"
	"github.com/Sternrassler/message-feed-client/pkg/messages"
	"github.com/Sternrassler/message-feed-client/pkg/pagination"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FEED_API_BASE_URL.
const EnvPrefix = "FEED"

// Config holds all application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Collector CollectorConfig `mapstructure:"collector"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// APIConfig holds the message API connection settings
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig holds transport retry settings
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// RedisConfig enables the response cache and error budget when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoaderConfig holds message loader settings
type LoaderConfig struct {
	PageSize            int              `mapstructure:"page_size"`
	NoConnectionMessage string           `mapstructure:"no_connection_message"`
	EmptyRetry          EmptyRetryConfig `mapstructure:"empty_retry"`
}

// EmptyRetryConfig controls how responses without data are retried.
// MaxRetries 0 retries without limit; Interval 0 retries immediately.
type EmptyRetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Interval   time.Duration `mapstructure:"interval"`
}

// CollectorConfig holds bulk export settings
type CollectorConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig holds the metrics listener; empty disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	retry := client.DefaultRetryConfig()
	collector := pagination.DefaultConfig()

	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8080",
			UserAgent:      "feedctl/dev",
			Timeout:        30 * time.Second,
			ErrorThreshold: 5,
			Retry: RetryConfig{
				MaxAttempts:    retry.MaxAttempts,
				InitialBackoff: retry.InitialBackoff,
				MaxBackoff:     retry.MaxBackoff,
				Multiplier:     retry.BackoffMultiplier,
			},
		},
		Loader: LoaderConfig{
			PageSize:            messages.PageSize,
			NoConnectionMessage: messages.DefaultNoConnectionMessage,
		},
		Collector: CollectorConfig{
			Concurrency: collector.MaxConcurrency,
			Timeout:     collector.Timeout,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "feedctl")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "feedctl")
	}
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"base-url":     "api.base_url",
	"log-level":    "logging.level",
	"pretty":       "logging.pretty",
	"redis-addr":   "redis.addr",
	"metrics-addr": "metrics.addr",
}

// Load reads configuration. path names a config file; when empty
// config.yaml is looked up in the user config directory and the working
// directory, and a missing file is not an error. Environment variables
// override the file and flags that were set override both. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// keys the file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.error_threshold", d.API.ErrorThreshold)
	v.SetDefault("api.retry.max_attempts", d.API.Retry.MaxAttempts)
	v.SetDefault("api.retry.initial_backoff", d.API.Retry.InitialBackoff)
	v.SetDefault("api.retry.max_backoff", d.API.Retry.MaxBackoff)
	v.SetDefault("api.retry.multiplier", d.API.Retry.Multiplier)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("loader.page_size", d.Loader.PageSize)
	v.SetDefault("loader.no_connection_message", d.Loader.NoConnectionMessage)
	v.SetDefault("loader.empty_retry.max_retries", d.Loader.EmptyRetry.MaxRetries)
	v.SetDefault("loader.empty_retry.interval", d.Loader.EmptyRetry.Interval)
	v.SetDefault("collector.concurrency", d.Collector.Concurrency)
	v.SetDefault("collector.timeout", d.Collector.Timeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Validate checks values the client constructor does not.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Loader.PageSize <= 0 {
		return fmt.Errorf("loader.page_size must be > 0 (got %d)", c.Loader.PageSize)
	}
	if c.Loader.EmptyRetry.MaxRetries < 0 {
		return fmt.Errorf("loader.empty_retry.max_retries must be >= 0 (got %d)", c.Loader.EmptyRetry.MaxRetries)
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("collector.concurrency must be > 0 (got %d)", c.Collector.Concurrency)
	}
	return nil
}

// ClientConfig builds the transport configuration. redisClient may be nil.
func (c *Config) ClientConfig(redisClient *redis.Client) client.Config {
	return client.Config{
		BaseURL:        c.API.BaseURL,
		Redis:          redisClient,
		UserAgent:      c.API.UserAgent,
		Timeout:        c.API.Timeout,
		ErrorThreshold: c.API.ErrorThreshold,
		Retry: client.RetryConfig{
			MaxAttempts:       c.API.Retry.MaxAttempts,
			InitialBackoff:    c.API.Retry.InitialBackoff,
			MaxBackoff:        c.API.Retry.MaxBackoff,
			BackoffMultiplier: c.API.Retry.Multiplier,
		},
	}
}

// RedisOptions returns connection options, or nil when Redis is disabled.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// LoaderOptions translates the loader section into loader options.
func (c *Config) LoaderOptions() []messages.Option {
	opts := []messages.Option{
		messages.WithPageSize(c.Loader.PageSize),
		messages.WithNoConnectionMessage(c.Loader.NoConnectionMessage),
	}

	er := c.Loader.EmptyRetry
	if er.MaxRetries > 0 || er.Interval > 0 {
		opts = append(opts, messages.WithEmptyRetry(func() backoff.BackOff {
			var b backoff.BackOff = &backoff.ZeroBackOff{}
			if er.Interval > 0 {
				b = backoff.NewConstantBackOff(er.Interval)
			}
			if er.MaxRetries > 0 {
				b = backoff.WithMaxRetries(b, uint64(er.MaxRetries))
			}
			return b
		}))
	}
	return opts
}

// PaginationConfig builds the bulk collector configuration.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		MaxConcurrency: c.Collector.Concurrency,
		PageSize:       c.Loader.PageSize,
		Timeout:        c.Collector.Timeout,
	}
}

// LoggerConfig builds the logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:  level,
		Pretty: c.Logging.Pretty,
		Output: os.Stderr,
	}
}
