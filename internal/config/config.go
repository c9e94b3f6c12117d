// Package config loads server settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Durable store drivers.
const (
	DriverPostgres     = "postgres"
	DriverGormPostgres = "gorm-postgres"
	DriverGormSQLite   = "gorm-sqlite"
)

// Cache drivers.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config holds all configuration values for the application.
type Config struct {
	// HTTP server port
	HTTPPort int

	// Durable store
	UseDB               bool
	DatabaseURL         string
	DurableDriver       string
	TableName           string
	CheckAndCreateTable bool

	// Cache
	UseCache      bool
	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CachePrefix   string

	// Job lifecycle
	ErrorTimeout   time.Duration
	BacklogDays    int
	AllBacklogDays int

	// Self-call transport
	SecretKey      string
	UserAgent      string
	ConnectTimeout time.Duration
	HoldOpen       time.Duration
	SelfAddr       string
	TrustProxy     bool

	// Internal endpoints; empty disables them
	SystemSecret string

	// Enqueue rate limit per client; 0 means unlimited
	RateLimit      float64
	RateLimitBurst int

	OTelEndpoint string
	LogLevel     string
}

// keys maps each setting to its environment variable.
var keys = map[string]string{
	"http_port":              "PORT",
	"database_url":           "DATABASE_URL",
	"durable_driver":         "DURABLE_DRIVER",
	"use_db":                 "USE_DB",
	"use_cache":              "USE_CACHE",
	"cache_driver":           "CACHE_DRIVER",
	"redis_addr":             "REDIS_ADDR",
	"redis_password":         "REDIS_PASSWORD",
	"redis_db":               "REDIS_DB",
	"cache_ttl":              "CACHE_TTL",
	"table_name":             "TABLE_NAME",
	"check_and_create_table": "CHECK_AND_CREATE_TABLE",
	"cache_prefix":           "CACHE_PREFIX",
	"user_agent":             "USER_AGENT",
	"error_timeout":          "ERROR_TIMEOUT",
	"backlog_days":           "BACKLOG_DAYS",
	"all_backlog_days":       "ALL_BACKLOG_DAYS",
	"secret_key":             "SECRET_KEY",
	"system_secret":          "SYSTEM_SECRET",
	"connect_timeout":        "CONNECT_TIMEOUT",
	"hold_open":              "HOLD_OPEN",
	"self_addr":              "SELF_ADDR",
	"trust_proxy":            "TRUST_PROXY",
	"rate_limit":             "RATE_LIMIT",
	"rate_limit_burst":       "RATE_LIMIT_BURST",
	"otel_endpoint":          "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":              "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("database_url", "")
	v.SetDefault("durable_driver", DriverPostgres)
	v.SetDefault("use_db", true)
	v.SetDefault("use_cache", true)
	v.SetDefault("cache_driver", CacheRedis)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", "0s")
	v.SetDefault("table_name", "backjob_jobs")
	v.SetDefault("check_and_create_table", false)
	v.SetDefault("cache_prefix", "backjob:")
	v.SetDefault("user_agent", "backjob/1.0")
	v.SetDefault("error_timeout", "120s")
	v.SetDefault("backlog_days", 30)
	v.SetDefault("all_backlog_days", 60)
	v.SetDefault("secret_key", "")
	v.SetDefault("system_secret", "")
	v.SetDefault("connect_timeout", "1s")
	v.SetDefault("hold_open", "1s")
	v.SetDefault("self_addr", "")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. path names a YAML file; when empty, backjob.yaml
// in the working directory is used if present. Environment variables
// override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("backjob")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		HTTPPort:            v.GetInt("http_port"),
		UseDB:               v.GetBool("use_db"),
		DatabaseURL:         v.GetString("database_url"),
		DurableDriver:       strings.ToLower(v.GetString("durable_driver")),
		TableName:           v.GetString("table_name"),
		CheckAndCreateTable: v.GetBool("check_and_create_table"),
		UseCache:            v.GetBool("use_cache"),
		CacheDriver:         strings.ToLower(v.GetString("cache_driver")),
		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		RedisDB:             v.GetInt("redis_db"),
		CachePrefix:         v.GetString("cache_prefix"),
		BacklogDays:         v.GetInt("backlog_days"),
		AllBacklogDays:      v.GetInt("all_backlog_days"),
		SecretKey:           v.GetString("secret_key"),
		UserAgent:           v.GetString("user_agent"),
		SelfAddr:            v.GetString("self_addr"),
		TrustProxy:          v.GetBool("trust_proxy"),
		SystemSecret:        v.GetString("system_secret"),
		RateLimit:           v.GetFloat64("rate_limit"),
		RateLimitBurst:      v.GetInt("rate_limit_burst"),
		OTelEndpoint:        v.GetString("otel_endpoint"),
		LogLevel:            v.GetString("log_level"),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"cache_ttl", &cfg.CacheTTL},
		{"error_timeout", &cfg.ErrorTimeout},
		{"connect_timeout", &cfg.ConnectTimeout},
		{"hold_open", &cfg.HoldOpen},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(v.GetString(d.key)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", keys[d.key], err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("90s", "2m") and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("secret_key is required (env: SECRET_KEY)")
	}
	if !c.UseDB && !c.UseCache {
		return errors.New("at least one of use_db and use_cache must be enabled")
	}
	if c.UseDB {
		switch c.DurableDriver {
		case DriverPostgres, DriverGormPostgres, DriverGormSQLite:
		default:
			return fmt.Errorf("unknown durable_driver %q", c.DurableDriver)
		}
		if c.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}
	}
	if c.UseCache {
		switch c.CacheDriver {
		case CacheRedis, CacheMemory:
		default:
			return fmt.Errorf("unknown cache_driver %q", c.CacheDriver)
		}
	}
	if c.ErrorTimeout <= 0 {
		return errors.New("error_timeout must be positive")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.BacklogDays < 0 || c.AllBacklogDays < 0 {
		return errors.New("backlog_days and all_backlog_days must not be negative")
	}
	return nil
}
