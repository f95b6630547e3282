package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds shared runtime configuration for the client core and the stub
// server.
type Config struct {
	Env            string        `yaml:"env"`
	LogLevel       string        `yaml:"log_level"`
	APIBaseURL     string        `yaml:"api_base_url"`
	AuthToken      string        `yaml:"auth_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	MaxConcurrent int `yaml:"max_concurrent"`

	RetryMax       int           `yaml:"retry_max"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	CacheBackend       string        `yaml:"cache_backend"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`

	// Stub server settings.
	HTTPPort        string        `yaml:"http_port"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	StubSecret      string        `yaml:"stub_secret"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

func defaults() Config {
	return Config{
		Env:                "dev",
		LogLevel:           "info",
		APIBaseURL:         "http://localhost:8080",
		RequestTimeout:     10 * time.Second,
		MaxConcurrent:      3,
		RetryMax:           3,
		RetryBaseDelay:     500 * time.Millisecond,
		CacheBackend:       CacheMemory,
		CacheTTL:           30 * time.Second,
		CacheSweepInterval: time.Minute,
		RedisAddr:          "localhost:6379",
		PollInterval:       2 * time.Second,
		PollMaxAttempts:    30,
		HTTPPort:           "8080",
		MetricsAddr:        ":9090",
		StubSecret:         "dev-secret",
		RateLimitMax:       50,
		RateLimitWindow:    time.Second,
	}
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return applyEnv(defaults())
}

// LoadFile layers a YAML file over the defaults; any set environment variable
// still wins.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return applyEnv(cfg), nil
}

func applyEnv(c Config) Config {
	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.AuthToken = getEnv("AUTH_TOKEN", c.AuthToken)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxConcurrent = getEnvInt("MAX_CONCURRENT", c.MaxConcurrent)
	c.RetryMax = getEnvInt("RETRY_MAX", c.RetryMax)
	c.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.CacheBackend = getEnv("CACHE_BACKEND", c.CacheBackend)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CacheSweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", c.CacheSweepInterval)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.PollMaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", c.PollMaxAttempts)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.StubSecret = getEnv("STUB_SECRET", c.StubSecret)
	c.RateLimitMax = getEnvInt("RATE_LIMIT_MAX", c.RateLimitMax)
	c.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	return c
}

// Validate rejects configurations the components cannot run with.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry_max must be >= 0, got %d", c.RetryMax)
	}
	if c.CacheBackend != CacheMemory && c.CacheBackend != CacheRedis {
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("poll_max_attempts must be >= 1, got %d", c.PollMaxAttempts)
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", c.APIBaseURL)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
