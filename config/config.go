package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional ratio cache)
	Redis RedisConfig

	// Exchange API configuration
	TWSE TWSEConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// Circuit breaker configuration
	Breaker BreakerConfig

	// HTTP configuration
	HTTP HTTPConfig

	// Logging configuration
	Log LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	RatioTTLSeconds int
}

// TWSEConfig holds exchange API configuration
type TWSEConfig struct {
	BaseURL            string
	HTTPTimeoutSeconds int
	RequestIntervalMS  int    // global pause between upstream requests
	RetryBaseDelayMS   int    // base of the exponential backoff
	ReferenceStockID   string // stock probed to decide whether the market was open
}

// PipelineConfig holds pipeline execution configuration
type PipelineConfig struct {
	Workers             int // concurrent per-stock fetches in the price stage
	StockTimeoutSeconds int // bound on one stock's retry loop
	RunTimeoutSeconds   int // bound on a whole pipeline run
	KDLookback          int // sessions read for the stochastic fold
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests     uint32
	IntervalSeconds int
	TimeoutSeconds  int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Production bool
	Level      slog.Level
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:            os.Getenv("REDIS_ADDR"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              getEnvInt("REDIS_DB", 0),
			RatioTTLSeconds: getEnvInt("REDIS_RATIO_TTL_SECONDS", 86400),
		},
		TWSE: TWSEConfig{
			BaseURL:            getEnvString("TWSE_BASE_URL", "https://www.twse.com.tw"),
			HTTPTimeoutSeconds: getEnvInt("TWSE_HTTP_TIMEOUT_SECONDS", 30),
			RequestIntervalMS:  getEnvInt("TWSE_REQUEST_INTERVAL_MS", 2000),
			RetryBaseDelayMS:   getEnvInt("TWSE_RETRY_BASE_DELAY_MS", 5000),
			ReferenceStockID:   getEnvString("TWSE_REFERENCE_STOCK_ID", "2330"),
		},
		Pipeline: PipelineConfig{
			Workers:             getEnvInt("PIPELINE_WORKERS", 1),
			StockTimeoutSeconds: getEnvInt("PIPELINE_STOCK_TIMEOUT_SECONDS", 120),
			RunTimeoutSeconds:   getEnvInt("PIPELINE_RUN_TIMEOUT_SECONDS", 3600),
			KDLookback:          getEnvInt("PIPELINE_KD_LOOKBACK", 29),
		},
		Breaker: BreakerConfig{
			MaxRequests:     uint32(getEnvInt("BREAKER_MAX_REQUESTS", 5)),
			IntervalSeconds: getEnvInt("BREAKER_INTERVAL_SECONDS", 60),
			TimeoutSeconds:  getEnvInt("BREAKER_TIMEOUT_SECONDS", 30),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8000"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
		Log: LogConfig{
			Production: getEnvBool("LOG_PRODUCTION", false),
			Level:      getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TWSE.BaseURL == "" {
		return fmt.Errorf("TWSE_BASE_URL must not be empty")
	}
	if !strings.HasPrefix(c.TWSE.BaseURL, "http://") && !strings.HasPrefix(c.TWSE.BaseURL, "https://") {
		return fmt.Errorf("TWSE_BASE_URL must be an http(s) URL, got %q", c.TWSE.BaseURL)
	}
	if c.TWSE.ReferenceStockID == "" {
		return fmt.Errorf("TWSE_REFERENCE_STOCK_ID must not be empty")
	}

	// Validate positive integers
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.StockTimeoutSeconds <= 0 {
		return fmt.Errorf("PIPELINE_STOCK_TIMEOUT_SECONDS must be positive, got %d", c.Pipeline.StockTimeoutSeconds)
	}
	if c.Pipeline.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("PIPELINE_RUN_TIMEOUT_SECONDS must be positive, got %d", c.Pipeline.RunTimeoutSeconds)
	}
	// the stochastic fold needs at least one full window
	if c.Pipeline.KDLookback < 9 {
		return fmt.Errorf("PIPELINE_KD_LOOKBACK must be at least 9, got %d", c.Pipeline.KDLookback)
	}

	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasRedis returns true if Redis configuration is available
func (c *Config) HasRedis() bool {
	return c.Redis.Addr != ""
}

// RequestInterval returns the global pause between upstream requests
func (c *TWSEConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMS) * time.Millisecond
}

// RetryBaseDelay returns the base delay of the exponential backoff
func (c *TWSEConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// HTTPTimeout returns the per-request HTTP timeout
func (c *TWSEConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// StockTimeout returns the bound on one stock's retry loop
func (c *PipelineConfig) StockTimeout() time.Duration {
	return time.Duration(c.StockTimeoutSeconds) * time.Second
}

// RunTimeout returns the bound on a whole pipeline run
func (c *PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvLevel(key string, defaultValue slog.Level) slog.Level {
	if val := os.Getenv(key); val != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(val)); err == nil {
			return level
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing.
// Delays are shrunk so retry loops finish quickly.
func NewTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "",
		},
		Redis: RedisConfig{
			RatioTTLSeconds: 60,
		},
		TWSE: TWSEConfig{
			BaseURL:            "http://127.0.0.1",
			HTTPTimeoutSeconds: 5,
			RequestIntervalMS:  0,
			RetryBaseDelayMS:   1,
			ReferenceStockID:   "2330",
		},
		Pipeline: PipelineConfig{
			Workers:             1,
			StockTimeoutSeconds: 10,
			RunTimeoutSeconds:   60,
			KDLookback:          29,
		},
		Breaker: BreakerConfig{
			MaxRequests:     5,
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
		},
		HTTP: HTTPConfig{
			Addr:               ":8000",
			CORSAllowedOrigins: "*",
		},
		Log: LogConfig{
			Production: false,
			Level:      slog.LevelInfo,
		},
	}
}
