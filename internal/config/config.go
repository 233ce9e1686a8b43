// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	DBURL        string `mapstructure:"DB_URL"`
	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL string `mapstructure:"GITHUB_API_URL"`
	HTTPAddr     string `mapstructure:"HTTP_ADDR"`

	// Crawl tuning knobs.
	TargetRepoCount   int           `mapstructure:"TARGET_REPO_COUNT"`
	SearchResultLimit int           `mapstructure:"SEARCH_RESULT_LIMIT"`
	Concurrency       int           `mapstructure:"CONCURRENCY"`
	PageSize          int           `mapstructure:"PAGE_SIZE"`
	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	QueueSize         int           `mapstructure:"QUEUE_SIZE"`
	MaxRetries        int           `mapstructure:"MAX_RETRIES"`
	BackoffInitial    time.Duration `mapstructure:"BACKOFF_INITIAL"`
	BackoffMax        time.Duration `mapstructure:"BACKOFF_MAX"`
	RequestsPerSecond float64       `mapstructure:"REQUESTS_PER_SECOND"`

	RangeStartDate string    `mapstructure:"RANGE_START"`
	RangeStart     time.Time `mapstructure:"-"`
}

// LoadConfig reads configuration from a .env file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values. Keys without a meaningful default still need one
	// registered or Unmarshal will not see their environment variables.
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_URL", "")
	viper.SetDefault("GITHUB_TOKEN", "")
	viper.SetDefault("GITHUB_API_URL", "")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("TARGET_REPO_COUNT", 100000)
	viper.SetDefault("SEARCH_RESULT_LIMIT", 1000)
	viper.SetDefault("CONCURRENCY", 12)
	viper.SetDefault("PAGE_SIZE", 100)
	viper.SetDefault("BATCH_SIZE", 500)
	viper.SetDefault("QUEUE_SIZE", 2000)
	viper.SetDefault("MAX_RETRIES", 6)
	viper.SetDefault("BACKOFF_INITIAL", "1s")
	viper.SetDefault("BACKOFF_MAX", "30s")
	viper.SetDefault("REQUESTS_PER_SECOND", 0.0)
	viper.SetDefault("RANGE_START", "2008-01-01T00:00:00Z")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339, cfg.RangeStartDate)
	if err != nil {
		return nil, errors.New("RANGE_START must be in RFC3339 format (e.g. 2008-01-01T00:00:00Z)")
	}
	cfg.RangeStart = parsed.UTC()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.TargetRepoCount <= 0 {
		return fmt.Errorf("TARGET_REPO_COUNT must be > 0, got %d", c.TargetRepoCount)
	}
	if c.SearchResultLimit <= 0 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be > 0, got %d", c.SearchResultLimit)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("CONCURRENCY must be > 0, got %d", c.Concurrency)
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 100, got %d", c.PageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be > 0, got %d", c.BatchSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be > 0, got %d", c.QueueSize)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be > 0, got %d", c.MaxRetries)
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return errors.New("BACKOFF_INITIAL must be > 0 and BACKOFF_MAX must be >= BACKOFF_INITIAL")
	}
	return nil
}
