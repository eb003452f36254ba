package config

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Extract ExtractConfig
	DuckDB  DuckDBConfig
	OMDb    OMDbConfig    `mapstructure:"omdb"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Env     string
}

type ExtractConfig struct {
	Backoff BackoffConfig
}

// BackoffConfig bounds both the HTTP client retries and the per-row
// transient retries of the enrichment pass. RetryMax is the number of
// transient failures after which a movie is marked failed.
type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
	HTTPRetryMax int           `mapstructure:"http_retry_max"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type DuckDBConfig struct {
	Path              string   `mapstructure:"path"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
}

type OMDbConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxRateLimitWaits int           `mapstructure:"max_rate_limit_waits"`
}

type EnrichConfig struct {
	BatchSize        int  `mapstructure:"batch_size"`
	Workers          int  `mapstructure:"workers"`
	OnlyRated        bool `mapstructure:"only_rated"`
	MaxStorageErrors int  `mapstructure:"max_storage_errors"`
	ProgressEvery    int  `mapstructure:"progress_every"`
}

type CacheConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extract.backoff.retry_wait_min", time.Second)
	v.SetDefault("extract.backoff.retry_wait_max", 30*time.Second)
	v.SetDefault("extract.backoff.retry_max", 3)
	v.SetDefault("extract.backoff.http_retry_max", 0)
	v.SetDefault("extract.backoff.timeout", 10*time.Second)
	v.SetDefault("omdb.base_url", "https://www.omdbapi.com/")
	v.SetDefault("omdb.requests_per_second", 5.0)
	v.SetDefault("omdb.burst", 1)
	v.SetDefault("omdb.cooldown", time.Minute)
	v.SetDefault("omdb.max_rate_limit_waits", 5)
	v.SetDefault("enrich.batch_size", 500)
	v.SetDefault("enrich.workers", 1)
	v.SetDefault("enrich.only_rated", false)
	v.SetDefault("enrich.max_storage_errors", 3)
	v.SetDefault("enrich.progress_every", 20)
	v.SetDefault("log.level", "info")
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" { // Use the provided 'env' or default to "dev"
		env = "dev"
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	// Read the base configuration
	if err := v.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := v.MergeConfig(envConfigReader); err != nil {
			log.Printf("Error merging environment-specific config: %s", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.Env = env

	return &config, nil
}
