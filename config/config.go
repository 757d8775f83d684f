// Package config loads the process configuration: a YAML file overlaid
// with environment variables (DART_*, LLM_*, REDIS_ADDR).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the server and CLI need.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Dart   DartConfig   `mapstructure:"dart"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Search SearchConfig `mapstructure:"search"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// DartConfig covers the filing API: credentials, quotas and fetch tuning.
type DartConfig struct {
	APIKey            string `mapstructure:"api_key"`
	APIRateLimit      int    `mapstructure:"api_rate_limit"` // calls per day
	BurstPerSecond    int    `mapstructure:"burst_per_second"`
	ParallelDownloads int    `mapstructure:"parallel_downloads"`
	ParseTimeoutMS    int    `mapstructure:"parse_timeout_ms"`
	CachePath         string `mapstructure:"cache_path"`
	DownloadPath      string `mapstructure:"download_path"`
	ViewerEnabled     bool   `mapstructure:"viewer_enabled"`
}

func (d DartConfig) ParseTimeout() time.Duration {
	return time.Duration(d.ParseTimeoutMS) * time.Millisecond
}

type LLMConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	FilterLLM bool          `mapstructure:"filter_llm"` // false selects the rule filter
}

type CacheConfig struct {
	MaxBytes  int    `mapstructure:"max_bytes"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

type SearchConfig struct {
	MaxSearchResults int `mapstructure:"max_search_results"`
	MaxAttempts      int `mapstructure:"max_attempts"`
}

func (c *Config) Validate() error {
	if c.Dart.APIKey == "" {
		return errors.New("dart.api_key (DART_API_KEY) is required")
	}
	if c.Search.MaxSearchResults < 1 || c.Search.MaxSearchResults > 100 {
		return fmt.Errorf("search.max_search_results must be 1..100, got %d", c.Search.MaxSearchResults)
	}
	return nil
}

// Load reads the optional config file at path (searched in ./config and
// the working directory when empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("server.address", ":8090")
	v.SetDefault("dart.api_rate_limit", 1000)
	v.SetDefault("dart.burst_per_second", 5)
	v.SetDefault("dart.parallel_downloads", 3)
	v.SetDefault("dart.parse_timeout_ms", 30000)
	v.SetDefault("dart.viewer_enabled", true)
	v.SetDefault("llm.timeout", time.Minute)
	v.SetDefault("llm.filter_llm", true)
	v.SetDefault("cache.max_bytes", 512<<20)
	v.SetDefault("search.max_search_results", 100)
	v.SetDefault("search.max_attempts", 3)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// flat legacy names take precedence over the section-derived ones
	bind := map[string]string{
		"dart.api_key":              "DART_API_KEY",
		"dart.api_rate_limit":       "DART_API_RATE_LIMIT",
		"dart.parallel_downloads":   "DART_PARALLEL_DOWNLOADS",
		"dart.parse_timeout_ms":     "DART_PARSE_TIMEOUT_MS",
		"dart.cache_path":           "DART_CACHE_PATH",
		"dart.download_path":        "DART_DOWNLOAD_PATH",
		"search.max_search_results": "DART_MAX_SEARCH_RESULTS",
		"llm.api_key":               "LLM_API_KEY",
		"llm.model":                 "LLM_MODEL",
		"llm.base_url":              "LLM_BASE_URL",
		"cache.redis_addr":          "REDIS_ADDR",
		"server.address":            "SERVER_ADDRESS",
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
