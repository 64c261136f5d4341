package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the stable runtime knobs shared by all scrapers. Per-run
// options (category, force flags, concurrency override) come from the
// command line.
type Config struct {
	DataDir           string  `json:"data_dir"`
	CookieFile        string  `json:"cookie_file"`
	UserAgent         string  `json:"user_agent"`
	Concurrency       int     `json:"concurrency"`
	RequestTimeoutMs  int     `json:"request_timeout_ms"`
	RetryAttempts     int     `json:"retry_attempts"`
	RetryDelayMs      int     `json:"retry_delay_ms"`
	RetryMultiplier   float64 `json:"retry_multiplier"`
	CategoryPageLimit int     `json:"category_page_limit"`
	MetricsPath       string  `json:"metrics_path"`
}

// LoadConfig reads and validates configuration from a JSON file. A missing
// file yields pure defaults so the tool runs without any setup.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	} else {
		defer file.Close()
		decoder := json.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.CookieFile == "" {
		cfg.CookieFile = "cookies.json"
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 30000
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 500
	}
	if cfg.RetryMultiplier == 0 {
		cfg.RetryMultiplier = 2
	}
	if cfg.CategoryPageLimit == 0 {
		cfg.CategoryPageLimit = 322
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.log"
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	if cfg.RetryMultiplier < 1 {
		return fmt.Errorf("retry_multiplier must be >= 1")
	}
	if cfg.CategoryPageLimit < 1 {
		return fmt.Errorf("category_page_limit must be >= 1")
	}
	return nil
}
