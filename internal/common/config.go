package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultConfigPath is where the orchestrator looks for its configuration
// when no path is given on the command line.
const DefaultConfigPath = "batch/config/batch_config.json"

// Config represents the application configuration. Persisted as a single
// JSON document; a missing file writes defaults back to disk.
type Config struct {
	Batch     BatchConfig               `json:"batch"`
	Browser   BrowserConfig             `json:"browser"`
	Logging   LoggingConfig             `json:"logging"`
	Accounts  AccountsConfig            `json:"accounts"`
	History   HistoryConfig             `json:"history"`
	Scenarios map[string]ScenarioConfig `json:"scenarios,omitempty"`
}

// BatchConfig controls the batch manager and chunked executor.
type BatchConfig struct {
	MaxWorkers        int     `json:"max_workers" validate:"min=1"`         // concurrent task unit cap
	DefaultQuantity   int     `json:"default_quantity" validate:"min=0"`    // quantity when the request omits one
	RetryCount        int     `json:"retry_count" validate:"min=0"`         // informational; the executor retries once inline per chunk
	DelayBetweenTasks float64 `json:"delay_between_tasks" validate:"min=0"` // seconds between task submissions
	ProductLimit      int     `json:"product_limit" validate:"min=0"`       // per-task product ceiling
	SubOpLimit        int     `json:"sub_op_limit" validate:"min=0"`        // per-task sub-operation ceiling
}

// BrowserConfig controls driver construction.
type BrowserConfig struct {
	Headless   bool   `json:"headless"`
	WindowSize [2]int `json:"window_size"`
	Timeout    int    `json:"timeout" validate:"min=1"` // driver creation watchdog, seconds
}

// LoggingConfig controls the arbor logger.
type LoggingConfig struct {
	Level string `json:"level" validate:"oneof=debug info warn error"`
	File  string `json:"file"`
}

// AccountsConfig locates the account spreadsheet.
type AccountsConfig struct {
	File         string `json:"file"`
	MappingSheet string `json:"mapping_sheet"`
}

// HistoryConfig locates the cross-session batch-result store.
type HistoryConfig struct {
	Path string `json:"path"`
}

// ScenarioConfig is a named preset request runnable via the scenario verb.
type ScenarioConfig struct {
	Step       int      `json:"step"`
	Accounts   []string `json:"accounts"`
	Quantity   int      `json:"quantity"`
	Concurrent bool     `json:"concurrent"`
	Interval   float64  `json:"interval"`
	ChunkSize  int      `json:"chunk_size"`
	Schedule   string   `json:"schedule,omitempty"` // cron expression; empty = run once
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			MaxWorkers:        4,
			DefaultQuantity:   100,
			RetryCount:        3,
			DelayBetweenTasks: 1.0,
			ProductLimit:      20,
			SubOpLimit:        2000,
		},
		Browser: BrowserConfig{
			Headless:   true,
			WindowSize: [2]int{1920, 1080},
			Timeout:    30,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/sellerbatch.log",
		},
		Accounts: AccountsConfig{
			File:         "seller_accounts.xlsx",
			MappingSheet: "login_id",
		},
		History: HistoryConfig{
			Path: "./data/history",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// A missing file is not fatal: defaults are written back to the path so the
// operator has something to edit. A malformed file falls back to defaults
// and returns the parse error alongside the usable config for logging.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	config := NewDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if writeErr := config.Save(path); writeErr != nil {
			applyEnvOverrides(config)
			return config, fmt.Errorf("config file %s missing and defaults could not be written: %w", path, writeErr)
		}
	case err != nil:
		applyEnvOverrides(config)
		return config, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if parseErr := json.Unmarshal(data, config); parseErr != nil {
			config = NewDefaultConfig()
			applyEnvOverrides(config)
			return config, fmt.Errorf("failed to parse config file %s: %w", path, parseErr)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return NewDefaultConfig(), fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

// Save writes the configuration as indented JSON, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Browser.WindowSize[0] <= 0 || c.Browser.WindowSize[1] <= 0 {
		return fmt.Errorf("browser.window_size must be two positive integers, got %v", c.Browser.WindowSize)
	}
	return nil
}

// BrowserTimeout returns the driver creation watchdog as a duration.
func (c *Config) BrowserTimeout() time.Duration {
	return time.Duration(c.Browser.Timeout) * time.Second
}

// TaskDelay returns the configured pause between task submissions.
func (c *Config) TaskDelay() time.Duration {
	return time.Duration(c.Batch.DelayBetweenTasks * float64(time.Second))
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if workers := os.Getenv("SELLERBATCH_MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Batch.MaxWorkers = w
		}
	}
	if quantity := os.Getenv("SELLERBATCH_DEFAULT_QUANTITY"); quantity != "" {
		if q, err := strconv.Atoi(quantity); err == nil {
			config.Batch.DefaultQuantity = q
		}
	}
	if delay := os.Getenv("SELLERBATCH_DELAY_BETWEEN_TASKS"); delay != "" {
		if d, err := strconv.ParseFloat(delay, 64); err == nil {
			config.Batch.DelayBetweenTasks = d
		}
	}
	if headless := os.Getenv("SELLERBATCH_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if timeout := os.Getenv("SELLERBATCH_BROWSER_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.Browser.Timeout = t
		}
	}
	if level := os.Getenv("SELLERBATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if file := os.Getenv("SELLERBATCH_LOG_FILE"); file != "" {
		config.Logging.File = file
	}
	if accounts := os.Getenv("SELLERBATCH_ACCOUNTS_FILE"); accounts != "" {
		config.Accounts.File = accounts
	}
	if history := os.Getenv("SELLERBATCH_HISTORY_PATH"); history != "" {
		config.History.Path = history
	}
}
