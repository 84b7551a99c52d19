package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Budget reset mode constants. The source-of-truth counters are reset either at
// the UTC calendar-day boundary or on a rolling 24h window from the last reset.
const (
	ResetModeCalendar = "calendar"
	ResetModeRolling  = "rolling"
)

// Config represents the flat warden configuration
type Config struct {
	Version string `json:"version"`

	// Actor is the default resolver identity recorded on approvals
	// when none is supplied on the command line.
	Actor string `json:"actor,omitempty"`

	// Approval timeouts in minutes, per request kind.
	PreExecutionTimeoutMin int `json:"pre_execution_timeout_min,omitempty"` // default 30
	ResponseTimeoutMin     int `json:"response_timeout_min,omitempty"`      // default 15

	// SweepIntervalSec is the background expiry sweep interval. Capped at 60.
	SweepIntervalSec int `json:"sweep_interval_sec,omitempty"` // default 30

	// BudgetResetMode is "calendar" (UTC day boundary) or "rolling" (24h
	// window from last reset). See DESIGN.md for the rationale.
	BudgetResetMode string `json:"budget_reset_mode,omitempty"`

	// Default limits applied when a budget counter is lazily created.
	DefaultDailyTokenLimit   int64 `json:"default_daily_token_limit,omitempty"`   // default 100000
	DefaultDailyCostMicros   int64 `json:"default_daily_cost_micros,omitempty"`   // default $25.00
	DefaultSessionTokenLimit int64 `json:"default_session_token_limit,omitempty"` // default 20000

	// Error-rate emergency condition: trip when more than
	// ErrorRatePercent of the last ErrorWindowSize attempts failed.
	ErrorWindowSize  int `json:"error_window_size,omitempty"`  // default 10
	ErrorRatePercent int `json:"error_rate_percent,omitempty"` // default 50
}

// LoadConfig reads .warden/config.json from the specified directory.
// Resolution order: cwd only (no home fallback).
// Returns error if no config found - caller should handle accordingly.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, ".warden", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes config.json to directory
func SaveConfig(dir string, cfg *Config) error {
	wardenDir := filepath.Join(dir, ".warden")
	if err := os.MkdirAll(wardenDir, 0755); err != nil {
		return fmt.Errorf("failed to create .warden dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(wardenDir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Default returns a config populated with every default value.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
// Safe to call on a freshly unmarshalled config.
func (c *Config) ApplyDefaults() {
	if c.Actor == "" {
		c.Actor = "operator"
	}
	if c.PreExecutionTimeoutMin <= 0 {
		c.PreExecutionTimeoutMin = 30
	}
	if c.ResponseTimeoutMin <= 0 {
		c.ResponseTimeoutMin = 15
	}
	if c.SweepIntervalSec <= 0 || c.SweepIntervalSec > 60 {
		c.SweepIntervalSec = 30
	}
	if c.BudgetResetMode != ResetModeRolling {
		c.BudgetResetMode = ResetModeCalendar
	}
	if c.DefaultDailyTokenLimit <= 0 {
		c.DefaultDailyTokenLimit = 100000
	}
	if c.DefaultDailyCostMicros <= 0 {
		c.DefaultDailyCostMicros = 25_000_000 // $25.00
	}
	if c.DefaultSessionTokenLimit <= 0 {
		c.DefaultSessionTokenLimit = 20000
	}
	if c.ErrorWindowSize <= 0 {
		c.ErrorWindowSize = 10
	}
	if c.ErrorRatePercent <= 0 || c.ErrorRatePercent > 100 {
		c.ErrorRatePercent = 50
	}
}

// PreExecutionTimeout returns the pre-execution approval timeout as a duration.
func (c *Config) PreExecutionTimeout() time.Duration {
	return time.Duration(c.PreExecutionTimeoutMin) * time.Minute
}

// ResponseTimeout returns the response approval timeout as a duration.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMin) * time.Minute
}

// SweepInterval returns the expiry sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}
