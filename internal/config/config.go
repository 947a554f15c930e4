// Package config loads the engine settings used by the recalc command.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vogtb/go-recalc/packages/spreadsheet"
	"gopkg.in/yaml.v3"
)

// Config holds engine and logging settings
type Config struct {
	// LogLevel is one of debug, info, warn or error
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json
	LogFormat string `yaml:"log_format"`
	// MaxEvaluationDepth bounds nested evaluation inside a circular group
	MaxEvaluationDepth int `yaml:"max_evaluation_depth"`
	// Sheets are created in order when a workbook is built; the first is
	// the default for unqualified addresses
	Sheets []string `yaml:"sheets"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		MaxEvaluationDepth: spreadsheet.DefaultMaxEvaluationDepth,
		Sheets:             []string{"Sheet1"},
	}
}

// Load returns the defaults with environment overrides applied
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults, then applies
// environment overrides
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RECALC_* environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("RECALC_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("RECALC_LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("RECALC_MAX_DEPTH"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse RECALC_MAX_DEPTH %q: %w", v, err)
		}
		c.MaxEvaluationDepth = depth
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.MaxEvaluationDepth <= 0 {
		return fmt.Errorf("max_evaluation_depth must be positive")
	}
	if len(c.Sheets) == 0 {
		return fmt.Errorf("at least one sheet is required")
	}
	seen := make(map[string]bool, len(c.Sheets))
	for _, name := range c.Sheets {
		if name == "" {
			return fmt.Errorf("sheet names must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate sheet %q", name)
		}
		seen[name] = true
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
}

// Logger builds a slog.Logger writing to w in the configured format
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// EngineOptions returns the engine options this configuration implies
func (c *Config) EngineOptions(logger *slog.Logger) []spreadsheet.Option {
	return []spreadsheet.Option{
		spreadsheet.WithLogger(logger),
		spreadsheet.WithMaxEvaluationDepth(c.MaxEvaluationDepth),
	}
}

// NewWorkbook builds a workbook with the configured sheets and engine
// options
func (c *Config) NewWorkbook(logger *slog.Logger, opts ...spreadsheet.WorkbookOption) (*spreadsheet.Workbook, error) {
	opts = append(opts, spreadsheet.WithEngineOptions(c.EngineOptions(logger)...))
	wb := spreadsheet.NewWorkbook(opts...)
	for _, name := range c.Sheets {
		if err := wb.AddSheet(name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}
	return wb, nil
}
