package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogtb/go-recalc/packages/spreadsheet"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, spreadsheet.DefaultMaxEvaluationDepth, cfg.MaxEvaluationDepth)
	assert.Equal(t, []string{"Sheet1"}, cfg.Sheets)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero depth", func(c *Config) { c.MaxEvaluationDepth = 0 }, "max_evaluation_depth"},
		{"no sheets", func(c *Config) { c.Sheets = nil }, "at least one sheet"},
		{"empty sheet", func(c *Config) { c.Sheets = []string{""} }, "must not be empty"},
		{"duplicate sheet", func(c *Config) { c.Sheets = []string{"A", "B", "A"} }, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recalc.yaml")
	content := `
log_level: debug
log_format: json
sheets:
  - Inputs
  - Totals
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"Inputs", "Totals"}, cfg.Sheets)
	// unset keys keep their defaults
	assert.Equal(t, spreadsheet.DefaultMaxEvaluationDepth, cfg.MaxEvaluationDepth)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("sheets: [unclosed"), 0o644))
	_, err = LoadFromFile(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("max_evaluation_depth: -1\n"), 0o644))
	_, err = LoadFromFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RECALC_LOG_LEVEL", "WARN")
	t.Setenv("RECALC_LOG_FORMAT", "json")
	t.Setenv("RECALC_MAX_DEPTH", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 16, cfg.MaxEvaluationDepth)

	t.Setenv("RECALC_MAX_DEPTH", "deep")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECALC_MAX_DEPTH")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_evaluation_depth: 8\n"), 0o644))
	t.Setenv("RECALC_MAX_DEPTH", "32")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MaxEvaluationDepth)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogFormat = "json"
	cfg.Logger(&buf).Info("hello", "n", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.LogFormat = "text"
	logger := cfg.Logger(&buf)
	logger.Debug("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNewWorkbook(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Sheets = []string{"Inputs", "Totals"}

	wb, err := cfg.NewWorkbook(cfg.Logger(&buf))
	require.NoError(t, err)
	assert.Equal(t, []string{"Inputs", "Totals"}, wb.Sheets())
	assert.Contains(t, buf.String(), "sheet added")

	require.NoError(t, wb.Set("Inputs!A1", 2))
	require.NoError(t, wb.Set("Totals!A1", "=Inputs!A1*21"))
	got, err := wb.Get("Totals!A1")
	require.NoError(t, err)
	assert.True(t, spreadsheet.Number(42).Equal(got))

	cfg.Sheets = []string{"bad!name"}
	_, err = cfg.NewWorkbook(nil)
	assert.Error(t, err)
}
