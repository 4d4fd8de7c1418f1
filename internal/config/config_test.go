package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	return dir
}

func TestLoadDir_Missing(t *testing.T) {
	cfg, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadDir_Valid(t *testing.T) {
	dir := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  journal_mode: DELETE
  busy_timeout: 250ms
`)
	cfg, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "DELETE", cfg.Store.JournalMode)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.BusyTimeout)

	opts := cfg.Store.Options()
	assert.Equal(t, "DELETE", opts.JournalMode)
	assert.Equal(t, 250*time.Millisecond, opts.BusyTimeout)
}

func TestLoadDir_StoreSectionOnly(t *testing.T) {
	t.Setenv("CBOX_BUSY_TIMEOUT", "2s")
	dir := writeConfig(t, `
store:
  journal_mode: "WAL"
  busy_timeout: "${CBOX_BUSY_TIMEOUT}"
`)
	cfg, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Logging, cfg.Logging)
	assert.Equal(t, "WAL", cfg.Store.JournalMode)
	assert.Equal(t, 2*time.Second, cfg.Store.BusyTimeout)
}

func TestLoadDir_PartialKeepsDefaults(t *testing.T) {
	dir := writeConfig(t, "logging:\n  level: warn\n")
	cfg, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, Default().Store, cfg.Store)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CBOX_TEST_LEVEL", "error")
	dir := writeConfig(t, "logging:\n  level: \"${CBOX_TEST_LEVEL}\"\n")
	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "logging: [", "parsing config file"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad journal", "store:\n  journal_mode: fancy\n", "store.journal_mode"},
		{"bad duration", "store:\n  busy_timeout: soon\n", "busy_timeout"},
		{"negative duration", "store:\n  busy_timeout: -1s\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDir(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	NewLogger(&buf, LoggingConfig{}).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
