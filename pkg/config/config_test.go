package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ReturnsExpectedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Scan.Threads)
	assert.Equal(t, 10, cfg.Scan.Timeout)
	assert.Equal(t, 3, cfg.Scan.Retries)
	assert.Equal(t, 10, cfg.Scan.SampleSize)
	assert.Equal(t, 10, cfg.Scan.Outlines)
	assert.True(t, cfg.Scan.Insecure)
	assert.NotEmpty(t, cfg.Scan.UserAgent)
	assert.NoError(t, Validate(cfg), "defaults must validate")
}

func TestDefaultConfigAsMap_CoversEveryField(t *testing.T) {
	m := DefaultConfigAsMap()
	for _, key := range FlagKeys {
		_, ok := m[key]
		assert.True(t, ok, "flag key %s has no default", key)
	}
}

func TestManager_Load_LoadsDefaultsWhenNoFlags(t *testing.T) {
	manager := NewManager()
	err := manager.Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), manager.Get())
}

func TestManager_Load_Precedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("scan:\n  threads: 20\n  timeout: 30\n  retries: 1\n"), 0o644))
	t.Setenv("WAFP_SCAN_TIMEOUT", "40")
	t.Setenv("WAFP_SCAN_RETRIES", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("retries", 3, "")
	require.NoError(t, flags.Parse([]string{"--retries", "5"}))

	manager := NewManager()
	require.NoError(t, manager.Load(flags, configPath))

	cfg := manager.Get()
	assert.Equal(t, 20, cfg.Scan.Threads, "file overrides defaults")
	assert.Equal(t, 40, cfg.Scan.Timeout, "env overrides file")
	assert.Equal(t, 5, cfg.Scan.Retries, "flags override env")
}

func TestManager_Load_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"zero threads", []string{"--threads", "0"}, "scan.threads"},
		{"too many threads", []string{"--threads", "257"}, "scan.threads"},
		{"zero timeout", []string{"--timeout", "0"}, "scan.timeout"},
		{"huge timeout", []string{"--timeout", "301"}, "scan.timeout"},
		{"negative retries", []string{"--retries", "-1"}, "scan.retries"},
		{"bad proxy", []string{"--proxy", "not a url"}, "scan.proxy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags.Int("threads", 8, "")
			flags.Int("timeout", 10, "")
			flags.Int("retries", 3, "")
			flags.String("proxy", "", "")
			require.NoError(t, flags.Parse(tt.args))

			manager := NewManager()
			err := manager.Load(flags, "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.field)

			assert.Equal(t, DefaultConfig(), manager.Get(), "failed loads keep the previous configuration")
		})
	}
}

func TestManager_Load_BoundaryValuesAccepted(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("threads", 8, "")
	flags.Int("timeout", 10, "")
	flags.Int("retries", 3, "")
	require.NoError(t, flags.Parse([]string{"--threads", "256", "--timeout", "300", "--retries", "0"}))

	manager := NewManager()
	require.NoError(t, manager.Load(flags, ""))

	cfg := manager.Get()
	assert.Equal(t, 256, cfg.Scan.Threads)
	assert.Equal(t, 300, cfg.Scan.Timeout)
	assert.Equal(t, 0, cfg.Scan.Retries)
}

func TestManager_Keys(t *testing.T) {
	manager := NewManager()
	require.NoError(t, manager.Load(nil, ""))
	assert.Contains(t, manager.Keys(), "scan.threads")
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, "", LevelFromVerbosity(0, false))
	assert.Equal(t, "info", LevelFromVerbosity(1, false))
	assert.Equal(t, "debug", LevelFromVerbosity(2, false))
	assert.Equal(t, "trace", LevelFromVerbosity(5, false))
	assert.Equal(t, "error", LevelFromVerbosity(3, true))
}

func TestBindFlags_AddsDatabaseFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	for _, name := range []string{"fingerprint-db", "scan-db", "log-format"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
}
