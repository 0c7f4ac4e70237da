package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSource_Priority(t *testing.T) {
	src := &DefaultSource{}
	assert.Equal(t, 10, src.Priority())
	assert.Equal(t, "defaults", src.Name())
}

func TestDefaultSource_Load(t *testing.T) {
	k := koanf.New(".")
	src := &DefaultSource{}

	err := src.Load(k)
	require.NoError(t, err)

	assert.Equal(t, "warn", k.String("log.level"))
	assert.Equal(t, 8, k.Int("scan.threads"))
	assert.Equal(t, 10, k.Int("scan.timeout"))
	assert.Equal(t, 3, k.Int("scan.retries"))
}

func TestFileSource_Priority(t *testing.T) {
	src := &FileSource{Path: "/tmp/test.yaml"}
	assert.Equal(t, 20, src.Priority())
	assert.Equal(t, "file:/tmp/test.yaml", src.Name())
}

func TestFileSource_Load_EmptyPath(t *testing.T) {
	k := koanf.New(".")
	src := &FileSource{Path: ""}

	err := src.Load(k)
	require.NoError(t, err, "Empty path should skip silently")
}

func TestFileSource_Load_NonExistentFile(t *testing.T) {
	k := koanf.New(".")
	src := &FileSource{Path: "/nonexistent/path/config.yaml"}

	err := src.Load(k)
	require.NoError(t, err, "Non-existent file should skip silently")
}

func TestFileSource_Load_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
log:
  level: debug
scan:
  threads: 32
  sample_size: 4
database:
  fingerprints: /srv/wafp/fprints_wafp.db
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	k := koanf.New(".")
	src := &FileSource{Path: configPath}

	err := src.Load(k)
	require.NoError(t, err)

	assert.Equal(t, "debug", k.String("log.level"))
	assert.Equal(t, 32, k.Int("scan.threads"))
	assert.Equal(t, 4, k.Int("scan.sample_size"))
	assert.Equal(t, "/srv/wafp/fprints_wafp.db", k.String("database.fingerprints"))
}

func TestFileSource_Load_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("scan: [threads"), 0o644))

	err := (&FileSource{Path: configPath}).Load(koanf.New("."))
	require.Error(t, err)
	assert.Contains(t, err.Error(), configPath)
}

func TestEnvSource_Priority(t *testing.T) {
	src := &EnvSource{}
	assert.Equal(t, 30, src.Priority())
	assert.Equal(t, "env", src.Name())
}

func TestEnvSource_Load(t *testing.T) {
	t.Setenv("WAFP_LOG_LEVEL", "error")
	t.Setenv("WAFP_SCAN_THREADS", "16")
	t.Setenv("WAFP_SCAN_SAMPLE_SIZE", "5")

	k := koanf.New(".")
	src := &EnvSource{Prefix: "WAFP_"}

	err := src.Load(k)
	require.NoError(t, err)

	assert.Equal(t, "error", k.String("log.level"))
	assert.Equal(t, 16, k.Int("scan.threads"))
	assert.Equal(t, 5, k.Int("scan.sample_size"))
}

func TestEnvSource_Load_DefaultPrefix(t *testing.T) {
	t.Setenv("WAFP_LOG_FORMAT", "json")

	k := koanf.New(".")
	src := &EnvSource{}

	err := src.Load(k)
	require.NoError(t, err)

	assert.Equal(t, "json", k.String("log.format"))
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"WAFP_LOG_LEVEL", "log.level"},
		{"WAFP_SCAN_USER_AGENT", "scan.user_agent"},
		{"WAFP_DATABASE_SCANS", "database.scans"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvKey("WAFP_", tt.name), tt.name)
	}
}

func TestFlagSource_Priority(t *testing.T) {
	src := &FlagSource{}
	assert.Equal(t, 40, src.Priority())
	assert.Equal(t, "flags", src.Name())
}

func TestFlagSource_Load_NilFlags(t *testing.T) {
	k := koanf.New(".")
	src := &FlagSource{Flags: nil}

	err := src.Load(k)
	require.NoError(t, err, "Nil flags should skip silently")
}

func TestFlagSource_Load_OnlyChangedMappedFlags(t *testing.T) {
	flags := newTestFlagSet()
	require.NoError(t, flags.Set("threads", "64"))
	require.NoError(t, flags.Set("proxy", "http://127.0.0.1:3128"))
	require.NoError(t, flags.Set("unrelated", "x"))

	k := koanf.New(".")
	require.NoError(t, (&DefaultSource{}).Load(k))

	err := (&FlagSource{Flags: flags}).Load(k)
	require.NoError(t, err)

	assert.Equal(t, 64, k.Int("scan.threads"))
	assert.Equal(t, "http://127.0.0.1:3128", k.String("scan.proxy"))
	assert.Equal(t, 10, k.Int("scan.timeout"), "unchanged flags keep lower-priority values")
	assert.False(t, k.Exists("unrelated"))
}

func TestFlagSource_Load_Verbosity(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "warn"},
		{[]string{"-v"}, "info"},
		{[]string{"-vv"}, "debug"},
		{[]string{"-vvv"}, "trace"},
		{[]string{"-vv", "--quiet"}, "error"},
	}
	for _, tt := range tests {
		flags := newTestFlagSet()
		require.NoError(t, flags.Parse(tt.args))

		k := koanf.New(".")
		require.NoError(t, (&DefaultSource{}).Load(k))
		require.NoError(t, (&FlagSource{Flags: flags}).Load(k))

		assert.Equal(t, tt.want, k.String("log.level"), "args %v", tt.args)
	}
}

func TestDefaultSources_Order(t *testing.T) {
	sources := DefaultSources("/tmp/config.yaml", nil)

	require.Len(t, sources, 4)
	assert.Equal(t, "defaults", sources[0].Name())
	assert.Equal(t, "file:/tmp/config.yaml", sources[1].Name())
	assert.Equal(t, "env", sources[2].Name())
	assert.Equal(t, "flags", sources[3].Name())
}

func TestDefaultSources_Priorities(t *testing.T) {
	sources := DefaultSources("", nil)

	for i := 1; i < len(sources); i++ {
		assert.Greater(t, sources[i].Priority(), sources[i-1].Priority(),
			"Source %s should have higher priority than %s",
			sources[i].Name(), sources[i-1].Name())
	}
}

func TestLoadWithSources_CustomSource(t *testing.T) {
	customSource := &mockConfigSource{
		name:     "custom",
		priority: 25,
		loadFunc: func(k *koanf.Koanf) error {
			return k.Set("scan.outlines", 3)
		},
	}

	manager := NewManager()
	err := manager.LoadWithSources([]ConfigSource{
		&DefaultSource{},
		customSource,
		&EnvSource{Prefix: "WAFP_TEST_UNSET_"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, manager.Get().Scan.Outlines)
}

func TestLoadWithSources_PriorityOrdering(t *testing.T) {
	t.Setenv("WAFP_LOG_LEVEL", "error")

	manager := NewManager()
	err := manager.LoadWithSources([]ConfigSource{
		&EnvSource{Prefix: "WAFP_"},
		&DefaultSource{},
	})
	require.NoError(t, err)

	assert.Equal(t, "error", manager.Get().Log.Level, "env must override defaults regardless of slice order")
}

// mockConfigSource is a test helper for custom config sources
type mockConfigSource struct {
	name     string
	priority int
	loadFunc func(k *koanf.Koanf) error
}

func (m *mockConfigSource) Name() string  { return m.name }
func (m *mockConfigSource) Priority() int { return m.priority }
func (m *mockConfigSource) Load(k *koanf.Koanf) error {
	if m.loadFunc != nil {
		return m.loadFunc(k)
	}
	return nil
}

func newTestFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("threads", 8, "")
	flags.Int("timeout", 10, "")
	flags.String("proxy", "", "")
	flags.Bool("low-mem", false, "")
	flags.String("unrelated", "", "")
	flags.CountP("verbosity", "v", "")
	flags.BoolP("quiet", "q", false, "")
	return flags
}
