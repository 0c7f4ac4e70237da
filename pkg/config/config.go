// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/match"
)

// DefaultOutlines is the number of ranked results printed by default.
const DefaultOutlines = 10

// ErrInvalidConfig is returned when the merged configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a new Manager with its own koanf instance.
func NewManager() *Manager {
	return &Manager{
		koanfInstance: koanf.New("."),
		currentConfig: DefaultConfig(),
	}
}

// DefaultConfig returns a new Config struct populated with hardcoded default values.
// These serve as the baseline configuration if no other sources override them.
func DefaultConfig() Config {
	def := fetch.DefaultOptions()
	return Config{
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Scan: ScanConfig{
			Threads:    def.Workers,
			Timeout:    int(def.Timeout.Seconds()),
			Retries:    def.Retries,
			SampleSize: match.DefaultSampleSize,
			Outlines:   DefaultOutlines,
			UserAgent:  def.UserAgent,
			Insecure:   def.Insecure,
		},
	}
}

// Load loads configuration from defaults, the optional YAML file at
// configPath, WAFP_* environment variables and the given flags.
func (m *Manager) Load(flags *pflag.FlagSet, configPath string) error {
	return m.LoadWithSources(DefaultSources(configPath, flags))
}

// LoadWithSources loads the given sources in priority order, unmarshals the
// merged result and validates it. The previous configuration is kept when
// any step fails.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := make([]ConfigSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	k := koanf.New(".")
	for _, src := range ordered {
		if err := src.Load(k); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := k.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.postProcessConfig(&newCfg)

	if err := Validate(newCfg); err != nil {
		return err
	}

	m.koanfInstance = k
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentConfig
}

// Keys lists the keys currently set in the merged configuration.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Keys()
}

func (m *Manager) postProcessConfig(cfg *Config) {
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Scan.Proxy = strings.TrimSpace(cfg.Scan.Proxy)
}

// Validate checks the configuration against its field constraints.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s (got %v)", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got %v)", field, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %v)", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL (got %v)", field, fe.Value())
	case "required":
		return field + " is required"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// DefaultConfigAsMap converts the DefaultConfig struct to a map[string]interface{}
// for koanf's confmap.Provider.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"scan.threads":     def.Scan.Threads,
		"scan.timeout":     def.Scan.Timeout,
		"scan.retries":     def.Scan.Retries,
		"scan.sample_size": def.Scan.SampleSize,
		"scan.outlines":    def.Scan.Outlines,
		"scan.user_agent":  def.Scan.UserAgent,
		"scan.proxy":       def.Scan.Proxy,
		"scan.low_mem":     def.Scan.LowMem,
		"scan.insecure":    def.Scan.Insecure,

		"database.fingerprints": def.Database.Fingerprints,
		"database.scans":        def.Database.Scans,
	}
}

// FlagKeys maps command-line flag names to configuration keys. Flags not
// listed here never reach the configuration.
var FlagKeys = map[string]string{
	"threads":        "scan.threads",
	"timeout":        "scan.timeout",
	"retries":        "scan.retries",
	"sample-size":    "scan.sample_size",
	"outlines":       "scan.outlines",
	"user-agent":     "scan.user_agent",
	"proxy":          "scan.proxy",
	"low-mem":        "scan.low_mem",
	"insecure":       "scan.insecure",
	"fingerprint-db": "database.fingerprints",
	"scan-db":        "database.scans",
	"log-format":     "log.format",
}

// BindFlags defines the global flags that feed the configuration.
// Scan tunables are bound by the scan command itself.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("fingerprint-db", "", "Fingerprint database path (default <workspace>/fprints_wafp.db)")
	flags.String("scan-db", "", "Scan database path (default <workspace>/scan_wafp.db)")
	flags.String("log-format", "text", "Log format (text, json)")
}

// LevelFromVerbosity maps the -v counter and --quiet to a log level.
func LevelFromVerbosity(verbosity int, quiet bool) string {
	switch {
	case quiet:
		return "error"
	case verbosity <= 0:
		return ""
	case verbosity == 1:
		return "info"
	case verbosity == 2:
		return "debug"
	default:
		return "trace"
	}
}
