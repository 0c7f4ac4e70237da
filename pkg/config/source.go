// pkg/config/source.go
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read into the configuration.
const EnvPrefix = "WAFP_"

// ConfigSource represents a configuration source that can load values into koanf.
// Sources are loaded in priority order (lowest first), with higher priority sources
// overriding lower priority values.
//
// Built-in sources and their priorities:
//   - DefaultSource (10): Hardcoded default values
//   - FileSource (20): Config file (e.g., <workspace>/config.yaml)
//   - EnvSource (30): Environment variables (WAFP_*)
//   - FlagSource (40): Command-line flags
type ConfigSource interface {
	// Name returns a human-readable name for this source (for logging/debugging)
	Name() string

	// Priority returns the load priority. Lower values are loaded first,
	// higher values override lower ones.
	Priority() int

	// Load loads configuration values into the provided koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSource provides hardcoded default configuration values.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads configuration from a YAML file.
type FileSource struct {
	Path string // silently skipped if empty or missing
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads configuration from environment variables.
// The first underscore after the prefix separates the section from the key,
// so keys may themselves contain underscores:
//
//	WAFP_LOG_LEVEL        -> log.level
//	WAFP_SCAN_SAMPLE_SIZE -> scan.sample_size
type EnvSource struct {
	Prefix string // default: "WAFP_"
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return EnvKey(prefix, key)
	}), nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

// EnvKey converts an environment variable name into a configuration key.
func EnvKey(prefix, name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, prefix))
	return strings.Replace(key, "_", ".", 1)
}

// FlagSource loads configuration from command-line flags. Only flags listed
// in FlagKeys that the user changed are applied. A changed "verbosity"
// counter or "quiet" switch sets log.level.
type FlagSource struct {
	Flags *pflag.FlagSet
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags == nil {
		return nil
	}

	provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := FlagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, flagValue(s.Flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("error loading command-line flags: %w", err)
	}

	verbosity, _ := s.Flags.GetCount("verbosity")
	quiet, _ := s.Flags.GetBool("quiet")
	if level := LevelFromVerbosity(verbosity, quiet); level != "" {
		_ = k.Set("log.level", level)
	}
	return nil
}

func flagValue(fs *pflag.FlagSet, f *pflag.Flag) interface{} {
	switch f.Value.Type() {
	case "int":
		v, _ := fs.GetInt(f.Name)
		return v
	case "bool":
		v, _ := fs.GetBool(f.Name)
		return v
	case "count":
		v, _ := fs.GetCount(f.Name)
		return v
	default:
		return f.Value.String()
	}
}

// DefaultSources returns the standard configuration sources.
// Order: defaults -> file -> env -> flags
func DefaultSources(configPath string, flags *pflag.FlagSet) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags},
	}
}
