// Package config provides configuration loading and discovery for the
// engine's operational settings (never policy data, which arrives over
// the MOF wire format). Sources cascade: CLI flags > environment >
// config file > defaults, with the closest config file winning.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigFileNames defines the config file names to search for, in priority
// order.
var ConfigFileNames = []string{".complianceengine.toml", "complianceengine.toml"}

// EnvPrefix is the prefix environment-variable overrides must carry.
const EnvPrefix = "COMPLIANCE_"

// Config represents the complete engine-level configuration. It never
// carries rule/policy content, only operational knobs:
// default output format, log destination, the default --section filter,
// and the package-cache location/TTLs.
type Config struct {
	// Output configures the default formatter and destination, overridable
	// per-invocation by CLI flags.
	Output OutputConfig `koanf:"output"`

	// Section is the default --section filter prefix applied when the CLI
	// flag is not given. Empty means no filtering.
	Section string `koanf:"section"`

	// LogFile is the default --log-file path. Empty means the CLI's own
	// stderr/stdout default applies.
	LogFile string `koanf:"log-file"`

	// Cache configures the package-inventory cache.
	Cache CacheConfig `koanf:"cache"`

	// ConfigFile is the path to the config file that was loaded (if any).
	// Metadata only, never itself loaded from a config file.
	ConfigFile string `koanf:"-"`
}

// OutputConfig configures output formatting and behavior.
type OutputConfig struct {
	// Format specifies the output format: "json", "compact-list",
	// "nested-list", "debug", or the bonus "sarif".
	Format string `koanf:"format"`

	// Path specifies where to write output: "stdout", "stderr", or a file
	// path.
	Path string `koanf:"path"`

	// Color enables ANSI colorization of NestedList/Debug output when
	// writing to a terminal. "auto" (default), "always", or "never".
	Color string `koanf:"color"`
}

// CacheConfig configures the package-inventory cache used by the
// PackageInstalled builtin.
type CacheConfig struct {
	// Path is the on-disk cache file location.
	Path string `koanf:"path"`

	// FreshSeconds is the TTL below which a cache entry is reused without
	// a background refresh.
	FreshSeconds int `koanf:"fresh-seconds"`

	// StaleSeconds is the TTL ceiling past which a cache entry must be
	// rebuilt synchronously rather than refreshed in the background
	//.
	StaleSeconds int `koanf:"stale-seconds"`
}

// FreshTTL returns the fresh threshold as a time.Duration.
func (c CacheConfig) FreshTTL() time.Duration {
	return time.Duration(c.FreshSeconds) * time.Second
}

// StaleTTL returns the stale ceiling as a time.Duration.
func (c CacheConfig) StaleTTL() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

// DefaultCachePath is the well-known package-cache location
const DefaultCachePath = "/var/lib/GuestConfig/ComplianceEnginePackageCache"

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Format: "nested-list",
			Path:   "stdout",
			Color:  "auto",
		},
		Section: "",
		Cache: CacheConfig{
			Path:         DefaultCachePath,
			FreshSeconds: 3000,
			StaleSeconds: 12600,
		},
	}
}

// Load loads configuration for a target working directory. It discovers
// the closest config file, loads it, and applies environment overrides.
func Load(targetPath string) (*Config, error) {
	return loadWithConfigPath(Discover(targetPath))
}

// LoadFromFile loads configuration from a specific config file path,
// skipping discovery.
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithConfigPath(configPath)
}

func loadWithConfigPath(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKeyTransform,
	}), nil); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	cfg.ConfigFile = configPath
	return cfg, nil
}

// knownHyphenatedKeys maps dot-separated env-derived patterns to their
// hyphenated TOML-key equivalents.
var knownHyphenatedKeys = map[string]string{
	"log.file":      "log-file",
	"fresh.seconds": "fresh-seconds",
	"stale.seconds": "stale-seconds",
}

// envKeyTransform converts environment variable names to config keys, e.g.
// COMPLIANCE_OUTPUT_FORMAT -> output.format,
// COMPLIANCE_CACHE_FRESH_SECONDS -> cache.fresh-seconds.
func envKeyTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", ".")
	for pattern, replacement := range knownHyphenatedKeys {
		s = strings.ReplaceAll(s, pattern, replacement)
	}
	return s
}

// Discover finds the closest config file for a target working directory,
// walking up the filesystem until one is found (closest wins, no merging).
func Discover(targetPath string) string {
	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return ""
	}

	dir := absPath
	if info, statErr := os.Stat(absPath); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(absPath)
	}

	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
