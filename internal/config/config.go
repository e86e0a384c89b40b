// Package config loads taskloom's settings.
//
// Sources, lowest precedence first: built-in defaults, the global file
// ~/.taskloom/config.yaml, the project file <root>/.taskloom/config.yaml,
// and TASKLOOM_* environment variables (TASKLOOM_LOCKS_TIMEOUT=30s).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-project and per-user data directory name.
	DirName = ".taskloom"
	// FileName is the config file inside DirName.
	FileName = "config.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TASKLOOM"
)

// homeDir is a package-level var so tests can isolate the global config.
var homeDir = os.UserHomeDir

// Config is the full configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir" yaml:"data_dir"`
	Project    ProjectConfig    `mapstructure:"project" yaml:"project"`
	Locks      LocksConfig      `mapstructure:"locks" yaml:"locks"`
	Backups    BackupsConfig    `mapstructure:"backups" yaml:"backups"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Operations OperationsConfig `mapstructure:"operations" yaml:"operations"`
	AI         AIConfig         `mapstructure:"ai" yaml:"ai"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Watch      WatchConfig      `mapstructure:"watch" yaml:"watch"`
}

// ProjectConfig holds project-specific settings.
type ProjectConfig struct {
	// Name defaults to the project directory's base name.
	Name string `mapstructure:"name" yaml:"name"`
}

// LocksConfig bounds lock acquisition.
type LocksConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// BackupsConfig controls how many previous versions of each file survive.
type BackupsConfig struct {
	Keep int `mapstructure:"keep" yaml:"keep"`
}

// JournalConfig configures the SQLite activity journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path is relative to the data dir unless absolute.
	Path string `mapstructure:"path" yaml:"path"`
}

// OperationsConfig bounds background work.
type OperationsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// AIConfig configures the optional Gemini-backed generator.
type AIConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key. The
	// key itself never lives in a config file.
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
}

// LogConfig configures logging to stderr.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// WatchConfig configures the task file watcher.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: DirName,
		Locks: LocksConfig{
			Timeout:       10 * time.Second,
			RetryInterval: 100 * time.Millisecond,
		},
		Backups:    BackupsConfig{Keep: 5},
		Journal:    JournalConfig{Enabled: true, Path: "journal.db"},
		Operations: OperationsConfig{MaxConcurrent: 2},
		AI:         AIConfig{Model: "gemini-2.5-flash", APIKeyEnv: "GEMINI_API_KEY"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Watch:      WatchConfig{Enabled: true, Debounce: 250 * time.Millisecond},
	}
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	home, err := homeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DirName, FileName)
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// FindProjectRoot walks up from start looking for a directory holding
// .taskloom/. The home directory does not count, since its .taskloom/
// holds the global config. If nothing is found start is returned.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}
	home, _ := homeDir()

	current := dir
	for {
		if current != home {
			if info, err := os.Stat(filepath.Join(current, DirName)); err == nil && info.IsDir() {
				return current, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		current = parent
	}
}

// Load merges every configuration source for the project at projectRoot
// and validates the result.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range []string{GlobalConfigPath(), ProjectConfigPath(projectRoot)} {
		if path == "" {
			continue
		}
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(projectRoot)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so environment overrides apply even
// when no file mentions the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("locks.timeout", d.Locks.Timeout)
	v.SetDefault("locks.retry_interval", d.Locks.RetryInterval)
	v.SetDefault("backups.keep", d.Backups.Keep)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("operations.max_concurrent", d.Operations.MaxConcurrent)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.api_key_env", d.AI.APIKeyEnv)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"json": true, "console": true}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, errors.New("data_dir must not be empty"))
	}
	if c.Locks.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("locks.timeout must be positive, got %s", c.Locks.Timeout))
	}
	if c.Locks.RetryInterval <= 0 {
		problems = append(problems, fmt.Errorf("locks.retry_interval must be positive, got %s", c.Locks.RetryInterval))
	}
	if c.Backups.Keep < 0 {
		problems = append(problems, fmt.Errorf("backups.keep must be >= 0, got %d", c.Backups.Keep))
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		problems = append(problems, errors.New("journal.path must be set when the journal is enabled"))
	}
	if c.Operations.MaxConcurrent < 1 {
		problems = append(problems, fmt.Errorf("operations.max_concurrent must be >= 1, got %d", c.Operations.MaxConcurrent))
	}
	if !validLevels[c.Log.Level] {
		problems = append(problems, fmt.Errorf("log.level %q must be one of: debug, info, warn, error", c.Log.Level))
	}
	if !validFormats[c.Log.Format] {
		problems = append(problems, fmt.Errorf("log.format %q must be one of: json, console", c.Log.Format))
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		problems = append(problems, fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// DataPath resolves the data dir against projectRoot.
func (c *Config) DataPath(projectRoot string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(projectRoot, c.DataDir)
}

// JournalPath resolves the journal file against the data dir.
func (c *Config) JournalPath(projectRoot string) string {
	if filepath.IsAbs(c.Journal.Path) {
		return c.Journal.Path
	}
	return filepath.Join(c.DataPath(projectRoot), c.Journal.Path)
}

// APIKey returns the AI API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.AI.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.AI.APIKeyEnv)
}

const header = "# taskloom configuration. Durations use Go syntax (10s, 250ms).\n"

// WriteDefault writes the default configuration to path as YAML. It
// refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
