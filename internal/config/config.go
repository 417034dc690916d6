// Package config provides configuration loading and validation for validate-config.
// It handles reading configuration from files, providing defaults, and ensuring
// all required settings are properly set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/lc/confcheck/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultInputPath is the running config chef-server-ctl reconfigure renders.
	DefaultInputPath = "/etc/opscode/chef-server-running.json"
	// DefaultConfigPath is the default path for the configuration file, relative to $HOME.
	DefaultConfigPath = ".validate-config/config.yaml"
	// DefaultParallelism bounds concurrent rule evaluation.
	DefaultParallelism = 4
	// DefaultFormat is the report format written to stdout.
	DefaultFormat = "text"
	// DefaultDebounce is how long watch mode waits for writes to settle.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultHistoryKeep is how many runs the history database retains.
	DefaultHistoryKeep = 100
)

// Config holds the application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Rules   RulesConfig   `yaml:"rules"`
	Report  ReportConfig  `yaml:"report"`
	Watch   WatchConfig   `yaml:"watch"`
	History HistoryConfig `yaml:"history"`
}

// InputConfig locates the document to validate.
type InputConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig selects and runs rules.
type RulesConfig struct {
	// File is an extra catalog appended to the built-in one.
	File        string   `yaml:"file"`
	Groups      []string `yaml:"groups"`
	Parallelism int      `yaml:"parallelism"`
}

// ReportConfig controls outputs.
type ReportConfig struct {
	Format      string `yaml:"format"`
	File        string `yaml:"file"`
	MetricsFile string `yaml:"metrics_file"`
}

// WatchConfig controls watch mode. Schedule re-validates on a cron
// expression even when the input is untouched; empty disables it.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Schedule string        `yaml:"schedule"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	// Path of the SQLite database. Empty disables history.
	Path string `yaml:"path"`
	Keep int    `yaml:"keep"`
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs   filesys.ReadWriteFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New creates a configuration provider using the default configuration path
// under the user's home directory. If the home directory cannot be
// determined, it falls back to the current directory.
func New() *FSProvider {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a new provider with a specific config path.
func NewWithPath(fs filesys.ReadWriteFS, path string) *FSProvider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns a default configuration with preset values.
// This is used when no configuration file exists.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Path: DefaultInputPath,
		},
		Rules: RulesConfig{
			Parallelism: DefaultParallelism,
		},
		Report: ReportConfig{
			Format: DefaultFormat,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
		},
		History: HistoryConfig{
			Keep: DefaultHistoryKeep,
		},
	}
}

// Load loads the configuration from the provider's path. Keys missing from
// the file keep their defaults.
func (p *FSProvider) Load() (*Config, error) {
	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks the configuration to ensure all required fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input.Path) == "" {
		return errors.New("input path cannot be empty")
	}
	if c.Rules.Parallelism < 1 {
		return errors.New("parallelism must be at least 1")
	}
	switch c.Report.Format {
	case "text", "json":
	default:
		return fmt.Errorf("report format must be text or json, got %q", c.Report.Format)
	}
	for _, g := range c.Rules.Groups {
		if strings.TrimSpace(g) == "" {
			return errors.New("rule group names cannot be empty")
		}
	}
	if c.Watch.Debounce < 10*time.Millisecond {
		return errors.New("watch debounce must be at least 10ms")
	}
	if c.Watch.Schedule != "" {
		if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
			return fmt.Errorf("watch schedule %q is not a valid cron expression: %v", c.Watch.Schedule, err)
		}
	}
	if c.History.Keep < 1 {
		return errors.New("history keep must be at least 1")
	}
	return nil
}

// Save writes the configuration to the provider's path, creating the
// directory if needed.
func (p *FSProvider) Save(c *Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := p.ensureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := p.fs.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Path returns the configuration file location.
func (p *FSProvider) Path() string { return p.path }

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}
