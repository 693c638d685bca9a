// Package config loads the hive daemon configuration from YAML or TOML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/executor/claude"
	"github.com/fentz26/hive/internal/executor/localexec"
	"github.com/fentz26/hive/internal/logging"
	"github.com/fentz26/hive/internal/tasknode"
	"gopkg.in/yaml.v3"
)

// Executor kinds.
const (
	ExecutorNoop      = "noop"
	ExecutorLocalExec = "localexec"
	ExecutorAnthropic = "anthropic"
)

// Config is the top-level daemon configuration.
type Config struct {
	Bus       bus.Config       `yaml:"bus" toml:"bus"`
	Store     StoreConfig      `yaml:"store" toml:"store"`
	TaskQueue tasknode.Config  `yaml:"task_queue" toml:"task_queue"`
	Executor  ExecutorConfig   `yaml:"executor" toml:"executor"`
	Log       logging.Config   `yaml:"log" toml:"log"`
	API       APIConfig        `yaml:"api" toml:"api"`
	Topics    []TopicConfig    `yaml:"topics" toml:"topics"`
	Observers []ObserverConfig `yaml:"observers" toml:"observers"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// APIConfig configures the HTTP control plane.
type APIConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// ExecutorConfig selects and configures the task executor.
type ExecutorConfig struct {
	Kind      string           `yaml:"kind" toml:"kind"`
	LocalExec localexec.Config `yaml:"localexec" toml:"localexec"`
	Anthropic claude.Config    `yaml:"anthropic" toml:"anthropic"`
}

// TopicConfig declares a topic created at startup.
type TopicConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
}

// ObserverConfig declares an observer node that logs traffic on topics.
type ObserverConfig struct {
	Name   string   `yaml:"name" toml:"name"`
	Topics []string `yaml:"topics" toml:"topics"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Bus:       bus.DefaultConfig(),
		Store:     StoreConfig{Path: filepath.Join(HomeDir(), "hive.db")},
		TaskQueue: tasknode.DefaultConfig(),
		Executor: ExecutorConfig{
			Kind:      ExecutorNoop,
			LocalExec: localexec.DefaultConfig(),
			Anthropic: claude.DefaultConfig(),
		},
		Log: logging.DefaultConfig(),
		API: APIConfig{Listen: "127.0.0.1:7466"},
	}
}

// HomeDir returns ~/.hive, or .hive when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hive"
	}
	return filepath.Join(home, ".hive")
}

// DefaultPath returns ~/.hive/config.yaml.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load reads a configuration file over the defaults. A missing file yields
// the defaults. Files ending in .toml are decoded as TOML, anything else as
// YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Bus.Workers < 1 {
		return fmt.Errorf("bus.workers must be at least 1")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if err := c.TaskQueue.Validate(); err != nil {
		return fmt.Errorf("task_queue: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	switch c.Executor.Kind {
	case ExecutorNoop, ExecutorLocalExec, ExecutorAnthropic:
	default:
		return fmt.Errorf("invalid executor kind %q, must be: noop, localexec, or anthropic", c.Executor.Kind)
	}

	seen := make(map[string]bool)
	for _, t := range c.Topics {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("topic name cannot be empty")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate topic %q", t.Name)
		}
		seen[t.Name] = true
	}
	for _, o := range c.Observers {
		if len(o.Topics) == 0 {
			return fmt.Errorf("observer %q has no topics", o.Name)
		}
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimLeft(strings.TrimPrefix(path, "~"), `/\`)
	return filepath.Join(home, trimmed), nil
}
