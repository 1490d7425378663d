// Package config layers runtime configuration: built-in defaults, then an
// optional YAML file, then TASKFORGE_* environment overrides. Later layers
// win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr      = "127.0.0.1:8760"
	DefaultStoreBackend    = "file"
	DefaultProviderName    = "openrouter"
	DefaultProviderBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel           = "anthropic/claude-sonnet-4"
	DefaultLogLevel        = "info"
	DefaultWakeInterval    = 30 * time.Second
)

// Config is the resolved runtime configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// StoreBackend selects the persistence medium: "file" or "postgres".
	StoreBackend string `yaml:"store_backend"`
	StoreDir     string `yaml:"store_dir"`
	PostgresDSN  string `yaml:"postgres_dsn"`

	ProviderName    string `yaml:"provider_name"`
	ProviderBaseURL string `yaml:"provider_base_url"`
	Model           string `yaml:"model"`

	// WakeInterval drives the periodic "process-tasks" wake. Zero disables
	// the ticker; the explicit sync signal still works.
	WakeInterval time.Duration `yaml:"wake_interval"`

	LogLevel string `yaml:"log_level"`
}

// EnvLookup resolves one environment variable, injectable for tests.
type EnvLookup func(key string) (string, bool)

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(path string) ([]byte, error)
	homeDir   func() (string, error)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithEnvLookup swaps the environment source.
func WithEnvLookup(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithReadFile swaps the file reader.
func WithReadFile(read func(path string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// Load resolves the configuration. path names the YAML file; an empty path
// falls back to $HOME/.taskforge/config.yaml, and a missing file at either
// location is not an error.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Config{
		ListenAddr:      DefaultListenAddr,
		StoreBackend:    DefaultStoreBackend,
		ProviderName:    DefaultProviderName,
		ProviderBaseURL: DefaultProviderBaseURL,
		Model:           DefaultModel,
		WakeInterval:    DefaultWakeInterval,
		LogLevel:        DefaultLogLevel,
	}
	if home, err := options.homeDir(); err == nil {
		cfg.StoreDir = filepath.Join(home, ".taskforge", "tasks")
	}

	if err := applyFile(&cfg, path, options); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg, options.envLookup)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string, options loadOptions) error {
	explicit := path != ""
	if !explicit {
		home, err := options.homeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".taskforge", "config.yaml")
	}

	raw, err := options.readFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup EnvLookup) {
	setString := func(key string, dst *string) {
		if value, ok := lookup(key); ok {
			value = strings.TrimSpace(value)
			if value != "" {
				*dst = value
			}
		}
	}

	setString("TASKFORGE_LISTEN_ADDR", &cfg.ListenAddr)
	setString("TASKFORGE_STORE_BACKEND", &cfg.StoreBackend)
	setString("TASKFORGE_STORE_DIR", &cfg.StoreDir)
	setString("TASKFORGE_POSTGRES_DSN", &cfg.PostgresDSN)
	setString("TASKFORGE_PROVIDER_NAME", &cfg.ProviderName)
	setString("TASKFORGE_PROVIDER_BASE_URL", &cfg.ProviderBaseURL)
	setString("TASKFORGE_MODEL", &cfg.Model)
	setString("TASKFORGE_LOG_LEVEL", &cfg.LogLevel)

	if value, ok := lookup("TASKFORGE_WAKE_INTERVAL"); ok {
		value = strings.TrimSpace(value)
		if d, err := time.ParseDuration(value); err == nil && d >= 0 {
			cfg.WakeInterval = d
		} else if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			cfg.WakeInterval = time.Duration(seconds) * time.Second
		}
	}
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case "file":
		if c.StoreDir == "" {
			return fmt.Errorf("store_dir is required for the file backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}
