// Package config loads the provider registry and orchestration settings.
//
// Layers are merged key by key with koanf: built-in defaults, then
// ~/.medorch/providers.yaml, then the project's ./medorch.yaml. Lists such as
// capabilities are replaced, not appended. API keys are never read from files,
// only from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Providers     map[string]ProviderConfig `koanf:"providers" yaml:"providers"`
	Aliases       Aliases                   `koanf:"aliases" yaml:"aliases,omitempty"`
	Routing       RoutingConfig             `koanf:"routing" yaml:"routing"`
	Budget        BudgetConfig              `koanf:"budget" yaml:"budget"`
	Retry         RetryConfig               `koanf:"retry" yaml:"retry"`
	Credentials   CredentialConfig          `koanf:"credentials" yaml:"credentials"`
	MaxConcurrent int                       `koanf:"max_concurrent" yaml:"max_concurrent"`
	Server        ServerConfig              `koanf:"server" yaml:"server"`
	Log           LogConfig                 `koanf:"log" yaml:"log"`

	// Sources lists the files that were merged, in order.
	Sources []string `koanf:"-" yaml:"-"`
}

// RoutingConfig holds task-tag inference rules.
type RoutingConfig struct {
	DefaultTaskTag string              `koanf:"default_task_tag" yaml:"default_task_tag"`
	Triggers       map[string][]string `koanf:"triggers" yaml:"triggers"`
}

// BudgetConfig holds spend limits shared by all providers.
type BudgetConfig struct {
	GlobalMonthlyUSD float64 `koanf:"global_monthly_usd" yaml:"global_monthly_usd"`
	LowWatermarkUSD  float64 `koanf:"low_watermark_usd" yaml:"low_watermark_usd"`
}

// RetryConfig defines retry and backoff behavior for transient errors and timeouts.
type RetryConfig struct {
	MaxRetries    int `koanf:"max_retries" yaml:"max_retries"`
	BaseBackoffMs int `koanf:"base_backoff_ms" yaml:"base_backoff_ms"`
	MaxBackoffMs  int `koanf:"max_backoff_ms" yaml:"max_backoff_ms"`
}

// CredentialConfig tunes the credential pool.
type CredentialConfig struct {
	AuthCooldown time.Duration `koanf:"auth_cooldown" yaml:"auth_cooldown"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

// Load reads the default config file locations.
func Load() (*Config, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return LoadFiles(paths...)
}

// DefaultPaths lists the user-level and project-level config files, in
// merge order.
func DefaultPaths() ([]string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return []string{filepath.Join(configDir, "providers.yaml"), ProjectConfigFile}, nil
}

// ProjectConfigFile is the per-project override file, relative to the working directory.
const ProjectConfigFile = "medorch.yaml"

// LoadFiles layers the given YAML files over the defaults. Missing files are
// skipped; a file that exists but does not parse is an error.
func LoadFiles(paths ...string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(defaultsProvider{cfg: DefaultConfig()}, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	var sources []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Sources = sources

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultsProvider feeds a Config to koanf as the bottom layer.
type defaultsProvider struct {
	cfg *Config
}

func (p defaultsProvider) ReadBytes() ([]byte, error) {
	return yamlv3.Marshal(p.cfg)
}

func (p defaultsProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("defaults provider does not support Read")
}

// Dump renders the effective configuration as YAML. It holds no secrets.
func (c *Config) Dump() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	enabled := 0
	for id, p := range c.Providers {
		if p.Disabled {
			continue
		}
		enabled++
		if len(p.Capabilities) == 0 {
			return fmt.Errorf("provider %q: no capabilities", id)
		}
		if p.Adapter == AdapterCompat && p.BaseURL == "" {
			return fmt.Errorf("provider %q: %s adapter needs base_url", id, AdapterCompat)
		}
		if !knownAdapter(p.Adapter) {
			return fmt.Errorf("provider %q: unknown adapter %q", id, p.Adapter)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled providers")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Credentials.AuthCooldown <= 0 {
		cfg.Credentials.AuthCooldown = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Budget.LowWatermarkUSD <= 0 {
		cfg.Budget.LowWatermarkUSD = 2
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = getEnvOrDefault("MEDORCH_ADDR", "127.0.0.1:8088")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = getEnvOrDefault("MEDORCH_LOG_LEVEL", "info")
	}
	if cfg.Routing.DefaultTaskTag == "" {
		cfg.Routing.DefaultTaskTag = "general"
	}
	for id, p := range cfg.Providers {
		cfg.Providers[id] = p.withDefaults(id)
	}
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("MEDORCH_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".medorch"), nil
}
