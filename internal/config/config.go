// Package config loads AxiomMe's process configuration: a typed Config
// struct with mapstructure/yaml tags, defaults applied in code, loaded
// from ~/.axiomme/config.yaml with AXIOMME_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all process configuration for axiomme.
type Config struct {
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Embedder    EmbedderConfig    `mapstructure:"embedder" yaml:"embedder"`
	Observation ObservationConfig `mapstructure:"observation" yaml:"observation"`
	Reflection  ReflectionConfig  `mapstructure:"reflection" yaml:"reflection"`
	DRR         DRRConfig         `mapstructure:"drr" yaml:"drr"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Outbox      OutboxConfig      `mapstructure:"outbox" yaml:"outbox"`
}

// StoreConfig locates the sqlite-backed state store and workspace root.
type StoreConfig struct {
	// WorkspaceRoot is the directory scopedfs resolves every axiom:// URI
	// under, and where the sqlite database file lives.
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	// Kind is one of "hash", "semantic-lite", "semantic-model-http".
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Endpoint is the loopback-only HTTP endpoint for "semantic-model-http".
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model      string `mapstructure:"model" yaml:"model,omitempty"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions,omitempty"`
}

// ObservationConfig mirrors om.ObservationConfigInput's on-disk shape.
type ObservationConfig struct {
	ShareTokenBudget  bool    `mapstructure:"share_token_budget" yaml:"share_token_budget"`
	TotalBudget       int     `mapstructure:"total_budget" yaml:"total_budget,omitempty"`
	MaxTokensPerBatch int     `mapstructure:"max_tokens_per_batch" yaml:"max_tokens_per_batch,omitempty"`
	MessageTokensBase int     `mapstructure:"message_tokens_base" yaml:"message_tokens_base,omitempty"`
	BufferActivation  float64 `mapstructure:"buffer_activation" yaml:"buffer_activation"`
	BufferDisabled    bool    `mapstructure:"buffer_disabled" yaml:"buffer_disabled"`
	Mode              string  `mapstructure:"mode" yaml:"mode"`
	Endpoint          string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model             string  `mapstructure:"model" yaml:"model,omitempty"`
}

// ReflectionConfig mirrors om.ReflectionConfigInput's on-disk shape.
type ReflectionConfig struct {
	ObservationTokens   int     `mapstructure:"observation_tokens" yaml:"observation_tokens"`
	BlockAfter          int     `mapstructure:"block_after" yaml:"block_after,omitempty"`
	BufferActivation    float64 `mapstructure:"buffer_activation" yaml:"buffer_activation"`
	AsyncBufferingOptIn bool    `mapstructure:"async_buffering_opt_in" yaml:"async_buffering_opt_in"`
	Mode                string  `mapstructure:"mode" yaml:"mode"`
	Endpoint            string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model               string  `mapstructure:"model" yaml:"model,omitempty"`
}

// DRRConfig mirrors drr.Config's on-disk shape.
type DRRConfig struct {
	Alpha                float64 `mapstructure:"alpha" yaml:"alpha"`
	GlobalTopK           int     `mapstructure:"global_top_k" yaml:"global_top_k"`
	MaxConvergenceRounds int     `mapstructure:"max_convergence_rounds" yaml:"max_convergence_rounds"`
	MaxDepth             int     `mapstructure:"max_depth" yaml:"max_depth"`
	MaxNodes             int     `mapstructure:"max_nodes" yaml:"max_nodes"`
}

// LoggingConfig controls the process-global zerolog sink.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// OutboxConfig controls the replay worker's poll cadence and batching.
type OutboxConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size"`
}

// Default returns AxiomMe's baked-in defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	axiommeDir := filepath.Join(homeDir, ".axiomme")

	return &Config{
		Store: StoreConfig{
			WorkspaceRoot: axiommeDir,
		},
		Embedder: EmbedderConfig{
			Kind:       "semantic-lite",
			Dimensions: 256,
		},
		Observation: ObservationConfig{
			ShareTokenBudget:  false,
			MaxTokensPerBatch: 8192,
			MessageTokensBase: 1200,
			BufferActivation:  0.8,
			Mode:              "auto",
		},
		Reflection: ReflectionConfig{
			ObservationTokens: 6000,
			BufferActivation:  0.8,
			Mode:              "auto",
		},
		DRR: DRRConfig{
			Alpha:                0.7,
			GlobalTopK:           5,
			MaxConvergenceRounds: 3,
			MaxDepth:             4,
			MaxNodes:             200,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(axiommeDir, "logs", "axiomme.log"),
		},
		Outbox: OutboxConfig{
			PollIntervalSec: 2,
			BatchSize:       20,
		},
	}
}

// Load reads configuration from the default location
// (~/.axiomme/config.yaml), creating it with defaults if absent, and
// merges AXIOMME_* environment overrides.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".axiomme", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path, creating it
// with defaults if absent, and merges AXIOMME_* environment overrides.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AXIOMME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Store.WorkspaceRoot = expandPath(cfg.Store.WorkspaceRoot)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}
	return c.SaveToPath(filepath.Join(homeDir, ".axiomme", "config.yaml"))
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// GetDataDir returns the axiomme data directory path (~/.axiomme, or the
// configured workspace root).
func (c *Config) GetDataDir() string {
	if c.Store.WorkspaceRoot != "" {
		return c.Store.WorkspaceRoot
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".axiomme")
}

// GetConfigPath returns the full path to the config file.
func (c *Config) GetConfigPath() string {
	return filepath.Join(c.GetDataDir(), "config.yaml")
}

// EnsureDirectories creates the workspace root and log directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.GetDataDir()}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Store.WorkspaceRoot == "" {
		return fmt.Errorf("store.workspace_root cannot be empty")
	}

	validEmbedders := map[string]bool{"hash": true, "semantic-lite": true, "semantic-model-http": true}
	if !validEmbedders[c.Embedder.Kind] {
		return fmt.Errorf("invalid embedder.kind %q, must be one of: hash, semantic-lite, semantic-model-http", c.Embedder.Kind)
	}
	if c.Embedder.Kind == "semantic-model-http" && c.Embedder.Endpoint == "" {
		return fmt.Errorf("embedder.endpoint is required when embedder.kind is semantic-model-http")
	}

	// share_token_budget combined with active async buffering is rejected
	// by om.ResolveConfig at request time; surface the same constraint
	// early at config-load time too.
	if c.Observation.ShareTokenBudget && c.Reflection.AsyncBufferingOptIn {
		return fmt.Errorf("observation.share_token_budget cannot be combined with reflection.async_buffering_opt_in")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.DRR.MaxDepth < 1 || c.DRR.MaxNodes < 1 {
		return fmt.Errorf("drr.max_depth and drr.max_nodes must be >= 1")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file using yaml.v3's
// struct-tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
