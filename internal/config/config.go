// Package config loads accord's TOML configuration and applies ACCORD_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
)

// Config is the full accord configuration.
type Config struct {
	Engine  convergence.Config `json:"engine" toml:"engine" yaml:"engine"`
	Oracle  OracleConfig       `json:"oracle" toml:"oracle" yaml:"oracle"`
	Lexicon LexiconConfig      `json:"lexicon" toml:"lexicon" yaml:"lexicon"`
	Logging LoggingConfig      `json:"logging" toml:"logging" yaml:"logging"`
	Storage StorageConfig      `json:"storage" toml:"storage" yaml:"storage"`
	Serve   ServeConfig        `json:"serve" toml:"serve" yaml:"serve"`
}

// OracleConfig selects the proposal generator. An empty endpoint uses the
// built-in composer.
type OracleConfig struct {
	Endpoint string            `json:"endpoint,omitempty" toml:"endpoint" yaml:"endpoint,omitempty"`
	Timeout  time.Duration     `json:"timeout" toml:"timeout" yaml:"timeout"`
	Headers  map[string]string `json:"headers,omitempty" toml:"headers" yaml:"headers,omitempty"`
}

// LexiconConfig extends the built-in lexicon, inline or from a file.
type LexiconConfig struct {
	File string `json:"file,omitempty" toml:"file" yaml:"file,omitempty"`

	lexicon.Config `toml:",inline" yaml:",inline"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `json:"level" toml:"level" yaml:"level"`
	Format string `json:"format" toml:"format" yaml:"format"`
}

// StorageConfig controls where finished runs are kept.
type StorageConfig struct {
	// Backend is "file", "sqlite", "both" or "none".
	Backend   string `json:"backend" toml:"backend" yaml:"backend"`
	RecordDir string `json:"record_dir,omitempty" toml:"record_dir" yaml:"record_dir,omitempty"`
	DBPath    string `json:"db_path,omitempty" toml:"db_path" yaml:"db_path,omitempty"`
}

// ServeConfig controls the HTTP API.
type ServeConfig struct {
	Addr           string        `json:"addr" toml:"addr" yaml:"addr"`
	EventRetention time.Duration `json:"event_retention" toml:"event_retention" yaml:"event_retention"`
	MaxConcurrent  int           `json:"max_concurrent" toml:"max_concurrent" yaml:"max_concurrent"`
	// Tokens maps bearer tokens to roles (viewer, operator, admin). With
	// no tokens every request is treated as admin.
	Tokens map[string]string `json:"-" toml:"tokens" yaml:"-"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBoth   = "both"
	BackendNone   = "none"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: convergence.DefaultConfig(),
		Oracle: OracleConfig{Timeout: 60 * time.Second},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{Backend: BackendFile},
		Serve: ServeConfig{
			Addr:           "127.0.0.1:7400",
			EventRetention: 24 * time.Hour,
			MaxConcurrent:  4,
		},
	}
}

// DefaultPath returns ~/.config/accord/config.toml, honoring
// XDG_CONFIG_HOME.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "accord", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".accord", "config.toml")
	}
	return filepath.Join(home, ".config", "accord", "config.toml")
}

// Load reads the file at path over the defaults, applies environment
// overrides, and validates the result. A missing file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if cfg.Lexicon.File != "" && !filepath.IsAbs(cfg.Lexicon.File) {
		cfg.Lexicon.File = filepath.Join(filepath.Dir(path), cfg.Lexicon.File)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// envOverrides lists the settings the environment may override. Unset
// variables leave the pointers nil.
type envOverrides struct {
	MaxRounds            *int           `env:"ACCORD_MAX_ROUNDS"`
	AcceptanceThreshold  *float64       `env:"ACCORD_ACCEPTANCE_THRESHOLD"`
	MaxOptOuts           *int           `env:"ACCORD_MAX_OPT_OUTS"`
	AllowForking         *bool          `env:"ACCORD_ALLOW_FORKING"`
	FlexibilityThreshold *float64       `env:"ACCORD_FLEXIBILITY_THRESHOLD"`
	Patience             *int           `env:"ACCORD_PATIENCE"`
	ForkAfterRounds      *int           `env:"ACCORD_FORK_AFTER_ROUNDS"`
	MaxForkDepth         *int           `env:"ACCORD_MAX_FORK_DEPTH"`
	RunTimeout           *time.Duration `env:"ACCORD_RUN_TIMEOUT"`
	EvalWorkers          *int           `env:"ACCORD_EVAL_WORKERS"`
	OracleAttempts       *int           `env:"ACCORD_ORACLE_ATTEMPTS"`
	OracleTimeout        *time.Duration `env:"ACCORD_ORACLE_TIMEOUT"`
	OracleEndpoint       *string        `env:"ACCORD_ORACLE_ENDPOINT"`
	LogLevel             *string        `env:"ACCORD_LOG_LEVEL"`
	LogFormat            *string        `env:"ACCORD_LOG_FORMAT"`
	StorageBackend       *string        `env:"ACCORD_STORAGE"`
	RecordDir            *string        `env:"ACCORD_RECORD_DIR"`
	DBPath               *string        `env:"ACCORD_DB_PATH"`
	ServeAddr            *string        `env:"ACCORD_SERVE_ADDR"`
}

// ApplyEnv overlays ACCORD_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set(&cfg.Engine.MaxRounds, ov.MaxRounds)
	set(&cfg.Engine.AcceptanceThreshold, ov.AcceptanceThreshold)
	set(&cfg.Engine.MaxOptOuts, ov.MaxOptOuts)
	set(&cfg.Engine.AllowForking, ov.AllowForking)
	set(&cfg.Engine.FlexibilityThreshold, ov.FlexibilityThreshold)
	set(&cfg.Engine.Patience, ov.Patience)
	set(&cfg.Engine.ForkAfterRounds, ov.ForkAfterRounds)
	set(&cfg.Engine.MaxForkDepth, ov.MaxForkDepth)
	set(&cfg.Engine.RunTimeout, ov.RunTimeout)
	set(&cfg.Engine.EvalWorkers, ov.EvalWorkers)
	set(&cfg.Engine.OracleAttempts, ov.OracleAttempts)
	set(&cfg.Engine.OracleTimeout, ov.OracleTimeout)
	set(&cfg.Oracle.Endpoint, ov.OracleEndpoint)
	set(&cfg.Logging.Level, ov.LogLevel)
	set(&cfg.Logging.Format, ov.LogFormat)
	set(&cfg.Storage.Backend, ov.StorageBackend)
	set(&cfg.Storage.RecordDir, ov.RecordDir)
	set(&cfg.Storage.DBPath, ov.DBPath)
	set(&cfg.Serve.Addr, ov.ServeAddr)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("oracle: timeout must be >= 0, got %s", c.Oracle.Timeout)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendBoth, BackendNone:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Serve.MaxConcurrent < 0 {
		return fmt.Errorf("serve: max_concurrent must be >= 0, got %d", c.Serve.MaxConcurrent)
	}
	for _, role := range c.Serve.Tokens {
		switch role {
		case "viewer", "operator", "admin":
		default:
			return fmt.Errorf("serve: unknown token role %q", role)
		}
	}
	return nil
}

// EngineConfig returns the convergence settings.
func (c *Config) EngineConfig() convergence.Config {
	return c.Engine
}

// BuildLexicon compiles the built-in lexicon extended by the inline
// section and the lexicon file, if any.
func (c *Config) BuildLexicon() (*lexicon.Lexicon, error) {
	extra := c.Lexicon.Config
	if c.Lexicon.File != "" {
		fromFile, err := lexicon.LoadConfig(c.Lexicon.File)
		if err != nil {
			return nil, err
		}
		extra.Synonyms = append(extra.Synonyms, fromFile.Synonyms...)
		extra.Dimensions = append(extra.Dimensions, fromFile.Dimensions...)
		extra.Costs = append(extra.Costs, fromFile.Costs...)
		extra.Neutral = append(extra.Neutral, fromFile.Neutral...)
		for cat, words := range fromFile.CategoryKeywords {
			if extra.CategoryKeywords == nil {
				extra.CategoryKeywords = make(map[constraint.Category][]string)
			}
			extra.CategoryKeywords[cat] = append(extra.CategoryKeywords[cat], words...)
		}
	}
	if isEmpty(extra) {
		return lexicon.Default(), nil
	}
	lex, err := lexicon.Merge(extra)
	if err != nil {
		return nil, fmt.Errorf("build lexicon: %w", err)
	}
	return lex, nil
}

func isEmpty(c lexicon.Config) bool {
	return len(c.Synonyms) == 0 && len(c.Dimensions) == 0 && len(c.Costs) == 0 &&
		len(c.CategoryKeywords) == 0 && len(c.Neutral) == 0
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
