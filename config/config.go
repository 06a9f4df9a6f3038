// Package config loads the warden runtime configuration from a YAML file,
// environment overrides and defaults, and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	domerrors "github.com/wardenhq/warden/domain/errors"
)

// Config defines runtime settings for warden.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is one of json, text.
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=json text"`

	// CommandPrefix marks messages as invocations. Empty means every message
	// is treated as a bare command name.
	CommandPrefix string `yaml:"command_prefix" json:"command_prefix" validate:"max=8"`

	// GrantOnJoin lists the built-in commands granted tenant-wide when a
	// tenant joins. Every entry must name a built-in.
	GrantOnJoin []string `yaml:"grant_on_join" json:"grant_on_join"`

	// AllowShadowing permits custom commands to mask built-in names.
	AllowShadowing bool `yaml:"allow_shadowing" json:"allow_shadowing"`

	// StorePath is the SQLite database file location.
	StorePath string `yaml:"store_path" json:"store_path" validate:"required"`

	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`

	// EmojiFlushInterval is how often dirty emoji counters are persisted.
	EmojiFlushInterval time.Duration `yaml:"emoji_flush_interval" json:"emoji_flush_interval" validate:"min=1s"`

	// GatewayMaxConcurrent caps messages handled at once.
	GatewayMaxConcurrent int `yaml:"gateway_max_concurrent" json:"gateway_max_concurrent" validate:"min=1,max=256"`
}

// SandboxConfig bounds script execution.
type SandboxConfig struct {
	// Timeout is the per-run wall-clock limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=100ms,max=60s"`
	// MemoryPages is the linear-memory ceiling in 64 KiB wasm pages.
	MemoryPages int `yaml:"memory_pages" json:"memory_pages" validate:"min=1,max=1024"`
	// MaxOutput caps the bytes a script may emit per run.
	MaxOutput int `yaml:"max_output" json:"max_output" validate:"min=1"`
	// MaxConcurrent caps scripts executing at once across all tenants.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent" validate:"min=1,max=64"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "json",
		CommandPrefix: "!",
		GrantOnJoin:   []string{"ping", "roll", "help"},
		StorePath:     "warden.db",
		Sandbox: SandboxConfig{
			Timeout:       5 * time.Second,
			MemoryPages:   64,
			MaxOutput:     64 * 1024,
			MaxConcurrent: 4,
		},
		EmojiFlushInterval:   5 * time.Minute,
		GatewayMaxConcurrent: 8,
	}
}

// Load reads configuration from the YAML file at path (skipped when empty),
// applies WARDEN_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &domerrors.ConfigError{Field: "path", Err: fmt.Errorf("read config file: %w", err)}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &domerrors.ConfigError{Field: "path", Err: fmt.Errorf("parse config: %w", err)}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WARDEN_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v, ok := os.LookupEnv("WARDEN_COMMAND_PREFIX"); ok {
		cfg.CommandPrefix = v
	}
	if v := os.Getenv("WARDEN_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("WARDEN_GRANT_ON_JOIN"); v != "" {
		cfg.GrantOnJoin = splitList(v)
	}
	if v := os.Getenv("WARDEN_ALLOW_SHADOWING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &domerrors.ConfigError{Field: "allow_shadowing", Err: err}
		}
		cfg.AllowShadowing = b
	}
	if v := os.Getenv("WARDEN_SANDBOX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &domerrors.ConfigError{Field: "sandbox.timeout", Err: err}
		}
		cfg.Sandbox.Timeout = d
	}
	if err := envInt("WARDEN_SANDBOX_MEMORY_PAGES", "sandbox.memory_pages", &cfg.Sandbox.MemoryPages); err != nil {
		return err
	}
	if err := envInt("WARDEN_SANDBOX_MAX_OUTPUT", "sandbox.max_output", &cfg.Sandbox.MaxOutput); err != nil {
		return err
	}
	if err := envInt("WARDEN_SANDBOX_MAX_CONCURRENT", "sandbox.max_concurrent", &cfg.Sandbox.MaxConcurrent); err != nil {
		return err
	}
	if v := os.Getenv("WARDEN_EMOJI_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &domerrors.ConfigError{Field: "emoji_flush_interval", Err: err}
		}
		cfg.EmojiFlushInterval = d
	}
	if err := envInt("WARDEN_GATEWAY_MAX_CONCURRENT", "gateway_max_concurrent", &cfg.GatewayMaxConcurrent); err != nil {
		return err
	}
	return nil
}

func envInt(name, field string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &domerrors.ConfigError{Field: field, Err: err}
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			first := invalid[0]
			return &domerrors.ConfigError{
				Field: first.Namespace(),
				Err:   fmt.Errorf("failed %q constraint", first.Tag()),
			}
		}
		return &domerrors.ConfigError{Field: "config", Err: err}
	}
	return nil
}

// Schema returns the JSON Schema of the configuration document.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}
