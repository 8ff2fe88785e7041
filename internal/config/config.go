// Package config loads CLI configuration from defaults, an optional YAML
// file and BRICKFLOW_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/agentstation/brickflow"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: BRICKFLOW_STATE__REDIS__ADDR sets state.redis.addr.
const EnvPrefix = "BRICKFLOW_"

// DefaultFile is read when no file is given and it exists.
const DefaultFile = "brickflow.yaml"

// Config is the CLI configuration.
type Config struct {
	Engine  EngineConfig  `koanf:"engine"`
	Log     LogConfig     `koanf:"log"`
	State   StateConfig   `koanf:"state"`
	Trace   TraceConfig   `koanf:"trace"`
	Metrics MetricsConfig `koanf:"metrics"`
	Plugins PluginsConfig `koanf:"plugins"`
	Scripts ScriptsConfig `koanf:"scripts"`
}

type EngineConfig struct {
	APIVersion        string `koanf:"api_version"`
	TemplateCacheSize int    `koanf:"template_cache_size"`
	ValidateOutput    bool   `koanf:"validate_output"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type StateConfig struct {
	Backend    string      `koanf:"backend"` // memory, redis
	MaxEntries int         `koanf:"max_entries"`
	Redis      RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type TraceConfig struct {
	Enabled bool `koanf:"enabled"`
	Pretty  bool `koanf:"pretty"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type PluginsConfig struct {
	Dirs []string `koanf:"dirs"`
}

type ScriptsConfig struct {
	Dirs []string `koanf:"dirs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			APIVersion:        string(brickflow.V3),
			TemplateCacheSize: 512,
		},
		Log: LogConfig{Level: "info"},
		State: StateConfig{
			Backend:    "memory",
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "brickflow:state:",
			},
		},
	}
}

// Load builds the configuration. An empty path reads DefaultFile when it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := brickflow.ParseVersion(c.Engine.APIVersion); err != nil {
		errs = append(errs, fmt.Errorf("engine.api_version: %w", err))
	}
	if c.Engine.TemplateCacheSize < 0 {
		errs = append(errs, errors.New("engine.template_cache_size must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.State.Backend {
	case "memory":
	case "redis":
		if c.State.Redis.Addr == "" {
			errs = append(errs, errors.New("state.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend: unknown backend %q", c.State.Backend))
	}
	return errors.Join(errs...)
}

// Version returns the configured API version.
func (c *Config) Version() brickflow.Version {
	return brickflow.Version(c.Engine.APIVersion)
}
