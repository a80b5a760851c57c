package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// configEnvVar points at the optional YAML config file.
const configEnvVar = "SKOLNIK_CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if SKOLNIK_CONFIG is set
//  3. env (prefix SKOLNIK_)
func Load(ctx context.Context) (*Config, error) {
	cfg, err := load(os.Getenv(configEnvVar))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-loads the config whenever the file changes and invokes onChange
// with the fresh Config. Used to apply per-domain interval overrides to a
// running scheduler. No-op when no config file is configured.
func Watch(ctx context.Context, onChange func(*Config)) error {
	path := os.Getenv(configEnvVar)
	if path == "" || onChange == nil {
		return nil
	}
	f := file.Provider(path)
	return f.Watch(func(event any, err error) {
		if err != nil {
			return
		}
		cfg, err := load(path)
		if err != nil || cfg.Validate() != nil {
			return
		}
		onChange(cfg)
	})
}

func load(path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: SKOLNIK_ADDR, SKOLNIK_GRADES_INTERVAL, ...
	// Map env keys like SKOLNIK_GRADES_INTERVAL -> grades_interval (flat
	// keys); underscores are preserved to match the koanf struct tags.
	envProvider := env.Provider("SKOLNIK_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "skolnik_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	return &cfg, nil
}

// Validate enforces the invariants the rest of the service assumes.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if len(c.Persons) == 0 {
		return fmt.Errorf("%w: at least one person must be configured", ErrInvalidConfig)
	}
	for i, p := range c.Persons {
		if p.Server == "" || p.UserID == "" {
			return fmt.Errorf("%w: persons[%d] needs server and user_id", ErrInvalidConfig, i)
		}
		if strings.Contains(p.Server, "|") {
			return fmt.Errorf("%w: persons[%d] server must not contain '|'", ErrInvalidConfig, i)
		}
	}
	return nil
}
