// Package config loads gateway configuration from an optional YAML file and
// WAOOAW_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Backend BackendConfig `koanf:"backend"`
	Breaker BreakerConfig `koanf:"breaker"`
	OpenAPI OpenAPIConfig `koanf:"openapi"`
	Trial   TrialConfig   `koanf:"trial"`
	Plans   PlansConfig   `koanf:"plans"`
	Ledger  LedgerConfig  `koanf:"ledger"`
	Hooks   HooksConfig   `koanf:"hooks"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type BackendConfig struct {
	URL            string  `koanf:"url"`
	TimeoutSeconds int     `koanf:"timeout_seconds"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"` // 0 disables the upstream limiter
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

type BreakerConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
	WindowSeconds    int `koanf:"window_seconds"`
}

type OpenAPIConfig struct {
	Validate        bool `koanf:"validate"`
	CacheTTLSeconds int  `koanf:"cache_ttl_seconds"`
}

type TrialConfig struct {
	DailyTasks  int64 `koanf:"daily_tasks"`
	DailyTokens int64 `koanf:"daily_tokens"` // 0 disables the token cap
}

// PlansConfig maps plan IDs to monthly USD budgets.
type PlansConfig map[string]float64

type LedgerConfig struct {
	Backend    string `koanf:"backend"` // memory or sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type HooksConfig struct {
	// Profile selects the gated action set: "default" or "trading".
	Profile string `koanf:"profile"`
	// ApprovalActions overrides the profile's action set when non-empty.
	ApprovalActions []string `koanf:"approval_actions"`
}

// Load reads configuration. path may be empty or point at a YAML file; a
// missing file is not an error so the env-only deployment path stays simple.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"server.port":               8081,
		"backend.timeout_seconds":   30,
		"backend.rate_limit_burst":  20,
		"breaker.failure_threshold": 5,
		"breaker.window_seconds":    60,
		"openapi.validate":          false,
		"openapi.cache_ttl_seconds": 300,
		"trial.daily_tasks":         25,
		"trial.daily_tokens":        0,
		"ledger.backend":            "memory",
		"ledger.sqlite_path":        "./data/gateway.db",
		"hooks.profile":             "default",
	}
	for key, val := range defaults {
		k.Set(key, val)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// WAOOAW_SERVER__PORT=9000 -> server.port
	if err := k.Load(env.Provider("WAOOAW_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "WAOOAW_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if _, err := url.Parse(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.WindowSeconds <= 0 {
		return fmt.Errorf("breaker.window_seconds must be positive")
	}
	switch c.Ledger.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("ledger.backend must be memory or sqlite, got %q", c.Ledger.Backend)
	}
	switch c.Hooks.Profile {
	case "default", "trading":
	default:
		return fmt.Errorf("hooks.profile must be default or trading, got %q", c.Hooks.Profile)
	}
	return nil
}
