// Package config loads the engine configuration from YAML and applies
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sendloop/rotor/internal/domain"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Log      LogConfig      `yaml:"log"`

	// DefaultPolicy seeds the policy created on the first account for a
	// platform, before the user edits rotation settings.
	DefaultPolicy DefaultPolicyConfig `yaml:"default_policy"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the account store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string        `yaml:"backend"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig configures the shared reservation ledger. Empty Addr
// keeps the ledger in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig tunes pacing and adapter breakers.
type DispatchConfig struct {
	TenantRPS          float64       `yaml:"tenant_rps"`
	TenantBurst        int           `yaml:"tenant_burst"`
	BreakerMaxRequests uint32        `yaml:"breaker_max_requests"`
	BreakerInterval    time.Duration `yaml:"breaker_interval"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
	BreakerMinRequests uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRate float64       `yaml:"breaker_failure_rate"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultPolicyConfig mirrors domain.RotationPolicy minus identity.
type DefaultPolicyConfig struct {
	Strategy           string         `yaml:"strategy"`
	SwitchAfterActions int            `yaml:"switch_after_actions"`
	CooldownMinutes    int            `yaml:"cooldown_minutes"`
	DailyLimits        map[string]int `yaml:"daily_limits"`
	AutoSwitchOnLimit  *bool          `yaml:"auto_switch_on_limit"`
}

// Load reads the YAML config at path and applies defaults. A missing
// path returns pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 5 * time.Second
	}
	if c.Dispatch.TenantRPS == 0 {
		c.Dispatch.TenantRPS = 5
	}
	if c.Dispatch.TenantBurst == 0 {
		c.Dispatch.TenantBurst = 10
	}
	if c.Dispatch.BreakerMaxRequests == 0 {
		c.Dispatch.BreakerMaxRequests = 3
	}
	if c.Dispatch.BreakerInterval == 0 {
		c.Dispatch.BreakerInterval = time.Minute
	}
	if c.Dispatch.BreakerTimeout == 0 {
		c.Dispatch.BreakerTimeout = 30 * time.Second
	}
	if c.Dispatch.BreakerMinRequests == 0 {
		c.Dispatch.BreakerMinRequests = 10
	}
	if c.Dispatch.BreakerFailureRate == 0 {
		c.Dispatch.BreakerFailureRate = 0.5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// PolicyDefaults converts the default_policy section into a policy
// factory, falling back to nil (built-in defaults) when the section is
// absent.
func (c *Config) PolicyDefaults() func(tenantID string, platform domain.Platform) *domain.RotationPolicy {
	dp := c.DefaultPolicy
	if dp.Strategy == "" && len(dp.DailyLimits) == 0 {
		return nil
	}

	return func(tenantID string, platform domain.Platform) *domain.RotationPolicy {
		p := &domain.RotationPolicy{
			TenantID:           tenantID,
			Platform:           platform,
			Enabled:            true,
			Strategy:           domain.Strategy(dp.Strategy),
			SwitchAfterActions: dp.SwitchAfterActions,
			CooldownMinutes:    dp.CooldownMinutes,
			DailyLimits:        make(map[domain.ActionType]int, len(dp.DailyLimits)),
			AutoSwitchOnLimit:  true,
		}
		if dp.AutoSwitchOnLimit != nil {
			p.AutoSwitchOnLimit = *dp.AutoSwitchOnLimit
		}
		if p.Strategy == "" {
			p.Strategy = domain.StrategySequential
		}
		if p.Strategy == domain.StrategySequential && p.SwitchAfterActions < 1 {
			p.SwitchAfterActions = 10
		}
		for action, limit := range dp.DailyLimits {
			p.DailyLimits[domain.ActionType(action)] = limit
		}
		if len(p.DailyLimits) == 0 {
			p.DailyLimits = map[domain.ActionType]int{
				domain.ActionMessage: 50,
				domain.ActionFollow:  100,
				domain.ActionPost:    10,
				domain.ActionDM:      30,
			}
		}
		return p
	}
}
