// Package config loads server settings and per-action rate-limit policies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/throttleguard/throttle/throttle"
)

// PolicyConfig is one action type's quota as written in YAML.
type PolicyConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	WindowSeconds int `yaml:"window_seconds"`
}

// ServerConfig describes the demo server listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config holds everything loaded from YAML or env.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`

	// SweepIntervalSeconds controls how often idle attempt logs are evicted.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// Policies maps an action type to its quota, e.g. "create_review".
	Policies map[string]PolicyConfig `yaml:"policies"`
}

func defaultConfig() *Config {
	return &Config{
		Server:               ServerConfig{Addr: ":8080"},
		Logging:              LoggingConfig{Level: "info"},
		SweepIntervalSeconds: 60,
		Policies: map[string]PolicyConfig{
			"create_review": {MaxAttempts: 3, WindowSeconds: 60},
			"send_message":  {MaxAttempts: 10, WindowSeconds: 60},
			"login_attempt": {MaxAttempts: 5, WindowSeconds: 300},
		},
	}
}

// Load reads YAML config (if present) and overrides with env vars. Invalid
// policies fail here, not at request time.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("THROTTLE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("THROTTLE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if raw := os.Getenv("THROTTLE_SWEEP_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.SweepIntervalSeconds = v
		}
	}
}

func (c *Config) validate() error {
	if len(c.Policies) == 0 {
		return errors.New("config: no policies defined")
	}
	if c.SweepIntervalSeconds <= 0 {
		return errors.New("config: sweep_interval_seconds must be positive")
	}
	for action, pc := range c.Policies {
		if action == "" {
			return errors.New("config: policy with empty action type")
		}
		if err := pc.Policy().Validate(); err != nil {
			return fmt.Errorf("config: policy for %q: %w", action, err)
		}
	}
	return nil
}

// Policy converts the YAML form to the domain Policy.
func (pc PolicyConfig) Policy() throttle.Policy {
	return throttle.Policy{
		MaxAttempts: pc.MaxAttempts,
		Window:      time.Duration(pc.WindowSeconds) * time.Second,
	}
}

// PolicyFor resolves the governing Policy for an action type.
func (c *Config) PolicyFor(action string) (throttle.Policy, bool) {
	pc, ok := c.Policies[action]
	if !ok {
		return throttle.Policy{}, false
	}
	return pc.Policy(), true
}

// SweepInterval returns the sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
