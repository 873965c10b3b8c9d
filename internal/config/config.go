// Package config loads the service's TOML configuration, mirroring the
// shape of the original conf.rs: env, namespace, log level, server, redis,
// job interval, and the static rule set.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ajiwo/redlimit/internal/rules"
	"github.com/ajiwo/redlimit/internal/utils"
)

// Log controls log verbosity.
type Log struct {
	Level string `toml:"level"`
}

// Server controls the HTTP listener. TLS is enabled when both CertFile and
// KeyFile are set.
type Server struct {
	Port     int    `toml:"port"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	Workers  int    `toml:"workers"`
}

// Redis controls the backend connection.
type Redis struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	MaxConnections int   `toml:"max_connections"`
}

// Job controls the sync worker's tick interval.
type Job struct {
	Interval int `toml:"interval"` // seconds
}

// Config is the top-level configuration document.
type Config struct {
	Env       string                 `toml:"env"`
	Namespace string                 `toml:"namespace"`
	Log       Log                    `toml:"log"`
	Server    Server                 `toml:"server"`
	Redis     Redis                  `toml:"redis"`
	Job       Job                    `toml:"job"`
	Rules     map[string]rules.Rule `toml:"rules"`
}

// filePathEnv is the environment variable that overrides the config path.
const filePathEnv = "CONFIG_FILE_PATH"

// Load reads and validates the config file named by CONFIG_FILE_PATH, or
// "./config/default.toml" if unset. A parse or validation failure is a
// Config-load error (spec §7): callers should treat it as fatal.
func Load() (*Config, error) {
	path := os.Getenv(filePathEnv)
	if path == "" {
		path = "./config/default.toml"
	}
	return LoadFile(path)
}

// LoadFile reads and validates the config file at path.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the parts of the config the resolver and limiter depend
// on being well-formed. Catching a malformed rule here gives a deployer an
// immediate startup error instead of a silent per-request "not limited"
// fallback once the service is running.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if c.Job.Interval <= 0 {
		return fmt.Errorf("job.interval must be positive")
	}
	for scope, rule := range c.Rules {
		if scope != rules.DefaultScope && scope != rules.FloorScope {
			if err := utils.ValidateScopeName(scope); err != nil {
				return fmt.Errorf("rules.%s: %w", scope, err)
			}
		}
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rules.%s: %w", scope, err)
		}
	}
	return nil
}

func validateRule(r rules.Rule) error {
	switch len(r.Limit) {
	case 0, 2, 3, 4:
	default:
		return fmt.Errorf("limit must have 2, 3, or 4 elements, got %d", len(r.Limit))
	}
	return nil
}

// JobInterval returns the sync worker's tick interval as a time.Duration.
func (c *Config) JobInterval() time.Duration {
	return time.Duration(c.Job.Interval) * time.Second
}
