// Package config loads and validates the application's on-disk
// configuration. It is deliberately thin: each module.Config struct
// (modules/*) owns its own fields and validation tags, so this
// package's job is wiring viper's file+env loading and
// go-playground/validator's struct-tag validation around the composite,
// plus the core cycle-level fields (root/pid_path/user/pool_size) that no
// module owns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cyclehost/confcycle/modules/auditlog"
	"github.com/cyclehost/confcycle/modules/cache"
	"github.com/cyclehost/confcycle/modules/database"
	"github.com/cyclehost/confcycle/modules/httplisten"
	"github.com/cyclehost/confcycle/modules/logfiles"
)

// Core holds the cycle-level settings no module owns: paths, the process
// owner, and the arena size hint. See spec-level terms: core module
// block, spec.md 4.3.
type Core struct {
	Root        string        `mapstructure:"root" json:"root" validate:"required"`
	PIDPath     string        `mapstructure:"pid_path" json:"pid_path" validate:"required"`
	User        string        `mapstructure:"user" json:"user"`
	PoolSize    int           `mapstructure:"pool_size" json:"pool_size"`
	ReloadDelay time.Duration `mapstructure:"reload_delay" json:"reload_delay"`
}

// Config is the root configuration document. Each field is validated by
// its own package's struct tags; Validate below runs the whole tree in
// one pass so a single malformed document reports every problem at once.
type Config struct {
	Core       Core              `mapstructure:"core" json:"core"`
	Logfiles   logfiles.Config   `mapstructure:"logfiles" json:"logfiles"`
	Database   database.Config   `mapstructure:"database" json:"database"`
	Cache      cache.Config      `mapstructure:"cache" json:"cache"`
	AuditLog   auditlog.Config   `mapstructure:"auditlog" json:"auditlog"`
	HTTPListen httplisten.Config `mapstructure:"http_listen" json:"http_listen"`
}

var validate = validator.New()

// Load reads configuration from configPath (if non-empty) layered under
// environment variables (CONFCYCLE_* via viper's automatic env binding),
// then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("confcycle")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("core.pool_size", 16*1024)
	v.SetDefault("core.reload_delay", "0s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("cache.local_size", 1024)
	v.SetDefault("cache.lock_ttl", "30s")

	v.SetDefault("logfiles.level", "info")
	v.SetDefault("logfiles.max_size_mb", 100)
	v.SetDefault("logfiles.max_backups", 3)
	v.SetDefault("logfiles.max_age_days", 28)

	v.SetDefault("http_listen.listen_addr", "127.0.0.1:9090")
	v.SetDefault("http_listen.rate_limit_per_minute", 120)
	v.SetDefault("http_listen.rate_limit_burst", 20)
}

// Validate runs go-playground/validator's struct-tag validation across
// every section, then a handful of cross-section checks that can't be
// expressed as a single struct tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}
