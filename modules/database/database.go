// Package database is the module-registry entry that owns the process's
// PostgreSQL connection pool across cycles: it validates its configuration
// during InitConf and opens the pool during InitModule, the point after
// which the cycle is fully committed and cannot be rolled back.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyclehost/confcycle/internal/cycle"
)

// Config is the subset of application configuration this module owns.
type Config struct {
	Host     string        `mapstructure:"host" json:"host" validate:"required"`
	Port     int           `mapstructure:"port" json:"port" validate:"required,min=1,max=65535"`
	Database string        `mapstructure:"database" json:"database" validate:"required"`
	User     string        `mapstructure:"user" json:"user" validate:"required"`
	Password string        `mapstructure:"password" json:"password"`
	SSLMode  string        `mapstructure:"ssl_mode" json:"ssl_mode" validate:"oneof=disable require verify-ca verify-full"`
	MaxConns int32         `mapstructure:"max_conns" json:"max_conns" validate:"min=1"`
	MinConns int32         `mapstructure:"min_conns" json:"min_conns" validate:"min=0"`
	ConnTTL  time.Duration `mapstructure:"conn_ttl" json:"conn_ttl"`
}

// DSN returns the pgx connection string for c.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// conf is the block CreateConf/InitConf/InitModule thread through
// cycle.ConfCtx: the validated configuration plus, once InitModule runs,
// the live pool.
type conf struct {
	cfg  Config
	pool *pgxpool.Pool
}

// Module owns the pgx pool lifecycle. Config is read once at process
// startup (from the application's loaded configuration, not reparsed per
// cycle — there is no per-cycle database directive in this system).
type Module struct {
	Config Config
	Logger *slog.Logger
}

func (m *Module) Name() string { return "database" }

func (m *Module) CreateConf(*cycle.Cycle) (any, error) {
	return &conf{cfg: m.Config}, nil
}

func (m *Module) InitConf(_ *cycle.Cycle, raw any) error {
	c := raw.(*conf)
	if c.cfg.MinConns > c.cfg.MaxConns {
		return fmt.Errorf("database: min_conns (%d) exceeds max_conns (%d)", c.cfg.MinConns, c.cfg.MaxConns)
	}
	return nil
}

// InitModule opens the pool against the cycle's configuration. A failure
// here is fatal to the whole commit per the module contract: the process
// cannot continue without its database layer.
func (m *Module) InitModule(c *cycle.Cycle, raw any) error {
	cc := raw.(*conf)

	poolConfig, err := pgxpool.ParseConfig(cc.cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: parse dsn: %w", err)
	}
	poolConfig.MaxConns = cc.cfg.MaxConns
	poolConfig.MinConns = cc.cfg.MinConns
	if cc.cfg.ConnTTL > 0 {
		poolConfig.MaxConnLifetime = cc.cfg.ConnTTL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("database: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("database: ping: %w", err)
	}
	cc.pool = pool

	c.Pool.CleanupAdd(pool.Close)

	m.Logger.Info("database pool opened",
		"host", cc.cfg.Host, "database", cc.cfg.Database, "max_conns", cc.cfg.MaxConns)
	return nil
}

// PoolFrom extracts the live pool a committed cycle's database module
// slot holds, given the index that module was registered at.
func PoolFrom(c *cycle.Cycle, index int) (*pgxpool.Pool, error) {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok || cc.pool == nil {
		return nil, fmt.Errorf("database: pool not initialized")
	}
	return cc.pool, nil
}
