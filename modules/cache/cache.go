// Package cache is the module-registry entry that owns the process's two
// caching layers: an in-process LRU and a shared Redis client. InitModule
// builds both; the package exposes no lookup or invalidation through them.
// LockManagerFrom wraps the Redis client as the commit coordinator's
// distributed reload lock.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cyclehost/confcycle/internal/cycle"
)

// Config is the subset of application configuration this module owns.
type Config struct {
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr" validate:"required"`
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" json:"redis_db"`
	LocalSize     int           `mapstructure:"local_size" json:"local_size" validate:"min=1"`
	LockTTL       time.Duration `mapstructure:"lock_ttl" json:"lock_ttl"`
}

type conf struct {
	cfg   Config
	local *lru.Cache[string, any]
	rdb   *redis.Client
}

// Module owns both cache layers' lifecycle.
type Module struct {
	Config Config
	Logger *slog.Logger
}

func (m *Module) Name() string { return "cache" }

func (m *Module) CreateConf(*cycle.Cycle) (any, error) {
	return &conf{cfg: m.Config}, nil
}

func (m *Module) InitConf(_ *cycle.Cycle, raw any) error {
	c := raw.(*conf)
	if c.cfg.LocalSize <= 0 {
		c.cfg.LocalSize = 1024
	}
	if c.cfg.LockTTL <= 0 {
		c.cfg.LockTTL = 30 * time.Second
	}
	return nil
}

// InitModule constructs the LRU and the Redis client and pings Redis once
// to fail fast if it's unreachable.
func (m *Module) InitModule(c *cycle.Cycle, raw any) error {
	cc := raw.(*conf)

	local, err := lru.New[string, any](cc.cfg.LocalSize)
	if err != nil {
		return fmt.Errorf("cache: local lru: %w", err)
	}
	cc.local = local

	rdb := redis.NewClient(&redis.Options{
		Addr:     cc.cfg.RedisAddr,
		Password: cc.cfg.RedisPassword,
		DB:       cc.cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	cc.rdb = rdb
	c.Pool.CleanupAdd(func() { rdb.Close() })

	m.Logger.Info("cache module ready", "redis_addr", cc.cfg.RedisAddr, "local_size", cc.cfg.LocalSize)
	return nil
}

// LockManagerFrom builds a commit.LockManager backed by the module's Redis
// client. The returned value satisfies internal/commit.LockManager's
// Acquire(key, ttl) signature without this package importing internal/commit
// (the dependency points the other way: commit depends on an interface,
// this module supplies an implementation of it).
func LockManagerFrom(c *cycle.Cycle, index int) (*RedisLock, error) {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok || cc.rdb == nil {
		return nil, fmt.Errorf("cache: module not initialized")
	}
	return &RedisLock{client: cc.rdb, ttl: cc.cfg.LockTTL}, nil
}

// RedisLock implements a SET-NX based distributed lock, released via a
// Lua script that only deletes the key if it still holds this lock's
// unique value (so a lock that outlived its TTL and was claimed by
// another holder is never released out from under them).
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Acquire makes a single SET NX attempt (bounded by ttl) and does not wait:
// if the key is already held it returns an error at once. On success it
// returns a release function that safely unlocks only this holder's lock.
func (r *RedisLock) Acquire(key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	value := randomValue()

	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("cache: lock %s already held", key)
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.client.Eval(releaseCtx, releaseScript, []string{key}, value)
	}
	return release, nil
}

func randomValue() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
