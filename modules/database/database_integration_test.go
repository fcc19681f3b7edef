//go:build integration

package database

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/pool"
)

// startPostgres brings up a disposable postgres container and returns the
// module Config pointed at it, mirroring the container-per-test pattern
// used elsewhere in this codebase for datastore-backed tests.
func startPostgres(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("confcycle_test"),
		postgres.WithUsername("confcycle"),
		postgres.WithPassword("confcycle"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return Config{
		Host:     host,
		Port:     port.Int(),
		Database: "confcycle_test",
		User:     "confcycle",
		Password: "confcycle",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}
}

func TestModule_InitModuleOpensPoolAndCleanupClosesIt(t *testing.T) {
	cfg := startPostgres(t)
	m := &Module{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	p := pool.Create(0)
	c := &cycle.Cycle{Pool: p}

	raw, err := m.CreateConf(c)
	require.NoError(t, err)
	require.NoError(t, m.InitConf(c, raw))
	require.NoError(t, m.InitModule(c, raw))

	c.ConfCtx = []any{raw}
	pool, err := PoolFrom(c, 0)
	require.NoError(t, err)
	_ = pool.Ping(context.Background())

	p.Destroy() // runs the CleanupAdd(pool.Close) registered by InitModule
}
