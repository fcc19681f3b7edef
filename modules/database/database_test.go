package database

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/internal/cycle"
)

func newModule(cfg Config) *Module {
	return &Module{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestConfig_DSNFormatsConnectionString(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, Database: "confcycle", User: "app", Password: "secret", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:secret@db:5432/confcycle?sslmode=disable", cfg.DSN())
}

func TestCreateConf_WrapsConfiguredValues(t *testing.T) {
	m := newModule(Config{Host: "db", MaxConns: 10, MinConns: 2})
	raw, err := m.CreateConf(nil)
	require.NoError(t, err)

	c, ok := raw.(*conf)
	require.True(t, ok)
	assert.Equal(t, "db", c.cfg.Host)
}

func TestInitConf_RejectsMinExceedingMax(t *testing.T) {
	m := newModule(Config{MaxConns: 2, MinConns: 5})
	raw, err := m.CreateConf(nil)
	require.NoError(t, err)

	err = m.InitConf(nil, raw)
	assert.Error(t, err)
}

func TestInitConf_AcceptsValidBounds(t *testing.T) {
	m := newModule(Config{MaxConns: 10, MinConns: 2})
	raw, err := m.CreateConf(nil)
	require.NoError(t, err)

	assert.NoError(t, m.InitConf(nil, raw))
}

func TestPoolFrom_ErrorsWhenModuleNotInitialized(t *testing.T) {
	m := newModule(Config{Host: "db"})
	raw, err := m.CreateConf(nil)
	require.NoError(t, err)

	c := &cycle.Cycle{ConfCtx: []any{raw}}
	_, err = PoolFrom(c, 0)
	assert.Error(t, err)
}
