package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/internal/cycle"
)

func TestCreate_WritesPIDAndRemovesOldFile(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.pid")
	newPath := filepath.Join(dir, "new.pid")
	require.NoError(t, os.WriteFile(oldPath, []byte("111\n"), 0o644))

	old := cycle.New(nil, "x.yaml", "/", 0)
	old.PIDPath = oldPath
	old.ConfCtx = []any{"bootstrapped"}

	next := cycle.New(old, "x.yaml", "/", 0)
	next.PIDPath = newPath

	require.NoError(t, Create(next, old, false))

	b, err := os.ReadFile(newPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(b))

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCreate_NoopWhenOldNotYetDaemonised(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "new.pid")

	old := cycle.New(nil, "x.yaml", "/", 0)
	old.ConfCtx = nil

	next := cycle.New(old, "x.yaml", "/", 0)
	next.PIDPath = newPath

	require.NoError(t, Create(next, old, false))

	_, err := os.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCreate_NoopWhenPathUnchanged(t *testing.T) {
	dir := t.TempDir()
	samePath := filepath.Join(dir, "same.pid")
	require.NoError(t, os.WriteFile(samePath, []byte("999\n"), 0o644))

	old := cycle.New(nil, "x.yaml", "/", 0)
	old.PIDPath = samePath
	old.ConfCtx = []any{"x"}

	next := cycle.New(old, "x.yaml", "/", 0)
	next.PIDPath = samePath

	require.NoError(t, Create(next, old, false))

	b, err := os.ReadFile(samePath)
	require.NoError(t, err)
	assert.Equal(t, "999\n", string(b)) // untouched, not overwritten
}

func TestCreate_TestConfigDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "new.pid")

	next := cycle.New(nil, "x.yaml", "/", 0)
	next.PIDPath = newPath

	require.NoError(t, Create(next, nil, true))

	_, err := os.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_MissingFileIsNotAnError(t *testing.T) {
	c := cycle.New(nil, "x.yaml", "/", 0)
	c.PIDPath = filepath.Join(t.TempDir(), "missing.pid")

	assert.NoError(t, Delete(c))
}
