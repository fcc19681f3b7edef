package reopen

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/pool"
)

func TestFiles_OpensFreshDescriptorForNamedEntry(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "access.log")

	p := pool.Create(0)
	files := pool.NewList[*cycle.OpenFile](p)
	old, err := os.Create(name)
	require.NoError(t, err)
	files.Push(&cycle.OpenFile{Name: name, File: old})

	c := &cycle.Cycle{OpenFiles: files}
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))

	Files(c, noUID, log)

	entries := c.OpenFiles.ToSlice()
	require.Len(t, entries, 1)
	assert.NotSame(t, old, entries[0].File)
	assert.Empty(t, logBuf.String())
}

func TestFiles_SkipsUnnamedSlot(t *testing.T) {
	p := pool.Create(0)
	files := pool.NewList[*cycle.OpenFile](p)
	files.Push(&cycle.OpenFile{Name: ""})

	c := &cycle.Cycle{OpenFiles: files}
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	assert.NotPanics(t, func() { Files(c, noUID, log) })
}

func TestFiles_FailureKeepsOldDescriptor(t *testing.T) {
	dir := t.TempDir()
	// A path under a nonexistent directory can never be opened.
	name := filepath.Join(dir, "missing-dir", "access.log")

	p := pool.Create(0)
	files := pool.NewList[*cycle.OpenFile](p)
	old, err := os.CreateTemp(dir, "old")
	require.NoError(t, err)
	entry := &cycle.OpenFile{Name: name, File: old}
	files.Push(entry)

	c := &cycle.Cycle{OpenFiles: files}
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))

	Files(c, noUID, log)

	assert.Same(t, old, entry.File)
	assert.Contains(t, logBuf.String(), "reopen log file failed")
}
