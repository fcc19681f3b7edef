// Package commit implements the cycle-construction transaction: building a
// fresh configuration cycle from its predecessor, running it through every
// registered module's lifecycle hooks, acquiring every resource it needs,
// and either committing it in place of the old cycle or rolling back
// without disturbing anything the old cycle already owned.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/inherit"
	"github.com/cyclehost/confcycle/internal/listening"
	"github.com/cyclehost/confcycle/internal/metrics"
	"github.com/cyclehost/confcycle/internal/modreg"
	"github.com/cyclehost/confcycle/internal/pidfile"
	"github.com/cyclehost/confcycle/internal/reopen"
)

// DefaultPoolSize is used when a Coordinator is built with PoolSize <= 0.
const DefaultPoolSize = 16 * 1024

// ParseFunc parses c's configuration file, populating directives into
// c.ConfCtx via whatever module each directive is bound to. Parsing itself
// is an external collaborator this package only calls through this
// function value.
type ParseFunc func(c *cycle.Cycle) error

// Retirer receives a committed cycle's predecessor once it is safe to stop
// serving from it. Implemented by the retirement sweeper; kept as an
// interface here so this package doesn't import it directly (the sweeper
// in turn depends on nothing in this package).
type Retirer interface {
	Enqueue(old *cycle.Cycle)
}

// LockManager serializes concurrent reload attempts. Optional: a nil
// LockManager means reloads are already serialized by the caller (the
// signal/CLI entry point only ever runs one reload at a time), matching
// the non-reentrancy already guaranteed at that layer.
type LockManager interface {
	Acquire(key string, ttl time.Duration) (release func(), err error)
}

// AuditLog records the outcome of a commit attempt. Optional.
type AuditLog interface {
	RecordCommit(result Result)
}

// Result summarizes one call to Commit, for logging, metrics and the audit
// trail.
type Result struct {
	CycleID    string
	Success    bool
	RolledBack bool
	Err        error
	Duration   time.Duration
}

// Coordinator runs the init_cycle transaction described in spec-level
// terms as: build, parse, acquire resources, then either commit or abort.
type Coordinator struct {
	Registry     *modreg.Registry
	Parse        ParseFunc
	PoolSize     int
	Logger       *slog.Logger
	Retirer      Retirer
	Lock         LockManager
	Audit        AuditLog
	IsSupervisor bool
	TestConfig   bool
}

// errAbort wraps a resource-acquisition failure so the caller can
// distinguish "roll back cleanly" outcomes from unexpected panics, without
// needing a sentinel error value exported across the package boundary.
type errAbort struct{ err error }

func (e *errAbort) Error() string { return e.err.Error() }
func (e *errAbort) Unwrap() error { return e.err }

// Commit runs the full construction transaction for a successor to old
// (old may be nil for the bootstrap cycle) against confFile/root. On
// success it returns the new, committed cycle and arranges for old's
// resources to be released appropriately; on failure it returns nil and
// old is left byte-for-byte unchanged.
func (co *Coordinator) Commit(old *cycle.Cycle, confFile, root string) (*cycle.Cycle, error) {
	start := time.Now()
	poolSize := co.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	var release func()
	if co.Lock != nil {
		r, err := co.Lock.Acquire("confcycle:commit", 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("commit: acquire lock: %w", err)
		}
		release = r
		defer release()
	}

	next := cycle.New(old, confFile, root, poolSize)

	if err := co.build(next, old); err != nil {
		next.Destroy()
		next.SetState(cycle.Aborted)
		co.finish(next, false, err, start)
		return nil, err
	}

	if co.TestConfig {
		// test-config only validates: it never commits, never runs
		// init_module, and never disturbs old. Tear next down and report
		// success with no cycle, per the "-t" contract.
		next.Destroy()
		co.finish(next, true, nil, start)
		return nil, nil
	}

	co.commit(next, old)
	co.finish(next, true, nil, start)
	return next, nil
}

// build runs steps 5-10 of cycle construction: module create_conf, parse,
// module init_conf, and every resource-acquisition step. Any failure here
// is returned wrapped in errAbort and the caller destroys next's pool.
func (co *Coordinator) build(next, old *cycle.Cycle) error {
	if err := co.Registry.CreateConf(next); err != nil {
		return &errAbort{err}
	}
	next.SetState(cycle.Parsing)

	if co.Parse != nil {
		if err := co.Parse(next); err != nil {
			return &errAbort{fmt.Errorf("parse: %w", err)}
		}
	}
	if co.TestConfig {
		co.Logger.Info("syntax is ok")
	}

	if err := co.Registry.InitConf(next); err != nil {
		return &errAbort{err}
	}
	next.SetState(cycle.Opening)

	return co.acquireResources(next, old)
}

// acquireResources runs spec step 9: pid file, paths, open-files, listener
// diff/open. Each sub-step's failure aborts the whole attempt; nothing
// here mutates old.
func (co *Coordinator) acquireResources(next, old *cycle.Cycle) error {
	if err := pidfile.Create(next, old, co.TestConfig); err != nil {
		return &errAbort{err}
	}

	if err := co.createPaths(next); err != nil {
		return &errAbort{err}
	}

	opened, err := co.openFiles(next)
	if err != nil {
		co.closeOpenedFiles(opened)
		return &errAbort{err}
	}

	if old != nil {
		inherit.Diff(old.Listening, next.Listening)
	} else {
		inherit.Diff(nil, next.Listening)
	}

	if !co.TestConfig {
		if err := listening.Open(next); err != nil {
			co.closeOpenedListeners(next)
			co.closeOpenedFiles(opened)
			return &errAbort{err}
		}
		listening.ReconcileDeferred(next, co.Logger)
	}

	return nil
}

// createPaths ensures every configured path descriptor exists with its
// configured owner/mode.
func (co *Coordinator) createPaths(next *cycle.Cycle) error {
	var firstErr error
	next.Pathes.Each(func(_ int, pd cycle.PathDescriptor) {
		if firstErr != nil {
			return
		}
		mode := os.FileMode(pd.Mode)
		if mode == 0 {
			mode = 0o755
		}
		if err := os.MkdirAll(pd.Path, mode); err != nil {
			firstErr = fmt.Errorf("create path %s: %w", pd.Path, err)
		}
	})
	return firstErr
}

// openFiles opens every registered, named open-file for append, returning
// the ones it successfully opened so a later failure can unwind them.
func (co *Coordinator) openFiles(next *cycle.Cycle) ([]*cycle.OpenFile, error) {
	var opened []*cycle.OpenFile
	var firstErr error
	next.OpenFiles.Each(func(f *cycle.OpenFile) bool {
		if f.Name == "" || firstErr != nil {
			return firstErr == nil
		}
		file, err := os.OpenFile(f.Name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			firstErr = fmt.Errorf("open file %s: %w", f.Name, err)
			return false
		}
		f.File = file
		opened = append(opened, f)
		return true
	})
	return opened, firstErr
}

func (co *Coordinator) closeOpenedFiles(opened []*cycle.OpenFile) {
	for _, f := range opened {
		if f.File != nil {
			f.File.Close()
		}
	}
}

func (co *Coordinator) closeOpenedListeners(next *cycle.Cycle) {
	next.Listening.Each(func(_ int, l *cycle.Listener) {
		if l.Open && l.Valid() {
			listening.Close(l)
		}
	})
}

// commit runs spec step 12: activate every module, then release whatever
// the old cycle no longer needs, either immediately (bootstrap/supervisor)
// or by handing it to the retirement sweeper.
func (co *Coordinator) commit(next, old *cycle.Cycle) {
	if err := co.Registry.InitModule(next); err != nil {
		co.Logger.Error("init_module failed, process cannot continue safely", "error", err)
		panic(fmt.Sprintf("commit: fatal init_module failure: %v", err))
	}

	if next.Log != nil && next.Log.File != nil {
		if err := reopen.RedirectStderr(next.Log.File); err != nil {
			co.Logger.Warn("redirect stderr to log file failed", "error", err)
		}
	}

	next.SetState(cycle.Committed)

	if old == nil {
		return
	}

	old.Listening.Each(func(_ int, l *cycle.Listener) {
		if !l.Remain {
			listening.Close(l)
		}
	})
	old.OpenFiles.Each(func(f *cycle.OpenFile) bool {
		if f.File != nil {
			f.File.Close()
		}
		return true
	})

	switch {
	case old.Connections == nil:
		old.Destroy()
	case co.IsSupervisor:
		old.Destroy()
	case co.Retirer != nil:
		old.SetState(cycle.Retiring)
		co.Retirer.Enqueue(old)
	default:
		old.Destroy()
	}
}

func (co *Coordinator) finish(c *cycle.Cycle, success bool, err error, start time.Time) {
	result := Result{
		CycleID:  c.ID.String(),
		Success:  success,
		Err:      err,
		Duration: time.Since(start),
	}
	var abortErr *errAbort
	if err != nil && errors.As(err, &abortErr) {
		result.RolledBack = true
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelError
	}
	co.Logger.Log(context.Background(), level, "cycle commit finished",
		"cycle_id", result.CycleID,
		"success", result.Success,
		"duration_ms", result.Duration.Milliseconds(),
		"error", err,
	)

	status := "committed"
	if !success {
		status = "rolled_back"
	}
	metrics.CommitTotal.WithLabelValues(status).Inc()
	metrics.CommitDuration.Observe(result.Duration.Seconds())
	if success {
		metrics.CurrentCycleGeneration.Inc()
	}

	if co.Audit != nil {
		co.Audit.RecordCommit(result)
	}
}
