package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyclehost/confcycle/internal/commit"
	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/pidfile"
	"github.com/cyclehost/confcycle/internal/reopen"
	"github.com/cyclehost/confcycle/internal/sweeper"
)

// debounceWindow prevents a burst of SIGHUP delivery (e.g. a shell loop
// sending the signal to every process in a group) from running overlapping
// reload attempts; only the first signal in the window is honored.
const debounceWindow = 1 * time.Second

// reloadLoop owns the daemon's live cycle pointer and dispatches every
// signal the process cares about to the right operation: SIGHUP reloads
// the configuration, SIGUSR1 reopens log files, SIGTERM/SIGINT shuts down.
type reloadLoop struct {
	coordinator *commit.Coordinator
	sweeper     *sweeper.Sweeper
	logger      *slog.Logger
	confFile    string
	root        string

	mu      sync.Mutex
	current *cycle.Cycle

	lastReload atomic.Value // time.Time

	// onCommitted runs after every successful commit so the coordinator's
	// audit trail and distributed lock can be rebound to the new cycle's
	// freshly initialized module instances.
	onCommitted func(next *cycle.Cycle)
}

func (l *reloadLoop) run() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)

	l.logger.Info("confcycle daemon ready",
		"cycle_id", l.activeCycle().ID.String(),
		"config", l.confFile,
	)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			if l.shouldDebounce() {
				l.logger.Debug("reload debounced, too soon after previous attempt")
				continue
			}
			l.markReloadAttempt()
			l.reload()
		case syscall.SIGUSR1:
			l.reopenLogs()
		case syscall.SIGTERM, syscall.SIGINT:
			l.shutdown()
			return
		}
	}
}

func (l *reloadLoop) activeCycle() *cycle.Cycle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *reloadLoop) shouldDebounce() bool {
	v := l.lastReload.Load()
	if v == nil {
		return false
	}
	return time.Since(v.(time.Time)) < debounceWindow
}

func (l *reloadLoop) markReloadAttempt() {
	l.lastReload.Store(time.Now())
}

// reload runs the full init_cycle transaction against the current cycle
// and, on success, swaps it in; on failure the current cycle keeps serving
// traffic untouched.
func (l *reloadLoop) reload() {
	start := time.Now()
	old := l.activeCycle()

	next, err := l.coordinator.Commit(old, l.confFile, l.root)
	if err != nil {
		l.logger.Error("reload via SIGHUP failed, continuing on previous cycle",
			"error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}

	l.mu.Lock()
	l.current = next
	l.mu.Unlock()

	if l.onCommitted != nil {
		l.onCommitted(next)
	}

	l.logger.Info("reload via SIGHUP committed",
		"cycle_id", next.ID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (l *reloadLoop) reopenLogs() {
	c := l.activeCycle()
	reopen.Files(c, c.UID, l.logger)
	l.logger.Info("reopened log files", "cycle_id", c.ID.String())
}

func (l *reloadLoop) shutdown() {
	l.logger.Info("shutting down on signal")
	if l.sweeper != nil {
		l.sweeper.Stop()
	}
	if err := pidfile.Delete(l.activeCycle()); err != nil {
		l.logger.Warn("remove pid file failed", "error", err)
	}
	l.activeCycle().Destroy()
}

// readPID parses the pid file at path for reopen-logs to signal.
func readPID(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("no pid_path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// signalReopen sends SIGUSR1 (this process's reopen-logs signal) to pid.
func signalReopen(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGUSR1)
}
