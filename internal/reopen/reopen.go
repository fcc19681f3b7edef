// Package reopen implements the log-file reopen operation: opening a fresh
// descriptor for every registered open-file, taking ownership of it per the
// configured uid, and swapping it in for the old one without ever leaving
// the cycle without a writable log.
package reopen

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/metrics"
)

// noUID is the sentinel for "no ownership change configured".
const noUID = -1

// Files reopens every named OpenFile registered on c, chowning/chmoding to
// uid when uid != -1. A failure on any one file is logged at error level
// and that file is left on its old descriptor — the operation
// continues with the rest, matching the "old fd continues in use" recovery
// spec.md 4.5 describes, which treats rotation as best-effort per file
// rather than all-or-nothing across the set.
func Files(c *cycle.Cycle, uid int, log *slog.Logger) {
	anyErr := false
	c.OpenFiles.Each(func(f *cycle.OpenFile) bool {
		if f.Name == "" {
			return true
		}
		if err := reopenOne(f, uid); err != nil {
			anyErr = true
			log.Error("reopen log file failed, old descriptor remains in use",
				"file", f.Name, "error", err)
		}
		return true
	})

	status := "ok"
	if anyErr {
		status = "error"
	}
	metrics.ReopenLogTotal.WithLabelValues(status).Inc()
}

// reopenOne performs the create-or-open, ownership/mode reconciliation and
// descriptor swap for a single file, per spec.md 4.5 steps 1-4.
func reopenOne(f *cycle.OpenFile, uid int) error {
	next, err := os.OpenFile(f.Name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	if uid != noUID {
		if err := reconcileOwnership(next, uid); err != nil {
			next.Close()
			return fmt.Errorf("ownership: %w", err)
		}
	}

	if err := setCloseOnExec(next); err != nil {
		next.Close()
		return fmt.Errorf("close-on-exec: %w", err)
	}

	old := f.File
	f.File = next
	if old != nil {
		old.Close()
	}
	return nil
}

// reconcileOwnership chowns next to uid if its current owner differs, and
// ensures user-read+user-write bits are set, chmod-ing if not.
func reconcileOwnership(next *os.File, uid int) error {
	info, err := next.Stat()
	if err != nil {
		return err
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Platform lacks POSIX ownership semantics; append-mode (already
		// requested via O_APPEND above) is the full enforcement available.
		return nil
	}
	if int(sys.Uid) != uid {
		if err := next.Chown(uid, int(sys.Gid)); err != nil {
			return err
		}
	}
	const userRW = 0o600
	if info.Mode().Perm()&userRW != userRW {
		if err := next.Chmod(info.Mode().Perm() | userRW); err != nil {
			return err
		}
	}
	return nil
}

// setCloseOnExec marks next's descriptor FD_CLOEXEC so a future exec (e.g.
// a binary upgrade) doesn't leak it into the child.
func setCloseOnExec(next *os.File) error {
	syscall.CloseOnExec(int(next.Fd()))
	return nil
}

// RedirectStderr dups log's fd over the process's standard-error stream so
// uncontrolled writes (panics, libraries writing directly to stderr) land
// in the current log file.
func RedirectStderr(log *os.File) error {
	return syscall.Dup2(int(log.Fd()), int(os.Stderr.Fd()))
}
