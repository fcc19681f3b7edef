// Package pidfile implements the pid-file lifecycle: writing the daemon's
// process id to a configured path on commit, and removing the predecessor's
// file once the new one is in place.
package pidfile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cyclehost/confcycle/internal/cycle"
)

// path chooses between a cycle's ordinary pid path and its newpid variant.
// The newpid variant is used when this process was invoked as the child of
// a binary-upgrade parent: it was handed inherited listeners and its parent
// pid is a real process, not init.
func path(c *cycle.Cycle) string {
	if c.Inherited && c.ParentPID > 1 && c.NewPIDPath != "" {
		return c.NewPIDPath
	}
	return c.PIDPath
}

// Create writes the running process's pid to next's configured path, then
// removes old's pid file; with testConfig set it touches neither file. It
// is a no-op in two cases: old exists but hasn't
// finished daemonising yet (its ConfCtx is still nil), and old's configured
// path is byte-identical to next's (nothing actually changes on disk).
func Create(next, old *cycle.Cycle, testConfig bool) error {
	if old != nil && old.ConfCtx == nil {
		return nil
	}
	if old != nil && old.PIDPath == next.PIDPath {
		return nil
	}

	target := path(next)
	if target == "" {
		return nil
	}

	if err := write(target, os.Getpid(), testConfig); err != nil {
		return fmt.Errorf("pidfile: create %s: %w", target, err)
	}

	if old != nil && !testConfig {
		return Delete(old)
	}
	return nil
}

// write truncates and writes pid as decimal plus a trailing newline, unless
// testConfig is set, in which case the file is left untouched (test-config
// runs never persist state).
func write(target string, pid int, testConfig bool) error {
	if testConfig {
		return nil
	}
	return os.WriteFile(target, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Delete removes c's pid file, choosing the newpid path under the same
// inherited-child condition Create uses.
func Delete(c *cycle.Cycle) error {
	target := path(c)
	if target == "" {
		return nil
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: delete %s: %w", target, err)
	}
	return nil
}
