package main

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/cyclehost/confcycle/internal/commit"
	"github.com/cyclehost/confcycle/internal/config"
	"github.com/cyclehost/confcycle/internal/cycle"
)

// coreParse returns the commit.ParseFunc that populates the cycle-level
// fields no module owns: the pid-file path, the process-owner uid, and the
// root directory every module's paths are created under.
func coreParse(cfg *config.Config) commit.ParseFunc {
	return func(next *cycle.Cycle) error {
		next.PIDPath = cfg.Core.PIDPath
		next.Root = cfg.Core.Root

		uid, err := resolveUID(cfg.Core.User)
		if err != nil {
			return fmt.Errorf("core: resolve user %q: %w", cfg.Core.User, err)
		}
		next.UID = uid

		if cfg.Core.Root != "" {
			next.Pathes.Push(cycle.PathDescriptor{Path: cfg.Core.Root, UID: uid})
		}
		return nil
	}
}

// resolveUID returns -1 (no ownership change) when name is empty, otherwise
// the numeric uid for the named user.
func resolveUID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(u.Uid)
}
