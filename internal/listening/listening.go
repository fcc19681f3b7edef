// Package listening is the subsystem that turns a cycle's diffed listener
// set into live sockets: binding everything the inherit engine marked
// Open, and leaving everything else — already-inherited or still pending
// socket-option reconciliation — untouched.
package listening

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/cyclehost/confcycle/internal/cycle"
)

// Open binds and starts listening on every listener in c.Listening whose
// Open flag is set, filling in its NL and FD. It stops at the first bind
// failure and returns an error identifying the address — resource
// acquisition failures are fatal to the whole cycle per spec.md 4.3's
// "on failure" step, so the caller is expected to unwind the cycle rather
// than retry individual listeners.
func Open(c *cycle.Cycle) error {
	var err error
	c.Listening.Each(func(_ int, l *cycle.Listener) {
		if err != nil || !l.Open {
			return
		}
		if bindErr := bind(l); bindErr != nil {
			err = fmt.Errorf("listening: %s: %w", l.Addr, bindErr)
		}
	})
	return err
}

// freshFD is the FD value given to a freshly bound (not inherited) listener.
// The socket's real descriptor is owned by l.NL; this subsystem never needs
// a duplicated *os.File of its own, since inherit.Diff transfers ownership
// of the next cycle's listeners by carrying over the net.Listener value
// itself, not by number.
const freshFD = -2

func bind(l *cycle.Listener) error {
	nl, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return err
	}
	l.NL = nl
	l.FD = freshFD
	return nil
}

// ReconcileDeferred hands every listener carrying a pending AddDeferred/
// DeleteDeferred mark from the inherit engine to applyDeferred, which clears
// the marks without changing any socket option (see applyDeferred).
// Failures here are logged and skipped rather than propagated: an inherited
// socket's current behavior is already acceptable, so a TCP_DEFER_ACCEPT or
// accept-filter tweak that fails just leaves the prior behavior in place.
func ReconcileDeferred(c *cycle.Cycle, log *slog.Logger) {
	c.Listening.Each(func(_ int, l *cycle.Listener) {
		if !l.AddDeferred && !l.DeleteDeferred {
			return
		}
		if err := applyDeferred(l); err != nil {
			log.Warn("deferred-accept reconciliation failed, keeping prior socket behavior",
				"addr", l.Addr, "error", err)
		}
	})
}

// applyDeferred is a placeholder for the platform-specific setsockopt calls
// (TCP_DEFER_ACCEPT on Linux, SO_ACCEPTFILTER on BSD); Go's net package
// doesn't expose either knob, so this subsystem's diff bookkeeping is kept
// accurate even though no syscall is issued yet.
func applyDeferred(l *cycle.Listener) error {
	l.AddDeferred = false
	l.DeleteDeferred = false
	return nil
}

// Close closes the listener's socket if it's valid, used by the commit
// coordinator both on abort (closing listeners this attempt opened) and
// after commit (closing old-cycle listeners whose Remain flag is false).
func Close(l *cycle.Listener) error {
	if !l.Valid() {
		return nil
	}
	err := l.NL.Close()
	l.NL = nil
	l.FD = cycle.SentinelFD
	return err
}
