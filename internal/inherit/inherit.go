// Package inherit implements the listener diff engine that decides, for
// each configured listener in a new cycle, whether it can reuse a socket
// already open in the predecessor cycle or must be opened fresh.
package inherit

import (
	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/pool"
)

// Diff matches old against new by address equality and mutates both sets
// in place per spec.md 4.4:
//
//   - every old entry starts with Remain cleared
//   - a matched pair transfers the fd from old to new and sets Remain on
//     both sides, so the retirement phase leaves the descriptor open
//   - an unmatched new entry keeps its sentinel fd and Open = true
//   - when old is nil (no predecessor), every new entry is opened
//
// Only Addr equality is compared, so listeners on families the addr string
// doesn't encode (anything beyond IPv4 or IPv6 host:port TCP) never match
// and are always freshly opened. Two spellings of the same address (for
// example "0.0.0.0:80" and ":80") do not match either.
func Diff(old, nw *pool.Array[*cycle.Listener]) {
	if old == nil {
		openAll(nw)
		return
	}

	old.Each(func(_ int, l *cycle.Listener) { l.Remain = false })

	nw.Each(func(_ int, n *cycle.Listener) {
		match := find(old, n)
		if match == nil {
			n.FD = cycle.SentinelFD
			n.Open = true
			return
		}

		n.FD = match.FD
		n.NL = match.NL
		n.Remain = true
		match.Remain = true
		reconcileDeferredAccept(match, n)
	})
}

// find linearly scans old for a non-Ignore listener whose Addr matches n's,
// per spec.md 4.4 step 2 ("linearly scan old listeners for a non-ignore
// match").
func find(old *pool.Array[*cycle.Listener], n *cycle.Listener) *cycle.Listener {
	var found *cycle.Listener
	old.Each(func(_ int, o *cycle.Listener) {
		if found != nil || o.Ignore {
			return
		}
		if o.Addr == n.Addr {
			found = o
		}
	})
	return found
}

// reconcileDeferredAccept applies spec.md 4.4's accept-filter / TCP
// deferred-accept reconciliation for a matched (old, new) pair.
func reconcileDeferredAccept(old, n *cycle.Listener) {
	switch {
	case old.AcceptFilter != "" && n.AcceptFilter != "" && old.AcceptFilter != n.AcceptFilter:
		n.DeleteDeferred = true
		n.AddDeferred = true
	case old.AcceptFilter != "" && n.AcceptFilter == "":
		n.DeleteDeferred = true
	case old.AcceptFilter == "" && n.AcceptFilter != "":
		n.AddDeferred = true
	}

	switch {
	case !old.DeferredAccept && n.DeferredAccept:
		n.AddDeferred = true
	case old.DeferredAccept && !n.DeferredAccept:
		n.DeleteDeferred = true
	}
}

// openAll marks every listener in new as needing a fresh open, used when
// there is no predecessor listening set to diff against (spec.md 4.4 step
// 3).
func openAll(nw *pool.Array[*cycle.Listener]) {
	nw.Each(func(_ int, n *cycle.Listener) {
		n.FD = cycle.SentinelFD
		n.Open = true
		if n.DeferredAccept {
			n.AddDeferred = true
		}
	})
}
