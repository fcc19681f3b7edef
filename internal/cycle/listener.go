package cycle

import "net"

// SentinelFD marks a Listener whose descriptor has not yet been opened,
// matching spec.md's "fd sentinel = -1".
const SentinelFD = -1

// Listener describes one bound-or-to-be-bound listening socket, carried
// across reloads so the inherit/diff engine (internal/inherit) can decide
// whether it is reused or opened fresh. Listeners are matched by plain
// equality of their Addr strings (IPv4 or IPv6 TCP "host:port"); see
// internal/inherit.
type Listener struct {
	Addr     string // "host:port", the comparison key
	AddrText string // display form

	FD int // SentinelFD until opened or inherited
	NL net.Listener

	Open  bool // must be opened by the listening subsystem
	Remain bool // inherited: do not close when the old cycle retires
	Ignore bool // suppress inheritance for this entry

	DeferredAccept bool
	AcceptFilter   string
	AddDeferred    bool
	DeleteDeferred bool

	PostAcceptTimeout int // seconds, 0 = disabled
}

// Valid reports whether the listener has a live descriptor.
func (l *Listener) Valid() bool { return l.FD != SentinelFD && l.NL != nil }
