package cycle

import "sync/atomic"

// connSlotFree marks a slot with no live connection.
const connSlotFree int32 = 0

// ConnTable tracks in-flight connections accepted under a cycle's listeners.
// The retirement sweeper (internal/sweeper) reads it to decide whether a
// retired cycle has drained: spec.md invariant 4 requires that an old cycle
// enqueued for retirement is never mutated by the sweeper itself, only read,
// so every operation here that changes state is driven by the connection's
// own accept/close path, not by the sweeper.
//
// The table is a single counter of live connections, not a slot array; a
// cycle's table lives exactly as long as the cycle does.
type ConnTable struct {
	active atomic.Int64
}

// NewConnTable returns an empty table.
func NewConnTable() *ConnTable {
	return &ConnTable{}
}

// Acquire records one accepted connection. Called from the listener's accept
// loop before the connection is handed to application code.
func (t *ConnTable) Acquire() {
	t.active.Add(1)
}

// Release records one connection closing. Called exactly once per prior
// Acquire, from the connection's close path.
func (t *ConnTable) Release() {
	if t.active.Add(-1) < 0 {
		// A Release without a matching Acquire is a caller bug; clamp back
		// to zero rather than let the counter go permanently negative.
		t.active.Store(0)
	}
}

// Live reports the number of connections currently acquired.
func (t *ConnTable) Live() int64 {
	return t.active.Load()
}

// Drained reports whether every connection accepted under this cycle has
// closed — the condition the sweeper polls for before destroying a retired
// cycle's pool.
func (t *ConnTable) Drained() bool {
	return t.Live() == 0
}
