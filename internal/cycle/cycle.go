// Package cycle implements the immutable-once-committed configuration
// generation spec.md calls the "cycle": the object that owns every resource
// bound to one parse of the configuration file, from its arena (Pool)
// through its listening sockets and open log files to the per-module
// configuration blocks the registry attaches to it.
package cycle

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/cyclehost/confcycle/internal/pool"
)

// State is the cycle's position in the lifecycle spec.md 4.8 describes:
//
//	Building -> (Parsing -> Opening) -> Committed -> Retiring -> Destroyed
//	Building -> Aborted -> Destroyed
type State int

const (
	Building State = iota
	Parsing
	Opening
	Committed
	Aborted
	Retiring
	Destroyed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Parsing:
		return "parsing"
	case Opening:
		return "opening"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Retiring:
		return "retiring"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Cycle is the root entity of one configuration generation. See spec.md 3
// for the full attribute rationale.
type Cycle struct {
	ID uuid.UUID

	Pool *pool.Pool

	// OldCycle is a non-owning back-reference to the predecessor, valid
	// only during construction; callers must not dereference it after
	// commit completes.
	OldCycle *Cycle

	ConfFile string
	Root     string

	Pathes    *pool.Array[PathDescriptor]
	OpenFiles *pool.List[*OpenFile]
	Listening *pool.Array[*Listener]

	// ConfCtx is a dense vector indexed by module id; unused slots are
	// nil (spec.md invariant 6).
	ConfCtx []any

	// PID-file configuration carried on the core block (spec.md 4.6).
	PIDPath    string
	NewPIDPath string
	Inherited  bool // this process's listen sockets were inherited from a parent
	ParentPID  int

	UID int // configured process owner uid, -1 if unset

	Log    *LogHandle
	NewLog *LogHandle

	Connections *ConnTable

	mu    sync.Mutex
	state State
}

// PathDescriptor is a directory spec.md's core module block ensures exists,
// with the configured owner/mode.
type PathDescriptor struct {
	Path string
	UID  int
	Mode uint32
}

// LogHandle wraps the error-log object a cycle points at. It starts out as
// an alias of the predecessor's log (so parse-time errors still land
// somewhere) and is swapped for NewLog once the new log files are open.
// File is the raw descriptor so the reopen operation (internal/reopen) can
// chown/chmod/dup2 it; Logger is what application code actually writes
// through.
type LogHandle struct {
	File   *os.File
	Logger *slog.Logger
}

// New constructs a cycle in the Building state, pre-sizing Pathes and
// Listening from the predecessor's counts (or a default of 10 each when
// there is no predecessor). OpenFiles is a segmented List and takes no size
// hint.
func New(old *Cycle, confFile, root string, poolSize int) *Cycle {
	p := pool.Create(poolSize)

	pathesHint, listenHint := 10, 10
	if old != nil {
		if n := old.Pathes.Len(); n > 0 {
			pathesHint = n
		}
		if n := old.Listening.Len(); n > 0 {
			listenHint = n
		}
	}

	c := &Cycle{
		ID:        uuid.New(),
		Pool:      p,
		OldCycle:  old,
		ConfFile:  confFile,
		Root:      root,
		Pathes:    pool.NewArray[PathDescriptor](p, pathesHint),
		OpenFiles: pool.NewList[*OpenFile](p),
		Listening:   pool.NewArray[*Listener](p, listenHint),
		Connections: NewConnTable(),
		UID:         -1,
		state:       Building,
	}
	if old != nil {
		c.ConfFile = old.ConfFile
		c.Root = old.Root
		c.Log = old.Log
		c.PIDPath = old.PIDPath
	}
	return c
}

// State returns the cycle's current lifecycle state.
func (c *Cycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions the cycle. Callers are expected to respect the
// transition table in spec.md 4.8; SetState itself does not validate edges
// because the commit coordinator is the sole caller and is already
// structured around those transitions.
func (c *Cycle) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Destroy releases the cycle's pool, which transitively frees every
// allocation and runs every registered cleanup handler. Safe to call more
// than once.
func (c *Cycle) Destroy() {
	c.Pool.Destroy()
	c.SetState(Destroyed)
}

func (c *Cycle) String() string {
	return fmt.Sprintf("cycle{id=%s state=%s listeners=%d files=%d}",
		c.ID, c.State(), c.Listening.Len(), c.OpenFiles.Len())
}
