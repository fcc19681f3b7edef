// Package modreg implements the module registry: a static, ordered table of
// plug-in entries the commit coordinator walks to build, initialise and
// finally activate a cycle's per-module configuration blocks. It is a
// registry, not an inheritance hierarchy — every registrant is a plain value
// implementing Module, slotted into cycle.ConfCtx by Index.
package modreg

import (
	"fmt"

	"github.com/cyclehost/confcycle/internal/cycle"
)

// Module is the contract every registrant (modules/httplisten,
// modules/logfiles, modules/database, modules/cache, modules/auditlog)
// implements. The three hooks are called in registration order at three
// distinct points of cycle construction:
//
//   - CreateConf allocates the module's configuration block for c and is
//     called while the cycle is in the Building state, before the
//     configuration file is parsed. A returned error aborts construction.
//   - InitConf is called after the parser has populated every block
//     (including this one, via whatever directive-binding mechanism the
//     parser uses — out of scope here) and may open the resources the
//     module's directives describe. A returned error aborts construction.
//   - InitModule is called exactly once, after every resource acquisition
//     in the cycle has succeeded — it is the point of no return. An error
//     here is fatal: the caller is expected to exit the process rather
//     than attempt to unwind a half-activated cycle.
type Module interface {
	// Name identifies the module for logging and the audit trail.
	Name() string

	CreateConf(c *cycle.Cycle) (any, error)
	InitConf(c *cycle.Cycle, conf any) error
	InitModule(c *cycle.Cycle, conf any) error
}

// entry pairs a registered Module with the dense index it occupies in
// cycle.ConfCtx.
type entry struct {
	index  int
	module Module
}

// Registry is an ordered, append-only table of modules. The zero value is
// not usable; construct with New.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends m to the registry and returns the index it was assigned.
// Registration order is significant: CreateConf, InitConf and InitModule are
// all walked in this order by the commit coordinator. Registering the same
// name twice panics — this only happens at process wiring time, not per
// request, so a panic here is a startup-time programmer error, not a
// runtime condition callers need to recover from.
func (r *Registry) Register(m Module) int {
	if _, exists := r.byName[m.Name()]; exists {
		panic(fmt.Sprintf("modreg: module %q already registered", m.Name()))
	}
	idx := len(r.entries)
	r.entries = append(r.entries, entry{index: idx, module: m})
	r.byName[m.Name()] = idx
	return idx
}

// Len returns the number of registered modules — the minimum length
// cycle.ConfCtx must have.
func (r *Registry) Len() int { return len(r.entries) }

// Index returns the slot a named module occupies, or -1 if it isn't
// registered.
func (r *Registry) Index(name string) int {
	if idx, ok := r.byName[name]; ok {
		return idx
	}
	return -1
}

// CreateConf walks every registered module's CreateConf hook in
// registration order, storing each result into c.ConfCtx. It stops and
// returns the first error, leaving c.ConfCtx partially populated — callers
// abort the whole cycle on any error, so partial population is never
// observed past that point.
func (r *Registry) CreateConf(c *cycle.Cycle) error {
	c.ConfCtx = make([]any, len(r.entries))
	for _, e := range r.entries {
		conf, err := e.module.CreateConf(c)
		if err != nil {
			return fmt.Errorf("modreg: %s: create_conf: %w", e.module.Name(), err)
		}
		c.ConfCtx[e.index] = conf
	}
	return nil
}

// InitConf walks every registered module's InitConf hook in registration
// order, after the configuration file has been parsed into c.ConfCtx.
func (r *Registry) InitConf(c *cycle.Cycle) error {
	for _, e := range r.entries {
		if err := e.module.InitConf(c, c.ConfCtx[e.index]); err != nil {
			return fmt.Errorf("modreg: %s: init_conf: %w", e.module.Name(), err)
		}
	}
	return nil
}

// InitModule walks every registered module's InitModule hook in
// registration order. Per the contract on Module, an error here means the
// caller must treat the process as unable to continue safely.
func (r *Registry) InitModule(c *cycle.Cycle) error {
	for _, e := range r.entries {
		if err := e.module.InitModule(c, c.ConfCtx[e.index]); err != nil {
			return fmt.Errorf("modreg: %s: init_module: %w", e.module.Name(), err)
		}
	}
	return nil
}
