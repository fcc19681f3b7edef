// Package sweeper implements the retirement sweeper: a background loop
// that periodically checks every retired cycle for drained connections and
// destroys it once it's safe to do so. It is the sole destroyer of
// non-bootstrap, non-supervisor retirements.
package sweeper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/metrics"
	"github.com/cyclehost/confcycle/internal/pool"
)

// Interval is the re-arm period between drain checks.
const Interval = 30 * time.Second

// Sweeper holds the auxiliary pool and the growable array of retired-cycle
// handles it backs. The pool is created lazily on the first Enqueue and
// destroyed once the list fully drains, matching the lazy-initialisation
// contract.
type Sweeper struct {
	mu      sync.Mutex
	logger  *slog.Logger
	auxPool *pool.Pool
	retired *pool.Array[*cycle.Cycle]
	timer   *time.Timer
	stopped bool
}

// New returns an idle sweeper. It allocates nothing until the first cycle
// is enqueued.
func New(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{logger: logger}
}

// Enqueue adds a retired cycle to the sweep list and arms the timer if it
// isn't already running. Safe to call concurrently with the timer firing.
func (s *Sweeper) Enqueue(c *cycle.Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		c.Destroy()
		return
	}
	if s.auxPool == nil {
		s.auxPool = pool.Create(0)
		s.retired = pool.NewArray[*cycle.Cycle](s.auxPool, 8)
	}
	s.retired.Push(c)
	metrics.RetiringCycles.Inc()

	if s.timer == nil {
		s.arm()
	}
}

// arm schedules the next sweep. Callers must hold s.mu.
func (s *Sweeper) arm() {
	s.timer = time.AfterFunc(Interval, s.sweep)
}

// sweep runs one pass over the retired list: any cycle whose connection
// table has drained is destroyed and removed; any cycle still live stays
// enqueued. If anything remains live, the timer is re-armed; if the list
// is fully drained, the auxiliary pool is destroyed and the sweeper
// returns to its idle, lazily-initialised state.
func (s *Sweeper) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired == nil {
		return
	}

	anyLive := false
	s.retired.Each(func(i int, c *cycle.Cycle) {
		if c == nil {
			return
		}
		if c.Connections == nil || c.Connections.Drained() {
			c.Destroy()
			s.retired.Set(i, nil)
			metrics.RetiringCycles.Dec()
			metrics.CyclesDestroyed.Inc()
			return
		}
		anyLive = true
	})

	if !anyLive {
		s.auxPool.Destroy()
		s.auxPool = nil
		s.retired = nil
		s.timer = nil
		return
	}

	s.logger.Info("retirement sweep re-armed", "pending", s.retired.Len())
	s.arm()
}

// Pending reports how many cycles are currently enqueued for retirement.
func (s *Sweeper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired == nil {
		return 0
	}
	n := 0
	s.retired.Each(func(_ int, c *cycle.Cycle) {
		if c != nil {
			n++
		}
	})
	return n
}

// Stop halts the sweeper permanently, destroying every still-enqueued
// cycle regardless of liveness. Used only at process shutdown.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.retired != nil {
		s.retired.Each(func(_ int, c *cycle.Cycle) {
			if c != nil {
				c.Destroy()
				metrics.RetiringCycles.Dec()
				metrics.CyclesDestroyed.Inc()
			}
		})
	}
	if s.auxPool != nil {
		s.auxPool.Destroy()
		s.auxPool = nil
	}
	s.retired = nil
}
