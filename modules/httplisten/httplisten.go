// Package httplisten is the module-registry entry for the process's admin
// HTTP surface: health, prometheus metrics, the audit trail, and a
// WebSocket feed of commit events. Its listening socket is itself a
// cycle.Listener, so it is diffed and inherited across reloads exactly
// like every other configured listener (internal/inherit) rather than
// being rebound on every commit.
package httplisten

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/modules/auditlog"
	"github.com/cyclehost/confcycle/pkg/logger"
)

// Config is the subset of application configuration this module owns.
type Config struct {
	ListenAddr         string `mapstructure:"listen_addr" json:"listen_addr" validate:"required"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitBurst     int    `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
}

type conf struct {
	cfg     Config
	server  *http.Server
	hub     *eventHub
	limiter *perClientLimiter
}

// Module owns the admin HTTP server's lifecycle. AuditIndex names the
// registry index of the auditlog module so the /audit endpoint can read
// through it; set it to -1 when no auditlog module is registered, and the
// endpoint responds 404 instead of panicking on a bad index.
type Module struct {
	Config     Config
	Logger     *slog.Logger
	AuditIndex int
}

func (m *Module) Name() string { return "httplisten" }

// CreateConf registers the admin listener on the cycle's listening set
// (step 3 of cycle construction, same as every other listener); the
// resource-acquisition phase's inherit/diff and listening.Open give it a
// real socket, inherited across reload whenever the address is unchanged.
func (m *Module) CreateConf(c *cycle.Cycle) (any, error) {
	c.Listening.Push(&cycle.Listener{
		Addr:     m.Config.ListenAddr,
		AddrText: m.Config.ListenAddr,
		FD:       cycle.SentinelFD,
	})
	return &conf{cfg: m.Config}, nil
}

func (m *Module) InitConf(_ *cycle.Cycle, raw any) error {
	cc := raw.(*conf)
	if cc.cfg.ListenAddr == "" {
		return fmt.Errorf("httplisten: listen_addr is required")
	}
	return nil
}

// InitModule builds the router and starts serving on the listener the
// resource-acquisition phase already bound. It runs after every other
// module's InitModule in registry order, so /audit can assume the
// auditlog module (if configured) is already open.
func (m *Module) InitModule(c *cycle.Cycle, raw any) error {
	cc := raw.(*conf)

	var l *cycle.Listener
	c.Listening.Each(func(_ int, x *cycle.Listener) {
		if x.Addr == cc.cfg.ListenAddr {
			l = x
		}
	})
	if l == nil || !l.Valid() {
		return fmt.Errorf("httplisten: listener %s was not opened", cc.cfg.ListenAddr)
	}

	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	hub := newEventHub(log)
	go hub.run()
	c.Pool.CleanupAdd(hub.stop)

	limiter := newPerClientLimiter(cc.cfg.RateLimitPerMinute, cc.cfg.RateLimitBurst)
	reapStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reapStop:
				return
			case <-ticker.C:
				limiter.reapIdle()
			}
		}
	}()
	c.Pool.CleanupAdd(func() { close(reapStop) })

	router := mux.NewRouter()
	router.Use(logger.LoggingMiddleware(log))
	router.Use(limiter.middleware)
	router.HandleFunc("/healthz", healthzHandler(c)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/events", hub.serveWS).Methods(http.MethodGet)
	router.HandleFunc("/audit", auditHandler(c, m.AuditIndex)).Methods(http.MethodGet)

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ConnState:    connStateTracker(c),
	}
	cc.server = server
	cc.hub = hub

	go func() {
		if err := server.Serve(l.NL); err != nil && err != http.ErrServerClosed {
			log.Error("admin http server stopped", "error", err)
		}
	}()
	c.Pool.CleanupAdd(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	log.Info("admin http surface ready", "addr", cc.cfg.ListenAddr)
	return nil
}

// HubFrom returns the event hub a committed cycle's httplisten module
// slot holds, so the commit coordinator's caller can broadcast a
// cycleEvent once Commit returns.
func HubFrom(c *cycle.Cycle, index int) (*eventHub, error) {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok || cc.hub == nil {
		return nil, fmt.Errorf("httplisten: module not initialized")
	}
	return cc.hub, nil
}

// NotifyCommit broadcasts a cycleEvent built from a commit attempt's
// outcome to every connected admin client.
func NotifyCommit(c *cycle.Cycle, index int, cycleID string, success bool) {
	hub, err := HubFrom(c, index)
	if err != nil {
		return
	}
	hub.Broadcast(cycleEvent{
		Type:      "commit",
		CycleID:   cycleID,
		Success:   success,
		Timestamp: time.Now(),
	})
}

// connStateTracker feeds http.Server.ConnState into c's connection table, so
// the retirement sweeper can tell whether this cycle still has live traffic
// once it is retired.
func connStateTracker(c *cycle.Cycle) func(net.Conn, http.ConnState) {
	return func(_ net.Conn, state http.ConnState) {
		if c.Connections == nil {
			return
		}
		switch state {
		case http.StateNew:
			c.Connections.Acquire()
		case http.StateClosed, http.StateHijacked:
			c.Connections.Release()
		}
	}
}

func healthzHandler(c *cycle.Cycle) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"cycle_id":   c.ID.String(),
			"state":      c.State().String(),
			"listeners":  c.Listening.Len(),
			"open_files": c.OpenFiles.Len(),
		})
	}
}

func auditHandler(c *cycle.Cycle, auditIndex int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auditIndex < 0 || auditIndex >= len(c.ConfCtx) {
			http.NotFound(w, r)
			return
		}
		entries, err := auditlog.Recent(c, auditIndex, 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}
