package httplisten

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// cycleEvent is the message NotifyCommit broadcasts to every admin client
// connected to a hub. cmd/server does not call NotifyCommit, so in the
// shipped server no event is sent.
type cycleEvent struct {
	Type      string    `json:"type"`
	CycleID   string    `json:"cycle_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// eventHub fans out cycleEvents to every connected WebSocket client. One
// hub is created per committed cycle generation of this module and torn
// down with the cycle's pool.
type eventHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	broadcast chan cycleEvent
	done      chan struct{}
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan cycleEvent, 64),
		done:      make(chan struct{}),
	}
}

func (h *eventHub) run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				go h.send(c, ev)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *eventHub) send(c *websocket.Conn, ev cycleEvent) {
	c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.WriteJSON(ev); err != nil {
		h.logger.Warn("event delivery failed, dropping client", "error", err)
		h.unregister(c)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

func (h *eventHub) register(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *eventHub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.Close()
	}
	h.mu.Unlock()
}

// Broadcast queues a cycle event for delivery to every connected client.
// Non-blocking: a full queue drops the event rather than stalling a commit.
func (h *eventHub) Broadcast(ev cycleEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("event hub queue full, dropping event", "type", ev.Type)
	}
}

func (h *eventHub) stop() {
	close(h.done)
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register(conn)

	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
