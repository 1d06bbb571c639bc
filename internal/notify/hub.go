// Package notify implements the `WS /ws/updates` change-notification feed
// (spec.md §4.8, §6): a gorilla/websocket hub that fans device-status,
// interface-status, and problem-lifecycle events out to every connected
// client as compact JSON payloads. No pack example shows a concrete
// gorilla/websocket hub to imitate line-by-line, so the register/unregister/
// broadcast shape here is hand-written in the idiom of this codebase's other
// fan-out primitives (internal/events.Bus, internal/broker.Queue).
package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/events"
)

const (
	clientSendBuffer = 32
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
	pongWait         = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The read API has no browser-origin restriction of its own (spec.md §1:
	// no user auth/RBAC in scope), so cross-origin upgrades are accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// deviceUpdate is the `WS /ws/updates` device payload shape (spec.md §4.8).
type deviceUpdate struct {
	Type      string     `json:"type"`
	DeviceID  string      `json:"device_id"`
	Old       string      `json:"old"`
	New       string      `json:"new"`
	DownSince *time.Time  `json:"down_since,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// interfaceUpdate is the `WS /ws/updates` interface payload shape.
type interfaceUpdate struct {
	Type        string    `json:"type"`
	DeviceID    string    `json:"device_id"`
	InterfaceID string    `json:"interface_id"`
	Old         string    `json:"old"`
	New         string    `json:"new"`
	Timestamp   time.Time `json:"timestamp"`
}

// problemUpdate is the `WS /ws/updates` problem-lifecycle payload shape.
type problemUpdate struct {
	Type      string    `json:"type"`
	ProblemID string    `json:"problem_id"`
	DeviceID  string    `json:"device_id"`
	Event     string    `json:"event"` // opened, updated, resolved
	Timestamp time.Time `json:"timestamp"`
}

// client is one connected websocket subscriber with its own outbound queue,
// so a slow reader never blocks the hub's broadcast goroutine.
type client struct {
	conn *websocket.Conn
	send chan any
}

// Hub broadcasts event-bus traffic to every connected websocket client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Run subscribes to the shared event bus and fans events out to clients
// until one of the subscribed bus channels is closed. Call it once in its
// own goroutine.
func (h *Hub) Run(bus *events.Bus) {
	deviceCh := bus.SubscribeDeviceStatus()
	ifaceCh := bus.SubscribeInterfaceStatus()
	problemCh := bus.SubscribeProblems()

	for {
		select {
		case e, ok := <-deviceCh:
			if !ok {
				return
			}
			h.broadcast(deviceUpdate{
				Type:      "device_status",
				DeviceID:  e.DeviceID,
				Old:       e.Old,
				New:       e.New,
				DownSince: e.DownSince,
				Timestamp: e.Timestamp,
			})
		case e, ok := <-ifaceCh:
			if !ok {
				return
			}
			h.broadcast(interfaceUpdate{
				Type:        "interface_status",
				DeviceID:    e.DeviceID,
				InterfaceID: e.InterfaceID,
				Old:         e.Old,
				New:         e.New,
				Timestamp:   e.Timestamp,
			})
		case e, ok := <-problemCh:
			if !ok {
				return
			}
			h.broadcast(problemUpdate{
				Type:      "problem",
				ProblemID: e.ProblemID,
				DeviceID:  e.DeviceID,
				Event:     e.Event,
				Timestamp: e.Timestamp,
			})
		}
	}
}

func (h *Hub) broadcast(payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Warn().Msg("notify: dropping update for slow websocket client")
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams updates until
// the client disconnects (spec.md §6 `WS /ws/updates`).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("notify: websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan any, clientSendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only exists to detect client disconnects and respond to pings;
// the read API accepts no client-to-server messages on this feed.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
