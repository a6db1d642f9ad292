package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/expirystore/expirystore/pkg/expiring"
	"github.com/expirystore/expirystore/server/internal/api"
	"github.com/expirystore/expirystore/server/internal/registry"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event names carried in Message.Event.
const (
	EventStats   = "stats"
	EventEvicted = "evicted"
)

// Message is the JSON envelope sent to clients. Data is an
// api.SnapshotResponse for "stats" and an Eviction for "evicted".
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Eviction is the data of an "evicted" message.
type Eviction struct {
	Store     string `json:"store"`
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expires_at"` // RFC3339Nano
}

// Hub manages WebSocket client connections. It broadcasts store stats every
// interval and forwards each eviction from the registry as it happens.
type Hub struct {
	reg      *registry.Registry
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from reg and broadcasts stats every interval.
func New(reg *registry.Registry, interval time.Duration) *Hub {
	return &Hub{
		reg:      reg,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run sends a stats message to all clients every interval and an evicted
// message for each registry eviction. It blocks until ctx is cancelled, then
// closes all active connections and returns nil.
func (h *Hub) Run(ctx context.Context) error {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	events := h.reg.Events()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-t.C:
			if data, err := h.statsMessage(); err == nil {
				h.broadcast(data)
			}
		case ev := <-events:
			if data, err := evictedMessage(ev); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// ServeHTTP upgrades the connection to WebSocket and serves the client until
// it disconnects. The current stats are sent immediately on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	// Queue the current stats before the client becomes visible to Run.
	if data, err := h.statsMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

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

// broadcast queues data for every client. Sends happen under the read lock
// so unregister cannot close a channel mid-send.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) statsMessage() ([]byte, error) {
	return json.Marshal(Message{Event: EventStats, Data: api.BuildSnapshot(h.reg)})
}

func evictedMessage(ev expiring.Eviction) ([]byte, error) {
	return json.Marshal(Message{
		Event: EventEvicted,
		Data: Eviction{
			Store:     ev.Store,
			ID:        ev.ID,
			Reason:    string(ev.Reason),
			ExpiresAt: ev.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and pings it every
// pingPeriod.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames so pong and close are processed. It
// returns when the connection dies.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
