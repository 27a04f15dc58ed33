package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"anima/internal/logging"
	"anima/internal/loop"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second

	// clientBuffer is the per-client event backlog. A client that
	// falls this far behind is disconnected rather than blocking the
	// emitter.
	clientBuffer = 64
)

// Hub fans emitted events out to every connected WebSocket client.
// Broadcast satisfies loop.Sink, so the hub subscribes directly to the
// orchestrator's emitter.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan loop.Event
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Broadcast queues ev on every client. Clients whose backlog is full
// are dropped; the emitter must never block on a slow reader.
func (h *Hub) Broadcast(ev loop.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logging.Server().Warnw("websocket client too slow, dropping")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The edge serves a local control surface; the bearer token, not
	// the origin, is the trust boundary.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the connection and attaches it to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Server().Warnw("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan loop.Event, clientBuffer)}
	h.register(c)

	go c.writePump(h)
	go c.readPump(h)
}

func (c *wsClient) writePump(h *Hub) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.unregister(c)
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is broadcast-only. It
// exists to notice closes and surface them to the hub.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxHookBody)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
