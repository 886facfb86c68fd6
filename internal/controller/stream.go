package controller

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

type wsClient struct {
	unit string
	send chan []byte
}

// Hub fans event records out to websocket viewers. Slow viewers drop
// messages instead of stalling ingest.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{clients: make(map[*wsClient]struct{}), log: logger}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket viewer added", "unit", c.unit, "viewers", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Count reports connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every viewer watching unitID or all units.
func (h *Hub) Broadcast(unitID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.unit != "" && c.unit != unitID {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// HandleEventsWS streams event records; ?unit= narrows to one unit.
func (c *Controller) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	client := &wsClient{unit: r.URL.Query().Get("unit"), send: make(chan []byte, wsSendBuffer)}
	c.Hub.add(client)
	defer c.Hub.remove(client)

	go func() {
		for msg := range client.send {
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				ws.Close()
				return
			}
		}
	}()

	// Viewers only listen; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
