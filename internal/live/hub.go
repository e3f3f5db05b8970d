package live

import (
	"encoding/json"
	"log/slog"
	"sync"

	"crm-dialer/internal/dialer"

	"github.com/gorilla/websocket"
)

// Client is one connected agent-console socket, subscribed to a single
// dialer session's event stream.
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub fans dialer call events out to websocket subscribers keyed by session
// id. It implements dialer.EventSink; Publish never blocks the status bridge:
// slow consumers are dropped, sessions without subscribers are skipped.
type Hub struct {
	log *slog.Logger

	mu             sync.RWMutex
	sessionClients map[string][]*Client
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:            log,
		sessionClients: make(map[string][]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionClients[c.SessionID] = append(h.sessionClients[c.SessionID], c)
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	clients := h.sessionClients[c.SessionID]
	for i, cl := range clients {
		if cl == c {
			h.sessionClients[c.SessionID] = append(clients[:i], clients[i+1:]...)
			close(c.Send)
			break
		}
	}
	if len(h.sessionClients[c.SessionID]) == 0 {
		delete(h.sessionClients, c.SessionID)
	}
}

// Publish sends the event to every subscriber of its session.
func (h *Hub) Publish(ev dialer.CallEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("event marshal failed", "call_id", ev.CallID, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var drop []*Client
	for _, c := range h.sessionClients[ev.SessionID] {
		select {
		case c.Send <- data:
		default:
			// Slow consumer; drop it rather than block the bridge.
			drop = append(drop, c)
		}
	}
	for _, c := range drop {
		h.log.Warn("dropping slow event subscriber", "session_id", ev.SessionID)
		h.removeLocked(c)
	}
}

// WritePump pumps queued events to the websocket connection. Run it as the
// connection's single writer goroutine.
func (c *Client) WritePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
