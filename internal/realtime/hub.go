package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 16
)

// Frame is what subscribers receive over the wire.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client's send channel is never closed; unsubscribe signals the writer via
// done instead, so a broadcast racing a disconnect cannot send on a closed
// channel.
type client struct {
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
}

// Hub fans lifecycle events out to websocket subscribers, scoped per org.
// The feed is publish-only: client frames are read and discarded so close
// handshakes still work.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	byOrg map[string]map[*client]struct{}
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		byOrg: make(map[string]map[*client]struct{}),
	}
}

// WithCheckOrigin overrides the upgrader's origin policy.
func (h *Hub) WithCheckOrigin(fn func(r *http.Request) bool) *Hub {
	h.upgrader.CheckOrigin = fn
	return h
}

var _ events.DeliveryHandler = (*Hub)(nil)

// Handle broadcasts an outbox entry to the entry's org. Broadcasting never
// fails delivery: subscribers that cannot keep up are disconnected instead.
func (h *Hub) Handle(_ context.Context, entry events.OutboxEntry) error {
	h.Broadcast(entry.OrgID, Frame{Type: entry.Type, Payload: entry.Payload})
	return nil
}

// Broadcast sends a frame to every subscriber of the org.
func (h *Hub) Broadcast(orgID string, frame Frame) {
	h.mu.RLock()
	subs := make([]*client, 0, len(h.byOrg[orgID]))
	for c := range h.byOrg[orgID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		select {
		case c.send <- frame:
		case <-c.done:
			// Unsubscribed between the snapshot and the send.
		default:
			// Slow consumer; the writer shuts the socket on done.
			h.unsubscribe(orgID, c)
			h.logger.Warn("realtime: dropped slow subscriber", "org_id", orgID)
		}
	}
}

// SubscriberCount reports active connections for an org.
func (h *Hub) SubscriberCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOrg[orgID])
}

// HandleWebSocket upgrades the request and streams events until the client
// disconnects. The org comes from the tenancy middleware via the handler.
func (h *Hub) HandleWebSocket(orgID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("realtime: upgrade failed", "error", err, "org_id", orgID)
		return
	}

	c := &client{conn: conn, send: make(chan Frame, sendBufferSize), done: make(chan struct{})}
	h.subscribe(orgID, c)
	h.logger.Info("realtime: subscriber connected", "org_id", orgID)

	go h.writeLoop(orgID, c)
	h.readLoop(orgID, c)
}

func (h *Hub) subscribe(orgID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOrg[orgID] == nil {
		h.byOrg[orgID] = make(map[*client]struct{})
	}
	h.byOrg[orgID][c] = struct{}{}
}

func (h *Hub) unsubscribe(orgID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byOrg[orgID][c]; !ok {
		return
	}
	delete(h.byOrg[orgID], c)
	if len(h.byOrg[orgID]) == 0 {
		delete(h.byOrg, orgID)
	}
	close(c.done)
}

func (h *Hub) writeLoop(orgID string, c *client) {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				h.logger.Debug("realtime: write failed", "error", err, "org_id", orgID)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) readLoop(orgID string, c *client) {
	defer h.unsubscribe(orgID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("realtime: subscriber disconnected", "org_id", orgID)
			return
		}
	}
}
