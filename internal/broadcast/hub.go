// Package broadcast fans cookie updates out to websocket subscribers, one
// subscription per tab.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/metrics"
)

// ErrHubClosed is returned when publishing to a closed hub.
var ErrHubClosed = errors.New("broadcast hub is closed")

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// SnapshotFunc returns the messages a new subscriber to tabID starts with.
type SnapshotFunc func(ctx context.Context, tabID string) ([]Message, error)

// Hub tracks websocket clients and delivers messages for the tab each one
// subscribed to. A client subscribed without a tab receives every message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	snapshot     SnapshotFunc

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type client struct {
	id   string
	tab  string
	conn *websocket.Conn
	send chan []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithSnapshot sets the messages sent to a client when it connects.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) {
		h.snapshot = fn
	}
}

// WithSendBuffer sets how many messages may queue for a client before it is
// disconnected as too slow.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates a hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			// panels connect from the extension origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
// The tab query parameter selects the subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		tab:  r.URL.Query().Get("tab"),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}
	if !h.register(r.Context(), c) {
		conn.Close()
		return
	}
	go c.writePump(h.writeTimeout)

	c.readPump()
	h.unregister(c)
}

// register queues the tab snapshot and then makes the client visible to
// Publish, all under the hub lock, so no live message can overtake the
// snapshot. The snapshot func must not call back into the hub.
func (h *Hub) register(ctx context.Context, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	if h.snapshot != nil && c.tab != "" {
		msgs, err := h.snapshot(ctx, c.tab)
		if err != nil {
			h.logger.Debug("No snapshot for new subscriber", zap.String("tab", c.tab), zap.Error(err))
		}
		for _, msg := range msgs {
			h.enqueue(c, msg)
		}
	}
	h.clients[c.id] = c
	h.metrics.IncWSConnections()
	h.logger.Debug("Client connected", zap.String("client", c.id), zap.String("tab", c.tab))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.metrics.DecWSConnections()
	h.logger.Debug("Client disconnected", zap.String("client", c.id))
}

// Publish delivers msg to every client subscribed to its tab. Clients whose
// queue is full are disconnected.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	var slow []*client
	for _, c := range h.clients {
		if c.tab != "" && c.tab != msg.TabID {
			continue
		}
		select {
		case c.send <- data:
			h.metrics.RecordWSMessage(msg.Type)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Disconnecting slow client", zap.String("client", c.id), zap.String("tab", c.tab))
		h.unregister(c)
	}
	return nil
}

// enqueue queues msg for c without blocking. The caller holds h.mu.
func (h *Hub) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
		h.metrics.RecordWSMessage(msg.Type)
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		h.metrics.DecWSConnections()
	}
	return nil
}

// writePump owns all writes to the connection. It closes the connection once
// the send queue is closed or a write fails.
func (c *client) writePump(timeout time.Duration) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(timeout))
}

// readPump discards client input and returns when the connection fails.
func (c *client) readPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
