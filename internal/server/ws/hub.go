// Package ws streams ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayBatch caps how many stream entries a single replay returns.
	replayBatch = 100
)

// upgrader configures the WebSocket upgrade parameters. Origin checks are
// left to the CORS and auth middleware in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// clientMsg is the JSON message a client may send. The only action is
// "replay", which resends logged events after the given stream ID ("0" for
// the start of the log).
type clientMsg struct {
	Action string `json:"action"`
	Since  string `json:"since"`
}

// Hub fans ledger events from the signal bus out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a hub reading from bus. mode is reported in the status
// message sent on connect.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Run subscribes to the ledger events channel and serves registrations and
// broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.LedgerEventsChannel)
	if err != nil {
		return err
	}
	go h.forward(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) forward(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ledger events subscription closed")
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

// readPump reads control messages from the client until the connection
// closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if json.Unmarshal(message, &msg) != nil || msg.Action != "replay" {
			continue
		}
		c.replay(msg.Since)
	}
}

// replay sends logged events newer than since. Each entry is wrapped with
// its stream ID so the client can resume from the last one it saw.
func (c *client) replay(since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	msgs, err := c.hub.bus.StreamRead(ctx, domain.LedgerEventsStream, since, replayBatch)
	if err != nil {
		c.hub.logger.Warn("replay failed",
			slog.String("since", since),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		data, err := json.Marshal(map[string]any{
			"type":  "replay",
			"id":    m.ID,
			"event": json.RawMessage(m.Payload),
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// sendStatus tells a fresh client the connection is live before any ledger
// event arrives.
func (c *client) sendStatus() {
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"channel":        domain.LedgerEventsChannel,
			"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump writes events as text frames and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
