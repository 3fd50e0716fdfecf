package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dopamine/market-sim/internal/admin"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/metrics"
	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message types exchanged over the socket.
const (
	TypeTick          = "tick"
	TypeKey           = "key"
	TypeAdminUnlocked = "admin_unlocked"
)

// TickMessage is pushed to every client after each market tick.
type TickMessage struct {
	Type   string             `json:"type"`
	Seq    uint64             `json:"seq"`
	Stocks []model.Instrument `json:"stocks"`
	Alerts []market.Alert     `json:"alerts"`
}

// KeyMessage is sent by a client for each key press outside an input
// field. Target is the focused element's tag name, if any.
type KeyMessage struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Target string `json:"target,omitempty"`
}

// UnlockMessage answers a completed unlock sequence.
type UnlockMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	detector *admin.Detector
}

type directMessage struct {
	to   *client
	data []byte
}

// WSHub manages WebSocket connections, broadcasts market ticks and watches
// each client's key stream for the unlock code.
type WSHub struct {
	issuer     *admin.Issuer
	clients    map[*client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewWSHub creates a hub. A nil issuer means unlock sequences are ignored.
func NewWSHub(issuer *admin.Issuer) *WSHub {
	return &WSHub{
		issuer:     issuer,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case m := <-h.direct:
			if h.clients[m.to] {
				select {
				case m.to.send <- m.data:
				default:
				}
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}
		}
	}
}

func (h *WSHub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Publish queues a tick for every client. It never blocks, so it is safe
// to pass to session.Engine.Subscribe.
func (h *WSHub) Publish(snap session.Snapshot) {
	data, err := json.Marshal(TickMessage{
		Type:   TypeTick,
		Seq:    snap.Seq,
		Stocks: snap.Instruments,
		Alerts: snap.Alerts,
	})
	if err != nil {
		slog.Error("encode tick failed", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid stalling the market loop.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		detector: admin.NewDetector(""),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump consumes key events until the connection fails.
func (h *WSHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg KeyMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeKey {
			continue
		}
		if fromInputField(msg.Target) {
			continue
		}
		if c.detector.Feed(msg.Key) {
			h.unlock(c)
		}
	}
}

func (h *WSHub) unlock(c *client) {
	if h.issuer == nil {
		slog.Warn("unlock sequence entered but admin access is disabled")
		return
	}
	token, err := h.issuer.Issue()
	if err != nil {
		slog.Error("issue admin token failed", "err", err)
		return
	}
	data, _ := json.Marshal(UnlockMessage{Type: TypeAdminUnlocked, Token: token})
	slog.Info("admin panel unlocked", "remote", c.conn.RemoteAddr().String())

	select {
	case h.direct <- directMessage{to: c, data: data}:
	case <-h.done:
	}
}

// writePump is the only writer on the connection.
func (h *WSHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func fromInputField(target string) bool {
	switch target {
	case "INPUT", "TEXTAREA", "SELECT", "input", "textarea", "select":
		return true
	}
	return false
}
