package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lemx/clearing-engine/internal/metrics"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait / 2
)

// WSMessage is one clearing event pushed to subscribers.
type WSMessage struct {
	Type         string `json:"type"`
	DeliveryTime int64  `json:"delivery_time"`
	Variant      string `json:"variant"`
	Status       string `json:"status"`
	TradedVolume int64  `json:"traded_volume"`
	UniformPrice *int64 `json:"uniform_price,omitempty"`
}

// WSHub fans clearing events out to websocket subscribers. All writes to a
// connection happen under mu.
type WSHub struct {
	mu        sync.RWMutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan []byte
	join      chan *websocket.Conn
	leave     chan *websocket.Conn
	done      chan struct{}
}

// NewWSHub creates a hub; start it with Run.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, 256),
		join:      make(chan *websocket.Conn),
		leave:     make(chan *websocket.Conn),
		done:      make(chan struct{}),
	}
}

// Run serves joins, leaves and events until ctx is done, then closes every
// subscriber.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.join:
			h.add(conn)
		case conn := <-h.leave:
			h.drop(conn)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *WSHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	slog.Info("ws subscriber joined", "remote", conn.RemoteAddr().String(), "subscribers", n)
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	clear(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(0)
}

// fanOut writes msg to every subscriber; a failed write drops that
// subscriber.
func (h *WSHub) fanOut(msg []byte) {
	h.mu.Lock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("ws write failed", "remote", conn.RemoteAddr().String(), "err", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Broadcast queues an event without blocking. Events are dropped when the
// queue is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode ws message", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws queue full, event dropped", "type", msg.Type, "delivery_time", msg.DeliveryTime)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS upgrades GET /api/v1/ws and subscribes the connection.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.join <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readLoop(conn)
	go h.pingLoop(conn)
}

// readLoop discards client frames and leaves the hub when the peer goes
// away or stops answering pings.
func (h *WSHub) readLoop(conn *websocket.Conn) {
	defer func() {
		select {
		case h.leave <- conn:
		case <-h.done:
		}
	}()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}
		h.mu.Lock()
		_, subscribed := h.clients[conn]
		var err error
		if subscribed {
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}
		h.mu.Unlock()
		if !subscribed || err != nil {
			return
		}
	}
}
