package observer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientBuffer = 32

var upgrader = websocket.Upgrader{
	// Read-only telemetry; any origin may watch.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Message is one frame sent to watchers.
type Message struct {
	Type string      `json:"type"` // tick | push
	Data interface{} `json:"data"`
}

type pushFrame struct {
	Decision domain.PolicyDecision `json:"decision"`
	Result   domain.PushResult     `json:"result"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub streams controller ticks and push outcomes to websocket clients.
// Slow clients lose frames rather than holding up the control loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

var _ services.Observer = (*Hub)(nil)

func NewHub(pingInterval, writeTimeout time.Duration, logger *zap.SugaredLogger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		clients:      make(map[string]*client),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (h *Hub) OnTick(update services.TickUpdate) {
	h.broadcast(Message{Type: "tick", Data: update})
}

func (h *Hub) OnPush(decision domain.PolicyDecision, result domain.PushResult) {
	h.broadcast(Message{Type: "push", Data: pushFrame{Decision: decision, Result: result}})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnw("failed to marshal observer frame", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debugw("observer frame dropped", "client_id", c.id, "type", msg.Type)
		}
	}
}

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Infow("observer connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go h.readLoop(c, done)
	h.writeLoop(c, done)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	conn.Close()
	h.logger.Infow("observer disconnected", "client_id", c.id)
}

// readLoop discards client frames and reports when the connection drops.
func (h *Hub) readLoop(c *client, done chan<- struct{}) {
	defer close(done)
	readTimeout := 2 * h.pingInterval
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("observer read failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debugw("observer write failed", "client_id", c.id, "error", err)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
