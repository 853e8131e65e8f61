package devtools

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is sent to live-reload clients.
type Message struct {
	Type     string `json:"type"`
	Instance string `json:"instance,omitempty"`
}

const (
	MessageHello      = "hello"
	MessageRestarting = "restarting"
)

// clientWriter serializes writes to one connection. Closing sendCh flushes the queue
// and sends a close frame; closing done abandons it.
type clientWriter struct {
	conn     *websocket.Conn
	sendCh   chan []byte
	done     chan struct{}
	finished chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:     conn,
		sendCh:   make(chan []byte, 16),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer close(cw.finished)
	defer cw.conn.Close()
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				cw.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, MessageRestarting),
					time.Now().Add(time.Second))
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// Hub tracks the live-reload connections of one server instance.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*clientWriter
	closed  bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*clientWriter),
		logger:  logger,
	}
}

// Register adds a connection and queues msg as its first message. Connections
// registered after Close are closed immediately.
func (h *Hub) Register(conn *websocket.Conn, first Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		conn.Close()
		return
	}
	cw := newClientWriter(conn)
	h.clients[conn] = cw
	h.enqueue(cw, first)
}

// Unregister removes a connection, closing it.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	cw, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		close(cw.done)
		<-cw.finished
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg on every connection. Slow clients whose queue is full miss it.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cw := range h.clients {
		h.enqueue(cw, msg)
	}
}

// Close sends a final message to every client and disconnects them.
func (h *Hub) Close(final Message) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*clientWriter)
	for _, cw := range clients {
		h.enqueue(cw, final)
		close(cw.sendCh)
	}
	h.mu.Unlock()

	for _, cw := range clients {
		<-cw.finished
	}
}

func (h *Hub) enqueue(cw *clientWriter, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode devtools message", "error", err)
		return
	}
	select {
	case cw.sendCh <- data:
	default:
		h.logger.Warn("Dropping devtools message for slow client", "type", msg.Type)
	}
}
