package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
)

const sendBuffer = 16

// AlertMessage is the JSON frame pushed to WebSocket clients
type AlertMessage struct {
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

func newAlertMessage(a ble.Alert) AlertMessage {
	return AlertMessage{
		Title:    a.Title,
		Message:  a.Message,
		Severity: a.Severity.String(),
		Kind:     a.Kind.String(),
		Detail:   a.Detail,
		At:       a.At,
	}
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes alerts to every connected WebSocket client, for
// companion screens that mirror the phone's alert dialog.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	upgrader websocket.Upgrader
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, b: b, send: make(chan []byte, sendBuffer)}

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request and keeps the client until it disconnects
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("notify", "ws upgrade error: %v", err)
		return
	}

	logger.Debug("notify", "WebSocket client connected: %s", r.RemoteAddr)
	c := b.AddClient(conn)

	go func() {
		defer func() {
			b.RemoveClient(c)
			logger.Debug("notify", "WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Alert broadcasts a to all clients; a client that can't keep up is dropped
func (b *Broadcaster) Alert(a ble.Alert) {
	data, err := json.Marshal(newAlertMessage(a))
	if err != nil {
		logger.Error("notify", "broadcast marshal error: %v", err)
		return
	}

	// Sends happen under the read lock so RemoveClient can't close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		logger.Warn("notify", "ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

// Close disconnects every client
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
