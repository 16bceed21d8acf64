// Package realtime pushes platform events to websocket clients. Events flow
// monitor -> redis channel -> subscriber -> hub -> connections, so any number
// of API replicas can fan out the same stream.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sportsblock/sportsblock/pkg/logger"
)

// ClientMsg is a control message from a websocket client.
type ClientMsg struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// sendBuffer bounds how many undelivered payloads a connection may queue
// before further broadcasts to it are dropped.
const sendBuffer = 16

var pongPayload = []byte(`{"type":"pong"}`)

// client pairs a connection with its send queue. All writes to the
// connection happen on the writeLoop goroutine; the read loop and Broadcast
// only enqueue.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer)}
}

func (c *client) writeLoop() {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}
	c.conn.Close()
}

// enqueue hands a payload to the writer. Slow consumers lose messages rather
// than stalling the broadcaster.
func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub tracks websocket connections and their topic subscriptions.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu sync.RWMutex
	// topic -> set of clients
	subs map[string]map[*client]struct{}
}

// NewHub creates a Hub with the given origin policy.
func NewHub(allowOrigin func(r *http.Request) bool, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS upgrades the request and serves subscribe/unsubscribe/ping
// messages until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := newClient(conn)
	go c.writeLoop()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.Topic == "" {
				continue
			}
			h.subscribe(msg.Topic, c)
		case "unsubscribe":
			h.unsubscribe(msg.Topic, c)
		case "ping":
			c.enqueue(pongPayload)
		}
	}

	h.drop(c)
	// The writer drains what is queued, then closes the connection.
	c.close()
}

func (h *Hub) subscribe(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[*client]struct{})
	}
	h.subs[topic][c] = struct{}{}
}

func (h *Hub) unsubscribe(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Broadcast queues payload for every connection subscribed to topic.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.subs[topic]))
	for c := range h.subs[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			h.log.WithField("topic", topic).Debug("dropped broadcast to slow or closed connection")
		}
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Warn("broadcast encode failed")
		return
	}
	h.Broadcast(topic, payload)
}

// Subscribers reports how many connections follow topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
