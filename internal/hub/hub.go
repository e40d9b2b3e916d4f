// Package hub fans live events out to websocket subscribers by topic.
package hub

import (
	"encoding/json"
	"sync"
	"time"
)

// TopicAll receives every event published on any topic.
const TopicAll = "*"

const TopicAccounts = "accounts"

func BroadcastTopic(sessionID string) string { return "broadcast:" + sessionID }

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Topic  string
	Writer Writer
}

type Event struct {
	Type  string    `json:"type"`
	Topic string    `json:"topic"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Topic] == nil {
		h.connections[conn.Topic] = make(map[*Connection]struct{})
	}
	h.connections[conn.Topic][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Topic]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Topic)
	}
}

// Subscribers counts the connections on topic, wildcard subscribers excluded.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}

// Broadcast writes message to every connection on topic and to wildcard
// subscribers. Connections whose write fails are closed and dropped.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections[topic])+len(h.connections[TopicAll]))
	for c := range h.connections[topic] {
		conns = append(conns, c)
	}
	if topic != TopicAll {
		for c := range h.connections[TopicAll] {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

func (h *Hub) Publish(topic, typ string, data any) {
	msg, err := json.Marshal(Event{Type: typ, Topic: topic, Data: data, At: time.Now().UTC()})
	if err != nil {
		return
	}
	h.Broadcast(topic, msg)
}
