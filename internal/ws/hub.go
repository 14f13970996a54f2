package ws

import (
	"encoding/json"
	"sync"
)

type outbound struct {
	data  []byte
	final bool
}

// Client represents a single WebSocket connection subscribed to one key.
type Client struct {
	Key    string
	UserID string
	send   chan outbound
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

func NewClient(key, userID string) *Client {
	return &Client{Key: key, UserID: userID, send: make(chan outbound, 16)}
}

// deliver drops the message when the client is closed or too slow.
func (c *Client) deliver(m outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	hub := c.hub
	c.mu.Unlock()
	if hub != nil {
		hub.unregister(c)
	}
}

// Hub maintains the set of active clients keyed by subscription (an order id).
type Hub struct {
	mu    sync.RWMutex
	byKey map[string]map[*Client]struct{}
	count int
}

func NewHub() *Hub {
	return &Hub{byKey: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	if h.byKey[c.Key] == nil {
		h.byKey[c.Key] = make(map[*Client]struct{})
	}
	h.byKey[c.Key][c] = struct{}{}
	h.count++
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.byKey[c.Key]
	if _, ok := m[c]; !ok {
		return
	}
	delete(m, c)
	h.count--
	if len(m) == 0 {
		delete(h.byKey, c.Key)
	}
}

// Broadcast sends payload to every client of key. final tells the connections to close
// after writing it.
func (h *Hub) Broadcast(key string, payload interface{}, final bool) int {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	m := h.byKey[key]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	sent := 0
	for _, c := range clients {
		if c.deliver(outbound{data: data, final: final}) {
			sent++
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
