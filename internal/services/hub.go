package services

import (
	"encoding/json"
	"sync"

	"variations/internal/batch"

	"github.com/charmbracelet/log"
)

// Hub fans batch events out to the websocket of the client that submitted
// the job. Events for clients that are not connected are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
	log     *log.Logger
}

func safeCloseBytes(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]*WSClient{},
		log:     log.With("component", "hub"),
	}
}

func (h *Hub) Add(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.id]; ok {
		safeCloseBytes(old.send)
		old.close()
	}

	h.clients[c.id] = c
	h.log.Debug("client connected", "client", c.id)
}

// Remove drops c only if it is still the registered connection for its id.
func (h *Hub) Remove(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		safeCloseBytes(c.send)
		c.close()
		h.log.Debug("client disconnected", "client", c.id)
	}
}

func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		safeCloseBytes(c.send)
		c.close()
	}
	h.clients = map[string]*WSClient{}
}

// Notify implements batch.Notifier. A client whose buffer is full is
// disconnected. The send happens under the read lock because Add, Remove
// and Shutdown close c.send under the write lock.
func (h *Hub) Notify(clientID string, ev batch.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", "client", clientID, "type", ev.Type, "err", err)
		return
	}

	h.mu.RLock()
	c := h.clients[clientID]
	if c == nil {
		h.mu.RUnlock()
		return
	}
	sent := false
	select {
	case c.send <- b:
		sent = true
	default:
	}
	h.mu.RUnlock()

	if !sent {
		h.log.Warn("client too slow, dropping", "client", clientID)
		h.Remove(c)
	}
}
