package websocket

import (
	"context"
	"sync"
	"time"

	"vidsync/logger"
	"vidsync/types"
)

// Hub fans job progress messages out to subscribed websocket clients
type Hub interface {
	Run(ctx context.Context)
	Broadcast(msg types.ProgressMessage)
	BroadcastProgress(itemID, msgType string, status types.JobState, title, message string, progress float64)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub maintains the set of active clients and broadcasts messages to them
type hub struct {
	log logger.Logger

	// Registered clients keyed by item id, or AllItems
	clients map[string]map[*Client]bool

	broadcast  chan types.ProgressMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log logger.Logger) Hub {
	return &hub{
		log:        log,
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.ProgressMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns when ctx is done,
// closing every client's send channel.
func (h *hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.itemID] == nil {
				h.clients[client.itemID] = make(map[*Client]bool)
			}
			h.clients[client.itemID][client] = true
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", logger.String("client_id", client.id), logger.String("item_id", client.itemID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug("WebSocket client disconnected", logger.String("client_id", client.id), logger.String("item_id", client.itemID))

		case message := <-h.broadcast:
			h.mu.Lock()
			h.deliver(message.ItemID, message)
			if message.ItemID != AllItems {
				h.deliver(AllItems, message)
			}
			h.mu.Unlock()
		}
	}
}

// deliver sends to every client under key, dropping clients whose buffer is full.
// Caller holds h.mu.
func (h *hub) deliver(key string, message types.ProgressMessage) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// remove drops client if still registered. Caller holds h.mu.
func (h *hub) remove(client *Client) {
	clients, ok := h.clients[client.itemID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.send)
		if len(clients) == 0 {
			delete(h.clients, client.itemID)
		}
	}
}

// Broadcast queues msg for delivery. It never blocks; when the buffer is
// full the message is dropped.
func (h *hub) Broadcast(msg types.ProgressMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("WebSocket broadcast channel full, dropping message", logger.String("item_id", msg.ItemID))
	}
}

// BroadcastProgress builds and queues a progress message for one item
func (h *hub) BroadcastProgress(itemID, msgType string, status types.JobState, title, message string, progress float64) {
	h.Broadcast(types.ProgressMessage{
		ItemID:    itemID,
		Type:      msgType,
		Progress:  progress,
		Status:    status,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
