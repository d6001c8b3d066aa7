// Package websocket streams trust-verification and supervisor state events
// to connected UI clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/events/bus"
)

// Hub manages all WebSocket client connections and fans event-bus
// notifications out to them.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	eventBus      bus.EventBus
	subscriptions []bus.Subscription

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// SubscribeBus forwards events on the given subjects to every connected
// client. Call before Run.
func (h *Hub) SubscribeBus(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := h.eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
			h.Broadcast(event)
			return nil
		})
		if err != nil {
			return err
		}
		h.subscriptions = append(h.subscriptions, sub)
	}
	return nil
}

// Run starts the hub's main processing loop. Returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.broadcastData(data)
		}
	}
}

// Broadcast queues an event for delivery to all connected clients.
func (h *Hub) Broadcast(event *bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", zap.String("event_type", event.Type))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastData(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by its write pump
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) shutdown() {
	for _, sub := range h.subscriptions {
		_ = sub.Unsubscribe()
	}
	h.subscriptions = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
