package websocket

import (
	"context"
	"sync"

	"bookdesk/internal/observability"
)

type subscriptionRequest struct {
	client    *Client
	channel   string
	subscribe bool
}

// Hub tracks admin sessions and the change feed channels they follow.
// Membership changes are serialized through Run; fan-out reads under RLock.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[*Client]struct{}

	register     chan *Client
	unregister   chan *Client
	subscription chan subscriptionRequest
}

func NewHub() *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		channels:     make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 256),
		unregister:   make(chan *Client, 256),
		subscription: make(chan subscriptionRequest, 512),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case req := <-h.subscription:
			if req.subscribe {
				h.subscribeToChannel(req.client, req.channel)
			} else {
				h.unsubscribeFromChannel(req.client, req.channel)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.subscription <- subscriptionRequest{client: client, channel: channel, subscribe: true}
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.subscription <- subscriptionRequest{client: client, channel: channel}
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
}

// BroadcastToUser sends payload to every session of userID.
func (h *Hub) BroadcastToUser(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID {
			c.SendMessage(payload)
		}
	}
}

// UserConnected reports whether userID has at least one live session.
func (h *Hub) UserConnected(userID string) bool {
	return h.connectedExcept(userID, "")
}

func (h *Hub) connectedExcept(userID, clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID && c.ID != clientID {
			return true
		}
	}
	return false
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()
	observability.WebSocketConnections.Set(float64(count))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	h.detachLocked(client)
	observability.WebSocketConnections.Set(float64(len(h.clients)))
}

// detachLocked drops client from every channel and closes its send queue.
func (h *Hub) detachLocked(client *Client) {
	for _, channel := range client.GetChannels() {
		if subs, ok := h.channels[channel]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.clients, client.ID)
	client.closeSend()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.detachLocked(c)
	}
	observability.WebSocketConnections.Set(0)
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.Subscribe(channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	client.Unsubscribe(channel)
}
