package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pliu/parley/internal/models"
)

type notification struct {
	userIDs []int64
	payload []byte
}

// Hub tracks connected clients and fans events out to the sessions of the
// users they concern.
type Hub struct {
	// Registered clients, by user.
	clients map[int64]map[*Client]bool

	notify     chan notification
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		notify:     make(chan notification, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, set := range h.clients {
			for client := range set {
				close(client.send)
			}
		}
		h.clients = nil
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.userID] = set
			}
			set[client] = true
		case client := <-h.unregister:
			h.remove(client)
		case n := <-h.notify:
			for _, userID := range n.userIDs {
				for client := range h.clients[userID] {
					select {
					case client.send <- n.payload:
					default:
						slog.Warn("ws_client_dropped", "user_id", userID, "reason", "send buffer full")
						h.remove(client)
					}
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

// Notify queues ev for every connected session of userIDs. It never blocks
// once the hub has stopped.
func (h *Hub) Notify(ev models.Event, userIDs ...int64) {
	if len(userIDs) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("ws_marshal_failed", "error", err)
		return
	}
	select {
	case h.notify <- notification{userIDs: userIDs, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
