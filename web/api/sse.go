package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Message is one event pushed to SSE and websocket clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans messages out to subscribed clients. Slow clients are dropped
// rather than holding up the run.
type Hub struct {
	clients    map[chan Message]bool
	broadcast  chan Message
	register   chan chan Message
	unregister chan chan Message
	done       chan struct{}
	mu         sync.Mutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan Message]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan chan Message),
		unregister: make(chan chan Message),
		done:       make(chan struct{}),
	}
}

// Run dispatches until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- msg:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all clients, dropping it if the hub is
// backed up
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Clients returns the number of subscribed clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe(ctx context.Context) (chan Message, bool) {
	client := make(chan Message, 32)
	select {
	case h.register <- client:
		return client, true
	case <-ctx.Done():
		return nil, false
	case <-h.done:
		return nil, false
	}
}

func (h *Hub) unsubscribe(client chan Message) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client, ok := s.hub.subscribe(r.Context())
		if !ok {
			return
		}

		// the current state first, so late subscribers are not blank
		writeSSE(w, Message{Type: "snapshot", Data: s.tracker.Snapshot()})
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				s.hub.unsubscribe(client)
				return
			case msg, ok := <-client:
				if !ok {
					return
				}
				writeSSE(w, msg)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, msg Message) {
	data, _ := json.Marshal(msg)
	fmt.Fprintf(w, "event: %s\n", msg.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
