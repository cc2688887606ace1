package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventsChannel = "spinlog:events"

// Event types pushed to lobby displays. Only discrete lifecycle
// transitions are broadcast; tick data is never streamed.
const (
	EventCardScanned    = "card_scanned"
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

type Event struct {
	Type      string    `json:"type"`
	CardID    string    `json:"cardId,omitempty"`
	SessionID int64     `json:"sessionId,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans session lifecycle events out to connected display clients.
// With a redis client configured, events travel through pub/sub so every
// service instance reaches every display.
type Hub struct {
	redis   *redis.Client
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	Send chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register() *Client {
	client := &Client{
		Send: make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("stream marshal error: %v", err)
		return
	}

	if h.redis != nil {
		// local clients receive it back through the subscription
		if err := h.redis.Publish(context.Background(), eventsChannel, payload).Err(); err != nil {
			log.Printf("redis publish error: %v", err)
			h.fanout(payload)
		}
		return
	}
	h.fanout(payload)
}

func (h *Hub) fanout(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	pubsub := h.redis.Subscribe(context.Background(), eventsChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.fanout([]byte(msg.Payload))
	}
}
