package activecard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKey = "spinlog:activecard"

// Entry records which card currently owns the tracked device session.
type Entry struct {
	CardID    string    `json:"cardId"`
	ScanID    string    `json:"scanId"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Registry is the single-slot store naming the card authorized to end
// the session in progress. With a redis client configured the slot is
// shared across service instances; otherwise it is process-local. The
// in-memory mirror also serves as a fallback when redis misbehaves.
type Registry struct {
	redis *redis.Client
	mu    sync.RWMutex
	entry *Entry
}

func NewRegistry(redisClient *redis.Client) *Registry {
	return &Registry{redis: redisClient}
}

// Set assigns a new owner unconditionally; a fresh scan always claims
// the device, including over a stale entry left by a crashed end.
func (r *Registry) Set(ctx context.Context, cardID string) Entry {
	entry := Entry{
		CardID:    cardID,
		ScanID:    uuid.NewString(),
		ScannedAt: time.Now(),
	}

	r.mu.Lock()
	r.entry = &entry
	r.mu.Unlock()

	if r.redis != nil {
		payload, _ := json.Marshal(entry)
		if err := r.redis.Set(ctx, redisKey, payload, 0).Err(); err != nil {
			log.Printf("activecard redis set error: %v", err)
		}
	}
	return entry
}

func (r *Registry) Get(ctx context.Context) (Entry, bool) {
	if r.redis != nil {
		raw, err := r.redis.Get(ctx, redisKey).Result()
		switch {
		case err == nil:
			var entry Entry
			if jsonErr := json.Unmarshal([]byte(raw), &entry); jsonErr == nil {
				return entry, true
			}
			log.Printf("activecard redis payload invalid: %q", raw)
		case errors.Is(err, redis.Nil):
			return Entry{}, false
		default:
			log.Printf("activecard redis get error: %v", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entry == nil {
		return Entry{}, false
	}
	return *r.entry, true
}

// Clear empties the slot; clearing an already-empty slot is a no-op.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	r.entry = nil
	r.mu.Unlock()

	if r.redis != nil {
		if err := r.redis.Del(ctx, redisKey).Err(); err != nil {
			log.Printf("activecard redis del error: %v", err)
		}
	}
}
