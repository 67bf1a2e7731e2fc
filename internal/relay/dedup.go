package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long seen event IDs are remembered. Redelivery of
// the same event inside this window produces no duplicate record.
const DefaultDedupTTL = 24 * time.Hour

// Deduper answers whether an event ID has already been relayed. Delivery is
// at-least-once; dedup makes redelivered events idempotent on the ingest side.
type Deduper interface {
	// Seen marks the ID as relayed and reports whether it had been marked
	// before.
	Seen(ctx context.Context, eventID string) (bool, error)
}

// RedisDeduper remembers event IDs in Redis with a TTL, shared across
// replicas.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper creates a Redis-backed deduper. ttl <= 0 uses the default.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: "relay:event:"}
}

// Seen uses SET NX so marking and checking are one atomic round trip.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event dedup: %w", err)
	}
	// SetNX returns false when the key already existed.
	return !ok, nil
}

// MemoryDeduper is an in-memory Deduper for testing and single-process
// deployments. Thread-safe; expired entries are pruned lazily.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryDeduper creates an in-memory deduper. ttl <= 0 uses the default.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl}
}

// Seen marks the ID and reports whether it was already present and unexpired.
func (d *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	// Lazy prune keeps the map bounded without a background goroutine.
	for id, ts := range d.seen {
		if now.Sub(ts) > d.ttl {
			delete(d.seen, id)
		}
	}

	if ts, ok := d.seen[eventID]; ok && now.Sub(ts) <= d.ttl {
		return true, nil
	}
	d.seen[eventID] = now
	return false, nil
}
