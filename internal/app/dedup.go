/**
 * @description
 * Webhook event deduplication. Registries redeliver status callbacks, so the
 * webhook handler asks the deduper before processing an event id. Redis SETNX
 * gives cross-instance dedup with a TTL; when Redis is not configured or is
 * unreachable the in-memory fallback keeps a per-process window. Dedup is
 * best-effort: reconciliation is idempotent, so a false "first time" answer
 * only costs a redundant sync.
 */
package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupWindow = 24 * time.Hour

// EventDeduper reports whether a webhook event id has been seen before.
type EventDeduper interface {
	// MarkSeen records the event id and returns true if this is the first
	// time it has been observed within the dedup window.
	MarkSeen(ctx context.Context, eventID string) bool
	// Forget releases a previously marked event id so the registry's
	// redelivery is processed again. Callers use it when handling an event
	// failed after MarkSeen.
	Forget(ctx context.Context, eventID string)
}

// RedisEventDeduper deduplicates event ids across service instances.
type RedisEventDeduper struct {
	client *redis.Client
	prefix string
}

// NewRedisEventDeduper creates a Redis-backed deduper. Keys are namespaced
// under the given prefix.
func NewRedisEventDeduper(client *redis.Client, prefix string) *RedisEventDeduper {
	if prefix == "" {
		prefix = "covecrm:a2p:webhook_event"
	}
	return &RedisEventDeduper{client: client, prefix: prefix}
}

func (d *RedisEventDeduper) MarkSeen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, d.prefix+":"+eventID, "1", dedupWindow).Result()
	if err != nil {
		// Fail open: a redelivered event re-runs an idempotent sync, which
		// is cheaper than dropping a legitimate one.
		log.Printf("level=warn component=dedup msg=\"redis setnx failed; treating event as new\" event_id=%s err=%v", eventID, err)
		return true
	}
	return ok
}

func (d *RedisEventDeduper) Forget(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := d.client.Del(ctx, d.prefix+":"+eventID).Err(); err != nil {
		log.Printf("level=warn component=dedup msg=\"redis del failed; redelivery may be dropped until the window expires\" event_id=%s err=%v", eventID, err)
	}
}

// MemoryEventDeduper is the single-process fallback used when Redis is not
// configured. Entries older than the dedup window are pruned on insert.
type MemoryEventDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryEventDeduper() *MemoryEventDeduper {
	return &MemoryEventDeduper{seen: make(map[string]time.Time)}
}

func (d *MemoryEventDeduper) MarkSeen(_ context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.seen {
		if now.Sub(at) > dedupWindow {
			delete(d.seen, id)
		}
	}
	if _, dup := d.seen[eventID]; dup {
		return false
	}
	d.seen[eventID] = now
	return true
}

func (d *MemoryEventDeduper) Forget(_ context.Context, eventID string) {
	if eventID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
}
