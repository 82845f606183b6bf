package waiting

import (
	"context"
	"sync"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils/rediskeys"
	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers request ids for a window so a redelivered record is
// not treated as a fresh submission.
type Deduplicator interface {
	// Seen records id and reports whether it was already recorded inside the window.
	Seen(ctx context.Context, id string) (bool, error)
	// Forget drops id so its next delivery is handled as new.
	Forget(ctx context.Context, id string) error
}

type MemoryDeduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
	lastGC time.Time
}

func NewMemoryDeduplicator(window time.Duration) *MemoryDeduplicator {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryDeduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, id string) (bool, error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gcLocked(now)
	if expires, ok := d.seen[id]; ok && now.Before(expires) {
		return true, nil
	}
	d.seen[id] = now.Add(d.window)
	return false, nil
}

func (d *MemoryDeduplicator) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

// gcLocked sweeps expired ids at most once per window.
func (d *MemoryDeduplicator) gcLocked(now time.Time) {
	if now.Sub(d.lastGC) < d.window {
		return
	}
	d.lastGC = now
	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
}

type RedisDeduplicator struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisDeduplicator(rdb *redis.Client, window time.Duration) *RedisDeduplicator {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisDeduplicator{rdb: rdb, window: window}
}

func (d *RedisDeduplicator) Seen(ctx context.Context, id string) (bool, error) {
	added, err := d.rdb.SetNX(ctx, rediskeys.SeenRequest(id), 1, d.window).Result()
	if err != nil {
		return false, err
	}
	return !added, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, rediskeys.SeenRequest(id)).Err()
}
