package waiting

import (
	"context"
	"sync"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/cespare/xxhash/v2"
)

const defaultShardCount = 64

type shard struct {
	mu    sync.Mutex
	items map[match.MatchKey]match.PendingRequest
}

// MemoryStore keeps waiters in process memory. Keys are spread over shards
// and a shard lock is only held for one map operation, never across I/O.
type MemoryStore struct {
	shards []*shard
}

func NewMemoryStore() *MemoryStore {
	return NewShardedMemoryStore(defaultShardCount)
}

func NewShardedMemoryStore(shards int) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	s := &MemoryStore{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[match.MatchKey]match.PendingRequest)}
	}
	return s
}

func (s *MemoryStore) shardFor(key match.MatchKey) *shard {
	return s.shards[xxhash.Sum64String(key.String())%uint64(len(s.shards))]
}

func (s *MemoryStore) TryClaimOrInsert(_ context.Context, key match.MatchKey, req match.PendingRequest) (match.PendingRequest, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if existing, ok := sh.items[key]; ok {
		return existing, true, nil
	}
	sh.items[key] = req
	return match.PendingRequest{}, false, nil
}

func (s *MemoryStore) RemoveIfPresent(_ context.Context, key match.MatchKey) (match.PendingRequest, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	existing, ok := sh.items[key]
	if ok {
		delete(sh.items, key)
	}
	return existing, ok, nil
}

func (s *MemoryStore) Replace(_ context.Context, key match.MatchKey, req match.PendingRequest) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = req
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, key match.MatchKey) (match.PendingRequest, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	existing, ok := sh.items[key]
	return existing, ok, nil
}

// Len counts waiters across all shards.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}
