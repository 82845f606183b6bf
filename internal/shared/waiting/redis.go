package waiting

import (
	"context"
	"errors"
	"fmt"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/utils/files"
	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils/rediskeys"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares waiters between matching instances. Claim-or-insert runs
// as a Lua script, take is GETDEL, so each transition is one server-side step.
type RedisStore struct {
	rdb *redis.Client
	lua map[string]*redis.Script
}

func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	r := &RedisStore{
		rdb: rdb,
		lua: make(map[string]*redis.Script),
	}
	src, err := files.GetLuaScript(files.LuaTryClaimOrInsert)
	if err != nil {
		return r, fmt.Errorf("failed to load lua src from '%s' with error - %v", files.LuaTryClaimOrInsert, err)
	}
	r.lua[files.LuaTryClaimOrInsert] = redis.NewScript(src)
	return r, nil
}

func slotKey(key match.MatchKey) string {
	return rediskeys.WaitingRequest(key.String())
}

func decodeSlot(raw string) (match.PendingRequest, error) {
	req, err := match.DecodePendingRequest([]byte(raw))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return req, nil
}

func (r *RedisStore) TryClaimOrInsert(ctx context.Context, key match.MatchKey, req match.PendingRequest) (match.PendingRequest, bool, error) {
	encoded, err := req.MarshalBinary()
	if err != nil {
		return match.PendingRequest{}, false, err
	}
	res, err := r.lua[files.LuaTryClaimOrInsert].Run(ctx, r.rdb, []string{slotKey(key)}, encoded).Result()
	if errors.Is(err, redis.Nil) {
		return match.PendingRequest{}, false, nil
	}
	if err != nil {
		return match.PendingRequest{}, false, err
	}
	raw, ok := res.(string)
	if !ok {
		return match.PendingRequest{}, false, fmt.Errorf("%w: unexpected script result %T", ErrCorruptEntry, res)
	}
	existing, err := decodeSlot(raw)
	return existing, true, err
}

func (r *RedisStore) RemoveIfPresent(ctx context.Context, key match.MatchKey) (match.PendingRequest, bool, error) {
	raw, err := r.rdb.GetDel(ctx, slotKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return match.PendingRequest{}, false, nil
	}
	if err != nil {
		return match.PendingRequest{}, false, err
	}
	req, err := decodeSlot(raw)
	return req, true, err
}

func (r *RedisStore) Replace(ctx context.Context, key match.MatchKey, req match.PendingRequest) error {
	return r.rdb.Set(ctx, slotKey(key), req, 0).Err()
}

func (r *RedisStore) Peek(ctx context.Context, key match.MatchKey) (match.PendingRequest, bool, error) {
	raw, err := r.rdb.Get(ctx, slotKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return match.PendingRequest{}, false, nil
	}
	if err != nil {
		return match.PendingRequest{}, false, err
	}
	req, err := decodeSlot(raw)
	return req, true, err
}
