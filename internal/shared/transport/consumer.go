package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/utils/files"
	"github.com/redis/go-redis/v9"
)

// Record is one key/value entry read from a stream.
type Record struct {
	ID      string
	Key     string
	Payload []byte
	AckFunc func(ctx context.Context) error
}

func (r Record) Ack(ctx context.Context) error {
	if r.AckFunc == nil {
		return nil
	}
	return r.AckFunc(ctx)
}

type MessageGroupConsumerType string
type MessageGroupConsumer interface {
	StartReceiving(ctx context.Context) (<-chan Record, <-chan error)
}

type RedisMessageGroupConsumer struct {
	rdb           *redis.Client
	stream        string
	consumerGroup string
	consumer      string
	luaScripts    map[string]*redis.Script
	block         time.Duration
	batch         int64
	startID       string
	keepAcked     bool
}

type ConsumerOption func(*RedisMessageGroupConsumer)

// WithNewRecordsOnly creates the group at the end of the stream instead of
// its beginning.
func WithNewRecordsOnly() ConsumerOption {
	return func(c *RedisMessageGroupConsumer) {
		c.startID = "$"
	}
}

// WithSharedStream acks without deleting, for streams read by more than one
// group. The producer is then expected to cap the stream length.
func WithSharedStream() ConsumerOption {
	return func(c *RedisMessageGroupConsumer) {
		c.keepAcked = true
	}
}

var (
	consumerBlockDuration = time.Second * 5
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// NewRedisMessageGroupConsumer joins (creating if needed) consumerGroup on
// stream. By default a new group starts at the beginning of the stream so
// records published before the first consumer came up are not skipped.
func NewRedisMessageGroupConsumer(ctx context.Context, rdb *redis.Client, stream, consumerGroup, consumer string, opts ...ConsumerOption) (*RedisMessageGroupConsumer, error) {
	var r *RedisMessageGroupConsumer
	luaScripts := make(map[string]*redis.Script)
	atomicAckDelSrc, err := files.GetLuaScript(files.LuaCGroupAckDelMsg)
	if err != nil {
		return r, fmt.Errorf("error loading atomicAckDel lua script - %v", err)
	}
	luaScripts[files.LuaCGroupAckDelMsg] = redis.NewScript(atomicAckDelSrc)

	r = &RedisMessageGroupConsumer{
		rdb:           rdb,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumer:      consumer,
		luaScripts:    luaScripts,
		block:         consumerBlockDuration,
		batch:         10,
		startID:       "0",
	}
	for _, opt := range opts {
		opt(r)
	}
	err = r.rdb.XGroupCreateMkStream(ctx, stream, consumerGroup, r.startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return r, err
	}
	return r, nil
}

// StartReceiving first replays entries this consumer was handed but never
// acked (a previous run crashed mid-record), then blocks for new ones.
func (mc *RedisMessageGroupConsumer) StartReceiving(ctx context.Context) (<-chan Record, <-chan error) {
	msgCh := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(msgCh)
		defer close(errCh)
		lastID := "0"
		for {
			if ctx.Err() != nil {
				return
			}
			args := &redis.XReadGroupArgs{
				Group:    mc.consumerGroup,
				Consumer: mc.consumer,
				Streams:  []string{mc.stream, lastID},
				Count:    mc.batch,
				Block:    mc.block,
			}
			if lastID != ">" {
				args.Block = -1
			}
			streamResults, err := mc.rdb.XReadGroup(ctx, args).Result()
			if errors.Is(err, redis.Nil) {
				lastID = ">"
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("error reading from %s stream - %w", mc.stream, err)
				return
			}

			read := 0
			for _, s := range streamResults {
				for _, m := range s.Messages {
					read++
					if lastID != ">" {
						lastID = m.ID
					}
					select {
					case msgCh <- mc.toRecord(m):
					case <-ctx.Done():
						return
					}
				}
			}
			if read == 0 && lastID != ">" {
				lastID = ">"
			}
		}
	}()
	return msgCh, errCh
}

func (mc *RedisMessageGroupConsumer) toRecord(m redis.XMessage) Record {
	key, _ := m.Values[fieldKey].(string)
	payload, _ := m.Values[fieldPayload].(string)
	id := m.ID
	return Record{
		ID:      id,
		Key:     key,
		Payload: []byte(payload),
		AckFunc: func(ctx context.Context) error {
			return mc.AckMessage(ctx, id)
		},
	}
}

func (mc *RedisMessageGroupConsumer) AckMessage(ctx context.Context, msgId string) error {
	if mc.keepAcked {
		return mc.rdb.XAck(ctx, mc.stream, mc.consumerGroup, msgId).Err()
	}
	return mc.luaScripts[files.LuaCGroupAckDelMsg].Run(ctx, mc.rdb, []string{mc.stream}, mc.consumerGroup, msgId).Err()
}

// LeaveGroup destroys the consumer group. Only groups owned by a single
// consumer should be left this way.
func (mc *RedisMessageGroupConsumer) LeaveGroup(ctx context.Context) error {
	return mc.rdb.XGroupDestroy(ctx, mc.stream, mc.consumerGroup).Err()
}
