package transport

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type MessageProducerType string
type MessageProducer interface {
	Send(ctx context.Context, key string, msg any) error
}

type RedisMessageProducer struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

type ProducerOption func(*RedisMessageProducer)

// WithMaxLen trims the stream to roughly n entries on every append.
func WithMaxLen(n int64) ProducerOption {
	return func(p *RedisMessageProducer) {
		p.maxLen = n
	}
}

// Send appends msg under key. Byte slices are written as-is, anything else
// is json encoded.
func (r *RedisMessageProducer) Send(ctx context.Context, key string, msg any) error {
	var data []byte
	switch m := msg.(type) {
	case []byte:
		data = m
	case json.RawMessage:
		data = m
	default:
		var err error
		data, err = json.Marshal(msg)
		if err != nil {
			return err
		}
	}
	values := map[string]interface{}{
		fieldKey:     key,
		fieldPayload: data,
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		ID:     "*",
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.rdb.XAdd(ctx, args).Err()
}

func NewRedisMessageProducer(rdb *redis.Client, stream string, opts ...ProducerOption) *RedisMessageProducer {
	p := &RedisMessageProducer{
		rdb:    rdb,
		stream: stream,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
