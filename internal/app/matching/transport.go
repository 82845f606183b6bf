package matching

import (
	"context"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/transport"
	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils/rediskeys"
	"github.com/redis/go-redis/v9"
)

const (
	RequestConsumer    transport.MessageGroupConsumerType = "match_request_consumer"
	RequestProducer    transport.MessageProducerType      = "match_request_producer"
	ConfirmedProducer  transport.MessageProducerType      = "confirmed_match_producer"
	DiagnosticProducer transport.MessageProducerType      = "diagnostic_producer"
)

// outboundStreamMaxLen caps the streams whose readers ack without deleting.
const outboundStreamMaxLen = 10000

// Publisher is everything the engine writes back out.
type Publisher interface {
	RequestPublisher
	PublishConfirmed(ctx context.Context, m match.ConfirmedMatch) error
	PublishDiagnostic(ctx context.Context, d match.Diagnostic) error
}

type RequestPublisher interface {
	PublishRequest(ctx context.Context, k match.MatchKey, r match.PendingRequest) error
}

type TransportBus struct {
	bus transport.Bus
}

func NewTransportBus(requestConsumer transport.MessageGroupConsumer, requestProducer, confirmedProducer, diagnosticProducer transport.MessageProducer) *TransportBus {
	b := &TransportBus{}
	if requestConsumer != nil {
		b.bus.AddMessageGroupConsumer(RequestConsumer, requestConsumer)
	}
	b.bus.AddMessageProducer(RequestProducer, requestProducer)
	b.bus.AddMessageProducer(ConfirmedProducer, confirmedProducer)
	b.bus.AddMessageProducer(DiagnosticProducer, diagnosticProducer)
	return b
}

// NewRedisTransportBus wires the bus to the redis streams. consumerName must
// be stable across restarts so unacked records are replayed to the same
// instance.
func NewRedisTransportBus(ctx context.Context, rdb *redis.Client, consumerName string) (*TransportBus, error) {
	consumer, err := transport.NewRedisMessageGroupConsumer(ctx, rdb, rediskeys.MatchRequestStream, rediskeys.MatchRequestCGroup, consumerName)
	if err != nil {
		return nil, err
	}
	return NewTransportBus(
		consumer,
		transport.NewRedisMessageProducer(rdb, rediskeys.MatchRequestStream),
		transport.NewRedisMessageProducer(rdb, rediskeys.ConfirmedMatchStream, transport.WithMaxLen(outboundStreamMaxLen)),
		transport.NewRedisMessageProducer(rdb, rediskeys.DiagnosticStream, transport.WithMaxLen(outboundStreamMaxLen)),
	), nil
}

// NewRedisRequestPublisher only writes to the inbound stream and never joins
// the consumer group.
func NewRedisRequestPublisher(rdb *redis.Client) *TransportBus {
	return NewTransportBus(
		nil,
		transport.NewRedisMessageProducer(rdb, rediskeys.MatchRequestStream),
		transport.NewRedisMessageProducer(rdb, rediskeys.ConfirmedMatchStream, transport.WithMaxLen(outboundStreamMaxLen)),
		transport.NewRedisMessageProducer(rdb, rediskeys.DiagnosticStream, transport.WithMaxLen(outboundStreamMaxLen)),
	)
}

func (b *TransportBus) StartReceivingRequests(ctx context.Context) (<-chan transport.Record, <-chan error) {
	return b.bus.StartReceiving(ctx, RequestConsumer)
}

func (b *TransportBus) PublishRequest(ctx context.Context, k match.MatchKey, r match.PendingRequest) error {
	return b.bus.Send(ctx, RequestProducer, k.String(), r)
}

func (b *TransportBus) PublishConfirmed(ctx context.Context, m match.ConfirmedMatch) error {
	return b.bus.Send(ctx, ConfirmedProducer, m.CollaborationID.String(), m)
}

func (b *TransportBus) PublishDiagnostic(ctx context.Context, d match.Diagnostic) error {
	return b.bus.Send(ctx, DiagnosticProducer, d.Key, d)
}
