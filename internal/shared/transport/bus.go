package transport

import (
	"context"
	"fmt"
)

// Bus gives a service one place to look up the consumers and producers it
// was wired with, by role.
type Bus struct {
	messageGroupConsumers map[MessageGroupConsumerType]MessageGroupConsumer
	messageProducers      map[MessageProducerType]MessageProducer
}

func genericAdd[K comparable, V any](m *map[K]V, key K, value V) {
	if *m == nil {
		*m = make(map[K]V)
	}
	(*m)[key] = value
}

func (m *Bus) AddMessageGroupConsumer(t MessageGroupConsumerType, consumer MessageGroupConsumer) {
	genericAdd(&m.messageGroupConsumers, t, consumer)
}

func (m *Bus) AddMessageProducer(t MessageProducerType, producer MessageProducer) {
	genericAdd(&m.messageProducers, t, producer)
}

func (m *Bus) Send(ctx context.Context, t MessageProducerType, key string, msg any) error {
	p, ok := m.messageProducers[t]
	if !ok {
		return fmt.Errorf("no producer registered for %s", t)
	}
	return p.Send(ctx, key, msg)
}

func (m *Bus) StartReceiving(ctx context.Context, consumerType MessageGroupConsumerType) (msgCh <-chan Record, errCh <-chan error) {
	return m.messageGroupConsumers[consumerType].StartReceiving(ctx)
}
