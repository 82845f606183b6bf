package gateway

import (
	"context"
	"log/slog"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/transport"
	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils/rediskeys"
	"github.com/redis/go-redis/v9"
)

type Deliverer interface {
	Deliver(ctx context.Context, sessionID string, payload []byte) bool
}

// Notifier reads confirmed matches and hands each user their personalized
// notification. Users without a live session on this instance are skipped.
type Notifier struct {
	consumer transport.MessageGroupConsumer
	hub      Deliverer
	log      *slog.Logger
	leave    func(ctx context.Context) error
}

func NewNotifier(consumer transport.MessageGroupConsumer, hub Deliverer, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{consumer: consumer, hub: hub, log: log}
}

// NewRedisNotifier joins a consumer group of its own, named after instance,
// so every gateway instance reads every confirmed match and delivers to the
// sessions it holds. The group only sees matches confirmed after it was
// created.
func NewRedisNotifier(ctx context.Context, rdb *redis.Client, instance string, hub Deliverer, log *slog.Logger) (*Notifier, error) {
	consumer, err := transport.NewRedisMessageGroupConsumer(ctx, rdb,
		rediskeys.ConfirmedMatchStream, rediskeys.ConfirmedMatchGatewayCGroup(instance), instance,
		transport.WithNewRecordsOnly(), transport.WithSharedStream())
	if err != nil {
		return nil, err
	}
	n := NewNotifier(consumer, hub, log)
	n.leave = consumer.LeaveGroup
	return n, nil
}

// Close removes the instance's consumer group. Sessions do not survive a
// gateway restart, so neither do the matches addressed to them.
func (n *Notifier) Close(ctx context.Context) error {
	if n.leave == nil {
		return nil
	}
	return n.leave(ctx)
}

func (n *Notifier) Start(ctx context.Context) error {
	recCh, errCh := n.consumer.StartReceiving(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-recCh:
			if !ok {
				return nil
			}
			n.handle(ctx, rec)
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (n *Notifier) handle(ctx context.Context, rec transport.Record) {
	log := n.log.With("record_id", rec.ID)
	defer func() {
		if err := rec.Ack(ctx); err != nil {
			log.Error("failed to ack confirmed match", "err", err)
		}
	}()

	m, err := match.DecodeConfirmedMatch(rec.Payload)
	if err != nil {
		log.Warn("dropping undecodable confirmed match", "err", err)
		return
	}
	log = log.With("collaboration_id", m.CollaborationID.String())

	for _, note := range m.Notifications() {
		if note.SessionID == "" {
			continue
		}
		payload, err := NewMessage(MatchFound, note)
		if err != nil {
			log.Error("failed to encode notification", "err", err)
			continue
		}
		if n.hub.Deliver(ctx, note.SessionID, payload) {
			log.Info("delivered match notification", "session", note.SessionID)
		} else {
			log.Debug("session not connected, skipping notification", "session", note.SessionID)
		}
	}
}
