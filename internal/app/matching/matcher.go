package matching

import (
	"context"

	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/transport"
	"github.com/bkohler93/peermatch/internal/shared/utils"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
	"golang.org/x/sync/errgroup"
)

// Matcher connects the inbound stream to the engine.
type Matcher struct {
	TransportBus *TransportBus
	Engine       *Engine
	Workers      int
}

// Start blocks until ctx is cancelled or the inbound stream fails.
func (m *Matcher) Start(ctx context.Context) error {
	log := logging.FromContext(ctx)
	recCh, errCh := m.TransportBus.StartReceivingRequests(ctx)
	pool := NewWorkerPool(m.Workers, m.handleRecord)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return pool.Run(gCtx, recCh)
	})
	eg.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return err
		}
	})

	log.Info("ready to process match requests", "workers", m.Workers)
	err := eg.Wait()
	m.Engine.Wait()
	if err != nil {
		log.Error("shutting down due to error", "err", err)
	} else {
		log.Info("shutting down gracefully")
	}
	return err
}

// handleRecord acks every record except those that hit a store error, which
// stay pending and are replayed after a restart. Publish failures and corrupt
// waiting entries do not heal on replay and are acked as well.
func (m *Matcher) handleRecord(ctx context.Context, rec transport.Record) {
	log := logging.FromContext(ctx).With("record_id", rec.ID)

	k, req, err := match.DecodeRecord(rec.Key, rec.Payload)
	if err != nil {
		log.Warn("dropping undecodable match request", "key", rec.Key, "err", err)
		m.ack(ctx, rec)
		return
	}

	result, err := m.Engine.Handle(ctx, k, req)
	if err != nil && !utils.ErrorsIsAny(err, ErrPublishFailed, waiting.ErrCorruptEntry) {
		log.Error("failed to handle match request, leaving it pending", "key", rec.Key, "err", err)
		return
	}
	log.Debug("handled match request", "key", rec.Key, "result", result)
	m.ack(ctx, rec)
}

func (m *Matcher) ack(ctx context.Context, rec transport.Record) {
	if err := rec.Ack(ctx); err != nil {
		logging.FromContext(ctx).Error("failed to ack match request", "record_id", rec.ID, "err", err)
	}
}
