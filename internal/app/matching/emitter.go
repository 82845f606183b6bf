package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/archive"
	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/pkg/uuidstring"
)

var ErrPublishFailed = errors.New("failed to publish confirmed match")

type ConfirmedPublisher interface {
	PublishConfirmed(ctx context.Context, m match.ConfirmedMatch) error
}

// Emitter turns a verified pair into the outbound ConfirmedMatch record.
type Emitter struct {
	publisher ConfirmedPublisher
	archive   archive.Recorder
	newID     func() uuidstring.ID
	now       func() time.Time
}

// NewEmitter builds an emitter. rec may be nil when no archive is configured.
func NewEmitter(p ConfirmedPublisher, rec archive.Recorder) *Emitter {
	return &Emitter{
		publisher: p,
		archive:   rec,
		newID:     uuidstring.NewID,
		now:       time.Now,
	}
}

// Emit publishes exactly one record for the pair. A failed publish is
// returned and not retried.
func (e *Emitter) Emit(ctx context.Context, a, b match.PendingRequest, k match.MatchKey) (match.ConfirmedMatch, error) {
	m := match.NewConfirmedMatch(e.newID(), a, b, k, e.now())
	log := logging.FromContext(ctx).With("collaboration_id", m.CollaborationID.String())

	if err := e.publisher.PublishConfirmed(ctx, m); err != nil {
		log.Error("failed to publish confirmed match", "err", err)
		return m, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	log.Info("match confirmed", "users", []string{a.Identity(), b.Identity()})

	if e.archive != nil {
		if err := e.archive.Record(ctx, m); err != nil {
			log.Warn("failed to archive confirmed match", "err", err)
		}
	}
	return m, nil
}
