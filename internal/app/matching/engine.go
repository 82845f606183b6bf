package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/archive"
	"github.com/bkohler93/peermatch/internal/shared/config"
	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/verification"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
)

// Result names the path a single request took through the engine.
type Result string

const (
	ResultWaiting            Result = "waiting"
	ResultSuperseded         Result = "superseded"
	ResultConfirmed          Result = "confirmed"
	ResultPartialInvalid     Result = "partial_invalid"
	ResultBothInvalid        Result = "both_invalid"
	ResultVerificationFailed Result = "verification_failed"
	ResultDuplicate          Result = "duplicate"
)

type Policy struct {
	VerifyTimeout time.Duration
	FailurePolicy config.FailurePolicy
	RequeueDelay  time.Duration
	MaxAttempts   int
}

func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		VerifyTimeout: cfg.VerifyTimeout,
		FailurePolicy: cfg.FailurePolicy,
		RequeueDelay:  cfg.RequeueDelay,
		MaxAttempts:   cfg.MaxAttempts,
	}
}

func defaultPolicy() Policy {
	d := config.Default()
	return PolicyFromConfig(d)
}

type EngineOption func(*Engine)

func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

func WithDeduplicator(d waiting.Deduplicator) EngineOption {
	return func(e *Engine) {
		e.dedup = d
	}
}

func WithArchive(rec archive.Recorder) EngineOption {
	return func(e *Engine) {
		e.emitter.archive = rec
	}
}

func WithStats(s *Stats) EngineOption {
	return func(e *Engine) {
		e.stats = s
	}
}

// Engine pairs requests that share a MatchKey and confirms a pair only after
// the verifier accepts it. At most one request waits per key.
//
// The store is the only shared state. No store operation is held open while
// the verifier is consulted, so Handle may run concurrently for any keys.
// Records of one key are expected to arrive in order on one goroutine, see
// WorkerPool.
type Engine struct {
	store     waiting.Store
	verifier  verification.Verifier
	publisher Publisher
	emitter   *Emitter
	dedup     waiting.Deduplicator
	stats     *Stats
	policy    Policy

	requeues sync.WaitGroup
}

func NewEngine(store waiting.Store, verifier verification.Verifier, publisher Publisher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		emitter:   NewEmitter(publisher, nil),
		stats:     &Stats{},
		policy:    defaultPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) Store() waiting.Store {
	return e.store
}

// Handle runs one request through the pairing state machine. Errors are
// store or publish failures; verification problems are handled internally
// and reported through the returned Result.
func (e *Engine) Handle(ctx context.Context, k match.MatchKey, r match.PendingRequest) (Result, error) {
	ctx = logging.With(ctx, "match_key", k.String(), "request_id", r.RequestID.String())
	log := logging.FromContext(ctx)
	e.stats.received.Add(1)

	dedupID, dup, err := e.isDuplicate(ctx, r)
	if err != nil {
		log.Warn("dedup lookup failed, handling request anyway", "err", err)
	} else if dup {
		e.stats.duplicates.Add(1)
		log.Info("duplicate request ignored")
		return ResultDuplicate, nil
	}

	res, err := e.pair(ctx, k, r)
	if err != nil && dedupID != "" && !errors.Is(err, ErrPublishFailed) {
		// the record stays unacked and is redelivered, which must not count
		// as a duplicate
		if ferr := e.dedup.Forget(ctx, dedupID); ferr != nil {
			log.Warn("failed to clear dedup mark", "err", ferr)
		}
	}
	return res, err
}

func (e *Engine) pair(ctx context.Context, k match.MatchKey, r match.PendingRequest) (Result, error) {
	log := logging.FromContext(ctx)
	evicted := false
	for {
		existing, found, err := e.store.TryClaimOrInsert(ctx, k, r)
		if errors.Is(err, waiting.ErrCorruptEntry) && !evicted {
			evicted = true
			log.Error("discarding undecodable waiting request", "err", err)
			if _, _, err := e.store.RemoveIfPresent(ctx, k); err != nil && !errors.Is(err, waiting.ErrCorruptEntry) {
				return "", fmt.Errorf("failed to discard waiting request for %s: %w", k, err)
			}
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to claim %s: %w", k, err)
		}
		if !found {
			log.Info("request waiting for a counterpart")
			return ResultWaiting, nil
		}
		if existing.SameUser(r) {
			return e.supersede(ctx, k, existing, r)
		}

		taken, ok, err := e.store.RemoveIfPresent(ctx, k)
		if err != nil {
			return "", fmt.Errorf("failed to take waiting request for %s: %w", k, err)
		}
		if !ok {
			log.Debug("waiting request vanished before it was taken, retrying")
			continue
		}
		// the occupant can change between claim and take when another
		// instance shares the store
		if taken.SameUser(r) {
			return e.supersede(ctx, k, taken, r)
		}
		return e.verifyPair(ctx, k, taken, r)
	}
}

// isDuplicate keys on the request id and attempt so requeued requests are
// not mistaken for redeliveries. The returned id is empty when no mark was
// set.
func (e *Engine) isDuplicate(ctx context.Context, r match.PendingRequest) (string, bool, error) {
	if e.dedup == nil || r.RequestID.IsZero() {
		return "", false, nil
	}
	id := fmt.Sprintf("%s:%d", r.RequestID, r.Attempts)
	seen, err := e.dedup.Seen(ctx, id)
	if err != nil {
		return "", false, err
	}
	return id, seen, nil
}

func (e *Engine) supersede(ctx context.Context, k match.MatchKey, old, r match.PendingRequest) (Result, error) {
	if err := e.store.Replace(ctx, k, r); err != nil {
		return "", fmt.Errorf("failed to replace waiting request for %s: %w", k, err)
	}
	e.stats.superseded.Add(1)
	logging.FromContext(ctx).Info("waiting request superseded by the same user", "user", r.Identity())
	e.diagnose(ctx, match.NewDiagnostic(match.RequestSuperseded, k, "replaced by a newer request from the same user", old))
	return ResultSuperseded, nil
}

func (e *Engine) verifyPair(ctx context.Context, k match.MatchKey, a, b match.PendingRequest) (Result, error) {
	log := logging.FromContext(ctx)
	e.stats.paired.Add(1)

	vctx := ctx
	if e.policy.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, e.policy.VerifyTimeout)
		defer cancel()
	}
	outcome, err := e.verifier.Verify(vctx, a, b, k)
	if err != nil {
		e.stats.verifyErrors.Add(1)
		log.Warn("verification did not complete", "err", err)
		return e.onFailure(ctx, k, a, b, err.Error())
	}

	switch outcome.Status {
	case verification.StatusSuccess:
		if _, err := e.emitter.Emit(ctx, a, b, k); err != nil {
			return ResultConfirmed, err
		}
		e.stats.confirmed.Add(1)
		return ResultConfirmed, nil

	case verification.StatusPartialInvalid:
		if len(outcome.ValidMatches) != 1 || len(outcome.InvalidMatches) != 1 {
			e.stats.verifyErrors.Add(1)
			log.Warn("verification outcome names the wrong requests", "valid", len(outcome.ValidMatches), "invalid", len(outcome.InvalidMatches))
			return e.onFailure(ctx, k, a, b, "malformed verification outcome")
		}
		keep, drop := outcome.ValidMatches[0], outcome.InvalidMatches[0]
		if err := e.store.Replace(ctx, k, keep); err != nil {
			return "", fmt.Errorf("failed to restore valid request for %s: %w", k, err)
		}
		e.stats.dropped.Add(1)
		log.Info("verification rejected one request", "kept", keep.Identity(), "dropped", drop.Identity(), "message", outcome.Message)
		e.diagnose(ctx, match.NewDiagnostic(match.RequestDropped, k, outcome.Message, drop))
		return ResultPartialInvalid, nil

	case verification.StatusBothInvalid:
		e.stats.dropped.Add(2)
		log.Info("verification rejected both requests", "message", outcome.Message)
		e.diagnose(ctx, match.NewDiagnostic(match.RequestDropped, k, outcome.Message, a, b))
		return ResultBothInvalid, nil

	default:
		log.Warn("verification reported failure", "message", outcome.Message)
		return e.onFailure(ctx, k, a, b, outcome.Message)
	}
}

func (e *Engine) onFailure(ctx context.Context, k match.MatchKey, a, b match.PendingRequest, reason string) (Result, error) {
	e.diagnose(ctx, match.NewDiagnostic(match.VerificationFailed, k, reason, a, b))
	if e.policy.FailurePolicy != config.RequeueBoth {
		e.stats.dropped.Add(2)
		return ResultVerificationFailed, nil
	}
	e.requeue(ctx, k, a)
	e.requeue(ctx, k, b)
	return ResultVerificationFailed, nil
}

// requeue republishes r after the configured delay. The caller is not held
// up, Wait blocks until every scheduled requeue finished.
func (e *Engine) requeue(ctx context.Context, k match.MatchKey, r match.PendingRequest) {
	log := logging.FromContext(ctx).With("user", r.Identity())
	r.Attempts++
	if r.Attempts >= e.policy.MaxAttempts {
		e.stats.dropped.Add(1)
		log.Warn("dropping request after repeated verification failures", "attempts", r.Attempts)
		return
	}

	e.stats.requeued.Add(1)
	e.requeues.Add(1)
	go func() {
		defer e.requeues.Done()
		timer := time.NewTimer(e.policy.RequeueDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			log.Warn("shutting down before request could be requeued")
			return
		}
		if err := e.publisher.PublishRequest(ctx, k, r); err != nil {
			log.Error("failed to requeue request", "err", err)
		}
	}()
}

func (e *Engine) diagnose(ctx context.Context, d match.Diagnostic) {
	if err := e.publisher.PublishDiagnostic(ctx, d); err != nil {
		logging.FromContext(ctx).Warn("failed to publish diagnostic", "type", d.Type, "err", err)
	}
}

// Wait blocks until scheduled requeues have been published or abandoned.
func (e *Engine) Wait() {
	e.requeues.Wait()
}
