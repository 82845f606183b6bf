package matching

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/verification"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
)

type recordingPublisher struct {
	mu          sync.Mutex
	confirmed   []match.ConfirmedMatch
	diagnostics []match.Diagnostic
	requests    []match.PendingRequest
	failConfirm bool
}

func (p *recordingPublisher) PublishConfirmed(ctx context.Context, m match.ConfirmedMatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failConfirm {
		return errors.New("stream unavailable")
	}
	p.confirmed = append(p.confirmed, m)
	return nil
}

func (p *recordingPublisher) PublishDiagnostic(ctx context.Context, d match.Diagnostic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnostics = append(p.diagnostics, d)
	return nil
}

func (p *recordingPublisher) PublishRequest(ctx context.Context, k match.MatchKey, r match.PendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r)
	return nil
}

func (p *recordingPublisher) Confirmed() []match.ConfirmedMatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]match.ConfirmedMatch(nil), p.confirmed...)
}

func (p *recordingPublisher) Diagnostics() []match.Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]match.Diagnostic(nil), p.diagnostics...)
}

func (p *recordingPublisher) Requests() []match.PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]match.PendingRequest(nil), p.requests...)
}

// judgeFunc decides the outcome for a pair; fakeVerifier records calls and
// flags any two calls for one key that overlap.
type judgeFunc func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error)

type fakeVerifier struct {
	judge    judgeFunc
	delay    time.Duration
	calls    atomic.Int64
	overlaps atomic.Int64

	mu       sync.Mutex
	inFlight map[match.MatchKey]int
}

func newFakeVerifier(judge judgeFunc) *fakeVerifier {
	return &fakeVerifier{judge: judge, inFlight: make(map[match.MatchKey]int)}
}

func (v *fakeVerifier) Verify(ctx context.Context, a, b match.PendingRequest, key match.MatchKey) (verification.Outcome, error) {
	v.calls.Add(1)
	v.mu.Lock()
	v.inFlight[key]++
	if v.inFlight[key] > 1 {
		v.overlaps.Add(1)
	}
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.inFlight[key]--
		v.mu.Unlock()
	}()

	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	return v.judge(ctx, a, b)
}

func acceptAll(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
	return verification.Outcome{
		Status:       verification.StatusSuccess,
		ValidMatches: []match.PendingRequest{a, b},
	}, nil
}

// vanishingStore loses the occupant once between claim and take, the way a
// second instance sharing the store could.
type vanishingStore struct {
	waiting.Store
	vanished atomic.Bool
}

func (s *vanishingStore) RemoveIfPresent(ctx context.Context, key match.MatchKey) (match.PendingRequest, bool, error) {
	if s.vanished.CompareAndSwap(false, true) {
		s.Store.RemoveIfPresent(ctx, key)
		return match.PendingRequest{}, false, nil
	}
	return s.Store.RemoveIfPresent(ctx, key)
}

// flakyStore fails the first claim, the way a dropped Redis connection would.
type flakyStore struct {
	waiting.Store
	failed atomic.Bool
}

func (s *flakyStore) TryClaimOrInsert(ctx context.Context, key match.MatchKey, r match.PendingRequest) (match.PendingRequest, bool, error) {
	if s.failed.CompareAndSwap(false, true) {
		return match.PendingRequest{}, false, errors.New("connection reset")
	}
	return s.Store.TryClaimOrInsert(ctx, key, r)
}
