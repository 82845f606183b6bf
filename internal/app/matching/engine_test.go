package matching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/config"
	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/bkohler93/peermatch/internal/shared/verification"
	"github.com/bkohler93/peermatch/internal/shared/waiting"
	"github.com/bkohler93/peermatch/pkg/uuidstring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = match.MatchKey{Topic: "algorithms", Language: "python", Difficulty: "easy"}

func pending(email string) match.PendingRequest {
	return match.PendingRequest{RequestID: uuidstring.NewID(), Email: email, Criteria: testKey}
}

func TestEngine(t *testing.T) {
	startup := func(t *testing.T, judge judgeFunc, opts ...EngineOption) (*Engine, *fakeVerifier, *recordingPublisher, waiting.Store) {
		store := waiting.NewMemoryStore()
		verifier := newFakeVerifier(judge)
		publisher := &recordingPublisher{}
		return NewEngine(store, verifier, publisher, opts...), verifier, publisher, store
	}
	mustHandle := func(t *testing.T, e *Engine, r match.PendingRequest) Result {
		t.Helper()
		res, err := e.Handle(t.Context(), testKey, r)
		if err != nil {
			t.Fatalf("unexpected error handling request - %v", err)
		}
		return res
	}

	t.Run("first request waits", func(t *testing.T) {
		e, v, pub, store := startup(t, acceptAll)
		a := pending("user1@x.com")

		assert.Equal(t, ResultWaiting, mustHandle(t, e, a))
		assert.Zero(t, v.calls.Load())
		assert.Empty(t, pub.Confirmed())

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, a, stored)
	})

	t.Run("worked example confirms one match and empties the key", func(t *testing.T) {
		e, v, pub, store := startup(t, acceptAll)
		a, b := pending("user1@x.com"), pending("user2@x.com")

		key, err := match.ParseMatchKey("algorithms_python_easy")
		require.NoError(t, err)
		_, err = e.Handle(t.Context(), key, a)
		require.NoError(t, err)
		res, err := e.Handle(t.Context(), key, b)
		require.NoError(t, err)

		assert.Equal(t, ResultConfirmed, res)
		assert.EqualValues(t, 1, v.calls.Load())
		confirmed := pub.Confirmed()
		require.Len(t, confirmed, 1)
		m := confirmed[0]
		assert.ElementsMatch(t, []string{"user1@x.com", "user2@x.com"}, []string{m.Users[0].Email, m.Users[1].Email})
		assert.Equal(t, "algorithms/python/easy", m.Criteria().Path())
		assert.False(t, m.CollaborationID.IsZero())

		_, found, err := store.Peek(t.Context(), key)
		require.NoError(t, err)
		assert.False(t, found, "store should be empty after a confirmed match")
		assert.EqualValues(t, 1, e.Stats().Snapshot().Confirmed)
	})

	t.Run("either arrival order pairs with one verification", func(t *testing.T) {
		for _, order := range [][2]string{{"user1@x.com", "user2@x.com"}, {"user2@x.com", "user1@x.com"}} {
			e, v, pub, _ := startup(t, acceptAll)
			mustHandle(t, e, pending(order[0]))
			mustHandle(t, e, pending(order[1]))
			assert.EqualValues(t, 1, v.calls.Load(), "order %v", order)
			assert.Len(t, pub.Confirmed(), 1, "order %v", order)
		}
	})

	t.Run("same user resubmitting supersedes without verification", func(t *testing.T) {
		e, v, pub, store := startup(t, acceptAll)
		first := pending("user1@x.com")
		latest := pending("USER1@x.com")
		latest.Payload = map[string]string{"note": "latest"}

		mustHandle(t, e, first)
		assert.Equal(t, ResultSuperseded, mustHandle(t, e, latest))
		assert.Zero(t, v.calls.Load())

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, latest, stored)

		diags := pub.Diagnostics()
		require.Len(t, diags, 1)
		assert.Equal(t, match.RequestSuperseded, diags[0].Type)
		assert.Equal(t, first.RequestID, diags[0].Requests[0].RequestID)
	})

	t.Run("same user known by id and by email supersedes without verification", func(t *testing.T) {
		e, v, pub, store := startup(t, acceptAll)
		first := pending("user1@x.com")
		first.UserID = "u1"
		latest := pending("USER1@x.com")

		mustHandle(t, e, first)
		assert.Equal(t, ResultSuperseded, mustHandle(t, e, latest))
		assert.Zero(t, v.calls.Load())
		assert.Empty(t, pub.Confirmed())

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, latest, stored)
	})

	t.Run("partial invalid keeps the valid request waiting", func(t *testing.T) {
		e, _, pub, store := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{
				Status:         verification.StatusPartialInvalid,
				ValidMatches:   []match.PendingRequest{b},
				InvalidMatches: []match.PendingRequest{a},
			}, nil
		})
		a, x := pending("user1@x.com"), pending("user2@x.com")
		mustHandle(t, e, a)
		assert.Equal(t, ResultPartialInvalid, mustHandle(t, e, x))

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, x, stored)
		assert.Empty(t, pub.Confirmed())
	})

	t.Run("partial invalid without both requests named takes the failure path", func(t *testing.T) {
		e, _, pub, store := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{Status: verification.StatusPartialInvalid, Message: "one request is invalid"}, nil
		})
		mustHandle(t, e, pending("user1@x.com"))
		assert.Equal(t, ResultVerificationFailed, mustHandle(t, e, pending("user2@x.com")))

		_, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		assert.False(t, found)
		diags := pub.Diagnostics()
		require.Len(t, diags, 1)
		assert.Equal(t, match.VerificationFailed, diags[0].Type)
		assert.EqualValues(t, 1, e.Stats().Snapshot().VerifyErrors)
	})

	t.Run("both invalid empties the key", func(t *testing.T) {
		e, _, pub, store := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{
				Status:         verification.StatusBothInvalid,
				InvalidMatches: []match.PendingRequest{a, b},
			}, nil
		})
		mustHandle(t, e, pending("user1@x.com"))
		assert.Equal(t, ResultBothInvalid, mustHandle(t, e, pending("user2@x.com")))

		_, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, pub.Confirmed())
		assert.EqualValues(t, 2, e.Stats().Snapshot().Dropped)
	})

	t.Run("verification failure drops both and reports it", func(t *testing.T) {
		e, _, pub, store := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{Status: verification.StatusFailure, Message: "question service down"}, nil
		})
		mustHandle(t, e, pending("user1@x.com"))
		assert.Equal(t, ResultVerificationFailed, mustHandle(t, e, pending("user2@x.com")))

		_, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, pub.Confirmed())
		assert.Empty(t, pub.Requests())

		diags := pub.Diagnostics()
		require.Len(t, diags, 1)
		assert.Equal(t, match.VerificationFailed, diags[0].Type)
		assert.Equal(t, "question service down", diags[0].Reason)
		assert.Len(t, diags[0].Requests, 2)
	})

	t.Run("transport error takes the failure path", func(t *testing.T) {
		e, _, pub, _ := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{}, verification.ErrVerifierUnavailable
		})
		mustHandle(t, e, pending("user1@x.com"))
		assert.Equal(t, ResultVerificationFailed, mustHandle(t, e, pending("user2@x.com")))
		assert.Len(t, pub.Diagnostics(), 1)
		assert.EqualValues(t, 1, e.Stats().Snapshot().VerifyErrors)
	})

	t.Run("verification timeout takes the failure path", func(t *testing.T) {
		p := defaultPolicy()
		p.VerifyTimeout = 20 * time.Millisecond
		e, _, pub, _ := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			<-ctx.Done()
			return verification.Outcome{}, ctx.Err()
		}, WithPolicy(p))

		mustHandle(t, e, pending("user1@x.com"))
		start := time.Now()
		assert.Equal(t, ResultVerificationFailed, mustHandle(t, e, pending("user2@x.com")))
		assert.Less(t, time.Since(start), time.Second)
		assert.Len(t, pub.Diagnostics(), 1)
	})

	t.Run("requeue policy republishes both with another attempt", func(t *testing.T) {
		p := defaultPolicy()
		p.FailurePolicy = config.RequeueBoth
		p.RequeueDelay = time.Millisecond
		e, _, pub, _ := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{Status: verification.StatusFailure}, nil
		}, WithPolicy(p))

		a, b := pending("user1@x.com"), pending("user2@x.com")
		mustHandle(t, e, a)
		mustHandle(t, e, b)
		e.Wait()

		requeued := pub.Requests()
		require.Len(t, requeued, 2)
		for _, r := range requeued {
			assert.Equal(t, 1, r.Attempts)
		}
		assert.ElementsMatch(t, []uuidstring.ID{a.RequestID, b.RequestID}, []uuidstring.ID{requeued[0].RequestID, requeued[1].RequestID})
		assert.EqualValues(t, 2, e.Stats().Snapshot().Requeued)
	})

	t.Run("requeue gives up after max attempts", func(t *testing.T) {
		p := defaultPolicy()
		p.FailurePolicy = config.RequeueBoth
		p.RequeueDelay = time.Millisecond
		p.MaxAttempts = 2
		e, _, pub, _ := startup(t, func(ctx context.Context, a, b match.PendingRequest) (verification.Outcome, error) {
			return verification.Outcome{Status: verification.StatusFailure}, nil
		}, WithPolicy(p))

		a, b := pending("user1@x.com"), pending("user2@x.com")
		a.Attempts = 1
		mustHandle(t, e, a)
		mustHandle(t, e, b)
		e.Wait()

		requeued := pub.Requests()
		require.Len(t, requeued, 1)
		assert.Equal(t, b.RequestID, requeued[0].RequestID)
		assert.EqualValues(t, 1, e.Stats().Snapshot().Dropped)
	})

	t.Run("redelivered request is ignored", func(t *testing.T) {
		e, v, _, _ := startup(t, acceptAll, WithDeduplicator(waiting.NewMemoryDeduplicator(time.Minute)))
		a := pending("user1@x.com")
		mustHandle(t, e, a)
		assert.Equal(t, ResultDuplicate, mustHandle(t, e, a))
		assert.Zero(t, v.calls.Load())
		assert.EqualValues(t, 1, e.Stats().Snapshot().Duplicates)
	})

	t.Run("requeued attempt is not treated as a redelivery", func(t *testing.T) {
		e, _, _, _ := startup(t, acceptAll, WithDeduplicator(waiting.NewMemoryDeduplicator(time.Minute)))
		a := pending("user1@x.com")
		mustHandle(t, e, a)
		a.Attempts = 1
		assert.Equal(t, ResultSuperseded, mustHandle(t, e, a))
	})

	t.Run("request replayed after a store error is not a duplicate", func(t *testing.T) {
		store := &flakyStore{Store: waiting.NewMemoryStore()}
		e := NewEngine(store, newFakeVerifier(acceptAll), &recordingPublisher{},
			WithDeduplicator(waiting.NewMemoryDeduplicator(time.Minute)))
		a := pending("user1@x.com")

		_, err := e.Handle(t.Context(), testKey, a)
		require.Error(t, err)
		assert.Equal(t, ResultWaiting, mustHandle(t, e, a))
		assert.Zero(t, e.Stats().Snapshot().Duplicates)

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, a, stored)
	})

	t.Run("vanished occupant is retried from the claim", func(t *testing.T) {
		store := &vanishingStore{Store: waiting.NewMemoryStore()}
		v := newFakeVerifier(acceptAll)
		e := NewEngine(store, v, &recordingPublisher{})

		mustHandle(t, e, pending("user1@x.com"))
		b := pending("user2@x.com")
		assert.Equal(t, ResultWaiting, mustHandle(t, e, b))
		assert.Zero(t, v.calls.Load())

		stored, found, err := store.Peek(t.Context(), testKey)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, b, stored)
	})

	t.Run("publish failure is returned and not counted", func(t *testing.T) {
		store := waiting.NewMemoryStore()
		pub := &recordingPublisher{failConfirm: true}
		e := NewEngine(store, newFakeVerifier(acceptAll), pub)

		mustHandle(t, e, pending("user1@x.com"))
		_, err := e.Handle(t.Context(), testKey, pending("user2@x.com"))
		assert.ErrorIs(t, err, ErrPublishFailed)
		assert.Zero(t, e.Stats().Snapshot().Confirmed)
	})
}

func TestEngineConcurrentSubmissions(t *testing.T) {
	const (
		keys        = 10
		redelivered = 5
	)
	store := waiting.NewMemoryStore()
	verifier := newFakeVerifier(acceptAll)
	verifier.delay = 2 * time.Millisecond
	pub := &recordingPublisher{}
	e := NewEngine(store, verifier, pub, WithDeduplicator(waiting.NewMemoryDeduplicator(time.Minute)))

	type submission struct {
		key match.MatchKey
		req match.PendingRequest
	}
	var subs []submission
	for i := 0; i < keys; i++ {
		k := match.MatchKey{Topic: fmt.Sprintf("topic%d", i), Language: "go", Difficulty: "medium"}
		for _, who := range []string{"a", "b"} {
			r := match.PendingRequest{
				RequestID: uuidstring.NewID(),
				Email:     fmt.Sprintf("%s%d@x.com", who, i),
				Criteria:  k,
			}
			for j := 0; j < redelivered; j++ {
				subs = append(subs, submission{key: k, req: r})
			}
		}
	}
	require.Len(t, subs, 100)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := e.Handle(context.Background(), s.key, s.req); err != nil {
				t.Errorf("unexpected error handling request - %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, keys, verifier.calls.Load())
	assert.Zero(t, verifier.overlaps.Load(), "verification calls for one key overlapped")
	assert.Len(t, pub.Confirmed(), keys)
	assert.EqualValues(t, 100-2*keys, e.Stats().Snapshot().Duplicates)
}
