// Package waiting holds at most one pending request per match key. Every
// operation is a single atomic step for its key; different keys never
// contend on the same lock.
package waiting

import (
	"context"
	"errors"

	"github.com/bkohler93/peermatch/internal/shared/match"
)

var (
	ErrCorruptEntry = errors.New("stored waiting request could not be decoded")
)

type Store interface {
	// TryClaimOrInsert inserts req when key is empty and reports found=false.
	// Otherwise it returns the current occupant, leaving it in place.
	TryClaimOrInsert(ctx context.Context, key match.MatchKey, req match.PendingRequest) (existing match.PendingRequest, found bool, err error)
	// RemoveIfPresent takes the occupant out of the store.
	RemoveIfPresent(ctx context.Context, key match.MatchKey) (match.PendingRequest, bool, error)
	// Replace overwrites whatever is stored under key.
	Replace(ctx context.Context, key match.MatchKey, req match.PendingRequest) error
	// Peek reads the occupant without changing it.
	Peek(ctx context.Context, key match.MatchKey) (match.PendingRequest, bool, error)
}
