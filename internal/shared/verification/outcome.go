package verification

import (
	"errors"
	"fmt"

	"github.com/bkohler93/peermatch/internal/shared/match"
)

type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialInvalid Status = "CONFLICT_PARTIAL_INVALID"
	StatusBothInvalid    Status = "CONFLICT_BOTH_INVALID"
	StatusFailure        Status = "FAILURE"
)

func (s Status) Known() bool {
	switch s {
	case StatusSuccess, StatusPartialInvalid, StatusBothInvalid, StatusFailure:
		return true
	}
	return false
}

var (
	ErrSameUser            = errors.New("cannot verify a user against themselves")
	ErrUnexpectedStatus    = errors.New("verification service returned a non-2xx status")
	ErrMalformedResponse   = errors.New("malformed verification response")
	ErrVerifierUnavailable = errors.New("verification service unavailable")
)

// Outcome is the typed judgement for one candidate pair.
type Outcome struct {
	Status         Status
	Message        string
	ValidMatches   []match.PendingRequest
	InvalidMatches []match.PendingRequest
}

// wantValid is the number of valid entries each judged status must carry.
var wantValid = map[Status]int{
	StatusSuccess:        2,
	StatusPartialInvalid: 1,
	StatusBothInvalid:    0,
}

func (o Outcome) check() error {
	if o.Status == StatusFailure {
		return nil
	}
	want, ok := wantValid[o.Status]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, o.Status)
	}
	if n := len(o.ValidMatches) + len(o.InvalidMatches); n != 2 {
		return fmt.Errorf("%w: %s judged %d requests, expected 2", ErrMalformedResponse, o.Status, n)
	}
	if len(o.ValidMatches) != want {
		return fmt.Errorf("%w: %s carried %d valid requests, expected %d", ErrMalformedResponse, o.Status, len(o.ValidMatches), want)
	}
	return nil
}
