package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bkohler93/peermatch/pkg/uuidstring"
)

var (
	ErrMissingIdentity  = errors.New("request has neither a user id nor an email")
	ErrCriteriaMismatch = errors.New("request criteria do not match record key")
)

// PendingRequest is one user's submission waiting for a counterpart.
type PendingRequest struct {
	RequestID   uuidstring.ID     `json:"requestId,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	Email       string            `json:"email,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	Criteria    MatchKey          `json:"criteria"`
	Payload     map[string]string `json:"payload,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	SubmittedAt int64             `json:"submittedAt,omitempty"`
}

// Identity names the user in logs. The user id wins over the email when both
// are present.
func (r PendingRequest) Identity() string {
	if r.UserID != "" {
		return r.UserID
	}
	return normalizeEmail(r.Email)
}

// SameUser reports whether both requests come from one user: equal user ids
// or equal emails, whichever both sides carry.
func (r PendingRequest) SameUser(other PendingRequest) bool {
	if r.UserID != "" && r.UserID == other.UserID {
		return true
	}
	email := normalizeEmail(r.Email)
	return email != "" && email == normalizeEmail(other.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r PendingRequest) Validate() error {
	if r.Identity() == "" {
		return ErrMissingIdentity
	}
	return r.Criteria.Validate()
}

// Raw is the canonical encoding handed to the verification service. Equal
// requests always produce equal raw strings.
func (r PendingRequest) Raw() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r PendingRequest) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func DecodePendingRequest(data []byte) (PendingRequest, error) {
	var r PendingRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decoding pending request: %w", err)
	}
	return r, nil
}

// DecodeRecord turns an inbound key/value record into its typed form. A
// payload without criteria inherits them from the key.
func DecodeRecord(key string, payload []byte) (MatchKey, PendingRequest, error) {
	k, err := ParseMatchKey(key)
	if err != nil {
		return k, PendingRequest{}, err
	}
	req, err := DecodePendingRequest(payload)
	if err != nil {
		return k, req, err
	}
	if req.Criteria.IsZero() {
		req.Criteria = k
	}
	if req.Criteria != k {
		return k, req, fmt.Errorf("%w: key %s, criteria %s", ErrCriteriaMismatch, k, req.Criteria)
	}
	return k, req, req.Validate()
}
