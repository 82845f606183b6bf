package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRequestIdentity(t *testing.T) {
	byEmail := PendingRequest{Email: " User1@X.com "}
	assert.Equal(t, "user1@x.com", byEmail.Identity())

	byID := PendingRequest{UserID: "42", Email: "user1@x.com"}
	assert.Equal(t, "42", byID.Identity())

	assert.True(t, byEmail.SameUser(PendingRequest{Email: "user1@x.com"}))
	assert.False(t, byEmail.SameUser(PendingRequest{Email: "user2@x.com"}))
	assert.False(t, PendingRequest{}.SameUser(PendingRequest{}), "anonymous requests never match each other")

	// one side carries a user id, the other only the email
	assert.True(t, byID.SameUser(PendingRequest{Email: "USER1@x.com"}))
	assert.True(t, PendingRequest{Email: "user1@x.com"}.SameUser(byID))
	assert.True(t, byID.SameUser(PendingRequest{UserID: "43", Email: "user1@x.com"}))
	assert.True(t, byID.SameUser(PendingRequest{UserID: "42"}))
	assert.False(t, byID.SameUser(PendingRequest{UserID: "43", Email: "user2@x.com"}))
}

func TestDecodeRecord(t *testing.T) {
	t.Run("inherits criteria from the key", func(t *testing.T) {
		k, req, err := DecodeRecord("algorithms_python_easy", []byte(`{"email":"user1@x.com","sessionId":"ws-1"}`))
		require.NoError(t, err)
		assert.Equal(t, k, req.Criteria)
		assert.Equal(t, "ws-1", req.SessionID)
	})

	t.Run("rejects mismatched criteria", func(t *testing.T) {
		payload := []byte(`{"email":"user1@x.com","criteria":{"topic":"graphs","language":"python","difficulty":"easy"}}`)
		_, _, err := DecodeRecord("algorithms_python_easy", payload)
		assert.True(t, errors.Is(err, ErrCriteriaMismatch), "got %v", err)
	})

	t.Run("rejects anonymous requests", func(t *testing.T) {
		_, _, err := DecodeRecord("algorithms_python_easy", []byte(`{"sessionId":"ws-1"}`))
		assert.ErrorIs(t, err, ErrMissingIdentity)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		_, _, err := DecodeRecord("algorithms_python_easy", []byte(`user1@x.com`))
		assert.Error(t, err)
	})
}

func TestRawIsStable(t *testing.T) {
	req := PendingRequest{
		UserID:   "1",
		Email:    "user1@x.com",
		Criteria: MatchKey{Topic: "algorithms", Language: "python", Difficulty: "easy"},
		Payload:  map[string]string{"b": "2", "a": "1"},
	}
	first, err := req.Raw()
	require.NoError(t, err)

	data, err := req.MarshalBinary()
	require.NoError(t, err)
	decoded, err := DecodePendingRequest(data)
	require.NoError(t, err)
	second, err := decoded.Raw()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
