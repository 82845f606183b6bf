package match

import (
	"encoding/json"
	"time"

	"github.com/bkohler93/peermatch/pkg/uuidstring"
)

type MatchedUser struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Email     string `json:"email"`
}

func matchedUserOf(r PendingRequest) MatchedUser {
	return MatchedUser{
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Email:     r.Email,
	}
}

// ConfirmedMatch is the outbound record published once verification accepts
// a pair. Users are mirrored so every side can be addressed downstream.
type ConfirmedMatch struct {
	CollaborationID uuidstring.ID  `json:"collaborationId"`
	QuestionID      string         `json:"questionId"`
	Topic           string         `json:"topic"`
	Language        string         `json:"language"`
	Difficulty      string         `json:"difficulty"`
	Users           [2]MatchedUser `json:"users"`
	ConfirmedAt     int64          `json:"confirmedAt"`
}

func NewConfirmedMatch(id uuidstring.ID, a, b PendingRequest, k MatchKey, at time.Time) ConfirmedMatch {
	return ConfirmedMatch{
		CollaborationID: id,
		QuestionID:      k.Topic,
		Topic:           k.Topic,
		Language:        k.Language,
		Difficulty:      k.Difficulty,
		Users:           [2]MatchedUser{matchedUserOf(a), matchedUserOf(b)},
		ConfirmedAt:     at.Unix(),
	}
}

func (m ConfirmedMatch) Criteria() MatchKey {
	return MatchKey{Topic: m.Topic, Language: m.Language, Difficulty: m.Difficulty}
}

func DecodeConfirmedMatch(data []byte) (ConfirmedMatch, error) {
	var m ConfirmedMatch
	err := json.Unmarshal(data, &m)
	return m, err
}

// Notification is the personalized payload delivered to one side of a match.
type Notification struct {
	SessionID        string        `json:"-"`
	MatchedUserEmail string        `json:"matchedUserEmail"`
	MatchedUserID    string        `json:"matchedUserId"`
	CollaborationID  uuidstring.ID `json:"collaborationId"`
	QuestionID       string        `json:"questionId"`
	Language         string        `json:"language"`
	Topic            string        `json:"topic"`
	Difficulty       string        `json:"difficulty"`
}

// Notifications builds one payload per user, each carrying the counterpart.
func (m ConfirmedMatch) Notifications() [2]Notification {
	var out [2]Notification
	for i, u := range m.Users {
		other := m.Users[1-i]
		out[i] = Notification{
			SessionID:        u.SessionID,
			MatchedUserEmail: other.Email,
			MatchedUserID:    other.UserID,
			CollaborationID:  m.CollaborationID,
			QuestionID:       m.QuestionID,
			Language:         m.Language,
			Topic:            m.Topic,
			Difficulty:       m.Difficulty,
		}
	}
	return out
}
