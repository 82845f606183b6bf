package gateway

import (
	"encoding/json"
)

type MessageType string

const (
	MatchFound MessageType = "match_found"
)

// BaseMessage is the top-level structure of every message written to a
// websocket. Clients read Type before decoding Payload.
type BaseMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewMessage(t MessageType, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(BaseMessage{Type: t, Payload: b})
}
