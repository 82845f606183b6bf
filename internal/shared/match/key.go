package match

import (
	"errors"
	"fmt"
	"strings"
)

const keyDelimiter = "_"

var (
	ErrInvalidKey = errors.New("invalid match key")
)

// MatchKey identifies a pairing pool. Two requests can only be paired when
// their keys are equal.
type MatchKey struct {
	Topic      string `json:"topic"`
	Language   string `json:"language"`
	Difficulty string `json:"difficulty"`
}

func NewMatchKey(topic, language, difficulty string) (MatchKey, error) {
	k := MatchKey{
		Topic:      strings.TrimSpace(topic),
		Language:   strings.TrimSpace(language),
		Difficulty: strings.TrimSpace(difficulty),
	}
	return k, k.Validate()
}

// ParseMatchKey decodes the wire form topic_language_difficulty.
func ParseMatchKey(s string) (MatchKey, error) {
	parts := strings.Split(s, keyDelimiter)
	if len(parts) != 3 {
		return MatchKey{}, fmt.Errorf("%w: expected 3 components in %q, got %d", ErrInvalidKey, s, len(parts))
	}
	return NewMatchKey(parts[0], parts[1], parts[2])
}

func (k MatchKey) Validate() error {
	fields := [...]struct{ name, v string }{
		{"topic", k.Topic},
		{"language", k.Language},
		{"difficulty", k.Difficulty},
	}
	for _, f := range fields {
		name, v := f.name, f.v
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidKey, name)
		}
		if strings.Contains(v, keyDelimiter) {
			return fmt.Errorf("%w: %s %q contains %q", ErrInvalidKey, name, v, keyDelimiter)
		}
	}
	return nil
}

func (k MatchKey) IsZero() bool {
	return k == MatchKey{}
}

func (k MatchKey) String() string {
	return strings.Join([]string{k.Topic, k.Language, k.Difficulty}, keyDelimiter)
}

// Path renders the criteria the way they are shown to users, topic/language/difficulty.
func (k MatchKey) Path() string {
	return strings.Join([]string{k.Topic, k.Language, k.Difficulty}, "/")
}
