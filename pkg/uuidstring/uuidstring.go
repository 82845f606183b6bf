package uuidstring

import (
	"github.com/google/uuid"
)

// ID is a uuid kept in its canonical string form so it can travel through
// json payloads and redis values without conversion.
type ID string

func NewID() ID {
	return ID(uuid.New().String())
}

// Parse validates s and returns it in canonical form.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ID(u.String()), nil
}

func (id ID) UUID() (uuid.UUID, error) {
	if id.IsZero() {
		return uuid.Nil, nil
	}
	return uuid.Parse(string(id))
}

func (id ID) IsZero() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}

func (id ID) MarshalBinary() (data []byte, err error) {
	return []byte(id), nil
}
