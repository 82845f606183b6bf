package main

import (
	"io"
	"testing"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"github.com/stretchr/testify/assert"
)

func TestSubmitValidatesBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"bad key", []string{"submit", "algorithms_python", "--email", "user1@x.com"}, match.ErrInvalidKey},
		{"no identity", []string{"submit", "algorithms_python_easy"}, match.ErrMissingIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCommand()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			err := cmd.ExecuteContext(t.Context())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
