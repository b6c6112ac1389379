package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("error"), "pass --txid")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "pass --txid", hints[0])
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("registration %s", "ab12")

	assert.Equal(t, "registration ab12", err.Error())
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("something else")))
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("digest must be %d bytes", 32)

	assert.True(t, IsInvalidRequestError(err))
	assert.True(t, IsInvalidRequestError(Wrap(err, "register")))
	assert.False(t, IsConflictError(err))
}

func TestMarkedSentinelsSurviveStdlibWrapping(t *testing.T) {
	err := Mark(New("content owned by alice"), ErrConflict)
	wrapped := fmt.Errorf("register: %w", err)

	assert.True(t, IsConflictError(wrapped))
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid", NewInvalidRequestError("bad hex"), "invalid_request"},
		{"conflict", Wrap(ErrConflict, "owned"), "conflict"},
		{"not found", NewNotFoundError("missing"), "not_found"},
		{"timeout", Wrap(ErrTimeout, "ledger"), "timeout"},
		{"unavailable", Wrap(ErrServiceUnavailable, "gateway"), "unavailable"},
		{"forbidden", Wrap(ErrForbidden, "signature"), "forbidden"},
		{"other", New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
