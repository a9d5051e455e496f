package deadbolt

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "some error!", "some-error"},
		{"nested error objects", map[string]any{"error": map[string]any{"error": map[string]any{"error": "foo bar"}}}, "foo-bar"},
		{"nil", nil, CodeUnknown},
		{"empty string", "", CodeUnknown},
		{"reason wins over message", map[string]any{"message": "second", "reason": "First One"}, "first-one"},
		{"string map", map[string]string{"reason": "Invalid credentials"}, "invalid-credentials"},
		{"deadbolt error", &Error{Code: CodeLogin, Message: "boom"}, CodeLogin},
		{"plain error", errors.New("Connection refused"), "connection-refused"},
		{"result body", &httpx.Result{Status: 422, Body: map[string]any{"reason": "Verification failed"}}, "verification-failed"},
		{"no known key", map[string]any{"detail": "x"}, CodeUnknown},
		{"number", 42, CodeUnknown},
		{"underscores dropped", "snake_case value", "snakecase-value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ErrorCode(tt.in))
		})
	}
}

func TestErrorCodeDepthIsBounded(t *testing.T) {
	t.Parallel()

	var payload any = "too deep"
	for range maxCodeDepth + 2 {
		payload = map[string]any{"error": payload}
	}
	require.Equal(t, CodeUnknown, ErrorCode(payload))

	payload = "deep enough"
	for range maxCodeDepth {
		payload = map[string]any{"error": payload}
	}
	require.Equal(t, "deep-enough", ErrorCode(payload))
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("adding user: %w", &Error{Code: CodeEmailAlreadyExists, Message: "Email already exists", Status: 400})
	require.ErrorIs(t, err, ErrEmailAlreadyExists)
	require.NotErrorIs(t, err, ErrUserNotFound)

	var dbErr *Error
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, http.StatusBadRequest, dbErr.Status)
	require.Equal(t, "[email-already-exists] Email already exists", dbErr.Error())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := transportError(CodeLogin, cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, CodeLogin, err.Code)
	require.Zero(t, err.Status)
}

func TestResponseError(t *testing.T) {
	t.Parallel()

	withReason := responseError(CodeGetUser, &httpx.Result{Status: 500, Body: map[string]any{"reason": "Database down"}})
	require.Equal(t, "Database down", withReason.Message)
	require.Equal(t, 500, withReason.Status)

	bare := responseError(CodeGetUser, &httpx.Result{Status: 503})
	require.Equal(t, http.StatusText(503), bare.Message)
}

func TestNewError(t *testing.T) {
	t.Parallel()

	require.Equal(t, CodeUnknown, NewError("", "x").Code)
	require.Equal(t, "missing-uuid", NewError(CodeMissingUUID, "").Error())
}
