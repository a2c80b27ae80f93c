package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("chrome exited")
	err := fmt.Errorf("initialize: %w", NewNetworkError("launch browser", cause))

	require.True(t, IsNetwork(err))
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, cause)
	require.False(t, IsState(err))
	require.Contains(t, err.Error(), "launch browser: chrome exited")
}

func TestStateErrorsAreDistinct(t *testing.T) {
	t.Parallel()

	all := []error{
		ErrPoolNotInitialized,
		ErrPoolClosed,
		ErrPoolInitializing,
		ErrNotCheckedOut,
		ErrPoolExhausted,
		ErrPoolDepleted,
	}
	for i, a := range all {
		require.True(t, IsState(a), a.Error())
		require.False(t, IsNetwork(a))
		for j, b := range all {
			if i == j {
				continue
			}
			require.NotErrorIs(t, a, b)
		}
	}

	wrapped := fmt.Errorf("acquire: %w", ErrPoolClosed)
	require.ErrorIs(t, wrapped, ErrPoolClosed)
	require.NotErrorIs(t, wrapped, ErrPoolNotInitialized)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("socket reset"), true},
		{"network", NewNetworkError("navigate", errors.New("eof")), true},
		{"state", fmt.Errorf("render: %w", ErrPoolClosed), false},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), false},
		{"not found", &HTTPStatusError{URL: "https://docs.example/x", Code: 404}, false},
		{"throttled", &HTTPStatusError{URL: "https://docs.example/x", Code: 429}, true},
		{"server error", fmt.Errorf("render: %w", &HTTPStatusError{Code: 503}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
