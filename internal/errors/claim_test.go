package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
	"github.com/spigotlabs/spigot/internal/server/middleware"
)

func TestFromClaimError(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "req-1")

	tests := []struct {
		name    string
		err     error
		code    string
		status  int
		message string
		details map[string]interface{}
	}{
		{
			name:    "input field",
			err:     &core.InputError{Field: "address", Reason: "is required"},
			code:    CodeInvalidInput,
			status:  http.StatusBadRequest,
			details: map[string]interface{}{"field": "address", "reason": "is required"},
		},
		{
			name:   "bare invalid input",
			err:    core.ErrInvalidInput,
			code:   CodeInvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:    "captcha rejected",
			err:     &core.VerificationRejectedError{Details: map[string]any{"error-codes": []string{"invalid-input-response"}}},
			code:    CodeVerificationRejected,
			status:  http.StatusBadRequest,
			message: "Invalid Captcha!",
		},
		{
			name:   "captcha unavailable",
			err:    fmt.Errorf("%w: timeout", core.ErrVerificationUnavailable),
			code:   CodeVerificationUnavailable,
			status: http.StatusInternalServerError,
		},
		{
			name:    "claim in progress",
			err:     &core.RateLimitedError{Pending: true},
			code:    CodeRateLimited,
			status:  http.StatusTooManyRequests,
			details: map[string]interface{}{"pending": true},
		},
		{
			name:   "invalid address",
			err:    fmt.Errorf("validate: %w", core.ErrInvalidAddress),
			code:   CodeInvalidAddress,
			status: http.StatusBadRequest,
		},
		{
			name:    "dispatch with node message",
			err:     &core.DispatchError{Op: "sendtoaddress", NodeMessage: "Insufficient funds"},
			code:    CodeDispatchFailed,
			status:  http.StatusInternalServerError,
			message: "Insufficient funds",
			details: map[string]interface{}{"operation": "sendtoaddress"},
		},
		{
			name:    "dispatch falls back to rpc error",
			err:     &core.DispatchError{Op: "sendtoaddress", Err: &ledger.RPCError{Code: -6, Message: "wallet locked"}},
			code:    CodeDispatchFailed,
			status:  http.StatusInternalServerError,
			message: "wallet locked",
		},
		{
			name:   "unknown",
			err:    stderrors.New("boom"),
			code:   CodeInternal,
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := FromClaimError(ctx, tt.err)
			require.NotNil(t, env)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.status, HTTPStatusFromEnvelope(env))
			assert.Equal(t, "req-1", env.CorrelationID)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
			for key, want := range tt.details {
				assert.Equal(t, want, env.Details[key], key)
			}
		})
	}
}

func TestFromClaimErrorRateLimitedCarriesRetry(t *testing.T) {
	retryAt := time.Now().Add(90 * time.Second)

	env := FromClaimError(context.Background(), &core.RateLimitedError{RetryAt: retryAt})

	assert.Equal(t, CodeRateLimited, env.Code)
	assert.Equal(t, retryAt.UTC().Format(time.RFC3339), env.Details["retry_at"])
	seconds, ok := env.Details[retryAfterDetail].(int)
	require.True(t, ok)
	assert.InDelta(t, 90, seconds, 1)
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, retryAfterSeconds(now.Add(-time.Second), now))
	assert.Equal(t, 0, retryAfterSeconds(now, now))
	assert.Equal(t, 1, retryAfterSeconds(now.Add(100*time.Millisecond), now))
	assert.Equal(t, 3600, retryAfterSeconds(now.Add(time.Hour), now))
}

func TestEnsureEnvelopeClassifiesClaimErrors(t *testing.T) {
	env := EnsureEnvelope(fmt.Errorf("wrapped: %w", core.ErrInvalidAddress))
	assert.Equal(t, CodeInvalidAddress, env.Code)

	env = EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, "boom", env.Context["wrapped_error"])
}
