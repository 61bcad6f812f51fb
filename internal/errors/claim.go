package errors

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/ledger"
)

const (
	CodeInvalidInput            = "INVALID_INPUT"
	CodeVerificationRejected    = "VERIFICATION_REJECTED"
	CodeInvalidAddress          = "INVALID_ADDRESS"
	CodeRateLimited             = "RATE_LIMITED"
	CodeVerificationUnavailable = "VERIFICATION_UNAVAILABLE"
	CodeDispatchFailed          = "DISPATCH_FAILED"
	CodeInternal                = "INTERNAL_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeMethodNotAllowed        = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	CodeExternalService         = "EXTERNAL_SERVICE_ERROR"
	CodeConfigInvalid           = "CONFIG_INVALID"

	retryAfterDetail = "retry_after_seconds"
)

// FromClaimError maps a claim pipeline error onto an envelope. Unknown errors
// become INTERNAL_ERROR.
func FromClaimError(ctx context.Context, err error) *errors.ErrorEnvelope {
	envelope := classify(err, time.Now())
	if envelope == nil {
		return WrapInternal(ctx, err, "claim failed")
	}
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return envelope.WithTraceID(extractTraceID(ctx))
}

func classify(err error, now time.Time) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var (
		inputErr    *core.InputError
		limited     *core.RateLimitedError
		rejected    *core.VerificationRejectedError
		dispatchErr *core.DispatchError
	)

	switch {
	case stderrors.As(err, &inputErr):
		env := errors.NewErrorEnvelope(CodeInvalidInput, "Missing or malformed claim field")
		return env.WithDetails(map[string]interface{}{
			"field":  inputErr.Field,
			"reason": inputErr.Reason,
		})
	case stderrors.Is(err, core.ErrInvalidInput):
		return errors.NewErrorEnvelope(CodeInvalidInput, "Missing address, hCaptcha token, or fingerprint")

	case stderrors.As(err, &rejected):
		env := errors.NewErrorEnvelope(CodeVerificationRejected, "Invalid Captcha!")
		if len(rejected.Details) > 0 {
			env = env.WithDetails(rejected.Details)
		}
		return env
	case stderrors.Is(err, core.ErrVerificationRejected):
		return errors.NewErrorEnvelope(CodeVerificationRejected, "Invalid Captcha!")

	case stderrors.Is(err, core.ErrVerificationUnavailable):
		env := errors.NewErrorEnvelope(CodeVerificationUnavailable, "Failed to verify captcha")
		env, _ = env.WithSeverity(errors.SeverityHigh)
		env, _ = env.WithContext(map[string]interface{}{"wrapped_error": err.Error()})
		return env

	case stderrors.As(err, &limited) && limited.Pending:
		env := errors.NewErrorEnvelope(CodeRateLimited, "A claim for this requester is already in progress")
		return env.WithDetails(map[string]interface{}{"pending": true})
	case stderrors.As(err, &limited):
		env := errors.NewErrorEnvelope(CodeRateLimited, "You have already claimed recently")
		details := map[string]interface{}{}
		if !limited.RetryAt.IsZero() {
			details["retry_at"] = limited.RetryAt.UTC().Format(time.RFC3339)
			details[retryAfterDetail] = retryAfterSeconds(limited.RetryAt, now)
		}
		env = env.WithDetails(details)
		return env
	case stderrors.Is(err, core.ErrRateLimited):
		return errors.NewErrorEnvelope(CodeRateLimited, "You have already claimed recently")

	case stderrors.Is(err, core.ErrInvalidAddress):
		env := errors.NewErrorEnvelope(CodeInvalidAddress, "Invalid destination address")
		return env

	case stderrors.As(err, &dispatchErr):
		message := dispatchErr.NodeMessage
		if message == "" {
			message = ledger.Message(dispatchErr.Err)
		}
		if message == "" {
			message = "Payout dispatch failed"
		}
		env := errors.NewErrorEnvelope(CodeDispatchFailed, message)
		env = env.WithDetails(map[string]interface{}{"operation": dispatchErr.Op})
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	case stderrors.Is(err, core.ErrDispatchFailed):
		env := errors.NewErrorEnvelope(CodeDispatchFailed, "Payout dispatch failed")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	return nil
}

// retryAfterSeconds rounds up so a client honouring Retry-After never
// arrives before the window ends.
func retryAfterSeconds(retryAt, now time.Time) int {
	wait := retryAt.Sub(now).Seconds()
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait))
}
