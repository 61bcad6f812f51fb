package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput            = errors.New("invalid claim input")
	ErrVerificationRejected    = errors.New("verification rejected")
	ErrVerificationUnavailable = errors.New("verification service unavailable")
	ErrRateLimited             = errors.New("identity already claimed within the window")
	ErrInvalidAddress          = errors.New("invalid destination address")
	ErrDispatchFailed          = errors.New("payout dispatch failed")
)

// InputError names the field that made a claim malformed.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// RateLimitedError carries the moment the identity becomes eligible again.
// Pending means another claim for the identity is still being paid out; it
// may yet be released, so there is no retry time.
type RateLimitedError struct {
	RetryAt time.Time
	Pending bool
}

func (e *RateLimitedError) Error() string {
	if e.Pending {
		return ErrRateLimited.Error() + ": claim in progress"
	}
	return fmt.Sprintf("%s until %s", ErrRateLimited.Error(), e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// VerificationRejectedError surfaces the provider's diagnostic payload.
type VerificationRejectedError struct {
	Details map[string]any
}

func (e *VerificationRejectedError) Error() string {
	if codes, ok := e.Details["error-codes"]; ok {
		return fmt.Sprintf("%s: %v", ErrVerificationRejected.Error(), codes)
	}
	return ErrVerificationRejected.Error()
}

func (e *VerificationRejectedError) Unwrap() error { return ErrVerificationRejected }

// DispatchError wraps a failed ledger node call. The transfer may still have
// happened when the cause is a lost response, so callers must not retry.
type DispatchError struct {
	Op          string
	NodeMessage string
	Err         error
}

func (e *DispatchError) Error() string {
	if e.NodeMessage != "" {
		return fmt.Sprintf("%s: %s: %s", ErrDispatchFailed.Error(), e.Op, e.NodeMessage)
	}
	return fmt.Sprintf("%s: %s", ErrDispatchFailed.Error(), e.Op)
}

func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDispatchFailed}
	}
	return []error{ErrDispatchFailed, e.Err}
}
