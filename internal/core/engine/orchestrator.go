package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/core/stats"
)

const (
	DefaultVerifyTimeout   = 10 * time.Second
	DefaultDispatchTimeout = 60 * time.Second

	maxAddressLength = 128
)

// Verifier approves a human-verification token.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// Dispatcher validates an address and submits the payout transfer.
type Dispatcher interface {
	Dispatch(ctx context.Context, address string) (string, error)
	PayoutAmount() decimal.Decimal
}

// Orchestrator runs one claim through verify → reserve → dispatch → record.
// Verification runs before any limiter state is touched; the reservation is
// released only when the dispatcher reports that no payout was made.
type Orchestrator struct {
	Resolver   identity.Resolver
	Verifier   Verifier
	Limiter    *ClaimLimiter
	Dispatcher Dispatcher
	Stats      stats.Accumulator

	VerifyTimeout   time.Duration
	DispatchTimeout time.Duration
	Clock           func() time.Time

	inflight claimTracker
}

// Validate reports missing collaborators.
func (o *Orchestrator) Validate() error {
	switch {
	case o == nil:
		return errors.New("orchestrator is nil")
	case o.Resolver == nil:
		return errors.New("identity resolver is required")
	case o.Verifier == nil:
		return errors.New("verifier is required")
	case o.Limiter == nil:
		return errors.New("limiter is required")
	case o.Dispatcher == nil:
		return errors.New("dispatcher is required")
	case o.Stats == nil:
		return errors.New("stats accumulator is required")
	}
	return nil
}

// Claim processes req and returns the payout receipt.
func (o *Orchestrator) Claim(ctx context.Context, req core.ClaimRequest) (*core.ClaimReceipt, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req.Address = strings.TrimSpace(req.Address)
	req.Token = strings.TrimSpace(req.Token)
	req.Fingerprint = strings.TrimSpace(req.Fingerprint)

	key, err := o.admit(req)
	if err != nil {
		return nil, err
	}

	if err := o.verify(ctx, req.Token); err != nil {
		return nil, err
	}

	res, err := o.Limiter.Reserve(ctx, key)
	if err != nil {
		return nil, err
	}
	o.inflight.begin()
	defer o.inflight.end()

	// The caller going away must not abandon a transfer the node may already
	// have accepted, so dispatch and bookkeeping ignore caller cancellation.
	detached := context.WithoutCancel(ctx)
	dispatchCtx, cancel := context.WithTimeout(detached, o.dispatchTimeout())
	txid, err := o.Dispatcher.Dispatch(dispatchCtx, req.Address)
	cancel()
	if err != nil {
		if releaseErr := o.Limiter.Release(detached, res); releaseErr != nil {
			return nil, errors.Join(err, fmt.Errorf("release reservation: %w", releaseErr))
		}
		return nil, err
	}

	eligibleAt, err := o.Limiter.Commit(detached, res)
	if err != nil {
		return nil, fmt.Errorf("record limit after payout %s: %w", txid, err)
	}

	amount := o.Dispatcher.PayoutAmount()
	completedAt := o.now()
	if err := o.Stats.Add(detached, core.Payout{
		TxID:     txid,
		Address:  req.Address,
		Identity: identity.Digest(key),
		Amount:   amount,
		At:       completedAt,
	}); err != nil {
		return nil, fmt.Errorf("record stats after payout %s: %w", txid, err)
	}

	return &core.ClaimReceipt{
		TxID:        txid,
		Amount:      amount,
		EligibleAt:  eligibleAt,
		CompletedAt: completedAt,
	}, nil
}

// Drain blocks until every claim holding a reservation has been dispatched
// and recorded, or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.inflight.wait(ctx)
}

// InFlight reports how many claims are between reservation and bookkeeping.
func (o *Orchestrator) InFlight() int {
	return o.inflight.count()
}

// Eligibility is the read-only check for the requester described by req.
func (o *Orchestrator) Eligibility(ctx context.Context, req core.ClaimRequest) (core.Decision, error) {
	if o == nil || o.Resolver == nil || o.Limiter == nil {
		return core.Decision{}, errors.New("orchestrator is not configured")
	}
	key := o.Resolver.Resolve(req)
	if key == "" {
		return core.Decision{}, &core.InputError{Field: "fingerprint", Reason: "requester identity could not be determined"}
	}
	return o.Limiter.Check(ctx, key)
}

func (o *Orchestrator) admit(req core.ClaimRequest) (string, error) {
	switch {
	case req.Address == "":
		return "", &core.InputError{Field: "address", Reason: "is required"}
	case len(req.Address) > maxAddressLength || strings.ContainsAny(req.Address, " \t\r\n"):
		return "", &core.InputError{Field: "address", Reason: "is malformed"}
	case req.Token == "":
		return "", &core.InputError{Field: "hcaptchaToken", Reason: "is required"}
	}

	key := o.Resolver.Resolve(req)
	if key == "" {
		return "", &core.InputError{Field: "fingerprint", Reason: "requester identity could not be determined"}
	}
	return key, nil
}

func (o *Orchestrator) verify(ctx context.Context, token string) error {
	timeout := o.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := o.Verifier.Verify(verifyCtx, token)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrVerificationRejected) || errors.Is(err, core.ErrVerificationUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrVerificationUnavailable, err)
}

func (o *Orchestrator) dispatchTimeout() time.Duration {
	if o.DispatchTimeout > 0 {
		return o.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

type claimTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed when n returns to zero
}

func (t *claimTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *claimTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idle)
		t.idle = nil
	}
}

func (t *claimTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *claimTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
