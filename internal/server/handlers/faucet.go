package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/core/stats"
	apperrors "github.com/spigotlabs/spigot/internal/errors"
	"github.com/spigotlabs/spigot/internal/metrics"
	"github.com/spigotlabs/spigot/internal/observability"
	"github.com/spigotlabs/spigot/internal/server/middleware"
)

const maxClaimBodyBytes = 64 << 10

// ClaimService runs claims and read-only eligibility checks.
type ClaimService interface {
	Claim(ctx context.Context, req core.ClaimRequest) (*core.ClaimReceipt, error)
	Eligibility(ctx context.Context, req core.ClaimRequest) (core.Decision, error)
}

// BalanceSource reports the faucet wallet balance.
type BalanceSource interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// FaucetAPI serves the public faucet endpoints.
type FaucetAPI struct {
	Claims   ClaimService
	Resolver identity.Resolver
	Totals   stats.Accumulator
	Balance  BalanceSource

	Amount          decimal.Decimal
	Window          time.Duration
	DonationAddress string
	Coin            string
	BalanceTimeout  time.Duration
}

type claimBody struct {
	Address       string `json:"address"`
	HCaptchaToken string `json:"hcaptchaToken"`
	Fingerprint   string `json:"fingerprint"`
}

type claimResponse struct {
	TxID       string          `json:"txid"`
	Amount     decimal.Decimal `json:"amount"`
	EligibleAt time.Time       `json:"eligible_at"`
}

// StatsResponse is the public faucet summary.
type StatsResponse struct {
	TotalPaidOut    decimal.Decimal  `json:"total_paid_out"`
	Payouts         int64            `json:"payouts"`
	AmountPerClaim  decimal.Decimal  `json:"amount_per_claim"`
	WindowSeconds   int64            `json:"window_seconds"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	DonationAddress string           `json:"donation_address,omitempty"`
	Coin            string           `json:"coin,omitempty"`
}

// EligibilityResponse answers whether the caller could claim now.
type EligibilityResponse struct {
	Eligible bool       `json:"eligible"`
	Pending  bool       `json:"pending,omitempty"`
	RetryAt  *time.Time `json:"retry_at,omitempty"`
}

// Claim handles POST /api/claim.
func (api *FaucetAPI) Claim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body claimBody
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxClaimBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		metrics.RecordClaim(apperrors.CodeInvalidInput, time.Since(start))
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a JSON object"))
		return
	}

	req := core.ClaimRequest{
		Address:     body.Address,
		Token:       body.HCaptchaToken,
		Fingerprint: body.Fingerprint,
		Origin:      originFromRequest(r),
	}

	receipt, err := api.Claims.Claim(r.Context(), req)
	duration := time.Since(start)
	if err != nil {
		envelope := apperrors.FromClaimError(r.Context(), err)
		metrics.RecordClaim(envelope.Code, duration)
		api.logClaim(r, req, envelope.Code, "", duration, err)
		respondWithError(w, r, envelope)
		return
	}

	metrics.RecordClaim("success", duration)
	metrics.RecordPayout(receipt.Amount.InexactFloat64())
	api.logClaim(r, req, "success", receipt.TxID, duration, nil)

	writeJSON(w, http.StatusOK, claimResponse{
		TxID:       receipt.TxID,
		Amount:     receipt.Amount,
		EligibleAt: receipt.EligibleAt,
	})
}

// Stats handles GET /api/stats. The balance is best effort and omitted when
// the node cannot be reached.
func (api *FaucetAPI) Stats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := api.Totals.Snapshot(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to read payout stats"))
		return
	}

	resp := StatsResponse{
		TotalPaidOut:    snapshot.TotalPaidOut,
		Payouts:         snapshot.Payouts,
		AmountPerClaim:  api.Amount,
		WindowSeconds:   int64(api.Window / time.Second),
		DonationAddress: api.DonationAddress,
		Coin:            api.Coin,
	}

	if api.Balance != nil {
		timeout := api.BalanceTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		balance, err := api.Balance.GetBalance(ctx)
		cancel()
		if err == nil {
			resp.Balance = &balance
			metrics.SetNodeBalance(balance.InexactFloat64())
		} else if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Wallet balance unavailable",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Eligibility handles GET /api/eligibility?fingerprint=...
func (api *FaucetAPI) Eligibility(w http.ResponseWriter, r *http.Request) {
	req := core.ClaimRequest{
		Fingerprint: strings.TrimSpace(r.URL.Query().Get("fingerprint")),
		Origin:      originFromRequest(r),
	}

	decision, err := api.Claims.Eligibility(r.Context(), req)
	if err != nil {
		respondWithError(w, r, apperrors.FromClaimError(r.Context(), err))
		return
	}

	resp := EligibilityResponse{Eligible: decision.Eligible, Pending: decision.Pending}
	if !decision.Eligible && !decision.RetryAt.IsZero() {
		retryAt := decision.RetryAt.UTC()
		resp.RetryAt = &retryAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *FaucetAPI) logClaim(r *http.Request, req core.ClaimRequest, outcome, txid string, duration time.Duration, err error) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
	}
	if api.Resolver != nil {
		fields = append(fields, zap.String("identity_strategy", api.Resolver.Name()))
		if key := api.Resolver.Resolve(req); key != "" {
			fields = append(fields, zap.String("identity", identity.Digest(key)))
		}
	}
	if txid != "" {
		fields = append(fields, zap.String("txid", txid))
	}

	var rejected *core.VerificationRejectedError
	switch {
	case err == nil:
		logger.Info("Claim completed", fields...)
	case errors.As(err, &rejected):
		fields = append(fields, zap.Any("provider_response", rejected.Details))
		logger.Info("Claim rejected by verification", fields...)
	case outcome == apperrors.CodeDispatchFailed || outcome == apperrors.CodeInternal:
		logger.Error("Claim failed", append(fields, zap.Error(err))...)
	default:
		logger.Info("Claim refused", append(fields, zap.String("reason", fmt.Sprint(err)))...)
	}
}

func originFromRequest(r *http.Request) core.RequestOrigin {
	return core.RequestOrigin{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
	}
}
