package metrics

import (
	"time"

	"github.com/spigotlabs/spigot/internal/observability"
)

const (
	ClaimsTotal          = "faucet_claims_total"
	ClaimDuration        = "faucet_claim_duration_ms"
	PayoutAmountTotal    = "faucet_payout_amount_total"
	VerificationsTotal   = "faucet_verifications_total"
	VerificationDuration = "faucet_verification_duration_ms"
	DispatchesTotal      = "faucet_dispatches_total"
	DispatchDuration     = "faucet_dispatch_duration_ms"
	LimiterSweptTotal    = "faucet_limiter_swept_total"
	NodeBalance          = "faucet_node_balance"
)

// RecordClaim counts one claim by outcome (the error code, or "success").
func RecordClaim(outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"outcome": outcome}
	_ = observability.TelemetrySystem.Counter(ClaimsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(ClaimDuration, duration, labels)
}

// RecordPayout adds a dispatched amount. Float precision is fine for a dashboard.
func RecordPayout(amount float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PayoutAmountTotal, amount, nil)
	}
}

func RecordVerification(outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"outcome": outcome}
	_ = observability.TelemetrySystem.Counter(VerificationsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(VerificationDuration, duration, labels)
}

func RecordDispatch(success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	labels := map[string]string{"status": status}
	_ = observability.TelemetrySystem.Counter(DispatchesTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(DispatchDuration, duration, labels)
}

// RecordSweep counts limiter entries removed by the janitor.
func RecordSweep(removed int) {
	if observability.TelemetrySystem != nil && removed > 0 {
		_ = observability.TelemetrySystem.Counter(LimiterSweptTotal, float64(removed), nil)
	}
}

func SetNodeBalance(balance float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(NodeBalance, balance, nil)
	}
}
