package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimRequest is a single inbound faucet claim. It lives only for the
// duration of one request.
type ClaimRequest struct {
	Address     string
	Token       string
	Fingerprint string
	Origin      RequestOrigin
}

// RequestOrigin carries the network metadata an identity can be derived from.
type RequestOrigin struct {
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
}

// ClaimReceipt is returned for a completed payout.
type ClaimReceipt struct {
	TxID        string          `json:"txid"`
	Amount      decimal.Decimal `json:"amount"`
	EligibleAt  time.Time       `json:"eligible_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// LimitEntry records when an identity may claim again. A pending entry is a
// reservation held while a payout is in flight.
type LimitEntry struct {
	EligibleAt    time.Time `json:"eligible_at"`
	Pending       bool      `json:"pending"`
	ReservationID string    `json:"reservation_id,omitempty"`
}

// Expired reports whether the entry no longer restricts claims at now.
func (e LimitEntry) Expired(now time.Time) bool {
	return !now.Before(e.EligibleAt)
}

// Decision is the result of a read-only eligibility check.
type Decision struct {
	Eligible bool
	RetryAt  time.Time
	Pending  bool
}

// Stats is the advisory payout summary for display.
type Stats struct {
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
	Payouts      int64           `json:"payouts"`
}

// Payout describes one completed dispatch as seen by the stats accumulator.
type Payout struct {
	TxID     string
	Address  string
	Identity string
	Amount   decimal.Decimal
	At       time.Time
}
