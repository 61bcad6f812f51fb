package output

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spigotlabs/spigot/internal/core"
)

type limitJSON struct {
	Identity      string    `json:"identity"`
	EligibleAt    time.Time `json:"eligible_at"`
	Pending       bool      `json:"pending"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Active        bool      `json:"active"`
}

type payoutJSON struct {
	TxID     string          `json:"txid"`
	Address  string          `json:"address"`
	Identity string          `json:"identity,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	PaidAt   time.Time       `json:"paid_at"`
}

type statsJSON struct {
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
	Payouts      int64           `json:"payouts"`
	Recent       []payoutJSON    `json:"recent,omitempty"`
}

// JSON renders v with two-space indentation.
func JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func limitsJSON(rows []LimitRow, now time.Time) (string, error) {
	items := make([]limitJSON, 0, len(rows))
	for _, row := range rows {
		items = append(items, limitJSON{
			Identity:      row.Identity,
			EligibleAt:    row.Entry.EligibleAt.UTC(),
			Pending:       row.Entry.Pending,
			ReservationID: row.Entry.ReservationID,
			Active:        !row.Entry.Expired(now),
		})
	}
	return JSON(items)
}

func payoutsJSON(stats core.Stats, recent []core.Payout) (string, error) {
	report := statsJSON{TotalPaidOut: stats.TotalPaidOut, Payouts: stats.Payouts}
	for _, p := range recent {
		report.Recent = append(report.Recent, payoutJSON{
			TxID:     p.TxID,
			Address:  p.Address,
			Identity: p.Identity,
			Amount:   p.Amount,
			PaidAt:   p.At.UTC(),
		})
	}
	return JSON(report)
}
