// Package stats keeps the advisory running total of faucet payouts. The ledger
// node stays authoritative for balances.
package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/spigotlabs/spigot/internal/core"
)

// Accumulator records successful payouts and reports the running totals.
type Accumulator interface {
	Add(ctx context.Context, payout core.Payout) error
	Snapshot(ctx context.Context) (core.Stats, error)
}

// Memory is a process-lifetime accumulator. Totals reset on restart.
type Memory struct {
	mu    sync.Mutex
	total decimal.Decimal
	count int64
}

// NewMemory returns an empty accumulator.
func NewMemory() *Memory {
	return &Memory{total: decimal.Zero}
}

// Add increments the totals by payout.Amount, which must not be negative.
func (m *Memory) Add(_ context.Context, payout core.Payout) error {
	if payout.Amount.IsNegative() {
		return fmt.Errorf("payout amount must not be negative, got %s", payout.Amount.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = m.total.Add(payout.Amount)
	m.count++
	return nil
}

// Snapshot returns a consistent copy of the totals.
func (m *Memory) Snapshot(_ context.Context) (core.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.Stats{TotalPaidOut: m.total, Payouts: m.count}, nil
}
