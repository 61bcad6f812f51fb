package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spigotlabs/spigot/internal/core"
)

// unitExponent is the number of decimal places kept in amount_units.
const unitExponent = 8

// Add records a completed payout. The payouts table doubles as the audit trail.
func (s *Store) Add(ctx context.Context, payout core.Payout) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if payout.Amount.IsNegative() {
		return errors.New("payout amount must not be negative")
	}
	if strings.TrimSpace(payout.TxID) == "" {
		return errors.New("payout txid is required")
	}

	at := payout.At
	if at.IsZero() {
		at = time.Now()
	}

	units := payout.Amount.Shift(unitExponent).Round(0).IntPart()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO payouts (txid, address, identity_digest, amount, amount_units, paid_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, payout.TxID, payout.Address, payout.Identity, payout.Amount.String(), units, at.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	return nil
}

// Snapshot sums every recorded payout.
func (s *Store) Snapshot(ctx context.Context) (core.Stats, error) {
	if s == nil || s.DB == nil {
		return core.Stats{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		units int64
		count int64
	)
	row := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_units), 0), COUNT(*) FROM payouts`)
	if err := row.Scan(&units, &count); err != nil {
		return core.Stats{}, fmt.Errorf("sum payouts: %w", err)
	}

	return core.Stats{
		TotalPaidOut: decimal.New(units, -unitExponent),
		Payouts:      count,
	}, nil
}

// RecentPayouts returns the newest payouts first.
func (s *Store) RecentPayouts(ctx context.Context, limit int) ([]core.Payout, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT txid, address, identity_digest, amount, paid_at
		FROM payouts
		ORDER BY paid_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	payouts := []core.Payout{}
	for rows.Next() {
		var (
			p      core.Payout
			amount string
			paidAt int64
		)
		if err := rows.Scan(&p.TxID, &p.Address, &p.Identity, &amount, &paidAt); err != nil {
			return nil, fmt.Errorf("scan payouts: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode payout amount %q: %w", amount, err)
		}
		p.At = time.UnixMilli(paidAt).UTC()
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}
