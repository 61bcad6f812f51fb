package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS claim_limits (
		identity TEXT PRIMARY KEY,
		eligible_at INTEGER NOT NULL,
		pending INTEGER NOT NULL DEFAULT 0,
		reservation_id TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_claim_limits_eligible ON claim_limits(eligible_at);`,
	`CREATE TABLE IF NOT EXISTS payouts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		txid TEXT NOT NULL,
		address TEXT NOT NULL,
		identity_digest TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_units INTEGER NOT NULL,
		paid_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_paid_at ON payouts(paid_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
