package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigotlabs/spigot/internal/core"
)

// GetLimit returns the stored limiter entry for an identity key.
func (s *Store) GetLimit(ctx context.Context, key string) (*core.LimitEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("identity key is required")
	}

	var (
		eligibleAt    int64
		pending       int
		reservationID sql.NullString
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT eligible_at, pending, reservation_id
		FROM claim_limits
		WHERE identity = ?
	`, key)

	if err := row.Scan(&eligibleAt, &pending, &reservationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch claim limit: %w", err)
	}

	return &core.LimitEntry{
		EligibleAt:    time.UnixMilli(eligibleAt).UTC(),
		Pending:       pending != 0,
		ReservationID: reservationID.String,
	}, nil
}

// SetLimit persists the limiter entry for an identity key.
func (s *Store) SetLimit(ctx context.Context, key string, entry core.LimitEntry) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("identity key is required")
	}

	var reservationID sql.NullString
	if entry.ReservationID != "" {
		reservationID = sql.NullString{String: entry.ReservationID, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO claim_limits (identity, eligible_at, pending, reservation_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			eligible_at = excluded.eligible_at,
			pending = excluded.pending,
			reservation_id = excluded.reservation_id
	`, key, entry.EligibleAt.UTC().UnixMilli(), boolToInt(entry.Pending), reservationID)
	if err != nil {
		return fmt.Errorf("store claim limit: %w", err)
	}

	return nil
}

// DeleteLimit removes the entry for an identity key.
func (s *Store) DeleteLimit(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM claim_limits WHERE identity = ?`, key); err != nil {
		return fmt.Errorf("delete claim limit: %w", err)
	}
	return nil
}

// SweepLimits deletes every entry that no longer restricts claims at now.
func (s *Store) SweepLimits(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM claim_limits WHERE eligible_at <= ?`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep claim limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep claim limits: %w", err)
	}
	return int(affected), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
