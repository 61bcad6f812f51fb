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

type LimitRecord struct {
	Identity string
	Entry    core.LimitEntry
}

// LimitQuery selects limiter rows for operator commands.
type LimitQuery struct {
	All      bool
	Identity string
	Prefix   string
}

func (q LimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Identity) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --identity, or --prefix")
}

func (q LimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if identity := strings.TrimSpace(q.Identity); identity != "" {
		return "WHERE identity = ?", []any{identity}, nil
	}
	return "WHERE identity LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

func (s *Store) ListLimits(ctx context.Context, q LimitQuery) ([]LimitRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT identity, eligible_at, pending, reservation_id
		FROM claim_limits
		%s
		ORDER BY eligible_at
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list claim limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []LimitRecord{}
	for rows.Next() {
		var (
			identity      string
			eligibleAt    int64
			pending       int
			reservationID sql.NullString
		)
		if err := rows.Scan(&identity, &eligibleAt, &pending, &reservationID); err != nil {
			return nil, fmt.Errorf("scan claim limits: %w", err)
		}
		records = append(records, LimitRecord{
			Identity: identity,
			Entry: core.LimitEntry{
				EligibleAt:    time.UnixMilli(eligibleAt).UTC(),
				Pending:       pending != 0,
				ReservationID: reservationID.String,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list claim limits: %w", err)
	}

	return records, nil
}

func (s *Store) CountLimits(ctx context.Context, q LimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM claim_limits %s`, where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count claim limits: %w", err)
	}
	return count, nil
}

// ResetLimits deletes matching rows, letting those identities claim again.
func (s *Store) ResetLimits(ctx context.Context, q LimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM claim_limits %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset claim limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset claim limits: %w", err)
	}
	return affected, nil
}
