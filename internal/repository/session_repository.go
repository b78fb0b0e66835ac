package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
)

// SessionRepository handles mining session database operations.
type SessionRepository struct {
	db database.PGXDB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db database.PGXDB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, account_id, plan_id, mining_rate, started_at, ends_at, total_mined, active, created_at, updated_at`

// Create records a new mining session.
func (r *SessionRepository) Create(ctx context.Context, session *models.MiningSession) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO mining_sessions (account_id, plan_id, mining_rate, started_at, ends_at, total_mined, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, session.AccountID, session.PlanID, session.MiningRate,
		session.StartedAt, session.EndsAt, session.TotalMined, session.Active,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create mining session: %w", err)
	}
	return nil
}

// ActiveByAccount retrieves the account's active session, if any.
// Returns a wrapped pgx.ErrNoRows when none exists.
func (r *SessionRepository) ActiveByAccount(ctx context.Context, accountID int64) (*models.MiningSession, error) {
	return r.active(ctx, accountID, false)
}

// ActiveByAccountForUpdate retrieves and locks the account's active session.
func (r *SessionRepository) ActiveByAccountForUpdate(ctx context.Context, accountID int64) (*models.MiningSession, error) {
	return r.active(ctx, accountID, true)
}

func (r *SessionRepository) active(ctx context.Context, accountID int64, forUpdate bool) (*models.MiningSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM mining_sessions WHERE account_id = $1 AND active`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var s models.MiningSession
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&s.ID, &s.AccountID, &s.PlanID, &s.MiningRate, &s.StartedAt,
		&s.EndsAt, &s.TotalMined, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return &s, nil
}

// CountActiveByAccount reports how many active sessions an account has.
// Anything above one is an invariant violation.
func (r *SessionRepository) CountActiveByAccount(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM mining_sessions WHERE account_id = $1 AND active
	`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return n, nil
}

// Finalize deactivates a session and records its final mined total.
func (r *SessionRepository) Finalize(ctx context.Context, id int64, totalMined decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE mining_sessions SET active = FALSE, total_mined = $2, updated_at = NOW()
		WHERE id = $1
	`, id, totalMined)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	return nil
}

// DueForExpiry lists account IDs of active sessions whose end time has
// passed. The expiry sweep re-checks each under its own row lock.
func (r *SessionRepository) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT account_id FROM mining_sessions
		WHERE active AND ends_at <= $1
		ORDER BY ends_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due sessions: %w", err)
	}
	defer rows.Close()

	var accountIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due session: %w", err)
		}
		accountIDs = append(accountIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due sessions: %w", err)
	}
	return accountIDs, nil
}
