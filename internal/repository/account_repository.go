// Package repository implements raw-SQL persistence over database.PGXDB.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
)

// AccountRepository handles account database operations.
type AccountRepository struct {
	db database.PGXDB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db database.PGXDB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Upsert creates an account on first contact or refreshes its profile
// fields. The balance is never touched here.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (telegram_id, username, first_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			updated_at = NOW()
	`, account.TelegramID, account.Username, account.FirstName)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

const accountColumns = `telegram_id, username, first_name, balance, active_plan_id, plan_activated_at, created_at, updated_at`

// GetByTelegramID retrieves an account by its Telegram ID.
func (r *AccountRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	return r.get(ctx, telegramID, false)
}

// GetForUpdate retrieves an account and locks its row for the duration of
// the surrounding transaction. This is what serializes concurrent lifecycle
// operations on the same account.
func (r *AccountRepository) GetForUpdate(ctx context.Context, telegramID int64) (*models.Account, error) {
	return r.get(ctx, telegramID, true)
}

func (r *AccountRepository) get(ctx context.Context, telegramID int64, forUpdate bool) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE telegram_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var acc models.Account
	err := r.db.QueryRow(ctx, query, telegramID).Scan(
		&acc.TelegramID, &acc.Username, &acc.FirstName, &acc.Balance,
		&acc.ActivePlanID, &acc.PlanActivatedAt, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// UpdateBalance sets the account balance.
func (r *AccountRepository) UpdateBalance(ctx context.Context, telegramID int64, balance decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET balance = $2, updated_at = NOW()
		WHERE telegram_id = $1
	`, telegramID, balance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// SetActivePlan records (or clears) the account's active plan reference.
func (r *AccountRepository) SetActivePlan(ctx context.Context, telegramID int64, planID *int, activatedAt *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET active_plan_id = $2, plan_activated_at = $3, updated_at = NOW()
		WHERE telegram_id = $1
	`, telegramID, planID, activatedAt)
	if err != nil {
		return fmt.Errorf("failed to set active plan: %w", err)
	}
	return nil
}
