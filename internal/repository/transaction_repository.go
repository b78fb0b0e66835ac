package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
)

// TransactionRepository handles ledger entry database operations.
type TransactionRepository struct {
	db database.PGXDB
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db database.PGXDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_id, kind, amount, status, tx_hash, created_at, updated_at`

// Create appends a ledger entry.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.Status == "" {
		tx.Status = models.TxStatusPending
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO transactions (account_id, kind, amount, status, tx_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, tx.AccountID, tx.Kind, tx.Amount, tx.Status, tx.TxHash,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a ledger entry.
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves a ledger entry and locks its row, serializing
// concurrent status transitions on the same entry.
func (r *TransactionRepository) GetForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	return r.get(ctx, id, true)
}

func (r *TransactionRepository) get(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var tx models.Transaction
	err := r.db.QueryRow(ctx, query, id).Scan(
		&tx.ID, &tx.AccountID, &tx.Kind, &tx.Amount, &tx.Status,
		&tx.TxHash, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// SetStatus transitions a ledger entry to the given status.
func (r *TransactionRepository) SetStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set transaction status: %w", err)
	}
	return nil
}

// Cursor marks a position in an account's ledger for keyset pagination.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// ListPage retrieves one page of an account's ledger entries, newest first.
// A nil cursor starts from the newest entry; otherwise entries strictly
// older than the cursor are returned.
func (r *TransactionRepository) ListPage(ctx context.Context, accountID int64, cursor *Cursor, limit int) ([]models.Transaction, error) {
	var (
		query string
		args  []any
	)
	if cursor == nil {
		query = `
			SELECT ` + transactionColumns + ` FROM transactions
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
		args = []any{accountID, limit}
	} else {
		query = `
			SELECT ` + transactionColumns + ` FROM transactions
			WHERE account_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`
		args = []any{accountID, cursor.CreatedAt, cursor.ID, limit}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Kind, &tx.Amount,
			&tx.Status, &tx.TxHash, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}
