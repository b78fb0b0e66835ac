// Package mining implements the mining session lifecycle: plan purchase,
// read-time accrual, deposits and withdrawals, and session expiry. Every
// mutating operation runs inside a single database transaction with the
// account row locked, so the non-negative-balance and one-active-session
// invariants hold under concurrent requests.
package mining

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/logger"
	"github.com/broskiv2/wemine-bot/internal/models"
	"github.com/broskiv2/wemine-bot/internal/repository"
)

const (
	defaultTimeout  = 5 * time.Second
	listPageSize    = 50
	expirySweepSize = 100
)

// Manager coordinates the purchase -> accrual -> expiry state machine.
type Manager struct {
	pool    database.TxBeginner
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTimeout overrides the per-operation persistence timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a Manager on top of a connection pool (or, in tests,
// an enclosing transaction).
func NewManager(pool database.TxBeginner, opts ...Option) *Manager {
	m := &Manager{
		pool:    pool,
		now:     time.Now,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// inTx runs fn inside a bounded-timeout database transaction. Domain
// errors from fn pass through untouched; begin/commit failures surface as
// retryable store errors.
func (m *Manager) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

// RegisterAccount creates an account on first contact or refreshes its
// profile fields.
func (m *Manager) RegisterAccount(ctx context.Context, telegramID int64, username, firstName string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	account := &models.Account{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
	}
	if err := repository.NewAccountRepository(m.pool).Upsert(ctx, account); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetAccount retrieves an account with its current balance.
func (m *Manager) GetAccount(ctx context.Context, telegramID int64) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	account, err := repository.NewAccountRepository(m.pool).GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, mapNoRows(err, ErrAccountNotFound)
	}
	return account, nil
}

// ListPlans returns the plan catalog.
func (m *Manager) ListPlans(ctx context.Context) ([]models.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	plans, err := repository.NewPlanRepository(m.pool).List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return plans, nil
}

// PurchasePlan debits the plan price and starts a mining session. Fails if
// the account already has an active session or cannot cover the price.
func (m *Manager) PurchasePlan(ctx context.Context, telegramID int64, planID int) (*models.MiningSession, error) {
	var session *models.MiningSession

	err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		accounts := repository.NewAccountRepository(tx)
		sessions := repository.NewSessionRepository(tx)

		account, err := accounts.GetForUpdate(ctx, telegramID)
		if err != nil {
			return mapNoRows(err, ErrAccountNotFound)
		}

		plan, err := repository.NewPlanRepository(tx).GetByID(ctx, planID)
		if err != nil {
			return mapNoRows(err, ErrPlanNotFound)
		}

		activeCount, err := sessions.CountActiveByAccount(ctx, telegramID)
		if err != nil {
			return storeErr(err)
		}
		switch {
		case activeCount > 1:
			return ErrInvariantViolation
		case activeCount == 1:
			return ErrActivePlanExists
		}

		if account.Balance.LessThan(plan.Price) {
			return ErrInsufficientFunds
		}

		now := m.now()
		if err := accounts.UpdateBalance(ctx, telegramID, account.Balance.Sub(plan.Price)); err != nil {
			return storeErr(err)
		}

		session = &models.MiningSession{
			AccountID:  telegramID,
			PlanID:     plan.ID,
			MiningRate: plan.MiningRate,
			StartedAt:  now,
			EndsAt:     now.Add(plan.Duration()),
			TotalMined: decimal.Zero,
			Active:     true,
		}
		if err := sessions.Create(ctx, session); err != nil {
			return storeErr(err)
		}

		if err := accounts.SetActivePlan(ctx, telegramID, &plan.ID, &now); err != nil {
			return storeErr(err)
		}

		return m.appendTransaction(ctx, tx, &models.Transaction{
			AccountID: telegramID,
			Kind:      models.TxKindPlanActivation,
			Amount:    plan.Price.Neg(),
			Status:    models.TxStatusCompleted,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Int64("account_id", telegramID).
		Int("plan_id", planID).
		Time("ends_at", session.EndsAt).
		Msg("Plan purchased")
	return session, nil
}

// Deposit records a pending deposit. The balance is credited only when the
// external payment collaborator confirms via ConfirmDeposit.
func (m *Manager) Deposit(ctx context.Context, telegramID int64, amount decimal.Decimal, txHash string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var entry *models.Transaction
	err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := repository.NewAccountRepository(tx).GetByTelegramID(ctx, telegramID); err != nil {
			return mapNoRows(err, ErrAccountNotFound)
		}

		entry = &models.Transaction{
			AccountID: telegramID,
			Kind:      models.TxKindDeposit,
			Amount:    amount,
			Status:    models.TxStatusPending,
			TxHash:    txHash,
		}
		return m.appendTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Int64("account_id", telegramID).
		Str("amount", amount.String()).
		Int64("transaction_id", entry.ID).
		Msg("Deposit recorded")
	return entry, nil
}

// ConfirmDeposit applies an external confirmation event to a pending
// deposit: ok credits the balance and completes the entry, !ok fails it.
// Already-settled deposits are returned unchanged, so confirmations are
// idempotent.
func (m *Manager) ConfirmDeposit(ctx context.Context, transactionID int64, ok bool) (*models.Transaction, error) {
	var entry *models.Transaction

	err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		transactions := repository.NewTransactionRepository(tx)

		var err error
		entry, err = transactions.GetForUpdate(ctx, transactionID)
		if err != nil {
			return mapNoRows(err, ErrTransactionNotFound)
		}
		if entry.Kind != models.TxKindDeposit {
			return ErrTransactionNotFound
		}
		if entry.Status != models.TxStatusPending {
			return nil
		}

		status := models.TxStatusFailed
		if ok {
			accounts := repository.NewAccountRepository(tx)
			account, err := accounts.GetForUpdate(ctx, entry.AccountID)
			if err != nil {
				return mapNoRows(err, ErrAccountNotFound)
			}
			if err := accounts.UpdateBalance(ctx, entry.AccountID, account.Balance.Add(entry.Amount)); err != nil {
				return storeErr(err)
			}
			status = models.TxStatusCompleted
		}

		if err := transactions.SetStatus(ctx, entry.ID, status); err != nil {
			return storeErr(err)
		}
		entry.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Int64("transaction_id", entry.ID).
		Str("status", entry.Status).
		Msg("Deposit confirmation applied")
	return entry, nil
}

// Withdraw debits the balance immediately and records a pending withdrawal
// to the given destination.
func (m *Manager) Withdraw(ctx context.Context, telegramID int64, amount decimal.Decimal, destination string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var entry *models.Transaction
	err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		accounts := repository.NewAccountRepository(tx)

		account, err := accounts.GetForUpdate(ctx, telegramID)
		if err != nil {
			return mapNoRows(err, ErrAccountNotFound)
		}
		if account.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		if err := accounts.UpdateBalance(ctx, telegramID, account.Balance.Sub(amount)); err != nil {
			return storeErr(err)
		}

		entry = &models.Transaction{
			AccountID: telegramID,
			Kind:      models.TxKindWithdrawal,
			Amount:    amount.Neg(),
			Status:    models.TxStatusPending,
			TxHash:    destination,
		}
		return m.appendTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Int64("account_id", telegramID).
		Str("amount", amount.String()).
		Msg("Withdrawal recorded")
	return entry, nil
}

// QueryStatus returns a snapshot of the account's mining session: accrued
// amount, rate, and whole days remaining. Pure read, no mutation; accounts
// without an active session get a zero snapshot.
func (m *Manager) QueryStatus(ctx context.Context, telegramID int64) (*models.MiningStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := repository.NewAccountRepository(m.pool).GetByTelegramID(ctx, telegramID); err != nil {
		return nil, mapNoRows(err, ErrAccountNotFound)
	}

	session, err := repository.NewSessionRepository(m.pool).ActiveByAccount(ctx, telegramID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.MiningStatus{}, nil
		}
		return nil, storeErr(err)
	}

	now := m.now()
	return &models.MiningStatus{
		Active:        true,
		PlanID:        session.PlanID,
		MiningRate:    session.MiningRate,
		TotalMined:    Accrued(session.MiningRate, session.StartedAt, session.EndsAt, now),
		StartedAt:     session.StartedAt,
		EndsAt:        session.EndsAt,
		DaysRemaining: DaysRemaining(session.EndsAt, now),
	}, nil
}

// CloseSession ends the account's active session early, crediting the
// amount accrued so far as a completed mining reward.
func (m *Manager) CloseSession(ctx context.Context, telegramID int64) (*models.MiningSession, error) {
	var closed *models.MiningSession

	err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		accounts := repository.NewAccountRepository(tx)

		account, err := accounts.GetForUpdate(ctx, telegramID)
		if err != nil {
			return mapNoRows(err, ErrAccountNotFound)
		}

		session, err := repository.NewSessionRepository(tx).ActiveByAccountForUpdate(ctx, telegramID)
		if err != nil {
			return mapNoRows(err, ErrNoActiveSession)
		}

		closed = session
		return m.finalizeSession(ctx, tx, account, session)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Int64("account_id", telegramID).
		Int64("session_id", closed.ID).
		Str("total_mined", closed.TotalMined.String()).
		Msg("Session closed")
	return closed, nil
}

// ExpireDueSessions finalizes active sessions whose end time has passed,
// crediting each account with the full capped accrual. Invoked by the
// periodic sweep; each account is settled in its own transaction so one
// failure does not block the rest. Returns the number of sessions expired.
func (m *Manager) ExpireDueSessions(ctx context.Context) (int, error) {
	readCtx, cancel := context.WithTimeout(ctx, m.timeout)
	due, err := repository.NewSessionRepository(m.pool).DueForExpiry(readCtx, m.now(), expirySweepSize)
	cancel()
	if err != nil {
		return 0, storeErr(err)
	}

	expired := 0
	for _, accountID := range due {
		err := m.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			accounts := repository.NewAccountRepository(tx)

			account, err := accounts.GetForUpdate(ctx, accountID)
			if err != nil {
				return mapNoRows(err, ErrAccountNotFound)
			}

			session, err := repository.NewSessionRepository(tx).ActiveByAccountForUpdate(ctx, accountID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					// Settled concurrently between the sweep read and here.
					return nil
				}
				return storeErr(err)
			}
			if session.EndsAt.After(m.now()) {
				return nil
			}

			return m.finalizeSession(ctx, tx, account, session)
		})
		if err != nil {
			logger.Log.Error().
				Int64("account_id", accountID).
				Err(err).
				Msg("Failed to expire session")
			continue
		}
		expired++
	}

	return expired, nil
}

// finalizeSession settles a session inside the caller's transaction: the
// accrued amount is credited, the session deactivated, the plan reference
// cleared, and a completed mining reward appended. The caller must hold
// the account and session row locks.
func (m *Manager) finalizeSession(ctx context.Context, tx pgx.Tx, account *models.Account, session *models.MiningSession) error {
	accounts := repository.NewAccountRepository(tx)
	mined := Accrued(session.MiningRate, session.StartedAt, session.EndsAt, m.now())

	if err := repository.NewSessionRepository(tx).Finalize(ctx, session.ID, mined); err != nil {
		return storeErr(err)
	}
	session.Active = false
	session.TotalMined = mined

	if err := accounts.UpdateBalance(ctx, account.TelegramID, account.Balance.Add(mined)); err != nil {
		return storeErr(err)
	}
	if err := accounts.SetActivePlan(ctx, account.TelegramID, nil, nil); err != nil {
		return storeErr(err)
	}

	return m.appendTransaction(ctx, tx, &models.Transaction{
		AccountID: account.TelegramID,
		Kind:      models.TxKindMiningReward,
		Amount:    mined,
		Status:    models.TxStatusCompleted,
	})
}

func (m *Manager) appendTransaction(ctx context.Context, tx pgx.Tx, entry *models.Transaction) error {
	if err := repository.NewTransactionRepository(tx).Create(ctx, entry); err != nil {
		return storeErr(err)
	}
	return nil
}

// ListTransactions returns a lazy, restartable sequence over the account's
// ledger, newest first, fetched in keyset-paginated batches. Iteration
// stops at the first persistence error, which is yielded to the consumer.
func (m *Manager) ListTransactions(ctx context.Context, telegramID int64) iter.Seq2[models.Transaction, error] {
	return func(yield func(models.Transaction, error) bool) {
		if _, err := m.GetAccount(ctx, telegramID); err != nil {
			yield(models.Transaction{}, err)
			return
		}

		transactions := repository.NewTransactionRepository(m.pool)
		var cursor *repository.Cursor
		for {
			pageCtx, cancel := context.WithTimeout(ctx, m.timeout)
			page, err := transactions.ListPage(pageCtx, telegramID, cursor, listPageSize)
			cancel()
			if err != nil {
				yield(models.Transaction{}, storeErr(err))
				return
			}

			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}

			if len(page) < listPageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}
