package mining

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
	"github.com/broskiv2/wemine-bot/internal/repository"
)

// testClock is a settable time source for driving accrual in tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupManager(t *testing.T) (*Manager, *testClock, database.TxBeginner, context.Context) {
	t.Helper()

	tx := database.TestTx(t)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(tx, WithClock(clock.Now))
	return mgr, clock, tx, context.Background()
}

// fundedAccount registers an account and sets its balance directly.
func fundedAccount(t *testing.T, ctx context.Context, mgr *Manager, tx database.TxBeginner, telegramID int64, balance string) {
	t.Helper()

	require.NoError(t, mgr.RegisterAccount(ctx, telegramID, "miner", "Miner"))
	err := repository.NewAccountRepository(tx).UpdateBalance(ctx, telegramID, decimal.RequireFromString(balance))
	require.NoError(t, err)
}

// planByName fetches a seeded plan from the catalog.
func planByName(t *testing.T, ctx context.Context, mgr *Manager, name string) models.Plan {
	t.Helper()

	plans, err := mgr.ListPlans(ctx)
	require.NoError(t, err)
	for _, p := range plans {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("seeded plan %q not found", name)
	return models.Plan{}
}

func collectTransactions(t *testing.T, ctx context.Context, mgr *Manager, telegramID int64) []models.Transaction {
	t.Helper()

	var txs []models.Transaction
	for entry, err := range mgr.ListTransactions(ctx, telegramID) {
		require.NoError(t, err)
		txs = append(txs, entry)
	}
	return txs
}

func TestPurchasePlan(t *testing.T) {
	mgr, clock, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1001, "200")
	pro := planByName(t, ctx, mgr, "Pro") // 150 / 0.05 per day / 30 days

	session, err := mgr.PurchasePlan(ctx, 1001, pro.ID)
	require.NoError(t, err)
	require.True(t, session.Active)
	require.Equal(t, pro.ID, session.PlanID)
	require.True(t, session.MiningRate.Equal(pro.MiningRate))
	require.Equal(t, clock.Now(), session.StartedAt)
	require.Equal(t, clock.Now().Add(30*24*time.Hour), session.EndsAt)

	account, err := mgr.GetAccount(ctx, 1001)
	require.NoError(t, err)
	require.True(t, account.Balance.Equal(decimal.NewFromInt(50)), "balance %s", account.Balance)
	require.NotNil(t, account.ActivePlanID)
	require.Equal(t, pro.ID, *account.ActivePlanID)

	txs := collectTransactions(t, ctx, mgr, 1001)
	require.Len(t, txs, 1)
	require.Equal(t, models.TxKindPlanActivation, txs[0].Kind)
	require.Equal(t, models.TxStatusCompleted, txs[0].Status)
	require.True(t, txs[0].Amount.Equal(decimal.NewFromInt(-150)))

	status, err := mgr.QueryStatus(ctx, 1001)
	require.NoError(t, err)
	require.True(t, status.Active)
	require.True(t, status.TotalMined.IsZero())
	require.Equal(t, 30, status.DaysRemaining)
}

func TestPurchasePlan_InsufficientFunds(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1002, "10")
	starter := planByName(t, ctx, mgr, "Starter")

	_, err := mgr.PurchasePlan(ctx, 1002, starter.ID)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance and ledger untouched.
	account, err := mgr.GetAccount(ctx, 1002)
	require.NoError(t, err)
	require.True(t, account.Balance.Equal(decimal.NewFromInt(10)))
	require.Empty(t, collectTransactions(t, ctx, mgr, 1002))
}

func TestPurchasePlan_ActiveSessionExists(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1003, "1000")
	starter := planByName(t, ctx, mgr, "Starter")

	_, err := mgr.PurchasePlan(ctx, 1003, starter.ID)
	require.NoError(t, err)

	_, err = mgr.PurchasePlan(ctx, 1003, starter.ID)
	require.ErrorIs(t, err, ErrActivePlanExists)
}

func TestPurchasePlan_NotFound(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	starter := planByName(t, ctx, mgr, "Starter")
	_, err := mgr.PurchasePlan(ctx, 99999, starter.ID)
	require.ErrorIs(t, err, ErrAccountNotFound)

	fundedAccount(t, ctx, mgr, tx, 1004, "100")
	_, err = mgr.PurchasePlan(ctx, 1004, 424242)
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestDeposit(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1005, "0")

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := mgr.Deposit(ctx, 1005, decimal.Zero, "0xabc")
		require.ErrorIs(t, err, ErrInvalidAmount)
		_, err = mgr.Deposit(ctx, 1005, decimal.NewFromInt(-5), "0xabc")
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := mgr.Deposit(ctx, 88888, decimal.NewFromInt(5), "0xabc")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("records pending entry without crediting", func(t *testing.T) {
		entry, err := mgr.Deposit(ctx, 1005, decimal.NewFromInt(75), "0xdeadbeef")
		require.NoError(t, err)
		require.Equal(t, models.TxStatusPending, entry.Status)
		require.Equal(t, "0xdeadbeef", entry.TxHash)

		account, err := mgr.GetAccount(ctx, 1005)
		require.NoError(t, err)
		require.True(t, account.Balance.IsZero())
	})
}

func TestConfirmDeposit(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1006, "0")

	entry, err := mgr.Deposit(ctx, 1006, decimal.NewFromInt(75), "0xfeed")
	require.NoError(t, err)

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := mgr.ConfirmDeposit(ctx, 987654321, true)
		require.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("credits on success", func(t *testing.T) {
		confirmed, err := mgr.ConfirmDeposit(ctx, entry.ID, true)
		require.NoError(t, err)
		require.Equal(t, models.TxStatusCompleted, confirmed.Status)

		account, err := mgr.GetAccount(ctx, 1006)
		require.NoError(t, err)
		require.True(t, account.Balance.Equal(decimal.NewFromInt(75)))
	})

	t.Run("idempotent once settled", func(t *testing.T) {
		again, err := mgr.ConfirmDeposit(ctx, entry.ID, true)
		require.NoError(t, err)
		require.Equal(t, models.TxStatusCompleted, again.Status)

		account, err := mgr.GetAccount(ctx, 1006)
		require.NoError(t, err)
		require.True(t, account.Balance.Equal(decimal.NewFromInt(75)), "double credit")
	})

	t.Run("marks failed without crediting", func(t *testing.T) {
		failed, err := mgr.Deposit(ctx, 1006, decimal.NewFromInt(10), "0xbad")
		require.NoError(t, err)

		settled, err := mgr.ConfirmDeposit(ctx, failed.ID, false)
		require.NoError(t, err)
		require.Equal(t, models.TxStatusFailed, settled.Status)

		account, err := mgr.GetAccount(ctx, 1006)
		require.NoError(t, err)
		require.True(t, account.Balance.Equal(decimal.NewFromInt(75)))
	})

	t.Run("non-deposit entries are not confirmable", func(t *testing.T) {
		withdrawal, err := mgr.Withdraw(ctx, 1006, decimal.NewFromInt(5), "addr")
		require.NoError(t, err)

		_, err = mgr.ConfirmDeposit(ctx, withdrawal.ID, true)
		require.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestWithdraw(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1007, "100")

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := mgr.Withdraw(ctx, 1007, decimal.Zero, "addr")
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("insufficient funds leaves state unchanged", func(t *testing.T) {
		_, err := mgr.Withdraw(ctx, 1007, decimal.NewFromInt(150), "addr")
		require.ErrorIs(t, err, ErrInsufficientFunds)

		account, err := mgr.GetAccount(ctx, 1007)
		require.NoError(t, err)
		require.True(t, account.Balance.Equal(decimal.NewFromInt(100)))
		require.Empty(t, collectTransactions(t, ctx, mgr, 1007))
	})

	t.Run("debits immediately and records pending entry", func(t *testing.T) {
		entry, err := mgr.Withdraw(ctx, 1007, decimal.NewFromInt(40), "TAddr123")
		require.NoError(t, err)
		require.Equal(t, models.TxKindWithdrawal, entry.Kind)
		require.Equal(t, models.TxStatusPending, entry.Status)
		require.True(t, entry.Amount.Equal(decimal.NewFromInt(-40)))
		require.Equal(t, "TAddr123", entry.TxHash)

		account, err := mgr.GetAccount(ctx, 1007)
		require.NoError(t, err)
		require.True(t, account.Balance.Equal(decimal.NewFromInt(60)))
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := mgr.Withdraw(ctx, 77777, decimal.NewFromInt(1), "addr")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestQueryStatus_Accrual(t *testing.T) {
	mgr, clock, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1008, "200")
	pro := planByName(t, ctx, mgr, "Pro") // 0.05 per day, 30 days

	_, err := mgr.PurchasePlan(ctx, 1008, pro.ID)
	require.NoError(t, err)

	t.Run("no session yields zero snapshot", func(t *testing.T) {
		fundedAccount(t, ctx, mgr, tx, 1009, "0")
		status, err := mgr.QueryStatus(ctx, 1009)
		require.NoError(t, err)
		require.False(t, status.Active)
		require.True(t, status.TotalMined.IsZero())
		require.Zero(t, status.DaysRemaining)
	})

	t.Run("midway", func(t *testing.T) {
		clock.Advance(15 * 24 * time.Hour)
		status, err := mgr.QueryStatus(ctx, 1008)
		require.NoError(t, err)
		require.True(t, status.Active)
		require.True(t, status.TotalMined.Equal(decimal.RequireFromString("0.75")), "mined %s", status.TotalMined)
		require.Equal(t, 15, status.DaysRemaining)
	})

	t.Run("capped past the end", func(t *testing.T) {
		clock.Advance(100 * 24 * time.Hour)
		status, err := mgr.QueryStatus(ctx, 1008)
		require.NoError(t, err)
		require.True(t, status.TotalMined.Equal(decimal.RequireFromString("1.5")), "mined %s", status.TotalMined)
		require.Zero(t, status.DaysRemaining)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := mgr.QueryStatus(ctx, 66666)
		require.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestCloseSession(t *testing.T) {
	mgr, clock, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1010, "200")
	pro := planByName(t, ctx, mgr, "Pro")

	t.Run("no active session", func(t *testing.T) {
		_, err := mgr.CloseSession(ctx, 1010)
		require.ErrorIs(t, err, ErrNoActiveSession)
	})

	_, err := mgr.PurchasePlan(ctx, 1010, pro.ID)
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)

	t.Run("credits accrued amount and deactivates", func(t *testing.T) {
		closed, err := mgr.CloseSession(ctx, 1010)
		require.NoError(t, err)
		require.False(t, closed.Active)
		require.True(t, closed.TotalMined.Equal(decimal.RequireFromString("0.5")), "mined %s", closed.TotalMined)

		account, err := mgr.GetAccount(ctx, 1010)
		require.NoError(t, err)
		// 200 - 150 + 0.5
		require.True(t, account.Balance.Equal(decimal.RequireFromString("50.5")), "balance %s", account.Balance)
		require.Nil(t, account.ActivePlanID)

		txs := collectTransactions(t, ctx, mgr, 1010)
		require.Len(t, txs, 2)
		require.Equal(t, models.TxKindMiningReward, txs[0].Kind)
		require.Equal(t, models.TxStatusCompleted, txs[0].Status)
		require.True(t, txs[0].Amount.Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("account can purchase again", func(t *testing.T) {
		starter := planByName(t, ctx, mgr, "Starter")
		_, err := mgr.PurchasePlan(ctx, 1010, starter.ID)
		require.NoError(t, err)
	})
}

func TestExpireDueSessions(t *testing.T) {
	mgr, clock, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1011, "200")
	pro := planByName(t, ctx, mgr, "Pro")

	_, err := mgr.PurchasePlan(ctx, 1011, pro.ID)
	require.NoError(t, err)

	t.Run("nothing due before the end", func(t *testing.T) {
		expired, err := mgr.ExpireDueSessions(ctx)
		require.NoError(t, err)
		require.Zero(t, expired)
	})

	t.Run("finalizes at full capped amount", func(t *testing.T) {
		clock.Advance(31 * 24 * time.Hour)

		expired, err := mgr.ExpireDueSessions(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, expired)

		status, err := mgr.QueryStatus(ctx, 1011)
		require.NoError(t, err)
		require.False(t, status.Active)

		account, err := mgr.GetAccount(ctx, 1011)
		require.NoError(t, err)
		// 200 - 150 + 0.05*30
		require.True(t, account.Balance.Equal(decimal.RequireFromString("51.5")), "balance %s", account.Balance)

		txs := collectTransactions(t, ctx, mgr, 1011)
		require.Len(t, txs, 2)
		require.Equal(t, models.TxKindMiningReward, txs[0].Kind)
		require.True(t, txs[0].Amount.Equal(decimal.RequireFromString("1.5")))
	})

	t.Run("sweep is idempotent", func(t *testing.T) {
		expired, err := mgr.ExpireDueSessions(ctx)
		require.NoError(t, err)
		require.Zero(t, expired)
	})
}

func TestListTransactions(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1012, "500")

	t.Run("unknown account yields error", func(t *testing.T) {
		for _, err := range mgr.ListTransactions(ctx, 55555) {
			require.ErrorIs(t, err, ErrAccountNotFound)
		}
	})

	t.Run("empty ledger", func(t *testing.T) {
		require.Empty(t, collectTransactions(t, ctx, mgr, 1012))
	})

	deposit, err := mgr.Deposit(ctx, 1012, decimal.NewFromInt(20), "0x1")
	require.NoError(t, err)
	withdrawal, err := mgr.Withdraw(ctx, 1012, decimal.NewFromInt(30), "addr")
	require.NoError(t, err)

	t.Run("newest first with identical fields", func(t *testing.T) {
		txs := collectTransactions(t, ctx, mgr, 1012)
		require.Len(t, txs, 2)

		require.Equal(t, withdrawal.ID, txs[0].ID)
		require.Equal(t, deposit.ID, txs[1].ID)
		require.True(t, txs[1].Amount.Equal(deposit.Amount))
		require.Equal(t, deposit.TxHash, txs[1].TxHash)
		require.Equal(t, deposit.Status, txs[1].Status)
	})

	t.Run("restartable", func(t *testing.T) {
		seq := mgr.ListTransactions(ctx, 1012)
		for range seq {
			break
		}
		var count int
		for _, err := range seq {
			require.NoError(t, err)
			count++
		}
		require.Equal(t, 2, count)
	})
}

func TestBalanceNeverNegative(t *testing.T) {
	mgr, clock, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1013, "55")
	starter := planByName(t, ctx, mgr, "Starter") // 50

	// Exercise a mixed lifecycle and check the invariant after each step.
	check := func() {
		account, err := mgr.GetAccount(ctx, 1013)
		require.NoError(t, err)
		require.False(t, account.Balance.IsNegative(), "balance %s", account.Balance)
	}

	_, err := mgr.PurchasePlan(ctx, 1013, starter.ID)
	require.NoError(t, err)
	check()

	_, err = mgr.Withdraw(ctx, 1013, decimal.NewFromInt(100), "addr")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	check()

	_, err = mgr.Withdraw(ctx, 1013, decimal.NewFromInt(5), "addr")
	require.NoError(t, err)
	check()

	clock.Advance(40 * 24 * time.Hour)
	_, err = mgr.ExpireDueSessions(ctx)
	require.NoError(t, err)
	check()
}

func TestSessionRateFixedAtPurchase(t *testing.T) {
	mgr, _, tx, ctx := setupManager(t)

	fundedAccount(t, ctx, mgr, tx, 1014, "200")
	pro := planByName(t, ctx, mgr, "Pro")

	session, err := mgr.PurchasePlan(ctx, 1014, pro.ID)
	require.NoError(t, err)

	// Simulate a later catalog edit; the session keeps its copied rate.
	_, err = tx.Exec(ctx, `UPDATE mining_plans SET mining_rate = 99 WHERE id = $1`, pro.ID)
	require.NoError(t, err)

	status, err := mgr.QueryStatus(ctx, 1014)
	require.NoError(t, err)
	require.True(t, status.MiningRate.Equal(session.MiningRate))
	require.True(t, status.MiningRate.Equal(pro.MiningRate))
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	require.True(t, errors.Is(storeErr(errors.New("boom")), ErrStoreUnavailable))
	require.ErrorIs(t, mapNoRows(fmt.Errorf("failed to get account: %w", pgx.ErrNoRows), ErrAccountNotFound), ErrAccountNotFound)
	require.ErrorIs(t, mapNoRows(errors.New("connection refused"), ErrAccountNotFound), ErrStoreUnavailable)
}
