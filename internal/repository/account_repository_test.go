package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
)

func TestAccountRepository_Upsert(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewAccountRepository(tx)

	t.Run("creates new account with zero balance", func(t *testing.T) {
		err := repo.Upsert(ctx, &models.Account{
			TelegramID: 12345,
			Username:   "miner",
			FirstName:  "Miner",
		})
		require.NoError(t, err)

		fetched, err := repo.GetByTelegramID(ctx, 12345)
		require.NoError(t, err)
		require.Equal(t, "miner", fetched.Username)
		require.True(t, fetched.Balance.IsZero())
		require.Nil(t, fetched.ActivePlanID)
	})

	t.Run("refreshes profile without touching balance", func(t *testing.T) {
		require.NoError(t, repo.UpdateBalance(ctx, 12345, decimal.NewFromInt(75)))

		err := repo.Upsert(ctx, &models.Account{
			TelegramID: 12345,
			Username:   "renamed",
			FirstName:  "Renamed",
		})
		require.NoError(t, err)

		fetched, err := repo.GetByTelegramID(ctx, 12345)
		require.NoError(t, err)
		require.Equal(t, "renamed", fetched.Username)
		require.True(t, fetched.Balance.Equal(decimal.NewFromInt(75)))
	})
}

func TestAccountRepository_GetByTelegramID(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewAccountRepository(tx)

	t.Run("returns error for unknown account", func(t *testing.T) {
		_, err := repo.GetByTelegramID(ctx, 99999)
		require.Error(t, err)
	})
}

func TestAccountRepository_SetActivePlan(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewAccountRepository(tx)
	require.NoError(t, repo.Upsert(ctx, &models.Account{TelegramID: 500, Username: "planholder"}))

	planID := 1
	activatedAt := time.Now().UTC()

	t.Run("sets the plan reference", func(t *testing.T) {
		require.NoError(t, repo.SetActivePlan(ctx, 500, &planID, &activatedAt))

		fetched, err := repo.GetByTelegramID(ctx, 500)
		require.NoError(t, err)
		require.NotNil(t, fetched.ActivePlanID)
		require.Equal(t, 1, *fetched.ActivePlanID)
		require.NotNil(t, fetched.PlanActivatedAt)
	})

	t.Run("clears the plan reference", func(t *testing.T) {
		require.NoError(t, repo.SetActivePlan(ctx, 500, nil, nil))

		fetched, err := repo.GetByTelegramID(ctx, 500)
		require.NoError(t, err)
		require.Nil(t, fetched.ActivePlanID)
		require.Nil(t, fetched.PlanActivatedAt)
	})
}

func TestAccountRepository_BalanceCheckConstraint(t *testing.T) {
	tx := database.TestTx(t)
	ctx := context.Background()

	repo := NewAccountRepository(tx)
	require.NoError(t, repo.Upsert(ctx, &models.Account{TelegramID: 600, Username: "broke"}))

	err := repo.UpdateBalance(ctx, 600, decimal.NewFromInt(-1))
	require.Error(t, err)
}
