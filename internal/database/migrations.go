package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/broskiv2/wemine-bot/internal/models"
)

// RunMigrations creates the database schema.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS mining_plans (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			price DECIMAL(18, 8) NOT NULL,
			mining_rate DECIMAL(18, 8) NOT NULL,
			duration_days INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			telegram_id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			balance DECIMAL(18, 8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			active_plan_id INTEGER REFERENCES mining_plans(id),
			plan_activated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(telegram_id),
			kind TEXT NOT NULL,
			amount DECIMAL(18, 8) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			tx_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,

		`CREATE TABLE IF NOT EXISTS mining_sessions (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(telegram_id),
			plan_id INTEGER NOT NULL REFERENCES mining_plans(id),
			mining_rate DECIMAL(18, 8) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			total_mined DECIMAL(18, 8) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_mining_sessions_account_id ON mining_sessions(account_id)`,

		// At most one active session per account, enforced at the schema level
		// in addition to the lifecycle manager's row locking.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mining_sessions_one_active
			ON mining_sessions(account_id) WHERE active`,

		`CREATE INDEX IF NOT EXISTS idx_mining_sessions_ends_at ON mining_sessions(ends_at) WHERE active`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// SeedPlans inserts the default mining plan catalog.
func SeedPlans(ctx context.Context, pool *pgxpool.Pool) error {
	for _, plan := range models.DefaultPlans {
		_, err := pool.Exec(ctx, `
			INSERT INTO mining_plans (name, description, price, mining_rate, duration_days)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO NOTHING
		`, plan.Name, plan.Description, plan.Price, plan.MiningRate, plan.DurationDays)
		if err != nil {
			return fmt.Errorf("failed to seed plan %q: %w", plan.Name, err)
		}
	}

	return nil
}
