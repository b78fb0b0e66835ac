package repository

import (
	"context"
	"fmt"

	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/models"
)

// PlanRepository handles mining plan database operations. Plans are seeded
// at startup and read-only afterwards, so there are no write methods.
type PlanRepository struct {
	db database.PGXDB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db database.PGXDB) *PlanRepository {
	return &PlanRepository{db: db}
}

// GetByID retrieves a plan by ID.
func (r *PlanRepository) GetByID(ctx context.Context, id int) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, price, mining_rate, duration_days, created_at
		FROM mining_plans WHERE id = $1
	`, id).Scan(&plan.ID, &plan.Name, &plan.Description, &plan.Price,
		&plan.MiningRate, &plan.DurationDays, &plan.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// List retrieves the full plan catalog ordered by price ascending.
func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, price, mining_rate, duration_days, created_at
		FROM mining_plans
		ORDER BY price ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var plan models.Plan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Description, &plan.Price,
			&plan.MiningRate, &plan.DurationDays, &plan.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}
