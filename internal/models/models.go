// Package models defines the domain entities for the mining service.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoursPerDay converts plan durations (whole days) to time.Duration.
const HoursPerDay = 24

// Transaction kinds.
const (
	TxKindDeposit        = "deposit"
	TxKindWithdrawal     = "withdrawal"
	TxKindPlanActivation = "plan_activation"
	TxKindMiningReward   = "mining_reward"
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Account represents a Telegram user with a balance.
type Account struct {
	TelegramID      int64
	Username        string
	FirstName       string
	Balance         decimal.Decimal
	ActivePlanID    *int
	PlanActivatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Plan is a purchasable mining tier. Plans are seeded once and treated as
// read-only afterwards.
type Plan struct {
	ID           int
	Name         string
	Description  string
	Price        decimal.Decimal
	MiningRate   decimal.Decimal // currency units accrued per day
	DurationDays int
	CreatedAt    time.Time
}

// Duration returns the plan length as a time.Duration.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * HoursPerDay * time.Hour
}

// Transaction is an append-only ledger entry. Amount is signed: credits are
// positive, debits negative. Once completed or failed a transaction never
// changes except for the pending -> completed/failed status transition.
type Transaction struct {
	ID        int64
	AccountID int64
	Kind      string
	Amount    decimal.Decimal
	Status    string
	TxHash    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MiningSession records one plan activation. The rate is copied from the
// plan at purchase time so later plan edits cannot affect a running session.
type MiningSession struct {
	ID         int64
	AccountID  int64
	PlanID     int
	MiningRate decimal.Decimal
	StartedAt  time.Time
	EndsAt     time.Time
	TotalMined decimal.Decimal
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MiningStatus is the read-only snapshot returned by status queries.
type MiningStatus struct {
	Active        bool
	PlanID        int
	MiningRate    decimal.Decimal
	TotalMined    decimal.Decimal
	StartedAt     time.Time
	EndsAt        time.Time
	DaysRemaining int
}

// SeedPlan describes a default catalog entry inserted at startup.
type SeedPlan struct {
	Name         string
	Description  string
	Price        decimal.Decimal
	MiningRate   decimal.Decimal
	DurationDays int
}

// DefaultPlans is the seeded plan catalog.
var DefaultPlans = []SeedPlan{
	{
		Name:         "Starter",
		Description:  "Entry plan, perfect for beginners",
		Price:        decimal.NewFromInt(50),
		MiningRate:   decimal.RequireFromString("0.01"),
		DurationDays: 30,
	},
	{
		Name:         "Pro",
		Description:  "For experienced miners",
		Price:        decimal.NewFromInt(150),
		MiningRate:   decimal.RequireFromString("0.05"),
		DurationDays: 30,
	},
	{
		Name:         "Elite",
		Description:  "Maximum performance for professionals",
		Price:        decimal.NewFromInt(500),
		MiningRate:   decimal.RequireFromString("0.2"),
		DurationDays: 30,
	},
}
