package mining

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/models"
)

// Accrued computes the amount mined by a session at the given instant:
// rate * min(elapsed days, session length), with elapsed clamped to
// [0, length]. Accrual is a pure function of the clock so reads are
// idempotent and never drift.
func Accrued(rate decimal.Decimal, start, end, now time.Time) decimal.Decimal {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if total := end.Sub(start); elapsed > total {
		elapsed = total
	}

	days := decimal.NewFromFloat(elapsed.Hours() / models.HoursPerDay)
	return rate.Mul(days)
}

// DaysRemaining returns the whole days left until end, rounded up and
// clamped at zero.
func DaysRemaining(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / models.HoursPerDay))
}
