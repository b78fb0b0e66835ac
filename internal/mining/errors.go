package mining

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Lifecycle error taxonomy. Every operation returns one of these (wrapped)
// so the front doors can map them to user-facing responses.
var (
	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPlanNotFound is returned when the requested plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTransactionNotFound is returned when a ledger entry does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNoActiveSession is returned when an operation needs an active
	// mining session and the account has none.
	ErrNoActiveSession = errors.New("no active mining session")

	// ErrInvalidAmount is returned for non-positive monetary input.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when the balance cannot cover a
	// purchase or withdrawal.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrActivePlanExists is returned when purchasing a plan while a
	// session is already running.
	ErrActivePlanExists = errors.New("a mining session is already active")

	// ErrStoreUnavailable wraps transient persistence failures. Callers
	// may retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvariantViolation reports corrupted state, such as more than one
	// active session for an account. It should never occur while
	// operations are correctly serialized.
	ErrInvariantViolation = errors.New("invariant violation")
)

// storeErr marks an error as a retryable persistence failure.
func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// mapNoRows converts a missing-row error into the given domain error and
// everything else into a store failure.
func mapNoRows(err, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return storeErr(err)
}
