// Package usage enforces per-user daily generation quotas and tracks cost.
// Rows are never deleted; they double as the cost reporting source.
package usage

import (
	"context"
	"time"
)

// Record is one (user, UTC day) consumption row.
type Record struct {
	UserID    string
	Day       string // UTC day in 2006-01-02 form
	Count     int
	CostTotal float64
}

// Reservation is the outcome of an atomic check-and-reserve.
type Reservation struct {
	Granted bool
	ResetAt time.Time // populated when denied
}

// Ledger is the quota contract. Reserve must be atomic with respect to
// concurrent reservations for the same (user, day): when one unit of quota
// remains, exactly one of two racing calls wins.
type Ledger interface {
	// Reserve consumes one unit of quota plus its cost, or reports when
	// the quota resets.
	Reserve(ctx context.Context, userID string, cost float64) (Reservation, error)
	// Release undoes a reservation whose job failed before incurring
	// provider cost, so the user is not penalized for system failures.
	Release(ctx context.Context, userID string, cost float64) error
	// Usage returns the consumption row for a user and UTC day. A zero
	// row is returned when the user has no consumption that day.
	Usage(ctx context.Context, userID string, day time.Time) (Record, error)
}

// DayKey normalizes a timestamp to its UTC day bucket.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(24 * time.Hour)
}
