package usage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and single-node setups.
type MemoryLedger struct {
	mu      sync.Mutex
	cap     int
	records map[string]*Record // keyed by userID + "|" + day
	now     func() time.Time
}

// NewMemoryLedger builds an in-memory ledger with the given daily cap.
func NewMemoryLedger(dailyCap int) *MemoryLedger {
	return &MemoryLedger{
		cap:     dailyCap,
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) key(userID, day string) string {
	return userID + "|" + day
}

// Reserve implements Ledger.
func (l *MemoryLedger) Reserve(_ context.Context, userID string, cost float64) (Reservation, error) {
	if userID == "" {
		return Reservation{}, fmt.Errorf("usage: user id is required")
	}
	now := l.now()
	day := DayKey(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[l.key(userID, day)]
	if !ok {
		record = &Record{UserID: userID, Day: day}
		l.records[l.key(userID, day)] = record
	}
	if record.Count >= l.cap {
		return Reservation{Granted: false, ResetAt: NextReset(now)}, nil
	}
	record.Count++
	record.CostTotal += cost
	return Reservation{Granted: true}, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, userID string, cost float64) error {
	day := DayKey(l.now())

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[l.key(userID, day)]
	if !ok || record.Count == 0 {
		return nil
	}
	record.Count--
	record.CostTotal -= cost
	if record.CostTotal < 0 {
		record.CostTotal = 0
	}
	return nil
}

// Usage implements Ledger.
func (l *MemoryLedger) Usage(_ context.Context, userID string, day time.Time) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record, ok := l.records[l.key(userID, DayKey(day))]; ok {
		return *record, nil
	}
	return Record{UserID: userID, Day: DayKey(day)}, nil
}

var _ Ledger = (*MemoryLedger)(nil)
