package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger enforces the daily cap with a single conditional UPDATE per
// reservation, so two devices racing for the last unit cannot both win.
type SQLiteLedger struct {
	db      *sql.DB
	cap     int
	ownedDB bool
	now     func() time.Time
}

// NewSQLiteLedger opens (or creates) the ledger database at path.
func NewSQLiteLedger(path string, dailyCap int) (*SQLiteLedger, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	ledger, err := NewSQLiteLedgerFromDB(db, dailyCap)
	if err != nil {
		db.Close()
		return nil, err
	}
	ledger.ownedDB = true
	return ledger, nil
}

// NewSQLiteLedgerFromDB wraps an existing connection, creating the schema.
func NewSQLiteLedgerFromDB(db *sql.DB, dailyCap int) (*SQLiteLedger, error) {
	if dailyCap <= 0 {
		return nil, fmt.Errorf("daily cap must be positive, got %d", dailyCap)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		user_id    TEXT NOT NULL,
		day        TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		cost_total REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day)
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &SQLiteLedger{db: db, cap: dailyCap, now: time.Now}, nil
}

// WithClock overrides the time source. Used by tests.
func (l *SQLiteLedger) WithClock(now func() time.Time) *SQLiteLedger {
	l.now = now
	return l
}

// Reserve implements Ledger.
func (l *SQLiteLedger) Reserve(ctx context.Context, userID string, cost float64) (Reservation, error) {
	if userID == "" {
		return Reservation{}, fmt.Errorf("usage: user id is required")
	}
	now := l.now()
	day := DayKey(now)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, day, count, cost_total) VALUES (?, ?, 0, 0)
		 ON CONFLICT (user_id, day) DO NOTHING`, userID, day)
	if err != nil {
		return Reservation{}, fmt.Errorf("usage: ensure row: %w", err)
	}

	// The cap check and the increment are one statement, which is what
	// makes the reservation atomic under concurrent callers.
	res, err := l.db.ExecContext(ctx,
		`UPDATE usage_records SET count = count + 1, cost_total = cost_total + ?
		 WHERE user_id = ? AND day = ? AND count < ?`, cost, userID, day, l.cap)
	if err != nil {
		return Reservation{}, fmt.Errorf("usage: reserve: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Reservation{}, fmt.Errorf("usage: reserve result: %w", err)
	}
	if affected == 0 {
		return Reservation{Granted: false, ResetAt: NextReset(now)}, nil
	}
	return Reservation{Granted: true}, nil
}

// Release implements Ledger.
func (l *SQLiteLedger) Release(ctx context.Context, userID string, cost float64) error {
	day := DayKey(l.now())
	_, err := l.db.ExecContext(ctx,
		`UPDATE usage_records
		 SET count = MAX(count - 1, 0), cost_total = MAX(cost_total - ?, 0)
		 WHERE user_id = ? AND day = ? AND count > 0`, cost, userID, day)
	if err != nil {
		return fmt.Errorf("usage: release: %w", err)
	}
	return nil
}

// Usage implements Ledger.
func (l *SQLiteLedger) Usage(ctx context.Context, userID string, day time.Time) (Record, error) {
	record := Record{UserID: userID, Day: DayKey(day)}
	err := l.db.QueryRowContext(ctx,
		`SELECT count, cost_total FROM usage_records WHERE user_id = ? AND day = ?`,
		userID, record.Day).Scan(&record.Count, &record.CostTotal)
	if err == sql.ErrNoRows {
		return record, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("usage: read record: %w", err)
	}
	return record, nil
}

// Close releases the database handle when this ledger owns it.
func (l *SQLiteLedger) Close() error {
	if l.ownedDB {
		return l.db.Close()
	}
	return nil
}

var _ Ledger = (*SQLiteLedger)(nil)
