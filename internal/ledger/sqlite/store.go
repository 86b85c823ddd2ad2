// Package sqlite provides the record-backed ledger that persists entries
// across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dlai-sd/waooaw-gateway/internal/events"
	"github.com/dlai-sd/waooaw-gateway/internal/ledger"
)

// Store is a SQLite implementation of ledger.Store and events.Sink.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store = (*Store)(nil)
	_ events.Sink  = (*Store)(nil)
)

// New opens (or creates) the ledger database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; per-key atomicity then falls
	// out of the transaction below.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			key TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			spend REAL NOT NULL DEFAULT 0,
			window_end INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			agent_id TEXT,
			customer_id TEXT,
			plan_id TEXT,
			purpose TEXT,
			kind TEXT NOT NULL,
			amount REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_customer ON usage_events(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_correlation ON usage_events(correlation_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) IncrementWithLimit(ctx context.Context, key string, limit int64, window time.Duration, now time.Time, amount int64) (ledger.CountResult, error) {
	if limit <= 0 {
		return ledger.CountResult{}, fmt.Errorf("%w: limit must be positive, got %d", ledger.ErrInvalidArgument, limit)
	}
	if amount <= 0 {
		return ledger.CountResult{}, fmt.Errorf("%w: amount must be positive, got %d", ledger.ErrInvalidArgument, amount)
	}

	var res ledger.CountResult
	err := s.withEntry(ctx, key, window, now, func(tx *sql.Tx, count int64, spend float64, windowEnd time.Time) error {
		res.ResetsAt = windowEnd
		if count+amount > limit {
			res.Allowed = false
			res.Value = count
			return nil
		}
		count += amount
		if err := writeEntry(ctx, tx, key, count, spend, windowEnd); err != nil {
			return err
		}
		res.Allowed = true
		res.Value = count
		return nil
	})
	if err != nil {
		return ledger.CountResult{}, err
	}
	return res, nil
}

func (s *Store) AddSpendWithLimit(ctx context.Context, key string, budget, spend float64, window time.Duration, now time.Time) (ledger.SpendResult, error) {
	if budget < 0 {
		return ledger.SpendResult{}, fmt.Errorf("%w: budget must not be negative, got %v", ledger.ErrInvalidArgument, budget)
	}
	if spend < 0 {
		return ledger.SpendResult{}, fmt.Errorf("%w: spend must not be negative, got %v", ledger.ErrInvalidArgument, spend)
	}

	var res ledger.SpendResult
	err := s.withEntry(ctx, key, window, now, func(tx *sql.Tx, count int64, total float64, windowEnd time.Time) error {
		res.ResetsAt = windowEnd
		if total+spend > budget {
			res.Allowed = false
			res.Total = total
			return nil
		}
		total += spend
		if err := writeEntry(ctx, tx, key, count, total, windowEnd); err != nil {
			return err
		}
		res.Allowed = true
		res.Total = total
		return nil
	})
	if err != nil {
		return ledger.SpendResult{}, err
	}
	return res, nil
}

// withEntry runs fn inside a transaction over the key's live entry. An entry
// whose window has elapsed is handed to fn already reset to zero; the reset
// is only persisted together with a successful increment, so blocked calls
// never write.
func (s *Store) withEntry(ctx context.Context, key string, window time.Duration, now time.Time, fn func(tx *sql.Tx, count int64, spend float64, windowEnd time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		count       int64
		spend       float64
		windowEndNs int64
	)
	row := tx.QueryRowContext(ctx, `SELECT count, spend, window_end FROM ledger_entries WHERE key = ?`, key)
	switch err := row.Scan(&count, &spend, &windowEndNs); {
	case errors.Is(err, sql.ErrNoRows):
		count, spend = 0, 0
		windowEndNs = now.Add(window).UnixNano()
	case err != nil:
		return fmt.Errorf("read entry %q: %w", key, err)
	default:
		if !now.Before(time.Unix(0, windowEndNs)) {
			count, spend = 0, 0
			windowEndNs = now.Add(window).UnixNano()
		}
	}

	if err := fn(tx, count, spend, time.Unix(0, windowEndNs).UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func writeEntry(ctx context.Context, tx *sql.Tx, key string, count int64, spend float64, windowEnd time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (key, count, spend, window_end)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET count = excluded.count, spend = excluded.spend, window_end = excluded.window_end
	`, key, count, spend, windowEnd.UnixNano())
	if err != nil {
		return fmt.Errorf("write entry %q: %w", key, err)
	}
	return nil
}

// Append implements events.Sink, making this store the durable audit trail.
func (s *Store) Append(ctx context.Context, ev *events.UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, correlation_id, agent_id, customer_id, plan_id, purpose, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.CorrelationID, ev.AgentID, ev.CustomerID, ev.PlanID, ev.Purpose, ev.Kind, ev.Amount, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// UsageEvents returns events for a customer, newest first. Used by the audit
// surface and tests.
func (s *Store) UsageEvents(ctx context.Context, customerID string, limit int) ([]events.UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, agent_id, customer_id, plan_id, purpose, kind, amount, created_at
		FROM usage_events WHERE customer_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var out []events.UsageEvent
	for rows.Next() {
		var ev events.UsageEvent
		if err := rows.Scan(&ev.ID, &ev.CorrelationID, &ev.AgentID, &ev.CustomerID, &ev.PlanID, &ev.Purpose, &ev.Kind, &ev.Amount, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
