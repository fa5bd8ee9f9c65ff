package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"imgconv/internal/logging"
	"imgconv/internal/store"
)

// Outcome is the collection a conversion landed in.
type Outcome string

const (
	OutcomeOutput Outcome = "output"
	OutcomeFailed Outcome = "failed"
)

// Entry is one journaled conversion.
type Entry struct {
	ID            int64
	EntityID      string
	CorrelationID string
	Name          string
	SourceFormat  string
	TargetFormat  string
	Outcome       Outcome
	Error         string
	EncodedBytes  int
	Attempts      int
	CompletedAt   time.Time
}

// Totals summarizes the journal by outcome.
type Totals struct {
	Output int
	Failed int
}

// Total returns the number of journaled conversions.
func (t Totals) Total() int { return t.Output + t.Failed }

// Journal appends conversion outcomes to a SQLite database.
type Journal struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open creates or connects to the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordOutcome journals a drained entity. The correlation identifier is read
// from ctx.
func (j *Journal) RecordOutcome(ctx context.Context, result store.DrainResult) error {
	e := result.Entity
	entry := Entry{
		EntityID:      e.ID,
		CorrelationID: logging.CorrelationID(ctx),
		Name:          e.Name,
		SourceFormat:  string(e.SourceFormat),
		TargetFormat:  string(e.TargetFormat),
		Outcome:       OutcomeOutput,
		EncodedBytes:  len(e.EncodedResult),
		Attempts:      e.Attempts,
		CompletedAt:   e.CompletedAt,
	}
	if result.Stage == store.StageFailed {
		entry.Outcome = OutcomeFailed
		entry.Error = e.Err
		if entry.Error == "" && result.Err != nil {
			entry.Error = result.Err.Error()
		}
	}
	_, err := j.Record(ctx, entry)
	return err
}

// Record inserts entry and returns its row identifier.
func (j *Journal) Record(ctx context.Context, entry Entry) (int64, error) {
	if strings.TrimSpace(entry.EntityID) == "" {
		return 0, errors.New("journal entry requires an entity id")
	}
	if entry.Outcome != OutcomeOutput && entry.Outcome != OutcomeFailed {
		return 0, fmt.Errorf("journal entry has unknown outcome %q", entry.Outcome)
	}
	completed := entry.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := j.db.ExecContext(ctx, `INSERT INTO conversions (
			entity_id, correlation_id, name, source_format, target_format,
			outcome, error_message, encoded_bytes, attempts, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.EntityID, entry.CorrelationID, entry.Name, entry.SourceFormat, entry.TargetFormat,
			string(entry.Outcome), entry.Error, entry.EncodedBytes, entry.Attempts,
			completed.UTC().Format(time.RFC3339Nano),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	return id, nil
}

// History returns the most recent entries, newest first. A non-positive limit
// returns everything.
func (j *Journal) History(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, entity_id, correlation_id, name, source_format, target_format,
		outcome, error_message, encoded_bytes, attempts, completed_at
		FROM conversions ORDER BY completed_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			outcome   string
			completed string
		)
		if err := rows.Scan(&entry.ID, &entry.EntityID, &entry.CorrelationID, &entry.Name,
			&entry.SourceFormat, &entry.TargetFormat, &outcome, &entry.Error,
			&entry.EncodedBytes, &entry.Attempts, &completed); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Outcome = Outcome(outcome)
		if ts, parseErr := time.Parse(time.RFC3339Nano, completed); parseErr == nil {
			entry.CompletedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Totals counts journaled conversions grouped by outcome.
func (j *Journal) Totals(ctx context.Context) (Totals, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(1) FROM conversions GROUP BY outcome`)
	if err != nil {
		return Totals{}, fmt.Errorf("journal totals: %w", err)
	}
	defer rows.Close()

	var totals Totals
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return Totals{}, err
		}
		switch Outcome(outcome) {
		case OutcomeOutput:
			totals.Output = count
		case OutcomeFailed:
			totals.Failed = count
		}
	}
	return totals, rows.Err()
}

// Clear deletes every journaled conversion and returns how many were removed.
func (j *Journal) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := j.db.ExecContext(ctx, `DELETE FROM conversions`)
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("clear journal: %w", err)
	}
	return removed, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
