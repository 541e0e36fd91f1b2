// Package audit keeps an append-only record of every trade the engine places,
// for post-session review and recovery diagnostics.
package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Outcome is how a recorded trade ended.
type Outcome string

const (
	OutcomeOpen      Outcome = "OPEN"
	OutcomeTarget    Outcome = "TARGET"
	OutcomeStopLoss  Outcome = "STOP_LOSS"
	OutcomeForceExit Outcome = "FORCE_EXIT"
	OutcomeUnknown   Outcome = "UNKNOWN"
)

// Entry is one audited trade.
type Entry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Instrument string          `json:"instrument"`
	Bias       string          `json:"bias"`
	OrderID    string          `json:"order_id"`
	Entry      decimal.Decimal `json:"entry"`
	Stop       decimal.Decimal `json:"stop"`
	Target     decimal.Decimal `json:"target"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Outcome    Outcome         `json:"outcome"`
	Details    string          `json:"details"`
}

// Recorder is the audit surface the trading loop writes through.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	MarkOutcome(ctx context.Context, id string, exitPrice decimal.Decimal, outcome Outcome) error
	TradesOn(ctx context.Context, date time.Time) ([]Entry, error)
	Close() error
}

// NopRecorder discards everything; used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }

func (NopRecorder) MarkOutcome(context.Context, string, decimal.Decimal, Outcome) error { return nil }

func (NopRecorder) TradesOn(context.Context, time.Time) ([]Entry, error) { return nil, nil }

func (NopRecorder) Close() error { return nil }

var _ Recorder = NopRecorder{}

// DuckDBStore persists audit entries in a DuckDB file.
type DuckDBStore struct {
	mu sync.Mutex
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the audit database at path and ensures
// the schema exists. ":memory:" is accepted for tests.
func NewDuckDBStore(path string) (*DuckDBStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to create audit directory", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to open audit database", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP,
			instrument TEXT,
			bias TEXT,
			order_id TEXT,
			entry_price DOUBLE,
			stop_price DOUBLE,
			target_price DOUBLE,
			exit_price DOUBLE,
			outcome TEXT,
			details TEXT
		)
	`)
	if err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to create trades table", err)
	}

	return &DuckDBStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Record appends one trade entry.
func (s *DuckDBStore) Record(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := s.sq.Insert("trades").
		Columns("id", "timestamp", "instrument", "bias", "order_id",
			"entry_price", "stop_price", "target_price", "exit_price",
			"outcome", "details").
		Values(entry.ID, entry.Timestamp, entry.Instrument, entry.Bias, entry.OrderID,
			entry.Entry.InexactFloat64(), entry.Stop.InexactFloat64(),
			entry.Target.InexactFloat64(), entry.ExitPrice.InexactFloat64(),
			string(entry.Outcome), entry.Details).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to build audit insert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to record trade", err)
	}

	return nil
}

// MarkOutcome closes out a previously recorded trade.
func (s *DuckDBStore) MarkOutcome(ctx context.Context, id string, exitPrice decimal.Decimal, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := s.sq.Update("trades").
		Set("exit_price", exitPrice.InexactFloat64()).
		Set("outcome", string(outcome)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to build audit update", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to mark trade outcome", err)
	}

	return nil
}

// TradesOn returns every trade recorded on the calendar day of date, in the
// date's location, oldest first.
func (s *DuckDBStore) TradesOn(ctx context.Context, date time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query, args, err := s.sq.Select("id", "timestamp", "instrument", "bias", "order_id",
		"entry_price", "stop_price", "target_price", "exit_price",
		"outcome", "details").
		From("trades").
		Where(squirrel.And{
			squirrel.GtOrEq{"timestamp": dayStart},
			squirrel.Lt{"timestamp": dayEnd},
		}).
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to build audit select", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			entry                                         Entry
			entryPrice, stopPrice, targetPrice, exitPrice float64
			outcome                                       string
		)

		err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Instrument, &entry.Bias,
			&entry.OrderID, &entryPrice, &stopPrice, &targetPrice, &exitPrice,
			&outcome, &entry.Details)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to scan trade row", err)
		}

		entry.Entry = decimal.NewFromFloat(entryPrice)
		entry.Stop = decimal.NewFromFloat(stopPrice)
		entry.Target = decimal.NewFromFloat(targetPrice)
		entry.ExitPrice = decimal.NewFromFloat(exitPrice)
		entry.Outcome = Outcome(outcome)

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAuditWriteFailed, "failed to iterate trade rows", err)
	}

	return entries, nil
}

// Close releases the database.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}

var _ Recorder = (*DuckDBStore)(nil)
