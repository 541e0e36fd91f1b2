package writer

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// DuckDBWriter persists bars into a local DuckDB file keyed by symbol and
// granularity. Re-downloading a range replaces overlapping rows, so the cache
// stays duplicate free.
type DuckDBWriter struct {
	path        string
	symbol      string
	granularity types.Granularity

	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewDuckDBWriter creates a writer appending to the database at path.
func NewDuckDBWriter(path, symbol string, granularity types.Granularity) *DuckDBWriter {
	return &DuckDBWriter{
		path:        path,
		symbol:      symbol,
		granularity: granularity,
	}
}

// Initialize opens the database, creates the bars table, and starts the
// insert transaction.
func (w *DuckDBWriter) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to create output directory", err)
	}

	db, err := sql.Open("duckdb", w.path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to open duckdb database", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			granularity TEXT NOT NULL,
			open_time TIMESTAMP NOT NULL,
			close_time TIMESTAMP NOT NULL,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			PRIMARY KEY (symbol, granularity, close_time)
		)
	`)
	if err != nil {
		db.Close()

		return errors.Wrap(errors.ErrCodeUnknown, "failed to create bars table", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()

		return errors.Wrap(errors.ErrCodeUnknown, "failed to begin transaction", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, granularity, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		db.Close()

		return errors.Wrap(errors.ErrCodeUnknown, "failed to prepare insert statement", err)
	}

	w.db = db
	w.tx = tx
	w.stmt = stmt

	return nil
}

// Write inserts one bar inside the open transaction.
func (w *DuckDBWriter) Write(bar types.Bar) error {
	if w.stmt == nil {
		return errors.New(errors.ErrCodeUnknown, "duckdb writer is not initialized")
	}

	_, err := w.stmt.Exec(
		w.symbol,
		string(w.granularity),
		bar.OpenTime.UTC(),
		bar.CloseTime.UTC(),
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to insert bar", err)
	}

	return nil
}

// Finalize commits the transaction and returns the database path.
func (w *DuckDBWriter) Finalize() (string, error) {
	if w.tx == nil {
		return "", errors.New(errors.ErrCodeUnknown, "duckdb writer is not initialized")
	}

	if err := w.stmt.Close(); err != nil {
		return "", errors.Wrap(errors.ErrCodeUnknown, "failed to close insert statement", err)
	}

	w.stmt = nil

	if err := w.tx.Commit(); err != nil {
		return "", errors.Wrap(errors.ErrCodeUnknown, "failed to commit transaction", err)
	}

	w.tx = nil

	return w.path, nil
}

// Close rolls back any open transaction and closes the database.
func (w *DuckDBWriter) Close() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
		w.stmt = nil
	}

	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}

	if w.db == nil {
		return nil
	}

	err := w.db.Close()
	w.db = nil

	return err
}
