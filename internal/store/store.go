// Package store persists user data (watchlist) and the append-only audit
// trail of analysis records. Everything else in the system is re-derivable
// from upstream and stays in memory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/jmcasey/stockdash/internal/analysis"
	"github.com/jmcasey/stockdash/internal/marketdata"
)

// WatchEntry is one watchlist row.
type WatchEntry struct {
	Symbol  string    `json:"symbol"`
	AddedAt time.Time `json:"added_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS watchlist (
	symbol   TEXT PRIMARY KEY,
	added_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	generated_at  TEXT NOT NULL,
	superseded_at TEXT,
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_symbol ON analyses(symbol, generated_at DESC);
`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AddWatch inserts symbol into the watchlist. Adding an existing symbol is
// a no-op.
func (s *Store) AddWatch(symbol string, at time.Time) error {
	sym := marketdata.NormalizeSymbol(symbol)
	if sym == "" {
		return marketdata.ErrInput("watchlist_add", symbol, "empty symbol")
	}
	_, err := s.db.Exec(
		`INSERT INTO watchlist (symbol, added_at) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING`,
		sym, at.UTC().Format(time.RFC3339),
	)
	return err
}

// RemoveWatch deletes symbol from the watchlist.
func (s *Store) RemoveWatch(symbol string) error {
	_, err := s.db.Exec(`DELETE FROM watchlist WHERE symbol = ?`, marketdata.NormalizeSymbol(symbol))
	return err
}

// Watchlist returns all watched symbols, oldest first.
func (s *Store) Watchlist() ([]WatchEntry, error) {
	rows, err := s.db.Query(`SELECT symbol, added_at FROM watchlist ORDER BY added_at, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchEntry
	for rows.Next() {
		var e WatchEntry
		var added string
		if err := rows.Scan(&e.Symbol, &added); err != nil {
			return nil, err
		}
		e.AddedAt, _ = time.Parse(time.RFC3339, added)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendAnalysis stores a freshly generated record in the audit trail.
func (s *Store) AppendAnalysis(rec analysis.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO analyses (id, symbol, generated_at, payload) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.GeneratedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	return err
}

// MarkSuperseded stamps the record as replaced. Superseded records are
// kept so the prior analysis can be diffed against its replacement.
func (s *Store) MarkSuperseded(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE analyses SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), id,
	)
	return err
}

// History returns the most recent records for symbol, newest first,
// superseded ones included.
func (s *Store) History(symbol string, limit int) ([]analysis.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT payload FROM analyses WHERE symbol = ? ORDER BY generated_at DESC LIMIT ?`,
		marketdata.NormalizeSymbol(symbol), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analysis.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec analysis.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// A corrupt row should not take the whole history down.
			s.log.Warn().Err(err).Msg("skipping unreadable analysis row")
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Latest returns the newest record for symbol, or nil.
func (s *Store) Latest(symbol string) (*analysis.Record, error) {
	recs, err := s.History(symbol, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}
