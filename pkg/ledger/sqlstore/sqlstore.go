// Package sqlstore persists proof ledger entries through database/sql.
// It works with Postgres (lib/pq) and SQLite (modernc.org/sqlite); both
// drivers are registered by this package.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/qontrek/civos/pkg/contracts"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Timestamps are stored as RFC 3339 text so the content hash survives a round trip.
const schema = `
CREATE TABLE IF NOT EXISTS proof_entries (
	seq BIGINT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	ts TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	classification TEXT,
	context TEXT,
	prev_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
`

// Store implements ledger.Sink and ledger.Source.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens a database for one of the supported drivers and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s := New(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the proof_entries table when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create proof_entries: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write inserts one entry.
func (s *Store) Write(ctx context.Context, e contracts.ProofEntry) error {
	var classification, proofCtx sql.NullString
	if e.Classification != nil {
		raw, err := json.Marshal(e.Classification)
		if err != nil {
			return fmt.Errorf("marshal classification: %w", err)
		}
		classification = sql.NullString{String: string(raw), Valid: true}
	}
	if e.Context != nil {
		raw, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		proofCtx = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO proof_entries (seq, id, type, ts, actor, action, classification, context, prev_hash, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		int64(e.Sequence), e.ID, e.Type, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Actor), e.Action,
		classification, proofCtx, e.PrevHash, e.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("insert proof entry %s: %w", e.ID, err)
	}
	return nil
}

// LoadAll returns every entry ordered by sequence.
func (s *Store) LoadAll(ctx context.Context) ([]contracts.ProofEntry, error) {
	query := `SELECT seq, id, type, ts, actor, action, classification, context, prev_hash, content_hash FROM proof_entries ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query proof entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.ProofEntry, 0)
	for rows.Next() {
		var (
			e                        contracts.ProofEntry
			seq                      int64
			ts, actor                string
			classification, proofCtx sql.NullString
		)
		if err := rows.Scan(&seq, &e.ID, &e.Type, &ts, &actor, &e.Action, &classification, &proofCtx, &e.PrevHash, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("scan proof entry: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Actor = contracts.Actor(actor)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", e.ID, err)
		}
		if classification.Valid {
			var c contracts.ClassificationResult
			if err := json.Unmarshal([]byte(classification.String), &c); err != nil {
				return nil, fmt.Errorf("decode classification of %s: %w", e.ID, err)
			}
			e.Classification = &c
		}
		if proofCtx.Valid {
			if err := json.Unmarshal([]byte(proofCtx.String), &e.Context); err != nil {
				return nil, fmt.Errorf("decode context of %s: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
