// Package snapstore persists snapshot metadata so cache entries survive a
// process restart.
//
// The store is derived data: on schema mismatch it is dropped and recreated,
// and callers treat a missing record as "never computed".
package snapstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the database file name inside the cache directory.
const FileName = "snapshots.sqlite"

// Outcome names the terminal result of a compute attempt.
type Outcome string

// Persisted outcomes.
const (
	OutcomeValue     Outcome = "value"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrClosed indicates the store was used after [Store.Close].
var ErrClosed = errors.New("snapstore: closed")

// Record is the persisted form of one entry's latest snapshot.
type Record struct {
	ID        string // storage key, relative to the cache directory
	Cache     string // human-readable definition identity
	Path      string
	Outcome   Outcome
	Failure   string
	Input     string
	Hash      string
	Size      int64
	Attempt   string
	Updated   time.Time
	Refreshed time.Time
	Cost      time.Duration
}

// Store holds the SQLite handle for one cache directory.
type Store struct {
	path string
	sql  *sql.DB
}

// Open creates or opens the snapshot database inside dir.
// If the schema version is missing or mismatched, the table is rebuilt empty.
func Open(ctx context.Context, dir string) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("open snapstore: context is nil")
	}

	if dir == "" {
		return nil, errors.New("open snapstore: directory is empty")
	}

	dir = filepath.Clean(dir)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open snapstore: create directory: %w", err)
	}

	path := filepath.Join(dir, FileName)

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open snapstore: %w", err)
	}

	version, err := storedSchemaVersion(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open snapstore: %w", err)
	}

	if version != schemaVersion {
		err = recreateSchema(ctx, db)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("open snapstore: %w", err)
		}
	}

	return &Store{path: path, sql: db}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}

	err := s.sql.Close()
	s.sql = nil

	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// Save inserts or replaces the record for rec.ID.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil || s.sql == nil {
		return ErrClosed
	}

	_, err := s.sql.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (
			id,
			cache,
			path,
			outcome,
			failure,
			input,
			hash,
			size,
			attempt,
			updated_ns,
			refreshed_ns,
			cost_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Cache,
		rec.Path,
		string(rec.Outcome),
		rec.Failure,
		rec.Input,
		rec.Hash,
		rec.Size,
		rec.Attempt,
		rec.Updated.UnixNano(),
		rec.Refreshed.UnixNano(),
		int64(rec.Cost),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", rec.ID, err)
	}

	return nil
}

const selectColumns = `
	SELECT id, cache, path, outcome, failure, input, hash, size, attempt,
		updated_ns, refreshed_ns, cost_ns
	FROM snapshots`

// Load returns the record for id. The boolean is false when none exists.
func (s *Store) Load(ctx context.Context, id string) (Record, bool, error) {
	if s == nil || s.sql == nil {
		return Record{}, false, ErrClosed
	}

	row := s.sql.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}

	if err != nil {
		return Record{}, false, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	return rec, true, nil
}

// List returns every record whose ID starts with prefix, most recently
// refreshed first. An empty prefix lists everything.
func (s *Store) List(ctx context.Context, prefix string) ([]Record, error) {
	if s == nil || s.sql == nil {
		return nil, ErrClosed
	}

	rows, err := s.sql.QueryContext(ctx,
		selectColumns+" WHERE substr(id, 1, ?) = ? ORDER BY refreshed_ns DESC, id",
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []Record

	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list snapshots: %w", scanErr)
		}

		out = append(out, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return out, nil
}

// Delete removes the record for id, if any.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s == nil || s.sql == nil {
		return ErrClosed
	}

	_, err := s.sql.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                          Record
		outcome                      string
		updatedNs, refreshedNs, cost int64
	)

	err := row.Scan(
		&rec.ID,
		&rec.Cache,
		&rec.Path,
		&outcome,
		&rec.Failure,
		&rec.Input,
		&rec.Hash,
		&rec.Size,
		&rec.Attempt,
		&updatedNs,
		&refreshedNs,
		&cost,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Outcome = Outcome(strings.ToLower(outcome))
	rec.Updated = time.Unix(0, updatedNs)
	rec.Refreshed = time.Unix(0, refreshedNs)
	rec.Cost = time.Duration(cost)

	return rec, nil
}
