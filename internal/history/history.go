// Package history keeps a SQLite log of validation runs so regressions in
// the running config can be traced to the run that first saw them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lc/confcheck/internal/validator"
)

// ErrNotFound is returned when a run ID is not in the store.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	pass        INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	grp      TEXT NOT NULL,
	label    TEXT NOT NULL,
	path     TEXT NOT NULL,
	status   TEXT NOT NULL,
	code     TEXT NOT NULL,
	reason   TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run summarizes one recorded validation run.
type Run struct {
	ID        string
	Source    string
	StartedAt time.Time
	Duration  time.Duration
	Pass      bool
	Passed    int
	Failed    int
}

// Failure is one failing rule of a recorded run.
type Failure struct {
	Group  string
	Label  string
	Path   string
	Code   validator.Code
	Reason string
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path cannot be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores rep and its failing results.
func (s *Store) Record(ctx context.Context, rep *validator.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	passed, failed := rep.Counts()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at, duration_us, pass, passed, failed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.Source, rep.StartedAt.UnixMicro(), rep.Duration.Microseconds(), boolInt(rep.Pass), passed, failed,
	); err != nil {
		return fmt.Errorf("recording run %s: %w", rep.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (run_id, position, grp, label, path, status, code, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()

	for i, res := range rep.Results {
		if res.Passed() {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			rep.ID, i, res.Rule.Group, res.Rule.Label, res.Rule.Path.String(),
			string(res.Status), string(res.Code), res.Reason,
		); err != nil {
			return fmt.Errorf("recording result %s: %w", res.Rule, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", rep.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, started_at, duration_us, pass, passed, failed
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r              Run
			started, durUS int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &started, &durUS, &r.Pass, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.UnixMicro(started).UTC()
		r.Duration = time.Duration(durUS) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Failures returns the failing results of run id in declaration order.
func (s *Store) Failures(ctx context.Context, id string) ([]Failure, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT grp, label, path, code, reason FROM results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f    Failure
			code string
		)
		if err := rows.Scan(&f.Group, &f.Label, &f.Path, &code, &f.Reason); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		f.Code = validator.Code(code)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	// Results of pruned runs go too, whether or not the connection enforces
	// foreign keys.
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return 0, fmt.Errorf("pruning history results: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
