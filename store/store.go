// Package store persists runs and their avalanche reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pthm-cable/sandpile/systems"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

type DB struct {
	*sql.DB
}

// Run is one simulation run.
type Run struct {
	ID        string
	Seed      int64
	XSize     int
	YSize     int
	ZSize     int
	Grains    int
	Replica   int
	CreatedAt time.Time
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas in force and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			seed              BIGINT,
			x_size            INTEGER,
			y_size            INTEGER,
			z_size            INTEGER,
			grains            INTEGER,
			replica           INTEGER,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS avalanches (
			run_id            TEXT,
			avalanche_id      BIGINT,
			x                 INTEGER,
			y                 INTEGER,
			grains_involved   INTEGER,
			movement          INTEGER,
			topples           INTEGER,
			escaped           INTEGER,
			jammed            INTEGER,
			passes            INTEGER,
			incomplete        BOOLEAN,
			PRIMARY KEY(run_id, avalanche_id),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db}, nil
}

// CreateRun inserts a run row with a fresh id and returns it.
func (db *DB) CreateRun(ctx context.Context, r Run) (Run, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, seed, x_size, y_size, z_size, grains, replica, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Seed, r.XSize, r.YSize, r.ZSize, r.Grains, r.Replica, r.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// InsertAvalanches writes a batch of reports for runID in one transaction.
func (db *DB) InsertAvalanches(ctx context.Context, runID string, reports []systems.Report) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO avalanches (run_id, avalanche_id, x, y, grains_involved, movement, topples, escaped, jammed, passes, incomplete)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range reports {
		if _, err := stmt.ExecContext(ctx, runID, int64(r.AvalancheID), r.X, r.Y,
			r.TotalGrainsInvolved, r.TotalMovement, r.Topples, r.Escaped, r.Jammed, r.Passes, r.Incomplete); err != nil {
			return fmt.Errorf("inserting avalanche %d: %w", r.AvalancheID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadAvalanches returns every report of runID in avalanche order.
func (db *DB) LoadAvalanches(ctx context.Context, runID string) ([]systems.Report, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT avalanche_id, x, y, grains_involved, movement, topples, escaped, jammed, passes, incomplete
		 FROM avalanches WHERE run_id = ? ORDER BY avalanche_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying avalanches: %w", err)
	}
	defer rows.Close()

	var out []systems.Report
	for rows.Next() {
		var r systems.Report
		var id int64
		if err := rows.Scan(&id, &r.X, &r.Y, &r.TotalGrainsInvolved, &r.TotalMovement,
			&r.Topples, &r.Escaped, &r.Jammed, &r.Passes, &r.Incomplete); err != nil {
			return nil, fmt.Errorf("scanning avalanche: %w", err)
		}
		r.AvalancheID = uint64(id)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	err := db.QueryRowContext(ctx,
		`SELECT run_id, seed, x_size, y_size, z_size, grains, replica, created_at FROM runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.Seed, &r.XSize, &r.YSize, &r.ZSize, &r.Grains, &r.Replica, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run, oldest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, seed, x_size, y_size, z_size, grains, replica, created_at FROM runs ORDER BY created_at, replica`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Seed, &r.XSize, &r.YSize, &r.ZSize, &r.Grains, &r.Replica, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetGrains updates the dropped grain count of a finished run.
func (db *DB) SetGrains(ctx context.Context, runID string, grains int) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET grains = ? WHERE run_id = ?`, grains, runID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}
