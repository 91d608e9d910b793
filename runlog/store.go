// Package runlog keeps a journal of automation runs in SQLite.
package runlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GoCodeAlone/tasksync/automation"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	action             TEXT NOT NULL,
	trigger            TEXT NOT NULL DEFAULT '',
	candidates         INTEGER NOT NULL DEFAULT 0,
	milestones_created INTEGER NOT NULL DEFAULT 0,
	tasks_linked       INTEGER NOT NULL DEFAULT 0,
	duplicates_skipped INTEGER NOT NULL DEFAULT 0,
	synced             INTEGER NOT NULL DEFAULT 0,
	skipped            INTEGER NOT NULL DEFAULT 0,
	errors             INTEGER NOT NULL DEFAULT 0,
	items              TEXT NOT NULL DEFAULT '[]',
	started_at         DATETIME NOT NULL,
	finished_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Action     automation.Action
	FailedOnly bool
	Limit      int
}

// SQLiteStore persists run reports in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the runs table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Record stores a finished run. Recording the same run id twice replaces
// the earlier entry.
func (s *SQLiteStore) Record(r *automation.Report) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	sum := r.Summary
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
			(id, action, trigger, candidates, milestones_created, tasks_linked,
			 duplicates_skipped, synced, skipped, errors, items, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, string(r.Action), r.Trigger,
		sum.Candidates, sum.MilestonesCreated, sum.TasksLinked,
		sum.DuplicatesSkipped, sum.Synced, sum.Skipped, sum.Errors,
		string(items), r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by id, including its items.
func (s *SQLiteStore) Get(id string) (*automation.Report, error) {
	row := s.db.QueryRow(`SELECT * FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// List returns runs matching the filter, newest first.
func (s *SQLiteStore) List(filter Filter) ([]*automation.Report, error) {
	q := strings.Builder{}
	q.WriteString("SELECT * FROM runs WHERE 1=1")
	args := []any{}

	if filter.Action != "" {
		q.WriteString(" AND action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.FailedOnly {
		q.WriteString(" AND errors > 0")
	}
	q.WriteString(" ORDER BY started_at DESC")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*automation.Report
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many went.
func (s *SQLiteStore) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*automation.Report, error) {
	var (
		r      automation.Report
		action string
		items  string
	)
	err := row.Scan(
		&r.RunID, &action, &r.Trigger,
		&r.Summary.Candidates, &r.Summary.MilestonesCreated, &r.Summary.TasksLinked,
		&r.Summary.DuplicatesSkipped, &r.Summary.Synced, &r.Summary.Skipped, &r.Summary.Errors,
		&items, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Action = automation.Action(action)
	if err := json.Unmarshal([]byte(items), &r.Items); err != nil {
		return nil, fmt.Errorf("decode items of run %s: %w", r.RunID, err)
	}
	return &r, nil
}

// Journal records every finished run in a store.
type Journal struct {
	store  *SQLiteStore
	logger *slog.Logger
}

// NewJournal returns an automation.Observer backed by store.
func NewJournal(store *SQLiteStore, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, logger: logger}
}

func (j *Journal) RunStarted(*automation.Report)                   {}
func (j *Journal) ItemDone(*automation.Report, automation.Outcome) {}

func (j *Journal) RunFinished(r *automation.Report) {
	if err := j.store.Record(r); err != nil {
		j.logger.Error("failed to record run", slog.String("run_id", r.RunID), slog.Any("err", err))
	}
}
