// Package store is the SQLite-backed persistent download_task table.
// It is modeled on internal/download/state/state.go and
// internal/engine/state/state.go in the teacher repo, using plain INSERT
// and single-statement UPDATE/DELETE calls. Those files call a withTx helper
// and a getDBHelper function whose definitions were not present anywhere in
// the retrieval pack; withTx below is reconstructed from the shape of those
// call sites.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/synodriver/pygetex/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS download_task (
	id TEXT PRIMARY KEY,
	uri TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	path TEXT NOT NULL,
	support_range INTEGER NOT NULL,
	options TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	status TEXT NOT NULL,
	speed REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_download_task_status ON download_task(status);
`

// Store wraps a *sql.DB open against a sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dsn and ensures
// the download_task table exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, as the teacher's state package assumes
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeOptions(o task.Options) (string, error) {
	if o == nil {
		o = task.Options{}
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOptions(s string) (task.Options, error) {
	if s == "" {
		return task.Options{}, nil
	}
	var o task.Options
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return nil, err
	}
	return o, nil
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// Insert adds a new task row. Tasks are created via core.Add so the ID is
// already set.
func (s *Store) Insert(ctx context.Context, t *task.Task) error {
	opts, err := encodeOptions(t.Options)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO download_task
				(id, uri, file_size, path, support_range, options, start_time, end_time, status, speed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.URI, t.FileSize, t.Path, boolToInt(t.SupportRange), opts,
			t.StartTime.Unix(), unixPtr(t.EndTime), string(t.Status), t.Speed)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*task.Task, error) {
	var (
		t          task.Task
		supportInt int
		optsStr    string
		start      int64
		end        sql.NullInt64
		status     string
	)
	if err := row.Scan(&t.ID, &t.URI, &t.FileSize, &t.Path, &supportInt, &optsStr,
		&start, &end, &status, &t.Speed); err != nil {
		return nil, err
	}
	t.SupportRange = supportInt != 0
	t.StartTime = time.Unix(start, 0)
	if end.Valid {
		et := time.Unix(end.Int64, 0)
		t.EndTime = &et
	}
	t.Status = task.Status(status)
	opts, err := decodeOptions(optsStr)
	if err != nil {
		return nil, err
	}
	t.Options = opts
	return &t, nil
}

const selectCols = `id, uri, file_size, path, support_range, options, start_time, end_time, status, speed`

// Get fetches a single task by id. Returns sql.ErrNoRows if absent.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM download_task WHERE id = ?`, id)
	return scanTask(row)
}

// ListByStatus returns all tasks with the given status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM download_task WHERE status = ? ORDER BY start_time ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAll returns every task row, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM download_task ORDER BY start_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PathExists reports whether a path is already referenced by any row,
// whatever its status, used by the collision-avoiding path resolution in
// core.Add.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM download_task WHERE path = ?`, path).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus sets status (and end_time, when the new status is terminal)
// for a single row.
func (s *Store) UpdateStatus(ctx context.Context, id string, status task.Status) error {
	return s.withTx(func(tx *sql.Tx) error {
		var endTime any
		if status.IsTerminal() {
			endTime = time.Now().Unix()
		}
		_, err := tx.ExecContext(ctx, `UPDATE download_task SET status = ?, end_time = COALESCE(?, end_time) WHERE id = ?`,
			string(status), endTime, id)
		return err
	})
}

// UpdateSpeed sets the last-sampled speed for a row (see collector).
func (s *Store) UpdateSpeed(ctx context.Context, id string, speed float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE download_task SET speed = ? WHERE id = ?`, speed, id)
	return err
}

// UpdateOptions replaces a task's stored options with a single-row update,
// resolving spec.md's open question on ChangeOption: one UPDATE statement,
// matching pygetex's single session.commit() per call.
func (s *Store) UpdateOptions(ctx context.Context, id string, opts task.Options) error {
	encoded, err := encodeOptions(opts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE download_task SET options = ? WHERE id = ?`, encoded, id)
	return err
}

// Delete removes a row outright (used by Remove).
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM download_task WHERE id = ?`, id)
	return err
}

// PurgeTerminal deletes every row whose status is complete or error, as a
// single statement. Stopped rows are deliberately left alone: a user who
// stopped a download is expected to still see it listed.
func (s *Store) PurgeTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_task WHERE status IN (?, ?)`,
		string(task.StatusComplete), string(task.StatusError))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
