package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores records in a SQLite database file.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Records left in a non-terminal state by a previous
// process are marked failed. path may be ":memory:".
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	r := &SQLiteRepository{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := r.markInterrupted(); err != nil {
		logger.Warn("failed to mark interrupted merges", slog.String("error", err.Error()))
	}
	return r, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if r.applied(name) {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := r.db.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		r.logger.Info("applied migration", slog.String("name", name))
	}
	return nil
}

func (r *SQLiteRepository) applied(name string) bool {
	var n int
	if err := r.db.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&n); err != nil {
		return false
	}
	err := r.db.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&n)
	return err == nil && n == 1
}

func (r *SQLiteRepository) markInterrupted() error {
	now := formatTime(time.Now())
	_, err := r.db.Exec(
		`UPDATE merges SET state = 'FAILED', error_kind = 'UNKNOWN', error = 'interrupted by restart',
		 updated_at = ?, completed_at = ? WHERE state NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')`,
		now, now)
	return err
}

func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO merges (id, action_key, backend, inputs, state, progress, output, duration_seconds,
			push_to_s3, s3_url, error_kind, error, upload_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action_key = excluded.action_key,
			backend = excluded.backend,
			inputs = excluded.inputs,
			state = excluded.state,
			progress = excluded.progress,
			output = excluded.output,
			duration_seconds = excluded.duration_seconds,
			push_to_s3 = excluded.push_to_s3,
			s3_url = excluded.s3_url,
			error_kind = excluded.error_kind,
			error = excluded.error,
			upload_error = excluded.upload_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		rec.ID, rec.ActionKey, rec.Backend, string(inputs), rec.State, rec.Progress, rec.Output,
		rec.DurationSeconds, rec.PushToS3, rec.S3URL, rec.ErrorKind, rec.Error, rec.UploadError,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save merge %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, action_key, backend, inputs, state, progress, output, duration_seconds,
	push_to_s3, s3_url, error_kind, error, upload_error, created_at, updated_at, completed_at FROM merges`

func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find merge %s: %w", id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM merges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete merge %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete merge %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec                         Record
		inputs                      string
		created, updated, completed string
	)
	if err := s.Scan(&rec.ID, &rec.ActionKey, &rec.Backend, &inputs, &rec.State, &rec.Progress,
		&rec.Output, &rec.DurationSeconds, &rec.PushToS3, &rec.S3URL, &rec.ErrorKind, &rec.Error,
		&rec.UploadError, &created, &updated, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseTime(completed); err != nil {
		return nil, err
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
