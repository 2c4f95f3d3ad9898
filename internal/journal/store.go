package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shuttle/internal/jobs"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, state, source_url, created_at, started_at, finished_at, expired_at, error_message, size_bytes, title, duration_seconds, thumbnail_url"

// Store is the SQLite-backed job journal.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the snapshot.
func (s *Store) Save(ctx context.Context, view jobs.View) error {
	if view.ID == "" {
		return errors.New("journal: job id is required")
	}
	return s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             state = excluded.state,
             source_url = excluded.source_url,
             started_at = excluded.started_at,
             finished_at = excluded.finished_at,
             expired_at = excluded.expired_at,
             error_message = excluded.error_message,
             size_bytes = excluded.size_bytes,
             title = excluded.title,
             duration_seconds = excluded.duration_seconds,
             thumbnail_url = excluded.thumbnail_url,
             updated_at = excluded.updated_at`,
		view.ID,
		string(view.State),
		view.SourceURL,
		formatTime(view.CreatedAt),
		nullableTime(view.StartedAt),
		nullableTime(view.FinishedAt),
		nullableTime(view.ExpiredAt),
		nullableString(view.Error),
		view.SizeBytes,
		nullableString(view.Title),
		view.DurationSeconds,
		nullableString(view.ThumbnailURL),
		formatTime(time.Now()),
	)
}

// Delete removes the snapshot for id. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
}

// LoadAll returns every journaled job ordered by creation time.
func (s *Store) LoadAll(ctx context.Context) ([]jobs.View, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var views []jobs.View
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// Count returns the number of journaled jobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func scanView(scanner interface{ Scan(dest ...any) error }) (jobs.View, error) {
	var (
		id           string
		state        string
		sourceURL    string
		createdRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		expiredRaw   sql.NullString
		errorMessage sql.NullString
		sizeBytes    int64
		title        sql.NullString
		duration     float64
		thumbnail    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&state,
		&sourceURL,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
		&expiredRaw,
		&errorMessage,
		&sizeBytes,
		&title,
		&duration,
		&thumbnail,
	); err != nil {
		return jobs.View{}, fmt.Errorf("scan job: %w", err)
	}

	view := jobs.View{
		ID:              id,
		State:           jobs.State(state),
		SourceURL:       sourceURL,
		Error:           errorMessage.String,
		SizeBytes:       sizeBytes,
		Title:           title.String,
		DurationSeconds: duration,
		ThumbnailURL:    thumbnail.String,
	}
	view.CreatedAt, _ = parseTime(createdRaw)
	view.StartedAt, _ = parseTime(startedRaw.String)
	view.FinishedAt, _ = parseTime(finishedRaw.String)
	view.ExpiredAt, _ = parseTime(expiredRaw.String)
	return view, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
