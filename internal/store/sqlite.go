package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/tether/internal/model"

	_ "modernc.org/sqlite"
)

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    mode         TEXT NOT NULL,
    payload      BLOB,
    result       BLOB,
    error        TEXT,
    was_canceled INTEGER NOT NULL DEFAULT 0,
    progress     REAL,
    reason       TEXT,
    created_at   DATETIME NOT NULL,
    settled_at   DATETIME
)`

// ErrNotFound is returned when a request is not found.
var ErrNotFound = errors.New("request not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRequestsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create requests table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRequest inserts a new request record.
func (s *SQLiteStore) CreateRequest(ctx context.Context, r *model.Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (
			id, status, mode, payload, result, error, was_canceled,
			progress, reason, created_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Mode, []byte(r.Payload), []byte(r.Result), r.Error,
		r.WasCanceled, r.Progress, r.Reason, r.CreatedAt, r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, mode, payload, result, error, was_canceled,
			progress, reason, created_at, settled_at
		FROM requests WHERE id = ?`, id,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// ListRequests returns a paginated list of requests ordered by created_at DESC,
// along with the total count of all requests.
func (s *SQLiteStore) ListRequests(ctx context.Context, limit, offset int) ([]*model.Request, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, mode, payload, result, error, was_canceled,
			progress, reason, created_at, settled_at
		FROM requests ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate requests: %w", err)
	}

	return requests, total, nil
}

// UpdateRequestProgress records the latest progress percentage for a pending
// request. Settled requests keep their final progress value.
func (s *SQLiteStore) UpdateRequestProgress(ctx context.Context, id string, pct float64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE requests SET progress = ? WHERE id = ? AND status = ?",
		pct, id, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("update request progress: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SettleRequest records a terminal outcome for a pending request: status,
// result or error, cancellation flag, reason, and settled_at. A request that
// already settled is left untouched and ErrNotFound is returned, so the first
// recorded outcome always wins.
func (s *SQLiteStore) SettleRequest(ctx context.Context, r *model.Request) error {
	if !model.Terminal(r.Status) {
		return fmt.Errorf("settle request: %q is not a terminal status", r.Status)
	}

	settledAt := time.Now().UTC()
	if r.SettledAt != nil {
		settledAt = *r.SettledAt
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE requests
		SET status = ?, result = ?, error = ?, was_canceled = ?, reason = ?, settled_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, []byte(r.Result), r.Error, r.WasCanceled, r.Reason, settledAt,
		r.ID, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("settle request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*model.Request, error) {
	r := &model.Request{}
	var payload, result []byte
	if err := row.Scan(
		&r.ID, &r.Status, &r.Mode, &payload, &result, &r.Error, &r.WasCanceled,
		&r.Progress, &r.Reason, &r.CreatedAt, &r.SettledAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		r.Payload = payload
	}
	if len(result) > 0 {
		r.Result = result
	}
	return r, nil
}
