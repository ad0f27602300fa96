package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_state_store.go -package=mocks docsync/internal/storage StateStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// StateStore records, per relative path, the modification time of the file
// version whose points are currently in the vector store.
type StateStore interface {
	// Get returns the stored modification time for path.
	// Returns ErrNotFound if there is no entry.
	Get(ctx context.Context, path string) (time.Time, error)
	// Set inserts or replaces the entry for path.
	Set(ctx context.Context, path string, modTime time.Time) error
	// Delete removes the entry for path. Deleting a missing entry is not an error.
	Delete(ctx context.Context, path string) error
	// List returns every tracked path in lexical order.
	List(ctx context.Context) ([]string, error)
	// Count returns the number of tracked paths.
	Count(ctx context.Context) (int, error)
}

// StateRepo provides methods for file state operations.
// It implements the StateStore interface.
type StateRepo struct {
	db *sql.DB
}

// NewStateRepo creates a new StateRepo.
func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

// Get returns the stored modification time for path.
func (r *StateRepo) Get(ctx context.Context, path string) (time.Time, error) {
	var nanos int64
	err := r.db.QueryRowContext(ctx,
		"SELECT last_modified FROM files WHERE path = ?", path,
	).Scan(&nanos)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query file state: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// Set inserts or replaces the entry for path.
func (r *StateRepo) Set(ctx context.Context, path string, modTime time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO files (path, last_modified) VALUES (?, ?)
		 ON CONFLICT (path) DO UPDATE SET last_modified = excluded.last_modified`,
		path, modTime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file state: %w", err)
	}
	return nil
}

// Delete removes the entry for path.
func (r *StateRepo) Delete(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete file state: %w", err)
	}
	return nil
}

// List returns every tracked path.
func (r *StateRepo) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list file states: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan file state: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file states: %w", err)
	}
	return paths, nil
}

// Count returns the number of tracked paths.
func (r *StateRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count file states: %w", err)
	}
	return n, nil
}
