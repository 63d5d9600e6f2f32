// ABOUTME: Key-value state access on SQLiteStore
// ABOUTME: Persists device identity, lamport counter, and the sync cursor

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetValue retrieves a value from the kv table.
// Returns ErrNotFound if the key has never been set.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying kv %q: %w", key, err)
	}
	return value, nil
}

// SetValue stores a value in the kv table, replacing any previous value
func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting kv %q: %w", key, err)
	}
	return nil
}
