// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/turn persistence with staged schema migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema versions, applied in order via PRAGMA user_version. Older databases
// are upgraded in place without data loss.
const (
	schemaVersionBase      = 1 // conversations + turns
	schemaVersionDocuments = 2 // RAG document side-store
	schemaVersionSync      = 3 // kv state + outbox
	schemaVersionCurrent   = schemaVersionSync
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens or creates a database at the given path.
// Safe to call repeatedly on the same path: the schema is created on first
// run and upgraded in staged migrations on subsequent runs.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so the driver applies them to every pooled
	// connection, not just the first one opened. foreign_keys is
	// per-connection in SQLite; a plain Exec would leave it off on any
	// connection the pool opens later and break ON DELETE CASCADE there.
	// WAL mode for better concurrent read performance.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// migrate applies staged schema upgrades. Each stage bumps PRAGMA user_version,
// so a database created by an older build gains the newer tables on next open.
func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	stages := []struct {
		version int
		schema  string
	}{
		{
			version: schemaVersionBase,
			schema: `
				CREATE TABLE IF NOT EXISTS conversations (
					id         TEXT PRIMARY KEY,
					name       TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS turns (
					id                 TEXT PRIMARY KEY,
					conversation_id    TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
					timestamp          INTEGER NOT NULL,
					user_transcript    TEXT,
					assistant_response TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_turns_conversation_ts
					ON turns(conversation_id, timestamp);
			`,
		},
		{
			version: schemaVersionDocuments,
			schema: `
				CREATE TABLE IF NOT EXISTS documents (
					id         TEXT PRIMARY KEY,
					title      TEXT,
					content    TEXT NOT NULL,
					created_at TEXT NOT NULL
				);
			`,
		},
		{
			version: schemaVersionSync,
			schema: `
				CREATE TABLE IF NOT EXISTS kv (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS outbox (
					op_id     TEXT PRIMARY KEY,
					device_id TEXT NOT NULL,
					type      TEXT NOT NULL,
					lamport   INTEGER NOT NULL,
					ts        INTEGER NOT NULL,
					body      TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_outbox_ts ON outbox(ts);
			`,
		},
	}

	for _, stage := range stages {
		if version >= stage.version {
			continue
		}
		if _, err := s.db.Exec(stage.schema); err != nil {
			return fmt.Errorf("applying schema stage %d: %w", stage.version, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", stage.version)); err != nil {
			return fmt.Errorf("bumping schema version to %d: %w", stage.version, err)
		}
		s.logger.Info("applied schema stage", "version", stage.version)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a new conversation record.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Name,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "name", conv.Name)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT id, name, created_at, updated_at FROM conversations WHERE id = ?`

	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.Name,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// ListConversations returns all conversations ordered by most recent activity
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `SELECT id, name, created_at, updated_at FROM conversations ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&conv.ID, &conv.Name, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// RenameConversation updates a conversation's name.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, name string) error {
	query := `UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, name, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("renamed conversation", "id", id, "name", name)
	return nil
}

// TouchConversation bumps a conversation's updated_at timestamp.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		updatedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and all of its turns.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// DeleteAllConversations removes every conversation and turn
func (s *SQLiteStore) DeleteAllConversations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}
	s.logger.Debug("deleted all conversations")
	return nil
}

// SaveTurn inserts a new turn
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *Turn) error {
	query := `
		INSERT INTO turns (id, conversation_id, timestamp, user_transcript, assistant_response)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.Timestamp.UnixMilli(),
		nullString(turn.UserTranscript),
		nullString(turn.AssistantResponse),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("saved turn", "id", turn.ID, "conversation_id", turn.ConversationID)
	return nil
}

// UpsertTurn inserts a turn, or replaces its content if the ID already exists.
// Re-applying the same turn is a no-op with respect to final state, which is
// what makes remote op application idempotent.
func (s *SQLiteStore) UpsertTurn(ctx context.Context, turn *Turn) error {
	query := `
		INSERT INTO turns (id, conversation_id, timestamp, user_transcript, assistant_response)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id    = excluded.conversation_id,
			timestamp          = excluded.timestamp,
			user_transcript    = excluded.user_transcript,
			assistant_response = excluded.assistant_response
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.Timestamp.UnixMilli(),
		nullString(turn.UserTranscript),
		nullString(turn.AssistantResponse),
	)
	if err != nil {
		return fmt.Errorf("upserting turn: %w", err)
	}
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetConversationTurns retrieves all turns for a conversation in chronological order
func (s *SQLiteStore) GetConversationTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	query := `
		SELECT id, conversation_id, timestamp, user_transcript, assistant_response
		FROM turns
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

// scanTurn reads one turn row, handling nullable content columns
func scanTurn(rows *sql.Rows) (*Turn, error) {
	var turn Turn
	var tsMillis int64
	var userTranscript, assistantResponse sql.NullString

	if err := rows.Scan(&turn.ID, &turn.ConversationID, &tsMillis, &userTranscript, &assistantResponse); err != nil {
		return nil, fmt.Errorf("scanning turn row: %w", err)
	}

	turn.Timestamp = time.UnixMilli(tsMillis).UTC()
	if userTranscript.Valid {
		turn.UserTranscript = userTranscript.String
	}
	if assistantResponse.Valid {
		turn.AssistantResponse = assistantResponse.String
	}
	return &turn, nil
}

// CountConversationTurns returns the number of turns in a conversation
func (s *SQLiteStore) CountConversationTurns(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return count, nil
}

// TrimConversationTurns deletes the oldest turns of a conversation until at most
// max remain. The count and delete run in one transaction so two concurrent trims
// on the same conversation cannot interleave destructively.
// Returns the number of turns deleted.
func (s *SQLiteStore) TrimConversationTurns(ctx context.Context, conversationID string, max int) (int, error) {
	if max < 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning trim transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}

	excess := count - max
	if excess <= 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM turns
		WHERE id IN (
			SELECT id FROM turns
			WHERE conversation_id = ?
			ORDER BY timestamp ASC
			LIMIT ?
		)
	`, conversationID, excess)
	if err != nil {
		return 0, fmt.Errorf("deleting excess turns: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing trim transaction: %w", err)
	}

	s.logger.Debug("trimmed conversation turns",
		"conversation_id", conversationID, "deleted", deleted, "max", max)
	return int(deleted), nil
}

// SaveDocument inserts a document into the side-store
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, created_at)
		VALUES (?, ?, ?, ?)
	`, doc.ID, nullString(doc.Title), doc.Content, doc.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// ListDocuments returns all documents ordered by creation time
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, created_at FROM documents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var title sql.NullString
		var createdAtStr string

		if err := rows.Scan(&doc.ID, &title, &doc.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		if title.Valid {
			doc.Title = title.String
		}
		doc.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// DeleteAllData removes conversations, turns, documents and the outbox.
// KV state (device identity, lamport counter, cursor) is preserved: it belongs
// to the install, not to the conversation data.
func (s *SQLiteStore) DeleteAllData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning wipe transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM turns`,
		`DELETE FROM conversations`,
		`DELETE FROM documents`,
		`DELETE FROM outbox`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("wiping data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing wipe transaction: %w", err)
	}

	s.logger.Info("cleared all local data")
	return nil
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
