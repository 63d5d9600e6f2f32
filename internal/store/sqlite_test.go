// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversation CRUD, turn ordering, upsert idempotence, trim, and export

package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeConversation(id string) *Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return &Conversation{
		ID:        id,
		Name:      "Conversation " + id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_CreateConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.CreateConversation(ctx, makeConversation("conv-1"))
	require.NoError(t, err)

	retrieved, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", retrieved.ID)
	assert.Equal(t, "Conversation conv-1", retrieved.Name)
}

func TestStore_CreateConversation_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))

	err := store.CreateConversation(ctx, makeConversation("conv-1"))
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RenameConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, store.RenameConversation(ctx, "conv-1", "Renamed"))

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", conv.Name)

	err = store.RenameConversation(ctx, "missing", "Whatever")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_TurnOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))

	base := time.Now().UTC()
	// Insert out of order, expect chronological retrieval
	for _, offset := range []int{2, 0, 1} {
		turn := &Turn{
			ID:             fmt.Sprintf("turn-%d", offset),
			ConversationID: "conv-1",
			Timestamp:      base.Add(time.Duration(offset) * time.Millisecond),
			UserTranscript: fmt.Sprintf("utterance %d", offset),
		}
		require.NoError(t, store.SaveTurn(ctx, turn))
	}

	turns, err := store.GetConversationTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "turn-0", turns[0].ID)
	assert.Equal(t, "turn-1", turns[1].ID)
	assert.Equal(t, "turn-2", turns[2].ID)
}

func TestStore_UpsertTurn_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))

	turn := &Turn{
		ID:             "turn-1",
		ConversationID: "conv-1",
		Timestamp:      time.Now().UTC(),
		UserTranscript: "hello",
	}

	require.NoError(t, store.UpsertTurn(ctx, turn))
	require.NoError(t, store.UpsertTurn(ctx, turn))

	turns, err := store.GetConversationTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].UserTranscript)
}

func TestStore_DeleteConversation_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, store.SaveTurn(ctx, &Turn{
		ID:             "turn-1",
		ConversationID: "conv-1",
		Timestamp:      time.Now().UTC(),
		UserTranscript: "hello",
	}))

	require.NoError(t, store.DeleteConversation(ctx, "conv-1"))

	_, err := store.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	turns, err := store.GetConversationTurns(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_DeleteConversation_CascadesOnFreshConnection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveTurn(ctx, &Turn{
			ID:             fmt.Sprintf("turn-%d", i),
			ConversationID: "conv-1",
			Timestamp:      time.Now().UTC(),
			UserTranscript: fmt.Sprintf("turn %d", i),
		}))
	}

	// Hold several connections at once so the pool opens fresh ones beyond
	// the connection the constructor ran on. foreign_keys is per-connection
	// in SQLite, so each of these must report it enabled or a cascade landing
	// on it would leave orphan turns.
	conns := make([]*sql.Conn, 0, 5)
	for i := 0; i < 5; i++ {
		conn, err := store.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)

		var fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk, "connection %d has foreign keys off", i)
	}
	for _, conn := range conns[1:] {
		require.NoError(t, conn.Close())
	}

	// Run the delete on one of the held fresh connections
	_, err := conns[0].ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", "conv-1")
	require.NoError(t, err)
	require.NoError(t, conns[0].Close())

	var orphans int
	require.NoError(t, store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turns WHERE conversation_id = ?", "conv-1").Scan(&orphans))
	assert.Equal(t, 0, orphans)
}

func TestStore_DeleteConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.DeleteConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_TrimConversationTurns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveTurn(ctx, &Turn{
			ID:             fmt.Sprintf("turn-%d", i),
			ConversationID: "conv-1",
			Timestamp:      base.Add(time.Duration(i) * time.Millisecond),
			UserTranscript: fmt.Sprintf("utterance %d", i),
		}))
	}

	deleted, err := store.TrimConversationTurns(ctx, "conv-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	turns, err := store.GetConversationTurns(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	// The two most recent survive
	assert.Equal(t, "turn-3", turns[0].ID)
	assert.Equal(t, "turn-4", turns[1].ID)

	// Already within bound: no-op
	deleted, err = store.TrimConversationTurns(ctx, "conv-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestStore_Export(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-2")))
	require.NoError(t, store.SaveTurn(ctx, &Turn{
		ID:             "turn-1",
		ConversationID: "conv-1",
		Timestamp:      time.Now().UTC(),
		UserTranscript: "hello",
	}))
	require.NoError(t, store.SaveDocument(ctx, &Document{
		ID:        "doc-1",
		Title:     "Notes",
		Content:   "some reference text",
		CreatedAt: time.Now().UTC(),
	}))

	snap, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Conversations, 2)
	assert.Len(t, snap.Turns, 1)
	assert.Len(t, snap.Documents, 1)
}

func TestStore_DeleteAllData(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, store.SaveDocument(ctx, &Document{
		ID:        "doc-1",
		Content:   "text",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SetValue(ctx, KeyDeviceID, "device-abc"))
	require.NoError(t, store.EnqueueOp(ctx, &OutboxOp{
		OpID:     "op-1",
		DeviceID: "device-abc",
		Type:     OpTypeAppendTurn,
		Lamport:  1,
		TS:       time.Now().UTC(),
		Body:     []byte(`{}`),
	}))

	require.NoError(t, store.DeleteAllData(ctx))

	snap, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Conversations)
	assert.Empty(t, snap.Documents)

	ops, err := store.ListPendingOps(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)

	// Device identity survives a data wipe
	v, err := store.GetValue(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "device-abc", v)
}

func TestStore_Reopen_PreservesData(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, store.Close())

	// Re-open runs migrations again; must be a safe no-op
	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
}
