// ABOUTME: Tests for the retention manager
// ABOUTME: Covers bound enforcement, within-bound no-ops, and the disabled state

package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperlog/whisperlog/internal/store"
)

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTurns(t *testing.T, s *store.SQLiteStore, convID string, n int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID: convID, Name: "Test", CreatedAt: now, UpdatedAt: now,
	}))
	for i := 0; i < n; i++ {
		require.NoError(t, s.SaveTurn(ctx, &store.Turn{
			ID:             fmt.Sprintf("turn-%d", i),
			ConversationID: convID,
			Timestamp:      now.Add(time.Duration(i) * time.Millisecond),
			UserTranscript: fmt.Sprintf("utterance %d", i),
		}))
	}
}

func TestManager_EnforcesBound(t *testing.T) {
	s := setupStore(t)
	seedTurns(t, s, "conv-1", 5)

	m := New(s, 3)
	deleted, err := m.Enforce(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	turns, err := s.GetConversationTurns(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "turn-2", turns[0].ID)
	assert.Equal(t, "turn-4", turns[2].ID)
}

func TestManager_WithinBoundIsNoOp(t *testing.T) {
	s := setupStore(t)
	seedTurns(t, s, "conv-1", 2)

	m := New(s, 3)
	deleted, err := m.Enforce(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestManager_Disabled(t *testing.T) {
	s := setupStore(t)
	seedTurns(t, s, "conv-1", 5)

	m := New(s, 0)
	deleted, err := m.Enforce(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, m.MaxTurns())

	turns, err := s.GetConversationTurns(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, turns, 5)
}
