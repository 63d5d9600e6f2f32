// ABOUTME: Full-database export on SQLiteStore
// ABOUTME: Serializes conversations, turns, and documents for backup/debugging

package store

import (
	"context"
	"fmt"
)

// Export returns a snapshot of all conversations, turns, and documents.
// Outbox and kv state are deliberately excluded: they are per-install sync
// bookkeeping, not conversation data.
func (s *SQLiteStore) Export(ctx context.Context) (*Snapshot, error) {
	convs, err := s.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting conversations: %w", err)
	}

	var turns []*Turn
	for _, conv := range convs {
		convTurns, err := s.GetConversationTurns(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("exporting turns for %s: %w", conv.ID, err)
		}
		turns = append(turns, convTurns...)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting documents: %w", err)
	}

	s.logger.Debug("exported snapshot",
		"conversations", len(convs), "turns", len(turns), "documents", len(docs))

	return &Snapshot{
		Conversations: convs,
		Turns:         turns,
		Documents:     docs,
	}, nil
}
