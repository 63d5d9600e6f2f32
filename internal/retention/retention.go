// ABOUTME: Retention manager trimming per-conversation turn history to a bound
// ABOUTME: Runs after every turn write, deleting oldest excess turns atomically

package retention

import (
	"context"
	"log/slog"
)

// TurnTrimmer is the store operation retention relies on. The trim itself is
// one atomic transaction, so concurrent cleanups on the same conversation
// cannot interleave destructively.
type TurnTrimmer interface {
	TrimConversationTurns(ctx context.Context, conversationID string, max int) (int, error)
}

// Manager enforces the maxHistoryTurns bound on conversations
type Manager struct {
	store    TurnTrimmer
	maxTurns int
	logger   *slog.Logger
}

// New creates a retention manager. A maxTurns of zero or less disables
// trimming entirely.
func New(store TurnTrimmer, maxTurns int) *Manager {
	return &Manager{
		store:    store,
		maxTurns: maxTurns,
		logger:   slog.Default().With("component", "retention"),
	}
}

// MaxTurns returns the configured bound, 0 when disabled
func (m *Manager) MaxTurns() int {
	if m.maxTurns <= 0 {
		return 0
	}
	return m.maxTurns
}

// Enforce trims the conversation back to the configured bound, deleting the
// oldest excess turns. Returns the number of turns deleted.
func (m *Manager) Enforce(ctx context.Context, conversationID string) (int, error) {
	if m.maxTurns <= 0 {
		return 0, nil
	}

	deleted, err := m.store.TrimConversationTurns(ctx, conversationID, m.maxTurns)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.logger.Debug("enforced retention",
			"conversation_id", conversationID, "deleted", deleted, "max", m.maxTurns)
	}
	return deleted, nil
}
