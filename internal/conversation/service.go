// ABOUTME: Service is the caller-facing layer for conversation and turn writes
// ABOUTME: Every turn flows through here - persist first, then queue, then trim

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisperlog/whisperlog/internal/retention"
	"github.com/whisperlog/whisperlog/internal/store"
)

// DefaultName is given to conversations created implicitly or without a name
const DefaultName = "New Conversation"

// Store defines what the service needs from storage
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]*store.Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error
	DeleteConversation(ctx context.Context, id string) error
	DeleteAllConversations(ctx context.Context) error

	SaveTurn(ctx context.Context, turn *store.Turn) error
	GetConversationTurns(ctx context.Context, conversationID string) ([]*store.Turn, error)

	Export(ctx context.Context) (*store.Snapshot, error)
	DeleteAllData(ctx context.Context) error
}

// OpQueue defines what the service needs from the outbox layer
type OpQueue interface {
	QueueAppendTurn(ctx context.Context, turn *store.Turn) (*store.OutboxOp, error)
}

// Service owns the "current conversation" pointer and orchestrates turn
// writes: persist the turn, bump the conversation's activity, enqueue the
// sync op, then enforce retention. It is an explicit object with injected
// dependencies, so multiple instances never interfere.
type Service struct {
	store     Store
	queue     OpQueue
	retention *retention.Manager
	logger    *slog.Logger

	mu        sync.Mutex
	currentID string
}

// New creates a conversation service
func New(st Store, queue OpQueue, ret *retention.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		queue:     queue,
		retention: ret,
		logger:    logger.With("component", "conversation"),
	}
}

// CurrentConversationID returns the id of the current conversation, empty if
// none has been created or switched to
func (s *Service) CurrentConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// CreateNewConversation inserts a conversation record and makes it the
// implicit target for subsequent AddTurn calls. An empty name gets the
// default.
func (s *Service) CreateNewConversation(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = DefaultName
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}

	s.mu.Lock()
	s.currentID = conv.ID
	s.mu.Unlock()

	s.logger.Info("created conversation", "id", conv.ID, "name", name)
	return conv.ID, nil
}

// EnsureConversation returns the current conversation id, creating a new
// conversation first if none is current. This is the documented convenience
// behind AddTurn's implicit creation.
func (s *Service) EnsureConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()

	if current != "" {
		return current, nil
	}
	return s.CreateNewConversation(ctx, "")
}

// AddTurn stamps the turn with the current conversation (creating one if
// needed), persists it, bumps the conversation's updatedAt, and enforces
// retention. The returned turn carries the assigned id and conversation id;
// callers that need the turn synchronized follow up with QueueAppendTurnOp.
func (s *Service) AddTurn(ctx context.Context, turn *store.Turn) (*store.Turn, error) {
	convID, err := s.EnsureConversation(ctx)
	if err != nil {
		return nil, err
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	turn.ConversationID = convID

	if err := s.store.SaveTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("saving turn: %w", err)
	}

	if err := s.store.TouchConversation(ctx, convID, turn.Timestamp); err != nil {
		return nil, fmt.Errorf("updating conversation activity: %w", err)
	}

	if s.retention != nil {
		if _, err := s.retention.Enforce(ctx, convID); err != nil {
			return nil, fmt.Errorf("enforcing retention: %w", err)
		}
	}

	s.logger.Debug("added turn", "id", turn.ID, "conversation_id", convID)
	return turn, nil
}

// QueueAppendTurnOp records the turn in the outbox for synchronization.
// Expected to immediately follow AddTurn for turns that must reach the remote
// log.
func (s *Service) QueueAppendTurnOp(ctx context.Context, turn *store.Turn) (*store.OutboxOp, error) {
	if turn.ConversationID == "" {
		s.mu.Lock()
		turn.ConversationID = s.currentID
		s.mu.Unlock()
	}
	return s.queue.QueueAppendTurn(ctx, turn)
}

// GetConversationHistory returns all turns of the current conversation in
// chronological order, empty if no conversation is current
func (s *Service) GetConversationHistory(ctx context.Context) ([]*store.Turn, error) {
	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()

	if current == "" {
		return nil, nil
	}
	return s.store.GetConversationTurns(ctx, current)
}

// SwitchToConversation makes an existing conversation current. It only moves
// the pointer; callers re-fetch history separately.
// Returns store.ErrNotFound if the conversation does not exist.
func (s *Service) SwitchToConversation(ctx context.Context, id string) error {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()

	s.logger.Debug("switched conversation", "id", id)
	return nil
}

// RenameConversation renames an existing conversation.
// Returns store.ErrNotFound if it does not exist.
func (s *Service) RenameConversation(ctx context.Context, id, name string) error {
	return s.store.RenameConversation(ctx, id, name)
}

// ListConversations returns all conversations ordered by recent activity
func (s *Service) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// DeleteConversation removes a conversation and its turns. If it was current,
// the current pointer resets to none.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()

	return nil
}

// ClearAllConversations removes every conversation and turn and resets the
// current pointer
func (s *Service) ClearAllConversations(ctx context.Context) error {
	if err := s.store.DeleteAllConversations(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentID = ""
	s.mu.Unlock()

	return nil
}

// ClearAllData wipes conversations, turns, documents, and the outbox, and
// resets the current pointer. Device identity and clock state survive.
func (s *Service) ClearAllData(ctx context.Context) error {
	if err := s.store.DeleteAllData(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentID = ""
	s.mu.Unlock()

	return nil
}

// ExportData serializes all conversations, turns, and documents
func (s *Service) ExportData(ctx context.Context) (*store.Snapshot, error) {
	return s.store.Export(ctx)
}
