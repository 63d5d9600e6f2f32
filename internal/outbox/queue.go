// ABOUTME: Outbox queue layer that stamps operations before durable insertion
// ABOUTME: Derives the logical role, opId, device id, lamport, and timestamp

package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whisperlog/whisperlog/internal/store"
)

// Role of a turn within a conversation, derived from which content field is set
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// OpStore is the outbox slice of the store the queue needs
type OpStore interface {
	EnqueueOp(ctx context.Context, op *store.OutboxOp) error
	ListPendingOps(ctx context.Context, limit int) ([]*store.OutboxOp, error)
	DeleteOps(ctx context.Context, opIDs []string) (int, error)
}

// Stamper supplies the device identity and lamport values for outgoing ops
type Stamper interface {
	DeviceID() string
	Next() int64
}

// TurnPayload is the turn as carried inside an op body. Timestamps travel as
// unix milliseconds inside the body; the op's own ts field is converted to
// ISO-8601 at the wire boundary.
type TurnPayload struct {
	ID                string `json:"id"`
	ConversationID    string `json:"conversationId"`
	Timestamp         int64  `json:"timestamp"`
	UserTranscript    string `json:"userTranscript,omitempty"`
	AssistantResponse string `json:"assistantResponse,omitempty"`
}

// AppendTurnBody is the body of an append_turn operation
type AppendTurnBody struct {
	ConversationID string      `json:"conversationId"`
	Role           string      `json:"role"`
	Turn           TurnPayload `json:"turn"`
}

// Queue wraps the durable outbox table with stamping. Every AddTurn that must
// be synchronized is expected to be followed by one QueueAppendTurn call.
type Queue struct {
	store  OpStore
	clock  Stamper
	logger *slog.Logger
	now    func() time.Time
}

// New creates an outbox queue over the given store and stamper
func New(opStore OpStore, stamper Stamper) *Queue {
	return &Queue{
		store:  opStore,
		clock:  stamper,
		logger: slog.Default().With("component", "outbox"),
		now:    time.Now,
	}
}

// DeriveRole returns the logical role of a turn: user if the transcript is
// set, assistant if the response is set, tool otherwise.
func DeriveRole(turn *store.Turn) string {
	switch {
	case turn.UserTranscript != "":
		return RoleUser
	case turn.AssistantResponse != "":
		return RoleAssistant
	default:
		return RoleTool
	}
}

// QueueAppendTurn stamps and durably enqueues an append_turn operation for the
// given turn. The op carries a fresh opId (the remote idempotency key), this
// device's id, the next lamport value, and the current timestamp.
func (q *Queue) QueueAppendTurn(ctx context.Context, turn *store.Turn) (*store.OutboxOp, error) {
	body := AppendTurnBody{
		ConversationID: turn.ConversationID,
		Role:           DeriveRole(turn),
		Turn: TurnPayload{
			ID:                turn.ID,
			ConversationID:    turn.ConversationID,
			Timestamp:         turn.Timestamp.UnixMilli(),
			UserTranscript:    turn.UserTranscript,
			AssistantResponse: turn.AssistantResponse,
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling op body: %w", err)
	}

	op := &store.OutboxOp{
		OpID:     uuid.New().String(),
		DeviceID: q.clock.DeviceID(),
		Type:     store.OpTypeAppendTurn,
		Lamport:  q.clock.Next(),
		TS:       q.now().UTC(),
		Body:     raw,
	}

	if err := q.store.EnqueueOp(ctx, op); err != nil {
		return nil, fmt.Errorf("enqueueing op: %w", err)
	}

	q.logger.Debug("queued append_turn",
		"op_id", op.OpID, "turn_id", turn.ID, "role", body.Role, "lamport", op.Lamport)
	return op, nil
}

// Pending lists pending operations ordered by timestamp, bounded by limit
// (store.DefaultOutboxListLimit when limit <= 0)
func (q *Queue) Pending(ctx context.Context, limit int) ([]*store.OutboxOp, error) {
	return q.store.ListPendingOps(ctx, limit)
}

// Ack deletes acknowledged operations. Deletion on ack is the only mutation
// an outbox entry ever sees after insertion.
func (q *Queue) Ack(ctx context.Context, opIDs []string) (int, error) {
	return q.store.DeleteOps(ctx, opIDs)
}
