// ABOUTME: Store interface and data types for whisperlog persistence
// ABOUTME: Defines Conversation, Turn, OutboxOp structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Conversation represents one named sequence of turns
type Conversation struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn represents a single user or assistant utterance within a conversation.
// Exactly one of UserTranscript or AssistantResponse is expected to be populated;
// the logical role is derived from which one is set, never stored.
type Turn struct {
	ID                string
	ConversationID    string
	Timestamp         time.Time
	UserTranscript    string
	AssistantResponse string
}

// OpTypeAppendTurn is the only operation type the sync protocol currently carries
const OpTypeAppendTurn = "append_turn"

// OutboxOp is a pending operation awaiting acknowledgment by the remote log.
// The only valid lifecycle is insert followed by deletion on ack; OpID is the
// idempotency key the remote side deduplicates on.
type OutboxOp struct {
	OpID     string
	DeviceID string
	Type     string
	Lamport  int64
	TS       time.Time
	Body     []byte // JSON payload, shape depends on Type
}

// Document is an entry in the RAG side-store. Documents share the database with
// conversations but are never synchronized.
type Document struct {
	ID        string
	Title     string
	Content   string
	CreatedAt time.Time
}

// Snapshot is a full serializable dump of the local database for backup/debugging
type Snapshot struct {
	Conversations []*Conversation `json:"conversations"`
	Turns         []*Turn         `json:"turns"`
	Documents     []*Document     `json:"documents"`
}

// KV keys consumed and produced by the sync core
const (
	KeyDeviceID     = "device_id"
	KeyLamport      = "lamport"
	KeyServerCursor = "server_cursor"
)

// Store defines the interface for conversation, turn, KV and outbox persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, name string) error
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error
	DeleteConversation(ctx context.Context, id string) error
	DeleteAllConversations(ctx context.Context) error

	// Turns
	SaveTurn(ctx context.Context, turn *Turn) error
	UpsertTurn(ctx context.Context, turn *Turn) error
	GetConversationTurns(ctx context.Context, conversationID string) ([]*Turn, error)
	CountConversationTurns(ctx context.Context, conversationID string) (int, error)
	TrimConversationTurns(ctx context.Context, conversationID string, max int) (int, error)

	// Key-value state (device identity, lamport counter, sync cursor)
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error

	// Outbox
	EnqueueOp(ctx context.Context, op *OutboxOp) error
	ListPendingOps(ctx context.Context, limit int) ([]*OutboxOp, error)
	DeleteOps(ctx context.Context, opIDs []string) (int, error)

	// Documents (side-store, not synchronized)
	SaveDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context) ([]*Document, error)

	// Export and teardown
	Export(ctx context.Context) (*Snapshot, error)
	DeleteAllData(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
