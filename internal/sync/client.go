// ABOUTME: Sync client orchestrating push (outbox to remote) and pull (remote to local)
// ABOUTME: Tracks the server-issued cursor and applies remote ops idempotently

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/whisperlog/whisperlog/internal/outbox"
	"github.com/whisperlog/whisperlog/internal/store"
)

// Misconfiguration errors. These indicate a setup bug and are never retried.
var (
	ErrNoTransport = errors.New("sync: no transport configured")
	ErrNoBaseURL   = errors.New("sync: no base URL configured")
)

// defaultConversationName is used when a pulled op references a conversation
// this device has never seen
const defaultConversationName = "New Conversation"

// Outbox is the pending-operation queue the client drains on push
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]*store.OutboxOp, error)
	Ack(ctx context.Context, opIDs []string) (int, error)
}

// LocalStore is the slice of the store the client needs: cursor state plus
// idempotent application of remote operations.
type LocalStore interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error
	UpsertTurn(ctx context.Context, turn *store.Turn) error
}

// Client pushes pending outbox operations to the remote log and pulls remote
// operations for local application. Push and pull cycles are independent and
// never block local writers: a write landing mid-push is simply picked up on
// the next cycle. The client does not retry internally; retry and backoff
// policy belongs to the caller.
type Client struct {
	transport  Transport
	baseURL    string
	queue      Outbox
	store      LocalStore
	deviceID   string
	batchLimit int
	logger     *slog.Logger
}

// Options configures a sync client
type Options struct {
	Transport  Transport
	BaseURL    string
	Outbox     Outbox
	Store      LocalStore
	DeviceID   string
	BatchLimit int // defaults to store.DefaultOutboxListLimit when <= 0
}

// NewClient creates a sync client. Transport and base URL may be left unset,
// but any push or pull attempt then fails with a misconfiguration error.
func NewClient(opts Options) *Client {
	return &Client{
		transport:  opts.Transport,
		baseURL:    opts.BaseURL,
		queue:      opts.Outbox,
		store:      opts.Store,
		deviceID:   opts.DeviceID,
		batchLimit: opts.BatchLimit,
		logger:     slog.Default().With("component", "sync"),
	}
}

// checkConfigured returns the misconfiguration error, if any
func (c *Client) checkConfigured() error {
	if c.transport == nil {
		return ErrNoTransport
	}
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	return nil
}

// loadCursor reads the stored server cursor, defaulting to 0 on first sync
func (c *Client) loadCursor(ctx context.Context) (int64, error) {
	raw, err := c.store.GetValue(ctx, store.KeyServerCursor)
	if err == store.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stored cursor %q: %w", raw, err)
	}
	return cursor, nil
}

// saveCursor persists the server-reported cursor
func (c *Client) saveCursor(ctx context.Context, cursor int64) error {
	if err := c.store.SetValue(ctx, store.KeyServerCursor, strconv.FormatInt(cursor, 10)); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// PushOutbox sends the pending outbox batch to the push endpoint, deletes
// every acknowledged opId, and advances the stored cursor to the
// server-reported value. Returns the number of acked operations.
//
// With nothing pending it performs no mutation and returns 0, so an immediate
// repeat call is a no-op.
func (c *Client) PushOutbox(ctx context.Context) (int, error) {
	if err := c.checkConfigured(); err != nil {
		return 0, err
	}

	ops, err := c.queue.Pending(ctx, c.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("listing pending ops: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	cursor, err := c.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	req := pushRequest{
		DeviceID: c.deviceID,
		Cursor:   cursor,
		Ops:      encodeOps(ops),
	}

	var resp pushResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/sync/push", req, &resp); err != nil {
		return 0, err
	}

	acked, err := c.queue.Ack(ctx, resp.Acked)
	if err != nil {
		return 0, fmt.Errorf("deleting acked ops: %w", err)
	}

	if err := c.saveCursor(ctx, resp.NextCursor); err != nil {
		return acked, err
	}

	c.logger.Info("pushed outbox",
		"sent", len(ops), "acked", acked, "cursor", resp.NextCursor)
	return acked, nil
}

// PullAndApplyOps requests remote operations starting at the stored cursor and
// applies each by type. Application is idempotent: append_turn is an upsert
// keyed by turn id, so re-delivered ops leave the store unchanged. The cursor
// advances to the server-reported value unconditionally on success, even with
// zero new ops; the server is the authority on cursor progression.
// Returns the number of ops applied.
func (c *Client) PullAndApplyOps(ctx context.Context) (int, error) {
	if err := c.checkConfigured(); err != nil {
		return 0, err
	}

	cursor, err := c.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/sync/pull?cursor=%d", c.baseURL, cursor)

	var resp pullResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return 0, err
	}

	applied := 0
	for _, w := range resp.Ops {
		op, err := decodeOp(w)
		if err != nil {
			return applied, err
		}
		switch op.Type {
		case store.OpTypeAppendTurn:
			if err := c.applyAppendTurn(ctx, op); err != nil {
				return applied, fmt.Errorf("applying op %s: %w", op.OpID, err)
			}
			applied++
		default:
			c.logger.Warn("skipping op of unknown type", "op_id", op.OpID, "type", op.Type)
		}
	}

	if err := c.saveCursor(ctx, resp.NextCursor); err != nil {
		return applied, err
	}

	c.logger.Info("pulled ops",
		"received", len(resp.Ops), "applied", applied, "cursor", resp.NextCursor)
	return applied, nil
}

// applyAppendTurn upserts the carried turn, creating its conversation first if
// this device has never seen it. Turn ids are globally unique, so re-applying
// the same op is a no-op with respect to final state.
func (c *Client) applyAppendTurn(ctx context.Context, op *store.OutboxOp) error {
	var body outbox.AppendTurnBody
	if err := json.Unmarshal(op.Body, &body); err != nil {
		return fmt.Errorf("decoding append_turn body: %w", err)
	}

	turn := &store.Turn{
		ID:                body.Turn.ID,
		ConversationID:    body.ConversationID,
		Timestamp:         time.UnixMilli(body.Turn.Timestamp).UTC(),
		UserTranscript:    body.Turn.UserTranscript,
		AssistantResponse: body.Turn.AssistantResponse,
	}

	_, err := c.store.GetConversation(ctx, body.ConversationID)
	if err == store.ErrNotFound {
		conv := &store.Conversation{
			ID:        body.ConversationID,
			Name:      defaultConversationName,
			CreatedAt: turn.Timestamp,
			UpdatedAt: turn.Timestamp,
		}
		if createErr := c.store.CreateConversation(ctx, conv); createErr != nil && createErr != store.ErrDuplicateConversation {
			return fmt.Errorf("creating conversation for remote turn: %w", createErr)
		}
	} else if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	if err := c.store.UpsertTurn(ctx, turn); err != nil {
		return err
	}

	// Best-effort activity bump; a lost touch must not fail the apply
	if err := c.store.TouchConversation(ctx, body.ConversationID, turn.Timestamp); err != nil {
		c.logger.Debug("touch after remote apply failed", "conversation_id", body.ConversationID, "error", err)
	}
	return nil
}

// do executes one JSON request/response exchange over the configured
// transport. Non-2xx responses become a StatusError carrying the status code.
func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	resp, err := c.transport.RoundTrip(ctx, &Request{
		Method: method,
		URL:    url,
		Body:   payload,
	})
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
