// ABOUTME: Tests for the sync client
// ABOUTME: Covers push/pull convergence, partial acks, idempotent apply, and misconfiguration

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperlog/whisperlog/internal/outbox"
	"github.com/whisperlog/whisperlog/internal/store"
)

// fakeTransport scripts responses and records every request it sees
type fakeTransport struct {
	requests []*Request
	handler  func(req *Request) (*Response, error)
}

func (f *fakeTransport) RoundTrip(_ context.Context, req *Request) (*Response, error) {
	f.requests = append(f.requests, req)
	return f.handler(req)
}

func jsonResponse(t *testing.T, status int, payload any) *Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Response{StatusCode: status, Body: body}
}

// fakeStamper hands out sequential lamport values for a fixed device
type fakeStamper struct {
	device  string
	counter int64
}

func (f *fakeStamper) DeviceID() string { return f.device }
func (f *fakeStamper) Next() int64      { f.counter++; return f.counter }

type testEnv struct {
	store     *store.SQLiteStore
	queue     *outbox.Queue
	transport *fakeTransport
	client    *Client
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	queue := outbox.New(s, &fakeStamper{device: "device-abc"})
	transport := &fakeTransport{}

	client := NewClient(Options{
		Transport: transport,
		BaseURL:   "https://sync.example.com",
		Outbox:    queue,
		Store:     s,
		DeviceID:  "device-abc",
	})

	return &testEnv{store: s, queue: queue, transport: transport, client: client}
}

// queueTurns enqueues n user turns into the outbox (and the local store)
func (e *testEnv) queueTurns(t *testing.T, n int) []*store.OutboxOp {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateConversation(ctx, &store.Conversation{
		ID: "conv-local", Name: "Local", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	ops := make([]*store.OutboxOp, 0, n)
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		turn := &store.Turn{
			ID:             fmt.Sprintf("turn-%d", i),
			ConversationID: "conv-local",
			Timestamp:      base.Add(time.Duration(i) * time.Millisecond),
			UserTranscript: fmt.Sprintf("utterance %d", i),
		}
		require.NoError(t, e.store.SaveTurn(ctx, turn))
		op, err := e.queue.QueueAppendTurn(ctx, turn)
		require.NoError(t, err)
		ops = append(ops, op)
	}
	return ops
}

// remoteAppendTurnOp builds a wire op as the server would deliver it on pull
func remoteAppendTurnOp(t *testing.T, opID, convID, turnID, transcript string, ts time.Time) wireOp {
	t.Helper()
	body, err := json.Marshal(outbox.AppendTurnBody{
		ConversationID: convID,
		Role:           outbox.RoleUser,
		Turn: outbox.TurnPayload{
			ID:             turnID,
			ConversationID: convID,
			Timestamp:      ts.UnixMilli(),
			UserTranscript: transcript,
		},
	})
	require.NoError(t, err)
	return wireOp{
		OpID:     opID,
		DeviceID: "device-remote",
		Type:     store.OpTypeAppendTurn,
		Lamport:  99,
		TS:       ts.UTC().Format(time.RFC3339Nano),
		Body:     body,
	}
}

func TestPushOutbox_Convergence(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	ops := env.queueTurns(t, 2)

	env.transport.handler = func(req *Request) (*Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "https://sync.example.com/sync/push", req.URL)

		var body pushRequest
		require.NoError(t, json.Unmarshal(req.Body, &body))
		assert.Equal(t, "device-abc", body.DeviceID)
		assert.Equal(t, int64(0), body.Cursor)
		require.Len(t, body.Ops, 2)
		// ts fields travel as parseable ISO-8601
		_, err := time.Parse(time.RFC3339, body.Ops[0].TS)
		assert.NoError(t, err)

		return jsonResponse(t, http.StatusOK, pushResponse{
			Acked:      []string{ops[0].OpID, ops[1].OpID},
			NextCursor: 7,
		}), nil
	}

	acked, err := env.client.PushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acked)

	// No acked op remains in the outbox
	pending, err := env.store.ListPendingOps(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Cursor matches the server-reported value
	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "7", cursor)
}

func TestPushOutbox_NoOpSecondPush(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	ops := env.queueTurns(t, 1)
	env.transport.handler = func(req *Request) (*Response, error) {
		return jsonResponse(t, http.StatusOK, pushResponse{
			Acked:      []string{ops[0].OpID},
			NextCursor: 1,
		}), nil
	}

	acked, err := env.client.PushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)

	// Nothing new to send: zero mutations, zero network traffic
	acked, err = env.client.PushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, acked)
	assert.Len(t, env.transport.requests, 1)

	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "1", cursor)
}

func TestPushOutbox_PartialAck(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.SetValue(ctx, store.KeyServerCursor, "5"))
	ops := env.queueTurns(t, 4)

	env.transport.handler = func(req *Request) (*Response, error) {
		var body pushRequest
		require.NoError(t, json.Unmarshal(req.Body, &body))
		assert.Equal(t, int64(5), body.Cursor)

		return jsonResponse(t, http.StatusOK, pushResponse{
			Acked:      []string{ops[0].OpID, ops[1].OpID, ops[2].OpID},
			NextCursor: 9,
		}), nil
	}

	acked, err := env.client.PushOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, acked)

	pending, err := env.store.ListPendingOps(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ops[3].OpID, pending[0].OpID)

	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "9", cursor)
}

func TestPushOutbox_TransportFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.queueTurns(t, 1)
	env.transport.handler = func(req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusBadGateway, Body: []byte("upstream down")}, nil
	}

	_, err := env.client.PushOutbox(ctx)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	// Failed push mutates nothing
	pending, err := env.store.ListPendingOps(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = env.store.GetValue(ctx, store.KeyServerCursor)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPush_Misconfigured(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	noTransport := NewClient(Options{BaseURL: "https://sync.example.com", Outbox: env.queue, Store: env.store})
	_, err := noTransport.PushOutbox(ctx)
	assert.ErrorIs(t, err, ErrNoTransport)

	noBase := NewClient(Options{Transport: env.transport, Outbox: env.queue, Store: env.store})
	_, err = noBase.PullAndApplyOps(ctx)
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestPullAndApplyOps_Convergence(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	ts := time.Now().UTC()
	env.transport.handler = func(req *Request) (*Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "https://sync.example.com/sync/pull?cursor=0", req.URL)
		return jsonResponse(t, http.StatusOK, pullResponse{
			Ops: []wireOp{
				remoteAppendTurnOp(t, "op-r1", "conv-remote", "turn-r1", "hello from afar", ts),
				remoteAppendTurnOp(t, "op-r2", "conv-remote", "turn-r2", "second", ts.Add(time.Millisecond)),
			},
			NextCursor: 12,
		}), nil
	}

	applied, err := env.client.PullAndApplyOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	// Every turn referenced by a returned op exists locally
	turns, err := env.store.GetConversationTurns(ctx, "conv-remote")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello from afar", turns[0].UserTranscript)

	// Unknown conversation got materialized
	conv, err := env.store.GetConversation(ctx, "conv-remote")
	require.NoError(t, err)
	assert.Equal(t, "New Conversation", conv.Name)

	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "12", cursor)
}

func TestPullAndApplyOps_IdempotentApply(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	ts := time.Now().UTC()
	env.transport.handler = func(req *Request) (*Response, error) {
		return jsonResponse(t, http.StatusOK, pullResponse{
			Ops:        []wireOp{remoteAppendTurnOp(t, "op-r1", "conv-remote", "turn-r1", "hello", ts)},
			NextCursor: 3,
		}), nil
	}

	_, err := env.client.PullAndApplyOps(ctx)
	require.NoError(t, err)

	// Same op delivered again: final state unchanged
	_, err = env.client.PullAndApplyOps(ctx)
	require.NoError(t, err)

	turns, err := env.store.GetConversationTurns(ctx, "conv-remote")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].UserTranscript)
}

func TestPullAndApplyOps_EmptyPullAdvancesCursor(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.transport.handler = func(req *Request) (*Response, error) {
		return jsonResponse(t, http.StatusOK, pullResponse{Ops: nil, NextCursor: 4}), nil
	}

	applied, err := env.client.PullAndApplyOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	// Server is the authority on cursor progression, even with zero ops
	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "4", cursor)
}

func TestPullAndApplyOps_UnknownTypeSkipped(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.transport.handler = func(req *Request) (*Response, error) {
		return jsonResponse(t, http.StatusOK, pullResponse{
			Ops: []wireOp{{
				OpID:     "op-x",
				DeviceID: "device-remote",
				Type:     "rename_conversation",
				Lamport:  1,
				TS:       time.Now().UTC().Format(time.RFC3339Nano),
				Body:     json.RawMessage(`{}`),
			}},
			NextCursor: 2,
		}), nil
	}

	applied, err := env.client.PullAndApplyOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	cursor, err := env.store.GetValue(ctx, store.KeyServerCursor)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)
}
