// ABOUTME: Wire types and timestamp encoding for the push/pull protocol
// ABOUTME: Op ts fields travel as ISO-8601 strings, cursors as numbers

package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whisperlog/whisperlog/internal/store"
)

// wireOp is an outbox operation as it appears on the wire. The ts field is an
// ISO-8601 string; everything else matches the stored op verbatim.
type wireOp struct {
	OpID     string          `json:"opId"`
	DeviceID string          `json:"deviceId"`
	Type     string          `json:"type"`
	Lamport  int64           `json:"lamport"`
	TS       string          `json:"ts"`
	Body     json.RawMessage `json:"body"`
}

type pushRequest struct {
	DeviceID string   `json:"deviceId"`
	Cursor   int64    `json:"cursor"`
	Ops      []wireOp `json:"ops"`
}

type pushResponse struct {
	Acked      []string `json:"acked"`
	NextCursor int64    `json:"nextCursor"`
}

type pullResponse struct {
	Ops        []wireOp `json:"ops"`
	NextCursor int64    `json:"nextCursor"`
}

// encodeOps serializes stored ops for the wire
func encodeOps(ops []*store.OutboxOp) []wireOp {
	encoded := make([]wireOp, len(ops))
	for i, op := range ops {
		encoded[i] = wireOp{
			OpID:     op.OpID,
			DeviceID: op.DeviceID,
			Type:     op.Type,
			Lamport:  op.Lamport,
			TS:       op.TS.UTC().Format(time.RFC3339Nano),
			Body:     json.RawMessage(op.Body),
		}
	}
	return encoded
}

// decodeOp converts a wire op back into a stored op, parsing its timestamp
func decodeOp(w wireOp) (*store.OutboxOp, error) {
	ts, err := time.Parse(time.RFC3339, w.TS)
	if err != nil {
		return nil, fmt.Errorf("parsing op ts %q: %w", w.TS, err)
	}
	return &store.OutboxOp{
		OpID:     w.OpID,
		DeviceID: w.DeviceID,
		Type:     w.Type,
		Lamport:  w.Lamport,
		TS:       ts,
		Body:     []byte(w.Body),
	}, nil
}
