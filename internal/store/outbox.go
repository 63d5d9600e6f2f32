// ABOUTME: Outbox table access on SQLiteStore
// ABOUTME: Insert-only pending operation log, deleted only on confirmed remote ack

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultOutboxListLimit caps how many pending ops a single push batch carries
const DefaultOutboxListLimit = 500

// EnqueueOp inserts a stamped operation into the outbox
func (s *SQLiteStore) EnqueueOp(ctx context.Context, op *OutboxOp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (op_id, device_id, type, lamport, ts, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.OpID, op.DeviceID, op.Type, op.Lamport, op.TS.UnixMilli(), string(op.Body))
	if err != nil {
		return fmt.Errorf("inserting outbox op: %w", err)
	}

	s.logger.Debug("enqueued op", "op_id", op.OpID, "type", op.Type, "lamport", op.Lamport)
	return nil
}

// ListPendingOps returns pending outbox operations ordered by timestamp,
// with lamport breaking ties between ops stamped within the same millisecond.
// If limit is 0 or negative, DefaultOutboxListLimit is used, keeping push
// batches bounded and predictable.
func (s *SQLiteStore) ListPendingOps(ctx context.Context, limit int) ([]*OutboxOp, error) {
	if limit <= 0 {
		limit = DefaultOutboxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, device_id, type, lamport, ts, body
		FROM outbox
		ORDER BY ts ASC, lamport ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var ops []*OutboxOp
	for rows.Next() {
		var op OutboxOp
		var tsMillis int64
		var body string

		if err := rows.Scan(&op.OpID, &op.DeviceID, &op.Type, &op.Lamport, &tsMillis, &body); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		op.TS = time.UnixMilli(tsMillis).UTC()
		op.Body = []byte(body)
		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox rows: %w", err)
	}
	return ops, nil
}

// DeleteOps removes acknowledged operations from the outbox.
// Returns the number of rows actually deleted.
func (s *SQLiteStore) DeleteOps(ctx context.Context, opIDs []string) (int, error) {
	if len(opIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(opIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(opIDs))
	for i, id := range opIDs {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM outbox WHERE op_id IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting outbox ops: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted acked ops", "count", deleted)
	return int(deleted), nil
}
