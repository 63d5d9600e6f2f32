// Package sync implements the push/pull protocol between the local store and
// the remote durable log.
//
// # Protocol
//
// Two endpoints, resolved against a configured base URL:
//
//	POST {base}/sync/push  {deviceId, cursor, ops}  ->  {acked, nextCursor}
//	GET  {base}/sync/pull?cursor={n}                ->  {ops, nextCursor}
//
// Op ts fields travel as ISO-8601 strings; cursors are numbers. The server
// deduplicates at-least-once deliveries by opId and is the sole authority on
// cursor progression.
//
// # Semantics
//
// PushOutbox drains a bounded, timestamp-ordered outbox batch, deletes exactly
// the acknowledged opIds, and advances the cursor. PullAndApplyOps applies
// remote ops idempotently (append_turn is an upsert keyed by turn id) and
// advances the cursor even when no ops arrive.
//
// Failures are returned to the caller, never retried internally. A missing
// transport or base URL is a misconfiguration error, not a retryable
// condition.
package sync
