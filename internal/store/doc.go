// Package store provides persistent local storage for whisperlog using SQLite.
//
// # Architecture
//
// The Store interface covers four concerns that share one database file:
//
//   - Conversations and turns: the primary conversation history
//   - KV state: device identity, lamport counter, sync cursor
//   - Outbox: durable log of operations awaiting remote acknowledgment
//   - Documents: RAG side-store, never synchronized
//
// SQLiteStore implements the whole interface in a single struct.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Migrations
//
// The schema is upgraded in staged migrations tracked by PRAGMA user_version:
// stage 1 creates conversations and turns, stage 2 the document side-store,
// stage 3 the kv and outbox tables. A database created by any older build is
// upgraded in place without data loss on the next open.
//
// # Timestamps
//
// Turn and outbox timestamps are stored as integer unix milliseconds because
// ordering is load-bearing for retention and push batching. Conversation and
// document timestamps are RFC3339 text.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: conversation ID already taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir() path for integration-style tests;
// the full schema is created automatically.
package store
