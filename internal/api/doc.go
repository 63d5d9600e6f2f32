// Package api serves the local HTTP surface for the conversation store.
//
// The server is meant to listen on loopback and be consumed by the UI and
// voice pipeline of the same install. It exposes conversation management
// (create, switch, rename, delete, history), turn appends that also queue a
// sync op, explicit push/pull sync triggers, and data export/wipe.
//
// Sync endpoints return 503 when no sync server is configured and 502 when
// the remote rejects a request.
package api
