// Package conversation provides the caller-facing service over the local
// store. It owns the "current conversation" pointer and sequences every turn
// write: persist, bump activity, queue the sync op, enforce retention.
//
// The voice pipeline, UI, and local API are expected to interact with the
// store exclusively through this service plus the sync client's push/pull
// operations.
package conversation
