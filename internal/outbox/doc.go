// Package outbox implements the durable pending-operation queue of the sync
// core. Operations are stamped (opId, device id, lamport, timestamp) on entry,
// listed in bounded timestamp-ordered batches for pushing, and deleted only
// when the remote side acknowledges their opId.
package outbox
