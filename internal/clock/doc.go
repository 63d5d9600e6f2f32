// Package clock provides the per-device logical clock used to stamp outgoing
// sync operations.
//
// The clock is a hybrid: Next() returns max(counter, wallClockMillis)+1, which
// guarantees strictly increasing values per device even across process
// restarts and wall-clock resets. It is deliberately not a pure Lamport clock;
// lamport values observed on pulled remote operations are not folded back in,
// so causal ordering across devices is not guaranteed by the clock alone.
//
// Counter persistence is best-effort and asynchronous. Stamping never blocks
// on storage.
package clock
