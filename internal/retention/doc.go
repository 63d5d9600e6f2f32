// Package retention trims per-conversation turn history to a configured
// bound after each write, deleting the oldest excess turns in one atomic
// transaction.
package retention
