// Package memoryhost provides an in-memory implementation of sessions.Host.
//
// Each session owns a queue of pending messages guarded by its own mutex.
// Publishing wakes the subscriber by closing and replacing a notification
// channel, so messages are consumed strictly in publish order without
// polling. A queue holding DefaultMaxPending undelivered messages refuses
// further publishes with sessions.ErrInboxFull.
//
// Use it for single-replica deployments and tests. State is lost on restart.
package memoryhost
