package sessions

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when a session id is unknown or its session
// has been cleaned up.
var ErrSessionNotFound = errors.New("session not found")

// ErrInboxFull is returned by PublishSession when the session already holds
// the maximum number of undelivered messages. Nothing is enqueued.
var ErrInboxFull = errors.New("session inbox full")

// MessageHandlerFunction handles one inbox message. Returning an error stops
// the subscription and the error is returned from SubscribeSession.
type MessageHandlerFunction func(ctx context.Context, msgID string, msg []byte) error

// Host stores the ordered inbox of every live session. The HTTP handler that
// accepts a posted message publishes into the inbox; the session loop that
// owns the stream subscribes to it. A host shared across replicas lets a post
// reach the loop regardless of which replica received it.
//
// Implementations must guarantee:
//   - messages of one session are delivered in publish order;
//   - a subscriber never sees another session's messages;
//   - PublishSession fails with ErrSessionNotFound for ids that were never
//     opened or have been cleaned up;
//   - an accepted message is never discarded before the subscriber has
//     consumed it. A full inbox refuses new messages with ErrInboxFull.
//
// A session has at most one subscriber, and consumed messages leave the
// inbox.
type Host interface {
	// OpenSession makes id live. Opening a live id is an error.
	OpenSession(ctx context.Context, sessionID string) error

	// PublishSession appends data to the session's inbox.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)

	// SubscribeSession delivers pending inbox messages to handler, one at a
	// time, until ctx ends, the handler fails, or the session is cleaned up.
	// Cleanup ends the subscription with a nil error.
	SubscribeSession(ctx context.Context, sessionID string, handler MessageHandlerFunction) error

	// CleanupSession removes the inbox. It is idempotent.
	CleanupSession(ctx context.Context, sessionID string) error
}
