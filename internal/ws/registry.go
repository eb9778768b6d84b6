package ws

import "context"

// Member is one live connection that can receive fan-out frames.
type Member interface {
	ID() string
	// Send enqueues payload without blocking; false means the member
	// cannot accept frames anymore.
	Send(payload []byte) bool
	Close(reason string)
}

// Registry maps user ids to their live connections.
//
// Operations on different users never contend with each other; operations
// on the same user are linearizable, so a Publish sees the membership
// either before or after a concurrent Join/Leave.
type Registry interface {
	Join(ctx context.Context, userID string, member Member) error
	Leave(ctx context.Context, userID string, member Member) error
	// Publish delivers event to every member joined under userID. An empty
	// group is not an error.
	Publish(ctx context.Context, userID string, event any) error
}
