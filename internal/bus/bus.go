// Package bus delivers workspace change events to the dispatcher.
//
// Delivery is at-least-once. A subscriber hands out one message at a time
// and a message is acknowledged with Commit only after it has been handled;
// anything fetched but not committed is delivered again after a restart.
// Two transports implement Subscriber: Kafka consumer groups for
// production and an in-process queue for tests and single-object syncs.
package bus

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Fetch once the subscriber is closed.
var ErrClosed = errors.New("bus: subscriber closed")

// Message is one delivered event.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// String identifies the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s[%d]@%d", m.Topic, m.Partition, m.Offset)
}

// Subscriber hands out messages from one or more topics.
type Subscriber interface {
	// Fetch blocks until a message is available, ctx is done or the
	// subscriber is closed.
	Fetch(ctx context.Context) (Message, error)

	// Commit acknowledges a handled message.
	Commit(ctx context.Context, msg Message) error

	Close() error
}
