package bus

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryQueue is an in-process Subscriber. Published messages are handed
// out in FIFO order to any number of concurrent fetchers. Messages fetched
// but not committed stay in flight until Redeliver puts them back at the
// front of the queue, which is how a restarted consumer sees them.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryQueue struct {
	mu       sync.Mutex
	topic    string
	pending  []Message
	inflight map[int64]Message
	commits  []int64
	next     int64
	closed   bool
	signal   chan struct{} // buffered, size 1
	done     chan struct{}
}

var _ Subscriber = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue whose messages carry topic.
func NewMemoryQueue(topic string) *MemoryQueue {
	return &MemoryQueue{
		topic:    topic,
		pending:  make([]Message, 0, 64),
		inflight: make(map[int64]Message),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Publish appends a message. Returns false if the queue is closed.
func (q *MemoryQueue) Publish(key, value []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, Message{Topic: q.topic, Offset: q.next, Key: key, Value: value})
	q.next++
	q.notify()
	return true
}

// notify wakes one waiting fetcher. Caller holds q.mu.
func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Fetch implements Subscriber.
func (q *MemoryQueue) Fetch(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.inflight[msg.Offset] = msg
			if len(q.pending) > 0 {
				q.notify()
			}
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Commit implements Subscriber.
func (q *MemoryQueue) Commit(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msg.Offset)
	q.commits = append(q.commits, msg.Offset)
	return nil
}

// Redeliver returns every uncommitted in-flight message to the front of
// the queue, oldest first.
func (q *MemoryQueue) Redeliver() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.inflight) == 0 {
		return 0
	}
	back := make([]Message, 0, len(q.inflight)+len(q.pending))
	for _, m := range q.inflight {
		back = append(back, m)
	}
	slices.SortFunc(back, func(a, b Message) int { return cmp.Compare(a.Offset, b.Offset) })
	n := len(back)
	q.pending = append(back, q.pending...)
	clear(q.inflight)
	q.notify()
	return n
}

// Committed returns the committed offsets in commit order.
func (q *MemoryQueue) Committed() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.commits...)
}

// Len returns the number of messages waiting to be fetched.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue. Waiting and later fetchers get ErrClosed once the
// remaining messages are drained.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
