package gateway

import (
	"errors"
	"sync"

	"chatgate/internal/models"

	"github.com/eapache/queue"
)

var errQueueFull = errors.New("outbound queue full")

// outboundQueue is a bounded FIFO of encoded frames feeding one writer.
// Producers never block: a full queue either evicts its oldest frame or
// reports errQueueFull, depending on policy.
type outboundQueue struct {
	mu       sync.Mutex
	frames   *queue.Queue
	capacity int
	policy   string
	wake     chan struct{}
}

func newOutboundQueue(capacity int, policy string) *outboundQueue {
	return &outboundQueue{
		frames:   queue.New(),
		capacity: capacity,
		policy:   policy,
		wake:     make(chan struct{}, 1),
	}
}

// push appends a frame. dropped is true when the oldest frame was evicted
// to make room.
func (q *outboundQueue) push(frame []byte) (dropped bool, err error) {
	q.mu.Lock()
	if q.frames.Length() >= q.capacity {
		if q.policy != models.QueuePolicyDropOldest {
			q.mu.Unlock()
			return false, errQueueFull
		}
		q.frames.Remove()
		dropped = true
	}
	q.frames.Add(frame)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return dropped, nil
}

// drain removes and returns every queued frame in order.
func (q *outboundQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.frames.Length()
	if n == 0 {
		return nil
	}
	out := make([][]byte, 0, n)
	for q.frames.Length() > 0 {
		out = append(out, q.frames.Remove().([]byte))
	}
	return out
}

// wait blocks until frames are available or done is closed.
func (q *outboundQueue) wait(done <-chan struct{}) ([][]byte, bool) {
	for {
		if frames := q.drain(); frames != nil {
			return frames, true
		}
		select {
		case <-q.wake:
		case <-done:
			return nil, false
		}
	}
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Length()
}
