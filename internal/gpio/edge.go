package gpio

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Wait once the line has been closed.
var ErrClosed = errors.New("gpio: interrupt line closed")

// edgeQueue decouples the kernel event callback from the consumer.
//
// Edges are coalesced: if the consumer has not picked up the previous edge
// yet, a new one is counted as dropped rather than queued, since the
// consumer drains all pending device state on each wake anyway.
type edgeQueue struct {
	ch      chan struct{}
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
}

func newEdgeQueue() *edgeQueue {
	return &edgeQueue{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *edgeQueue) post() {
	select {
	case q.ch <- struct{}{}:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
	}
}

// wait blocks until an edge arrives, the timeout elapses or the queue is
// closed. A non-positive timeout only checks for a pending edge.
func (q *edgeQueue) wait(timeout time.Duration) (bool, error) {
	select {
	case <-q.done:
		return false, ErrClosed
	default:
	}

	if timeout <= 0 {
		select {
		case <-q.ch:
			return true, nil
		default:
			return false, nil
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-q.ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-q.done:
		return false, ErrClosed
	}
}

func (q *edgeQueue) close() {
	q.once.Do(func() { close(q.done) })
}

func (q *edgeQueue) droppedEdges() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
