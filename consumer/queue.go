package consumer

import (
	"container/list"
	"context"
	"regexp"
	"sync"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// Requests delivered to the dispatcher. One type per operation; each carries
// its own one-shot result slot.
type request interface {
	isRequest()
}

type subscribeRequest struct {
	// Exactly one of topics / pattern is set.
	topics  []string
	pattern *regexp.Regexp
	done    *slot[error]
}

type assignRequest struct {
	partitions []fs2kafka.TopicPartition
	done       *slot[error]
}

type unsubscribeRequest struct {
	done *slot[error]
}

type assignmentResult struct {
	partitions []fs2kafka.TopicPartition
	err        error
}

type assignmentRequest struct {
	listener *RebalanceListener
	done     *slot[assignmentResult]
}

type fetchRequest struct {
	partition       fs2kafka.TopicPartition
	stream          StreamID
	partitionStream PartitionStreamID
	token           *fetchToken
}

type commitRequest struct {
	offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata
	done    *slot[error]
}

type pollRequest struct{}

func (*subscribeRequest) isRequest()   {}
func (*assignRequest) isRequest()      {}
func (*unsubscribeRequest) isRequest() {}
func (*assignmentRequest) isRequest()  {}
func (*fetchRequest) isRequest()       {}
func (*commitRequest) isRequest()      {}
func (*pollRequest) isRequest()        {}

// requestQueue is the actor's inbox: unbounded, many producers, one
// consumer. push never blocks.
type requestQueue struct {
	mu     sync.Mutex
	items  *list.List
	signal chan struct{}
	closed bool
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items:  list.New(),
		signal: make(chan struct{}, 1),
	}
}

// push enqueues r. Returns false if the queue has been closed.
func (q *requestQueue) push(r request) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(r)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a request is available, the queue is closed and drained,
// or ctx is done.
func (q *requestQueue) pop(ctx context.Context) (request, bool) {
	for {
		q.mu.Lock()
		if e := q.items.Front(); e != nil {
			q.items.Remove(e)
			q.mu.Unlock()
			return e.Value.(request), true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *requestQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
