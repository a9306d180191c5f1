package consumer

import (
	"sync"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// state is the single authoritative record of everything the actor knows:
// outstanding fetches, buffered records, commits deferred by a rebalance,
// registered rebalance listeners, and lifecycle flags. It is only ever
// touched inside stateRef.modify or stateRef.view.
type state struct {
	// At most one token per (partition, stream). A partition key is present
	// only if it has at least one token.
	fetches map[fs2kafka.TopicPartition]map[StreamID]*fetchToken
	// Highest partition stream id seen per partition. Never decreases.
	partitionStreamIDs map[fs2kafka.TopicPartition]PartitionStreamID
	// Buffered records per partition, in broker order. A key is present
	// only if its buffer is non-empty.
	records map[fs2kafka.TopicPartition][]CommittableRecord
	// Commits held while rebalancing, in submission order.
	pendingCommits []*commitRequest
	// Listeners notified of rebalances, in registration order.
	onRebalances []RebalanceListener
	// True from entering the revoke callback until the assign callback has
	// run.
	rebalancing bool
	// True after a successful subscribe or assign, until unsubscribe.
	subscribed bool
	// True once any stream has registered a rebalance listener.
	streaming bool
}

func newState() state {
	return state{
		fetches:            make(map[fs2kafka.TopicPartition]map[StreamID]*fetchToken),
		partitionStreamIDs: make(map[fs2kafka.TopicPartition]PartitionStreamID),
		records:            make(map[fs2kafka.TopicPartition][]CommittableRecord),
	}
}

// action is a side effect computed inside modify and executed after the
// critical section: completing tokens, invoking listeners, issuing commits.
// Never run actions while holding the state lock; they may suspend.
type action func()

// actions folds a list of actions into one. Returns nil for an empty list so
// modify callers can return it directly.
func actions(aa []action) action {
	if len(aa) == 0 {
		return nil
	}
	return func() {
		for _, f := range aa {
			f()
		}
	}
}

// stateRef holds the state behind a mutex. modify is the only write path:
// the critical section computes the new state and an action, and the action
// runs after the lock is released.
type stateRef struct {
	mu sync.Mutex
	s  state
}

func newStateRef() *stateRef {
	return &stateRef{s: newState()}
}

func (r *stateRef) modify(f func(*state) action) {
	r.mu.Lock()
	act := f(&r.s)
	r.mu.Unlock()
	if act != nil {
		act()
	}
}

// view runs f under the lock for a consistent read. Advisory only: decisions
// that span a read and a later write must go through modify.
func (r *stateRef) view(f func(*state)) {
	r.mu.Lock()
	f(&r.s)
	r.mu.Unlock()
}
