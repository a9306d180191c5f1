package consumer

import (
	"context"
	"sync"
	"time"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
	"github.com/nasadorian/fs2-kafka/offsets"
)

// StreamID identifies a logical consumer stream (one subscription instance).
type StreamID int

// PartitionStreamID identifies one run of a stream over a partition. Streams
// must issue monotonically increasing values per partition across successive
// assignments; the actor uses them to reject fetches from runs that predate
// a re-assignment.
type PartitionStreamID int64

// CompletionReason says why a fetch completed.
type CompletionReason int

const (
	// FetchedRecords: the fetch was completed with records from a poll.
	FetchedRecords CompletionReason = iota
	// PartitionRevoked: the partition was revoked (or the fetch was stale,
	// or superseded by a newer fetch for the same stream). The records in
	// the result, if any, are buffered records delivered as a last gasp.
	PartitionRevoked
)

func (r CompletionReason) String() string {
	switch r {
	case FetchedRecords:
		return "fetched records"
	case PartitionRevoked:
		return "partition revoked"
	}
	return "unknown"
}

// CommittableRecord is a fetched record plus the handle to commit it.
type CommittableRecord struct {
	Record *fs2kafka.Record
	Offset offsets.CommittableOffset
}

// FetchResult is what a fetch token completes with.
type FetchResult struct {
	Records []CommittableRecord
	Reason  CompletionReason
}

// RebalanceListener receives the revoke/assign callbacks driven by the
// client, after the actor has reconciled its own state. Partitions are
// sorted. Registered through Assignment.
type RebalanceListener = client.RebalanceListener

// slot is a one-shot completion cell. Completing twice is a silent no-op,
// which is what makes displaced and cancelled tokens safe to complete
// unconditionally.
type slot[T any] struct {
	once sync.Once
	done chan T
}

func newSlot[T any]() *slot[T] {
	return &slot[T]{done: make(chan T, 1)}
}

// complete returns false if the slot was already completed.
func (s *slot[T]) complete(v T) bool {
	completed := false
	s.once.Do(func() {
		s.done <- v
		completed = true
	})
	return completed
}

func (s *slot[T]) wait(ctx context.Context) (T, error) {
	select {
	case v := <-s.done:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *slot[T]) waitTimeout(ctx context.Context, timeout time.Duration) (T, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-s.done:
		return v, true, nil
	case <-timer.C:
		var zero T
		return zero, false, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// fetchToken is the completer side of one outstanding fetch.
type fetchToken = slot[FetchResult]
