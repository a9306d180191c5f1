package consumer

import (
	"context"

	"github.com/go-kit/log/level"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// handleFetch installs a fetch token, or rejects it immediately when the
// partition is not assigned or the request predates a re-assignment.
//
// Invariant: at most one token per (partition, stream). Installing a second
// completes the first with PartitionRevoked.
func (a *Actor) handleFetch(ctx context.Context, r *fetchRequest) {
	var assigned bool
	err := a.gate.run(ctx, func() error {
		partitions, err := a.Client.Assignment()
		if err != nil {
			return err
		}
		for _, tp := range partitions {
			if tp == r.partition {
				assigned = true
				break
			}
		}
		return nil
	})
	if err != nil {
		level.Warn(a.logger).Log("msg", "assignment check failed, rejecting fetch",
			"partition", r.partition, "err", err)
	}
	if err != nil || !assigned {
		r.token.complete(FetchResult{Reason: PartitionRevoked})
		return
	}
	a.state.modify(func(s *state) action {
		old := s.partitionStreamIDs[r.partition]
		if old > r.partitionStream {
			// A newer run of this partition exists; this request is from
			// a run that ended. Reject it without touching anything
			// installed: a token at this (partition, stream) key can only
			// belong to the live run (revocation drained the dead run's),
			// and the buffered records belong to the live run too, with
			// other streams possibly waiting on them.
			token := r.token
			return func() { token.complete(FetchResult{Reason: PartitionRevoked}) }
		}
		if r.partitionStream > old {
			s.partitionStreamIDs[r.partition] = r.partitionStream
		}
		displaced := s.fetches[r.partition][r.stream]
		if s.fetches[r.partition] == nil {
			s.fetches[r.partition] = make(map[StreamID]*fetchToken)
		}
		s.fetches[r.partition][r.stream] = r.token
		if displaced == nil {
			return nil
		}
		return func() { displaced.complete(FetchResult{Reason: PartitionRevoked}) }
	})
	a.metrics.observeState(a.state)
}

// Fetch asks for the next chunk of records for the partition on behalf of
// the given stream, blocking until records arrive, the partition is revoked,
// or ctx is done. The partitionStream id must increase across successive
// runs of the same partition within a stream; a fetch carrying an id older
// than the partition's current one completes immediately with
// PartitionRevoked so the obsolete run winds down.
func (a *Actor) Fetch(ctx context.Context, partition fs2kafka.TopicPartition, stream StreamID, partitionStream PartitionStreamID) ([]CommittableRecord, CompletionReason, error) {
	r := &fetchRequest{
		partition:       partition,
		stream:          stream,
		partitionStream: partitionStream,
		token:           newSlot[FetchResult](),
	}
	if err := a.submit(r); err != nil {
		return nil, PartitionRevoked, err
	}
	res, err := r.token.wait(ctx)
	if err != nil {
		// The handler is not cancelled; its eventual completion of the
		// token is observed by no one.
		return nil, PartitionRevoked, err
	}
	return res.Records, res.Reason, nil
}
