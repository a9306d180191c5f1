package consumer

import (
	"context"
	"time"

	"github.com/go-kit/log/level"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// handleCommit issues the commit right away, unless a rebalance is in
// progress: then the request is parked and replayed, in submission order, by
// the first poll that observes the rebalance finished.
func (a *Actor) handleCommit(ctx context.Context, r *commitRequest) {
	a.state.modify(func(s *state) action {
		if s.rebalancing {
			s.pendingCommits = append(s.pendingCommits, r)
			return nil
		}
		return func() { a.commitUnderGate(ctx, r) }
	})
	a.metrics.observeState(a.state)
}

// commitUnderGate hands the commit to the client. The client invokes the
// callback on an internal thread of its own; the callback only completes the
// result slot and must not touch state.
func (a *Actor) commitUnderGate(ctx context.Context, r *commitRequest) {
	begin := time.Now()
	err := a.gate.run(ctx, func() error {
		a.Client.CommitAsync(r.offsets, func(err error) {
			a.metrics.commitLatency.Observe(time.Since(begin).Seconds())
			if err != nil {
				err = &fs2kafka.CommitError{Offsets: r.offsets, Err: err}
			}
			r.done.complete(err)
		})
		return nil
	})
	if err != nil {
		r.done.complete(err)
	}
}

// commitOffsets is the commit function closed over by every committable
// offset the actor hands out. One submission attempt bounded by the commit
// timeout; the configured recovery policy may resubmit.
func (a *Actor) commitOffsets(ctx context.Context, offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata) error {
	err := a.commitOnce(ctx, offsets)
	if err != nil && a.settings.CommitRecovery != nil {
		level.Debug(a.logger).Log("msg", "commit failed, invoking recovery", "err", err)
		return a.settings.CommitRecovery(ctx, err, func(ctx context.Context) error {
			return a.commitOnce(ctx, offsets)
		})
	}
	return err
}

func (a *Actor) commitOnce(ctx context.Context, offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata) error {
	r := &commitRequest{offsets: offsets, done: newSlot[error]()}
	if err := a.submit(r); err != nil {
		return err
	}
	err, completed, werr := r.done.waitTimeout(ctx, a.settings.CommitTimeout)
	if werr != nil {
		return werr
	}
	if !completed {
		// The commit is still in flight and may yet succeed; only the
		// caller's wait is bounded.
		return fs2kafka.ErrCommitTimeout
	}
	return err
}

// Commit the given offsets, waiting up to the commit timeout for the result.
// Commits submitted during a rebalance are deferred and issued, in
// submission order, right after it completes.
func (a *Actor) Commit(ctx context.Context, offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata) error {
	return a.commitOffsets(ctx, offsets)
}
