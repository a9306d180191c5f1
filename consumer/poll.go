package consumer

import (
	"context"
	"time"

	"github.com/go-kit/log/level"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
	"github.com/nasadorian/fs2-kafka/offsets"
)

// handlePoll is the engine. It recomputes the pause/resume sets from current
// demand, polls the client (which may run rebalance callbacks), merges what
// came back with buffered records, completes waiting fetches, and replays
// commits deferred by a rebalance that just ended.
func (a *Actor) handlePoll(ctx context.Context) {
	var subscribed, streaming, initialRebalancing bool
	a.state.view(func(s *state) {
		subscribed, streaming, initialRebalancing = s.subscribed, s.streaming, s.rebalancing
	})
	if !subscribed || !streaming {
		return
	}

	var newRecords map[fs2kafka.TopicPartition][]CommittableRecord
	err := a.gate.run(ctx, func() error {
		assigned, err := a.Client.Assignment()
		if err != nil {
			return err
		}
		requested := make(map[fs2kafka.TopicPartition]bool)
		available := make(map[fs2kafka.TopicPartition]bool)
		a.state.view(func(s *state) {
			for tp := range s.fetches {
				requested[tp] = true
			}
			for tp := range s.records {
				available[tp] = true
			}
		})
		// Resume what someone is waiting on and we have nothing buffered
		// for; pause everything else we hold. Together they cover the
		// assignment exactly.
		var pause, resume []fs2kafka.TopicPartition
		for _, tp := range assigned {
			if requested[tp] && !available[tp] {
				resume = append(resume, tp)
			} else {
				pause = append(pause, tp)
			}
		}
		a.Client.Pause(pause)
		a.Client.Resume(resume)
		batch, err := a.Client.Poll(ctx, a.settings.PollTimeout)
		if err != nil {
			return err
		}
		newRecords = a.committableRecords(batch)
		return nil
	})
	a.metrics.polls.Inc()
	if err != nil {
		a.metrics.pollErrors.Inc()
		level.Error(a.logger).Log("msg", "poll failed", "err", err)
		return
	}

	var fetchesCompleted, commitsReplayed int
	a.state.modify(func(s *state) action {
		var aa []action
		// A rebalance completed since this poll began: release the held
		// commits, in submission order, after the state swap.
		if initialRebalancing && !s.rebalancing && len(s.pendingCommits) > 0 {
			pending := s.pendingCommits
			s.pendingCommits = nil
			commitsReplayed = len(pending)
			aa = append(aa, func() {
				for _, r := range pending {
					a.commitUnderGate(ctx, r)
				}
			})
		}
		// Merge the new records behind whatever is buffered, then complete
		// every fetch for partitions that now have records. Partitions with
		// records but no fetch keep their buffer; fetches for partitions
		// with no records stay installed.
		for tp, rr := range newRecords {
			s.records[tp] = append(s.records[tp], rr...)
		}
		for tp, chunk := range s.records {
			tokens := s.fetches[tp]
			if len(tokens) == 0 {
				continue
			}
			delete(s.records, tp)
			delete(s.fetches, tp)
			fetchesCompleted += len(tokens)
			chunk := chunk
			for _, token := range tokens {
				token := token
				aa = append(aa, func() {
					token.complete(FetchResult{Records: chunk, Reason: FetchedRecords})
				})
			}
		}
		return actions(aa)
	})
	if fetchesCompleted > 0 || commitsReplayed > 0 {
		level.Debug(a.logger).Log("msg", "poll integrated",
			"new_partitions", len(newRecords),
			"fetches_completed", fetchesCompleted,
			"commits_replayed", commitsReplayed)
	}
	a.metrics.observeState(a.state)
}

func (a *Actor) committableRecords(batch client.Batch) map[fs2kafka.TopicPartition][]CommittableRecord {
	out := make(map[fs2kafka.TopicPartition][]CommittableRecord, len(batch))
	for tp, records := range batch {
		cc := make([]CommittableRecord, 0, len(records))
		for _, r := range records {
			var metadata string
			if a.settings.RecordMetadata != nil {
				metadata = a.settings.RecordMetadata(r)
			}
			cc = append(cc, CommittableRecord{
				Record: r,
				// Committed offset is the next record to consume.
				Offset: offsets.New(tp, r.Offset+1, metadata, a.settings.GroupID, a.commitOffsets),
			})
		}
		out[tp] = cc
	}
	return out
}

// pollSource enqueues a poll at every tick. The inbox is unbounded so ticks
// never block; a tick landing behind a slow handler just queues.
func (a *Actor) pollSource(ctx context.Context) {
	ticker := time.NewTicker(a.settings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.requests.push(&pollRequest{})
		}
	}
}
