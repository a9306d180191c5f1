package consumer

import (
	"github.com/go-kit/log/level"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
)

// The rebalance reactor. The client invokes these callbacks synchronously
// from inside poll, on the goroutine that holds the gate, so they must not
// acquire the gate themselves: they only go through the state ref.

func (a *Actor) reactorListener() client.RebalanceListener {
	return client.RebalanceListener{
		OnRevoked:  a.partitionsRevoked,
		OnAssigned: a.partitionsAssigned,
	}
}

// partitionsRevoked completes every waiting fetch for a revoked partition
// (with the partition's buffered records if there are any, so nothing
// already fetched is lost) and drops buffers nobody is waiting on. All
// completions run before any registered listener hears about the revocation.
func (a *Actor) partitionsRevoked(revoked []fs2kafka.TopicPartition) {
	a.state.modify(func(s *state) action {
		s.rebalancing = true
		var aa []action
		for _, tp := range revoked {
			tokens := s.fetches[tp]
			buffered := s.records[tp]
			delete(s.fetches, tp)
			delete(s.records, tp)
			if len(tokens) == 0 {
				// Buffered records for a lost partition with no one
				// waiting are dropped on the floor.
				continue
			}
			chunk := buffered
			for _, token := range tokens {
				token := token
				aa = append(aa, func() {
					token.complete(FetchResult{Records: chunk, Reason: PartitionRevoked})
				})
			}
		}
		listeners := append([]RebalanceListener(nil), s.onRebalances...)
		aa = append(aa, func() {
			for _, l := range listeners {
				if l.OnRevoked != nil {
					l.OnRevoked(revoked)
				}
			}
		})
		return actions(aa)
	})
	a.metrics.rebalances.WithLabelValues("revoked").Inc()
	a.metrics.observeState(a.state)
	level.Info(a.logger).Log("msg", "partitions revoked", "count", len(revoked))
}

func (a *Actor) partitionsAssigned(assigned []fs2kafka.TopicPartition) {
	a.state.modify(func(s *state) action {
		s.rebalancing = false
		listeners := append([]RebalanceListener(nil), s.onRebalances...)
		return func() {
			for _, l := range listeners {
				if l.OnAssigned != nil {
					l.OnAssigned(assigned)
				}
			}
		}
	})
	a.metrics.rebalances.WithLabelValues("assigned").Inc()
	level.Info(a.logger).Log("msg", "partitions assigned", "count", len(assigned))
}
