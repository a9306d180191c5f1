package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
)

func TestUnitBufferThenComplete(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	// records arrive with nobody waiting: they buffer
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"))
	})
	poll(t, a)
	a.state.view(func(s *state) {
		require.Len(t, s.records[tp], 1)
	})

	// a fetch arrives, then the next poll brings one more record: the
	// chunk is buffered plus new, in order
	token := pushFetch(t, a, tp, 1, 1)
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 1, "r1"))
	})
	poll(t, a)

	res := waitResult(t, token)
	require.Equal(t, FetchedRecords, res.Reason)
	require.Equal(t, []string{"r0", "r1"}, values(res.Records))
	a.state.view(func(s *state) { require.Empty(t, s.records) })
}

// Buffered records are delivered even when no new records arrive: the next
// poll after the fetch completes it from the buffer alone.
func TestUnitBufferCompletesWithoutNewRecords(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"))
	})
	poll(t, a)
	token := pushFetch(t, a, tp, 1, 1)
	poll(t, a) // empty poll
	res := waitResult(t, token)
	require.Equal(t, FetchedRecords, res.Reason)
	require.Equal(t, []string{"r0"}, values(res.Records))
}

// Scenario: buffered records, partition revoked before any fetch arrives.
// The buffer is dropped; a later fetch completes immediately revoked and
// empty.
func TestUnitRevokeDropsUnclaimedBuffer(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"))
	})
	poll(t, a)
	f.revokePartitions(tp)
	a.state.view(func(s *state) {
		require.Empty(t, s.records)
		require.Empty(t, s.fetches)
	})

	records, reason, err := a.Fetch(context.Background(), tp, 1, 1)
	require.NoError(t, err)
	require.Equal(t, PartitionRevoked, reason)
	require.Empty(t, records)
}

// P6: revoking a partition with buffered records and waiting fetches hands
// the buffer to every fetch as a last gasp, reason PartitionRevoked.
func TestUnitRevokeDeliversBufferToFetches(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	// buffer first, then register fetches for two streams; the poll that
	// buffers must see no fetch or it would complete it
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"), rec("t", 0, 1, "r1"))
	})
	poll(t, a)
	one := pushFetch(t, a, tp, 1, 1)
	two := pushFetch(t, a, tp, 2, 1)
	barrier(t, a)

	// revoke from inside a poll, the way the real client does
	f.enqueuePoll(func(fc *fakeClient) client.Batch {
		fc.revokePartitions(tp)
		return client.Batch{}
	})
	poll(t, a)

	for _, token := range []*fetchToken{one, two} {
		res := waitResult(t, token)
		require.Equal(t, PartitionRevoked, res.Reason)
		require.Equal(t, []string{"r0", "r1"}, values(res.Records))
	}
	// P5: nothing left behind
	a.state.view(func(s *state) {
		require.Empty(t, s.fetches)
		require.Empty(t, s.records)
	})
}

// P5: revocation completes fetches without records too.
func TestUnitRevokeDrainsFetches(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp0 := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	tp1 := fs2kafka.TopicPartition{Topic: "t", Partition: 1}
	startStreaming(t, a, "t")
	f.assignPartitions(tp0, tp1)

	one := pushFetch(t, a, tp0, 1, 1)
	two := pushFetch(t, a, tp1, 1, 1)
	barrier(t, a)
	f.revokePartitions(tp0, tp1)

	for _, token := range []*fetchToken{one, two} {
		res := waitResult(t, token)
		require.Equal(t, PartitionRevoked, res.Reason)
		require.Empty(t, res.Records)
	}
	a.state.view(func(s *state) { require.Empty(t, s.fetches) })
}

// Revoking one partition leaves the other's fetch and buffer alone.
func TestUnitRevokeIsSelective(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp0 := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	tp1 := fs2kafka.TopicPartition{Topic: "t", Partition: 1}
	startStreaming(t, a, "t")
	f.assignPartitions(tp0, tp1)

	survivor := pushFetch(t, a, tp1, 1, 1)
	barrier(t, a)
	f.revokePartitions(tp0)

	a.state.view(func(s *state) {
		require.Len(t, s.fetches, 1)
		require.Same(t, survivor, s.fetches[tp1][StreamID(1)])
	})
}

// Registered listeners hear revocations after the actor has completed the
// affected fetches, and assignments after rebalancing clears.
func TestUnitListenerOrdering(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	require.NoError(t, a.Subscribe(context.Background(), "t"))

	var events []string
	listener := &RebalanceListener{
		OnRevoked: func(pp []fs2kafka.TopicPartition) {
			// by the time a listener hears it, state is clean
			a.state.view(func(s *state) { require.Empty(t, s.fetches) })
			events = append(events, "revoked")
		},
		OnAssigned: func(pp []fs2kafka.TopicPartition) {
			var rebalancing bool
			a.state.view(func(s *state) { rebalancing = s.rebalancing })
			require.False(t, rebalancing)
			events = append(events, "assigned")
		},
	}
	_, err := a.Assignment(context.Background(), listener)
	require.NoError(t, err)

	f.assignPartitions(tp)
	token := pushFetch(t, a, tp, 1, 1)
	barrier(t, a)
	f.revokePartitions(tp)
	waitResult(t, token)
	f.assignPartitions(tp)

	require.Equal(t, []string{"assigned", "revoked", "assigned"}, events)
}

// The rebalancing flag is true between revoke and assign.
func TestUnitRebalancingFlag(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	var rebalancing bool
	a.state.view(func(s *state) { rebalancing = s.rebalancing })
	require.False(t, rebalancing)

	f.revokePartitions(tp)
	a.state.view(func(s *state) { rebalancing = s.rebalancing })
	require.True(t, rebalancing)

	f.assignPartitions(tp)
	a.state.view(func(s *state) { rebalancing = s.rebalancing })
	require.False(t, rebalancing)
}
