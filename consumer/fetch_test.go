package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
)

// pushFetch enqueues a raw fetch request so tests control ordering against
// the serial dispatcher, and returns its token.
func pushFetch(t *testing.T, a *Actor, tp fs2kafka.TopicPartition, stream StreamID, psid PartitionStreamID) *fetchToken {
	t.Helper()
	r := &fetchRequest{
		partition:       tp,
		stream:          stream,
		partitionStream: psid,
		token:           newSlot[FetchResult](),
	}
	require.True(t, a.requests.push(r))
	return r.token
}

func waitResult(t *testing.T, token *fetchToken) FetchResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := token.wait(ctx)
	require.NoError(t, err)
	return res
}

func values(records []CommittableRecord) []string {
	vv := make([]string, len(records))
	for i, r := range records {
		vv[i] = string(r.Record.Value)
	}
	return vv
}

func TestUnitSimpleFetch(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	token := pushFetch(t, a, tp, 1, 1)
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"), rec("t", 0, 1, "r1"))
	})
	poll(t, a)

	res := waitResult(t, token)
	require.Equal(t, FetchedRecords, res.Reason)
	require.Equal(t, []string{"r0", "r1"}, values(res.Records))
	a.state.view(func(s *state) {
		require.Empty(t, s.records)
		require.Empty(t, s.fetches)
	})
}

func TestUnitFetchUnassignedPartition(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	startStreaming(t, a, "t")
	records, reason, err := a.Fetch(context.Background(),
		fs2kafka.TopicPartition{Topic: "t", Partition: 7}, 1, 1)
	require.NoError(t, err)
	require.Equal(t, PartitionRevoked, reason)
	require.Empty(t, records)
}

// P1: installing a second token for the same (partition, stream) completes
// the first and leaves exactly one installed.
func TestUnitFetchUniquenessPerStream(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	first := pushFetch(t, a, tp, 1, 1)
	second := pushFetch(t, a, tp, 1, 1)
	barrier(t, a)

	res := waitResult(t, first)
	require.Equal(t, PartitionRevoked, res.Reason)
	require.Empty(t, res.Records)
	a.state.view(func(s *state) {
		require.Len(t, s.fetches[tp], 1)
		require.Same(t, second, s.fetches[tp][StreamID(1)])
	})
}

// Distinct streams fetch the same partition side by side; both receive the
// same chunk.
func TestUnitFetchFanOutToStreams(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	one := pushFetch(t, a, tp, 1, 1)
	two := pushFetch(t, a, tp, 2, 1)
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"))
	})
	poll(t, a)

	for _, token := range []*fetchToken{one, two} {
		res := waitResult(t, token)
		require.Equal(t, FetchedRecords, res.Reason)
		require.Equal(t, []string{"r0"}, values(res.Records))
	}
}

// P2/P3: a fetch carrying a stale partition stream id is rejected with
// PartitionRevoked, leaves the installed fetch alone, and never lowers the
// partition's stream id.
func TestUnitStaleFetch(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	// first run of the partition
	old := pushFetch(t, a, tp, 1, 1)
	barrier(t, a)
	// rebalance: partition bounces, run id moves on
	f.revokePartitions(tp)
	res := waitResult(t, old)
	require.Equal(t, PartitionRevoked, res.Reason)
	f.assignPartitions(tp)

	fresh := pushFetch(t, a, tp, 1, 2)
	stale := pushFetch(t, a, tp, 1, 1)
	barrier(t, a)

	res = waitResult(t, stale)
	require.Equal(t, PartitionRevoked, res.Reason)
	require.Empty(t, res.Records)
	a.state.view(func(s *state) {
		require.Equal(t, PartitionStreamID(2), s.partitionStreamIDs[tp])
		require.Same(t, fresh, s.fetches[tp][StreamID(1)])
	})

	// the fresh token receives the next records
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 5, "r5"))
	})
	poll(t, a)
	res = waitResult(t, fresh)
	require.Equal(t, FetchedRecords, res.Reason)
	require.Equal(t, []string{"r5"}, values(res.Records))
}

// A stale fetch is a pure reject: the partition's buffered records and the
// fetches other streams have installed survive it untouched.
func TestUnitStaleFetchLeavesBufferAndPeers(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	// records buffer with nobody waiting, then stream 1 registers on the
	// partition's second run
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 0, "r0"))
	})
	poll(t, a)
	installed := pushFetch(t, a, tp, 1, 2)
	// a straggler from the first run, different stream
	stale := pushFetch(t, a, tp, 2, 1)
	barrier(t, a)

	res := waitResult(t, stale)
	require.Equal(t, PartitionRevoked, res.Reason)
	require.Empty(t, res.Records)
	a.state.view(func(s *state) {
		require.Equal(t, []string{"r0"}, values(s.records[tp]))
		require.Same(t, installed, s.fetches[tp][StreamID(1)])
	})

	// the live run still gets the buffer
	poll(t, a)
	res = waitResult(t, installed)
	require.Equal(t, FetchedRecords, res.Reason)
	require.Equal(t, []string{"r0"}, values(res.Records))
}

// A committable record's offset handle carries record offset + 1 and the
// configured group id and metadata.
func TestUnitCommittableOffsetShape(t *testing.T) {
	f := newFakeClient()
	a := newTestActor(t, f, Settings{
		GroupID:        "g1",
		RecordMetadata: func(r *fs2kafka.Record) string { return "m:" + string(r.Value) },
	})
	tp := fs2kafka.TopicPartition{Topic: "t", Partition: 0}
	startStreaming(t, a, "t")
	f.assignPartitions(tp)

	token := pushFetch(t, a, tp, 1, 1)
	f.enqueuePoll(func(*fakeClient) client.Batch {
		return batchOf(rec("t", 0, 41, "x"))
	})
	poll(t, a)

	res := waitResult(t, token)
	require.Len(t, res.Records, 1)
	offset := res.Records[0].Offset
	require.Equal(t, tp, offset.Partition)
	require.Equal(t, int64(42), offset.Offset)
	require.Equal(t, "m:x", offset.Metadata)
	require.Equal(t, "g1", offset.GroupID)

	require.NoError(t, offset.Commit(context.Background()))
	require.Equal(t, 1, f.commitCount())
	require.Equal(t, fs2kafka.OffsetAndMetadata{Offset: 42, Metadata: "m:x"}, f.commits[0][tp])
}
