// Package offsets implements committable offsets. A CommittableOffset is the
// handle a stream gets alongside each record: calling Commit durably records
// consumption up to that record through whatever commit path produced the
// handle (for records coming from the consumer actor, its commit
// coordinator). A Manager provides out-of-band offset fetch and commit
// against the group coordinator, outside any running consumer.
package offsets

import (
	"context"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// CommitFunc commits the given offsets, returning when the commit has been
// acknowledged or failed.
type CommitFunc func(ctx context.Context, offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata) error

// CommittableOffset is the offset of a single consumed record plus the means
// to commit it. The offset is that of the next record to consume, i.e.
// record offset + 1.
type CommittableOffset struct {
	Partition fs2kafka.TopicPartition
	Offset    int64
	Metadata  string
	GroupID   string
	commit    CommitFunc
}

// New returns a CommittableOffset committing through commit.
func New(partition fs2kafka.TopicPartition, offset int64, metadata, groupID string, commit CommitFunc) CommittableOffset {
	return CommittableOffset{
		Partition: partition,
		Offset:    offset,
		Metadata:  metadata,
		GroupID:   groupID,
		commit:    commit,
	}
}

func (o CommittableOffset) offsets() map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata {
	return map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata{
		o.Partition: {Offset: o.Offset, Metadata: o.Metadata},
	}
}

// Commit this single offset.
func (o CommittableOffset) Commit(ctx context.Context) error {
	return o.commit(ctx, o.offsets())
}

// Batch folds many committable offsets into one commit request. The zero
// value is an empty batch. For a partition seen more than once the last
// offset wins, so fold in consumption order.
type Batch struct {
	offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata
	commit  CommitFunc
}

// Updated returns a new batch including o. The receiver is not modified.
func (b Batch) Updated(o CommittableOffset) Batch {
	offsets := make(map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata, len(b.offsets)+1)
	for tp, v := range b.offsets {
		offsets[tp] = v
	}
	offsets[o.Partition] = fs2kafka.OffsetAndMetadata{Offset: o.Offset, Metadata: o.Metadata}
	return Batch{offsets: offsets, commit: o.commit}
}

// Offsets returns a copy of the folded offsets.
func (b Batch) Offsets() map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata {
	offsets := make(map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata, len(b.offsets))
	for tp, v := range b.offsets {
		offsets[tp] = v
	}
	return offsets
}

// Commit all folded offsets in a single request. Committing an empty batch
// is a no-op.
func (b Batch) Commit(ctx context.Context) error {
	if len(b.offsets) == 0 {
		return nil
	}
	return b.commit(ctx, b.offsets)
}

// Manager makes offset fetch and commit calls for a consumer group, outside
// of any running consumer. Useful for tooling: inspecting group progress,
// seeding offsets, resetting them. Make sure to set public field values
// before the first call.
type Manager struct {
	Client  *kgo.Client
	GroupID string
	//
	once sync.Once
	adm  *kadm.Client
}

func (m *Manager) init() {
	m.once.Do(func() { m.adm = kadm.NewClient(m.Client) })
}

// Fetch returns the committed offset for the topic partition, or -1 if no
// offset has been committed for it.
func (m *Manager) Fetch(ctx context.Context, topic string, partition int32) (int64, error) {
	m.init()
	resps, err := m.adm.FetchOffsets(ctx, m.GroupID)
	if err != nil {
		return 0, fs2kafka.Errorf("error fetching offsets for group %s: %w", m.GroupID, err)
	}
	o, ok := resps.Lookup(topic, partition)
	if !ok {
		return -1, nil
	}
	if o.Err != nil {
		return 0, fs2kafka.Errorf("error for topic %s partition %d: %w", topic, partition, o.Err)
	}
	return o.At, nil
}

// Commit makes a single offset commit call.
func (m *Manager) Commit(ctx context.Context, topic string, partition int32, offset int64, metadata string) error {
	m.init()
	toCommit := make(kadm.Offsets)
	toCommit.Add(kadm.Offset{
		Topic:       topic,
		Partition:   partition,
		At:          offset,
		LeaderEpoch: -1,
		Metadata:    metadata,
	})
	committed, err := m.adm.CommitOffsets(ctx, m.GroupID, toCommit)
	if err == nil && !committed.Ok() {
		err = committed.Error()
	}
	if err != nil {
		return fs2kafka.Errorf("error for topic %s partition %d: %w", topic, partition, err)
	}
	return nil
}
