package fs2kafka

import (
	"fmt"
	"sort"
	"time"
)

// TopicPartition identifies a single partition of a topic. Values are
// comparable and totally ordered: first by topic, then by partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Less orders topic-partitions by topic then partition.
func (tp TopicPartition) Less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

// SortPartitions sorts in place and returns its argument.
func SortPartitions(partitions []TopicPartition) []TopicPartition {
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Less(partitions[j])
	})
	return partitions
}

type Header struct {
	Key   string
	Value []byte
}

// Record is a single record as fetched from (or destined for) a partition.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
}

func (r *Record) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// OffsetAndMetadata is the value committed for a partition: the offset of the
// next record to be consumed, plus opaque metadata stored with it broker side.
type OffsetAndMetadata struct {
	Offset   int64
	Metadata string
}
