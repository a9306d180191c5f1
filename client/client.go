// Package client defines the narrow interface through which the consumer
// actor talks to a kafka client, and implements it on top of franz-go. The
// actor never touches the client directly: every call goes through its gate,
// and the only things it needs are the handful of operations below.
package client

import (
	"context"
	"regexp"
	"time"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// RebalanceListener is invoked by the client, synchronously from inside Poll,
// when the group protocol revokes or assigns partitions. Both callbacks
// receive the affected partitions in sorted order.
type RebalanceListener struct {
	OnRevoked  func(partitions []fs2kafka.TopicPartition)
	OnAssigned func(partitions []fs2kafka.TopicPartition)
}

// Batch is the result of a single poll: per-partition slices of records in
// broker order. A partition key is present only if at least one record was
// returned for it.
type Batch map[fs2kafka.TopicPartition][]*fs2kafka.Record

// Client is the surface of a kafka consumer client as the actor sees it.
// Implementations are not expected to be safe for concurrent use; the actor
// serializes all calls through its gate.
type Client interface {
	// Subscribe to the given topics as a member of the configured consumer
	// group. The listener receives rebalance callbacks from inside Poll.
	Subscribe(topics []string, listener RebalanceListener) error

	// SubscribePattern is Subscribe for all topics matching the pattern.
	SubscribePattern(pattern *regexp.Regexp, listener RebalanceListener) error

	// Assign the given partitions directly, bypassing the group protocol.
	// No rebalance callbacks fire for assigned partitions.
	Assign(partitions []fs2kafka.TopicPartition) error

	// Unsubscribe from all topics and leave the group. For group
	// subscriptions the revoke callback fires for the departing partitions.
	Unsubscribe() error

	// Assignment returns the partitions currently held, sorted.
	Assignment() ([]fs2kafka.TopicPartition, error)

	// Pause fetching from the given partitions. Pausing an unassigned or
	// already paused partition is a no-op.
	Pause(partitions []fs2kafka.TopicPartition)

	// Resume fetching from the given partitions.
	Resume(partitions []fs2kafka.TopicPartition)

	// Poll fetches records, waiting up to timeout. May invoke the
	// RebalanceListener before returning. An empty batch is not an error.
	Poll(ctx context.Context, timeout time.Duration) (Batch, error)

	// CommitAsync commits the given offsets and invokes callback with the
	// result. The callback runs on an internal thread of the client, not on
	// the caller's; it must not block.
	CommitAsync(offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata, callback func(error))

	// Close releases the client. What later calls do is up to the
	// implementation; see Franz.Close.
	Close() error
}
