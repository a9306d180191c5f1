package client

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// Franz implements Client on top of a kgo.Client. Make sure to set public
// field values before the first call. The underlying kgo client is created
// lazily on Subscribe/SubscribePattern/Assign, because kgo fixes the
// consumed topics and the group at construction time.
type Franz struct {
	// Kafka bootstrap, host:port, comma separated
	Bootstrap string
	// Consumer group. Required for Subscribe, optional for Assign (direct
	// assignment never joins the group; the id is only used for commits).
	GroupID  string
	ClientID string
	Logger   log.Logger
	// If set, kprom client metrics are registered here.
	Registerer prometheus.Registerer
	// Extra options appended after the ones derived from the fields above.
	Opts []kgo.Opt
	//
	mu       sync.Mutex
	client   *kgo.Client
	listener RebalanceListener
	assigned map[fs2kafka.TopicPartition]struct{}
}

func (f *Franz) commonOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(f.Bootstrap, ",")...),
	}
	if f.ClientID != "" {
		opts = append(opts, kgo.ClientID(f.ClientID))
	}
	if f.Logger != nil {
		opts = append(opts, kgo.WithLogger(newLogger(f.Logger)))
	}
	if f.Registerer != nil {
		m := kprom.NewMetrics("fs2kafka", kprom.Registerer(f.Registerer))
		opts = append(opts, kgo.WithHooks(m))
	}
	return append(opts, f.Opts...)
}

func (f *Franz) open(opts ...kgo.Opt) error {
	if f.client != nil {
		return errors.New("client already subscribed")
	}
	client, err := kgo.NewClient(append(f.commonOpts(), opts...)...)
	if err != nil {
		return err
	}
	f.client = client
	f.assigned = make(map[fs2kafka.TopicPartition]struct{})
	return nil
}

// hookAssigned and hookRevoked run on whatever goroutine kgo drives the
// group session from, which is blocked inside Poll whenever a rebalance
// lands. They keep the tracked assignment current and forward to the
// listener registered at subscribe time.
func (f *Franz) hookAssigned(assigned map[string][]int32) {
	partitions := flatten(assigned)
	f.mu.Lock()
	for _, tp := range partitions {
		f.assigned[tp] = struct{}{}
	}
	listener := f.listener
	f.mu.Unlock()
	if listener.OnAssigned != nil {
		listener.OnAssigned(partitions)
	}
}

func (f *Franz) hookRevoked(revoked map[string][]int32) {
	partitions := flatten(revoked)
	f.mu.Lock()
	for _, tp := range partitions {
		delete(f.assigned, tp)
	}
	listener := f.listener
	f.mu.Unlock()
	if listener.OnRevoked != nil {
		listener.OnRevoked(partitions)
	}
}

func flatten(m map[string][]int32) []fs2kafka.TopicPartition {
	var partitions []fs2kafka.TopicPartition
	for topic, nn := range m {
		for _, n := range nn {
			partitions = append(partitions, fs2kafka.TopicPartition{Topic: topic, Partition: n})
		}
	}
	return fs2kafka.SortPartitions(partitions)
}

func (f *Franz) groupOpts() []kgo.Opt {
	return []kgo.Opt{
		kgo.ConsumerGroup(f.GroupID),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			f.hookAssigned(assigned)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			f.hookRevoked(revoked)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
			f.hookRevoked(lost)
		}),
		// Without this, kgo runs the callbacks above on its own manage
		// goroutine whenever the group coordinator feels like it. The
		// callbacks must only ever fire inside Poll, on the caller's
		// thread: Poll calls AllowRebalance to let a pending rebalance
		// run right there.
		kgo.BlockRebalanceOnPoll(),
		// Commits are explicit, through CommitAsync.
		kgo.DisableAutoCommit(),
	}
}

func (f *Franz) Subscribe(topics []string, listener RebalanceListener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
	return f.open(append(f.groupOpts(), kgo.ConsumeTopics(topics...))...)
}

func (f *Franz) SubscribePattern(pattern *regexp.Regexp, listener RebalanceListener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
	return f.open(append(f.groupOpts(),
		kgo.ConsumeTopics(pattern.String()),
		kgo.ConsumeRegex())...)
}

func (f *Franz) Assign(partitions []fs2kafka.TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]map[int32]kgo.Offset)
	for _, tp := range partitions {
		if m[tp.Topic] == nil {
			m[tp.Topic] = make(map[int32]kgo.Offset)
		}
		m[tp.Topic][tp.Partition] = kgo.NewOffset().AtStart()
	}
	if err := f.open(kgo.ConsumePartitions(m)); err != nil {
		return err
	}
	for _, tp := range partitions {
		f.assigned[tp] = struct{}{}
	}
	return nil
}

func (f *Franz) Unsubscribe() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client == nil {
		return nil
	}
	// Closing leaves the group; for group subscriptions kgo fires the
	// revoked hook for all held partitions on the way out, which clears
	// the tracked assignment and notifies the listener. Plain Close can
	// hang on a rebalance kept pending by BlockRebalanceOnPoll, hence the
	// allowing variant.
	client.CloseAllowingRebalance()
	f.mu.Lock()
	f.assigned = nil
	f.mu.Unlock()
	return nil
}

func (f *Franz) Assignment() ([]fs2kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil, errors.New("client not subscribed")
	}
	partitions := make([]fs2kafka.TopicPartition, 0, len(f.assigned))
	for tp := range f.assigned {
		partitions = append(partitions, tp)
	}
	return fs2kafka.SortPartitions(partitions), nil
}

func (f *Franz) Pause(partitions []fs2kafka.TopicPartition) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client == nil || len(partitions) == 0 {
		return
	}
	client.PauseFetchPartitions(topicPartitionsMap(partitions))
}

func (f *Franz) Resume(partitions []fs2kafka.TopicPartition) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client == nil || len(partitions) == 0 {
		return
	}
	client.ResumeFetchPartitions(topicPartitionsMap(partitions))
}

func topicPartitionsMap(partitions []fs2kafka.TopicPartition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, tp := range partitions {
		m[tp.Topic] = append(m[tp.Topic], tp.Partition)
	}
	return m
}

func (f *Franz) Poll(ctx context.Context, timeout time.Duration) (Batch, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client == nil {
		return nil, errors.New("client not subscribed")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// Rebalances are blocked outside polls (BlockRebalanceOnPoll). Letting
	// a pending one run here, before fetching, means the revoke/assign
	// callbacks complete inside this call and the records returned below
	// belong to the post-rebalance assignment, so nothing fetched can be
	// yanked away between this poll and its integration.
	client.AllowRebalance()
	fetches := client.PollFetches(ctx)
	var pollErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		// Deadline expiry is how an empty poll ends; a closing client is
		// not this poll's problem either.
		if errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, kgo.ErrClientClosed) {
			return
		}
		if pollErr == nil {
			pollErr = fs2kafka.Errorf("poll error on %s-%d: %w", topic, partition, err)
		}
	})
	if pollErr != nil {
		return nil, pollErr
	}
	batch := make(Batch)
	fetches.EachRecord(func(r *kgo.Record) {
		record := &fs2kafka.Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		}
		for _, h := range r.Headers {
			record.Headers = append(record.Headers, fs2kafka.Header{Key: h.Key, Value: h.Value})
		}
		tp := record.TopicPartition()
		batch[tp] = append(batch[tp], record)
	})
	return batch, nil
}

func (f *Franz) CommitAsync(offsets map[fs2kafka.TopicPartition]fs2kafka.OffsetAndMetadata, callback func(error)) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client == nil {
		callback(errors.New("client not subscribed"))
		return
	}
	toCommit := make(kadm.Offsets)
	for tp, o := range offsets {
		toCommit.Add(kadm.Offset{
			Topic:       tp.Topic,
			Partition:   tp.Partition,
			At:          o.Offset,
			LeaderEpoch: -1,
			Metadata:    o.Metadata,
		})
	}
	// kadm commits support per-partition metadata, which kgo's own group
	// commit path does not carry. The callback contract (runs on a client
	// internal thread, must not block the caller) is preserved with a
	// goroutine.
	go func() {
		committed, err := kadm.NewClient(client).CommitOffsets(context.Background(), f.GroupID, toCommit)
		if err == nil && !committed.Ok() {
			err = committed.Error()
		}
		callback(err)
	}()
}

// Close is Unsubscribe: it closes the underlying kgo client. It does not
// retire the Franz value: afterwards Assignment, Poll and CommitAsync fail,
// Pause and Resume do nothing, and a later Subscribe, SubscribePattern or
// Assign opens a new client.
func (f *Franz) Close() error {
	return f.Unsubscribe()
}

// IsRetriable reports whether err is a kafka error worth retrying: one the
// broker marks retriable, or a commit landing during a rebalance.
func IsRetriable(err error) bool {
	if errors.Is(err, kerr.RebalanceInProgress) {
		return true
	}
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}
	return false
}
