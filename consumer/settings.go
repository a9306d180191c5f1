package consumer

import (
	"context"
	"os"
	"time"

	"github.com/grafana/dskit/backoff"
	"gopkg.in/yaml.v3"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// CommitRecovery decides what to do with a failed commit. It gets the error
// and a retry function resubmitting the same commit; whatever it returns is
// surfaced to the committer.
type CommitRecovery func(ctx context.Context, err error, retry func(context.Context) error) error

// Settings for an Actor. The zero value is usable: zero durations fall back
// to the defaults below.
type Settings struct {
	// Consumer group id. Exposed on commit handles; optional.
	GroupID string `yaml:"group_id"`
	// Cadence of the periodic poll source. A lower bound on poll frequency,
	// not an upper bound on latency: fetches do not wait for the tick that
	// is already in flight.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Passed to the client's poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// Bound on how long a committer waits for its commit result. The commit
	// itself is not cancelled on timeout.
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	// Invoked when a commit fails; may resubmit. Nil means fail fast.
	CommitRecovery CommitRecovery `yaml:"-"`
	// If set, its result is attached as metadata to the commit entry of
	// each record's offset.
	RecordMetadata func(record *fs2kafka.Record) string `yaml:"-"`
}

const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultPollTimeout   = 50 * time.Millisecond
	DefaultCommitTimeout = 15 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = DefaultPollTimeout
	}
	if s.CommitTimeout <= 0 {
		s.CommitTimeout = DefaultCommitTimeout
	}
	return s
}

// UnmarshalYAML reads the yaml-configurable fields. Durations are in
// time.ParseDuration notation ("50ms", "15s"); an absent duration leaves the
// field as it was.
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		GroupID       string `yaml:"group_id"`
		PollInterval  string `yaml:"poll_interval"`
		PollTimeout   string `yaml:"poll_timeout"`
		CommitTimeout string `yaml:"commit_timeout"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	s.GroupID = aux.GroupID
	for _, d := range []struct {
		raw  string
		into *time.Duration
	}{
		{aux.PollInterval, &s.PollInterval},
		{aux.PollTimeout, &s.PollTimeout},
		{aux.CommitTimeout, &s.CommitTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return err
		}
		*d.into = parsed
	}
	return nil
}

// LoadSettings reads Settings from a yaml file.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fs2kafka.Errorf("error parsing settings %s: %w", path, err)
	}
	return s, nil
}

// BackoffCommitRecovery retries failed commits for which retriable returns
// true, with exponential backoff, up to maxRetries resubmissions. Anything
// else fails immediately. Use client.IsRetriable as the predicate for broker
// errors that are transient by contract (e.g. a commit racing a rebalance).
func BackoffCommitRecovery(retriable func(error) bool, maxRetries int) CommitRecovery {
	return func(ctx context.Context, err error, retry func(context.Context) error) error {
		// backoff treats MaxRetries 0 as unlimited.
		if maxRetries <= 0 {
			return err
		}
		b := backoff.New(ctx, backoff.Config{
			MinBackoff: 10 * time.Millisecond,
			MaxBackoff: time.Second,
			MaxRetries: maxRetries,
		})
		for err != nil && retriable(err) && b.Ongoing() {
			b.Wait()
			err = retry(ctx)
		}
		return err
	}
}
