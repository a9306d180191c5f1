package consumer

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
)

// Actor mediates between streams and the client. Make sure to set public
// field values before calling Start. Do not change them after calling Start.
// Safe for concurrent use: any number of goroutines may submit requests; the
// dispatcher processes them one at a time.
type Actor struct {
	Client   client.Client
	Settings Settings
	// Optional. Nil means no logging.
	Logger log.Logger
	// Optional. Nil means metrics are collected but not registered.
	Registerer prometheus.Registerer
	//
	settings Settings
	requests *requestQueue
	state    *stateRef
	gate     *gate
	metrics  *metrics
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
}

// Start the dispatcher and the periodic poll source. You should call Start
// only once.
func (a *Actor) Start() error {
	if a.Client == nil {
		return errors.New("client is required")
	}
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("actor already started")
	}
	a.settings = a.Settings.withDefaults()
	if a.Logger == nil {
		a.logger = log.NewNopLogger()
	} else {
		a.logger = log.With(a.Logger, "component", "consumer_actor")
	}
	a.metrics = newMetrics(a.Registerer)
	a.requests = newRequestQueue()
	a.state = newStateRef()
	a.gate = newGate()
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(2)
	go func() {
		a.run(ctx)
		a.wg.Done()
	}()
	go func() {
		a.pollSource(ctx)
		a.wg.Done()
	}()
	return nil
}

// Stop the actor. No new requests are accepted; requests already in the
// inbox drain with the shutdown context cancelled, so anything needing the
// client fails fast. Does not close the client.
func (a *Actor) Stop() {
	a.requests.close()
	a.cancel()
}

// Wait for the dispatcher and poll source to exit.
func (a *Actor) Wait() {
	a.wg.Wait()
}

// run is the dispatcher: one request at a time, to completion, in order.
func (a *Actor) run(ctx context.Context) {
	for {
		req, ok := a.requests.pop(ctx)
		if !ok {
			return
		}
		a.dispatch(ctx, req)
	}
}

func (a *Actor) dispatch(ctx context.Context, req request) {
	switch r := req.(type) {
	case *subscribeRequest:
		a.handleSubscribe(ctx, r)
	case *assignRequest:
		a.handleAssign(ctx, r)
	case *unsubscribeRequest:
		a.handleUnsubscribe(ctx, r)
	case *assignmentRequest:
		a.handleAssignment(ctx, r)
	case *fetchRequest:
		a.handleFetch(ctx, r)
	case *commitRequest:
		a.handleCommit(ctx, r)
	case *pollRequest:
		a.handlePoll(ctx)
	}
}

func (a *Actor) submit(r request) error {
	if !a.started.Load() {
		return errors.New("actor not started")
	}
	if !a.requests.push(r) {
		return fs2kafka.ErrClosed
	}
	return nil
}

// --- subscription surface ---

func (a *Actor) handleSubscribe(ctx context.Context, r *subscribeRequest) {
	listener := a.reactorListener()
	err := a.gate.run(ctx, func() error {
		if r.pattern != nil {
			return a.Client.SubscribePattern(r.pattern, listener)
		}
		return a.Client.Subscribe(r.topics, listener)
	})
	if err == nil {
		a.state.modify(func(s *state) action {
			s.subscribed = true
			return nil
		})
		level.Info(a.logger).Log("msg", "subscribed", "topics", len(r.topics))
	}
	r.done.complete(err)
}

func (a *Actor) handleAssign(ctx context.Context, r *assignRequest) {
	err := a.gate.run(ctx, func() error {
		return a.Client.Assign(r.partitions)
	})
	if err == nil {
		a.state.modify(func(s *state) action {
			s.subscribed = true
			return nil
		})
		level.Info(a.logger).Log("msg", "assigned", "partitions", len(r.partitions))
	}
	r.done.complete(err)
}

func (a *Actor) handleUnsubscribe(ctx context.Context, r *unsubscribeRequest) {
	err := a.gate.run(ctx, func() error {
		return a.Client.Unsubscribe()
	})
	if err == nil {
		a.state.modify(func(s *state) action {
			s.subscribed = false
			return nil
		})
		level.Info(a.logger).Log("msg", "unsubscribed")
	}
	r.done.complete(err)
}

func (a *Actor) handleAssignment(ctx context.Context, r *assignmentRequest) {
	var subscribed bool
	a.state.view(func(s *state) { subscribed = s.subscribed })
	if !subscribed {
		r.done.complete(assignmentResult{err: fs2kafka.ErrNotSubscribed})
		return
	}
	var partitions []fs2kafka.TopicPartition
	err := a.gate.run(ctx, func() error {
		var err error
		partitions, err = a.Client.Assignment()
		return err
	})
	if err != nil {
		r.done.complete(assignmentResult{err: err})
		return
	}
	if r.listener != nil {
		a.state.modify(func(s *state) action {
			s.onRebalances = append(s.onRebalances, *r.listener)
			s.streaming = true
			return nil
		})
	}
	r.done.complete(assignmentResult{partitions: partitions})
}

// --- public request API ---

// Subscribe to the given topics.
func (a *Actor) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return errors.New("no topics")
	}
	r := &subscribeRequest{topics: topics, done: newSlot[error]()}
	if err := a.submit(r); err != nil {
		return err
	}
	err, werr := r.done.wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// SubscribePattern subscribes to all topics matching pattern.
func (a *Actor) SubscribePattern(ctx context.Context, p *regexp.Regexp) error {
	r := &subscribeRequest{pattern: p, done: newSlot[error]()}
	if err := a.submit(r); err != nil {
		return err
	}
	err, werr := r.done.wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// Assign the given partitions directly, without group membership.
func (a *Actor) Assign(ctx context.Context, partitions ...fs2kafka.TopicPartition) error {
	if len(partitions) == 0 {
		return errors.New("no partitions")
	}
	r := &assignRequest{partitions: partitions, done: newSlot[error]()}
	if err := a.submit(r); err != nil {
		return err
	}
	err, werr := r.done.wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// Unsubscribe from all topics. Buffered records and waiting fetches for the
// departing partitions are cleared through the client's revoke callback.
func (a *Actor) Unsubscribe(ctx context.Context) error {
	r := &unsubscribeRequest{done: newSlot[error]()}
	if err := a.submit(r); err != nil {
		return err
	}
	err, werr := r.done.wait(ctx)
	if werr != nil {
		return werr
	}
	return err
}

// Assignment returns the partitions currently assigned. With a non-nil
// listener it also registers the listener for rebalance callbacks: this is
// how a stream hooks itself up. Returns ErrNotSubscribed before any
// subscribe or assign.
func (a *Actor) Assignment(ctx context.Context, listener *RebalanceListener) ([]fs2kafka.TopicPartition, error) {
	r := &assignmentRequest{listener: listener, done: newSlot[assignmentResult]()}
	if err := a.submit(r); err != nil {
		return nil, err
	}
	res, werr := r.done.wait(ctx)
	if werr != nil {
		return nil, werr
	}
	return res.partitions, res.err
}
