// Package producer implements an asynchronous kafka producer.
package producer

import (
	"context"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/twmb/franz-go/pkg/kgo"

	fs2kafka "github.com/nasadorian/fs2-kafka"
)

// Exchange records the outcome of producing a single record. On success
// Partition and Offset say where the record landed.
type Exchange struct {
	Record    *fs2kafka.Record
	Partition int32
	Offset    int64
	Error     error
}

// Producer sends records to kafka. Make sure to set public field values
// before calling Start. Do not change them after calling Start. Safe for
// concurrent use. Batching, retries, and partitioning are the client's;
// what this adds is the channel pipeline: feed records in, read exchanges
// out, close the input to flush and stop.
type Producer struct {
	// Kafka bootstrap, host:port, comma separated
	Bootstrap string
	// Default topic for records that do not name one.
	Topic  string
	Logger log.Logger
	// Extra client options appended last.
	Opts []kgo.Opt
	//
	client *kgo.Client
	out    chan *Exchange
	wg     sync.WaitGroup
}

func (p *Producer) record(r *fs2kafka.Record) *kgo.Record {
	kr := &kgo.Record{
		Topic:     r.Topic,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	if kr.Topic == "" {
		kr.Topic = p.Topic
	}
	for _, h := range r.Headers {
		kr.Headers = append(kr.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}
	return kr
}

// Start producing. When the input channel is closed the producer flushes
// in-flight records, outputs their final exchanges, closes the output
// channel, and releases the client. You should call Start only once.
func (p *Producer) Start(input <-chan *fs2kafka.Record) (<-chan *Exchange, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(p.Bootstrap, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if p.Topic != "" {
		opts = append(opts, kgo.DefaultProduceTopic(p.Topic))
	}
	client, err := kgo.NewClient(append(opts, p.Opts...)...)
	if err != nil {
		return nil, err
	}
	p.client = client
	p.out = make(chan *Exchange)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for r := range input {
			r := r
			p.wg.Add(1)
			p.client.Produce(context.Background(), p.record(r), func(kr *kgo.Record, err error) {
				e := &Exchange{Record: r, Error: err}
				if err == nil {
					e.Partition = kr.Partition
					e.Offset = kr.Offset
				}
				p.out <- e
				p.wg.Done()
			})
		}
	}()
	go func() {
		p.wg.Wait()
		p.client.Close()
		close(p.out)
	}()
	return p.out, nil
}
