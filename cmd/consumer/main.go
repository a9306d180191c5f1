// Consumer reads records from a kafka topic and writes their values to
// stdout one line at a time. It runs one stream per assigned partition and
// commits after every chunk. This is meant as an example of how to use the
// library.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	fs2kafka "github.com/nasadorian/fs2-kafka"
	"github.com/nasadorian/fs2-kafka/client"
	"github.com/nasadorian/fs2-kafka/consumer"
)

func main() {
	bootstrap := flag.String("bootstrap", "localhost:9092", "host:port, comma separated")
	topic := flag.String("topic", "", "")
	group := flag.String("group", fmt.Sprintf("test-%x", rand.Uint32()), "")
	flag.Parse()
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if *topic == "" {
		logger.Log("msg", "topic is required")
		os.Exit(1)
	}
	//
	actor := &consumer.Actor{
		Client: &client.Franz{
			Bootstrap:  *bootstrap,
			GroupID:    *group,
			Logger:     logger,
			Registerer: prometheus.DefaultRegisterer,
		},
		Settings:   consumer.Settings{GroupID: *group},
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	}
	if err := actor.Start(); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := actor.Subscribe(ctx, *topic); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	// Each assignment of a partition starts a new run with a bumped
	// partition stream id; the fetch loop of a revoked run drains out on
	// its next PartitionRevoked completion.
	var mu sync.Mutex
	runs := make(map[fs2kafka.TopicPartition]consumer.PartitionStreamID)
	assignments := make(chan []fs2kafka.TopicPartition)
	listener := &consumer.RebalanceListener{
		OnAssigned: func(partitions []fs2kafka.TopicPartition) {
			assignments <- partitions
		},
	}
	if _, err := actor.Assignment(ctx, listener); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	for partitions := range assignments {
		for _, tp := range partitions {
			mu.Lock()
			runs[tp]++
			psid := runs[tp]
			mu.Unlock()
			go func(tp fs2kafka.TopicPartition, psid consumer.PartitionStreamID) {
				for {
					records, reason, err := actor.Fetch(ctx, tp, 1, psid)
					if err != nil {
						logger.Log("partition", tp, "err", err)
						return
					}
					for _, r := range records {
						fmt.Printf("%s\n", r.Record.Value)
					}
					if len(records) > 0 {
						if err := records[len(records)-1].Offset.Commit(ctx); err != nil {
							logger.Log("partition", tp, "err", err)
						}
					}
					if reason == consumer.PartitionRevoked {
						return
					}
				}
			}(tp, psid)
		}
	}
}
