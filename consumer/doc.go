// Package consumer implements the consumer actor: a single dispatcher
// goroutine mediating between any number of concurrent streams and one
// underlying kafka client, which is not safe for concurrent use.
//
// Streams express demand with Fetch requests, one per (partition, stream) at
// a time. Before each poll the actor resumes every assigned partition that
// someone is waiting on and that has nothing buffered, and pauses the rest,
// so the client only fetches what will actually be consumed. Records that arrive for a partition with no waiting
// fetch are buffered and delivered to the next fetch for that partition,
// ahead of newer records.
//
// Rebalances arrive as revoke/assign callbacks from inside the client's
// poll. On revoke, waiting fetches for the lost partitions complete
// immediately (with any buffered records as a last gasp) so streams can wind
// down their partition runs. Offset commits submitted while a rebalance is
// in progress are held and replayed, in submission order, by the first poll
// after the rebalance completes.
//
// All requests go through an unbounded inbox processed strictly one at a
// time. Call the Start method of an Actor and submit requests with the
// public methods; each blocks until its request completes or its context is
// done. A caller giving up does not cancel the request: a commit may still
// land after its caller timed out.
package consumer
