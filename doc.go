/*
Package fs2kafka implements a high-level kafka consumer on top of franz-go.

The centerpiece is the consumer actor (package consumer): a single dispatcher
goroutine that owns all access to the underlying kafka client and turns
per-partition demand from any number of concurrent streams into explicit
pause/resume of the client, so that records are fetched only when someone is
waiting for them. Streams ask for records with Fetch, get back committable
records, and commit offsets through handles that survive rebalances. See
package consumer for details and cmd/consumer for an example.
*/
package fs2kafka
