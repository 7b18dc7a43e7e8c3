// Package relay is the producer half of the pipeline: a periodic poller
// leases batches of pending sync events, runs them through the transformer
// and publisher, and applies the retry/dead-letter state machine to each
// outcome.
package relay
