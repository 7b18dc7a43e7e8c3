// Package webhooks is the pipeline boundary: it authenticates inbound
// deliveries against the owning configuration's shared secret and enqueues
// accepted payloads as PENDING sync events. Unsigned or invalid deliveries
// never reach the event store.
package webhooks
