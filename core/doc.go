// Package core defines the domain model and store contracts shared by the
// CogniSync webhook pipeline: sync configurations, sync events and their
// processing lifecycle, domain events on the broker wire, and the entity
// mapping ledger the consumer uses to stay idempotent.
package core
