package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// EnqueueInput carries everything intake knows about a webhook delivery at
// the moment it is accepted.
type EnqueueInput struct {
	ConfigID   string
	TenantID   string
	Source     string
	Type       string
	ExternalID string
	Payload    []byte
}

// EventStore is the durable record of received events and their processing
// state. LeaseBatch must be safe under concurrent pollers: each returned
// event was transitioned PENDING|RETRYING -> PROCESSING by a per-row
// conditional update, so at most one leaser wins per event.
type EventStore interface {
	Enqueue(ctx context.Context, input EnqueueInput) (SyncEvent, error)
	LeaseBatch(ctx context.Context, limit int) ([]SyncEvent, error)
	Get(ctx context.Context, eventID string) (SyncEvent, error)
	Complete(ctx context.Context, eventID string) error
	// MarkRetry moves a leased event back to RETRYING and increments its
	// retry count. A non-zero notBefore excludes the event from leases until
	// that instant (the configuration-level retry delay).
	MarkRetry(ctx context.Context, eventID string, cause error, notBefore time.Time) error
	MarkDeadLetter(ctx context.Context, eventID string, record DeadLetterRecord) error
	// Release returns a leased event to the given leasable status without
	// touching its retry count. Used on shutdown so an abandoned lease never
	// leaves an event stuck in PROCESSING.
	Release(ctx context.Context, eventID string, status string) error
}

// ConfigStore resolves sync configurations. Reads are hot on the intake path
// and at failure time; writes happen elsewhere.
type ConfigStore interface {
	Get(ctx context.Context, configID string) (SyncConfiguration, error)
}

// MappingStore is the idempotency ledger. Record is an upsert keyed on the
// unique (tenant, source, external) triple: the boolean result is false when
// the mapping already existed.
type MappingStore interface {
	Lookup(ctx context.Context, tenantID string, source string, externalID string) (EntityMapping, bool, error)
	Record(ctx context.Context, mapping EntityMapping) (bool, error)
}

// GraphStore applies domain events to the graph. Both operations treat
// "already exists" as success so redelivery is harmless.
type GraphStore interface {
	CreateEntity(ctx context.Context, entity GraphEntity) error
	CreateRelationship(ctx context.Context, relationship GraphRelationship) error
}

// Publisher hands domain events to the broker one at a time, in order. Any
// failure aborts the remainder of the batch.
type Publisher interface {
	Publish(ctx context.Context, events []DomainEvent) error
}

// MetricsRecorder receives fire-and-forget pipeline counters. Implementations
// must never block the calling path.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Clock is injected wherever transition timestamps matter to tests.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}
