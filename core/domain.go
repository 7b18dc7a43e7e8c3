package core

import (
	"strings"
	"time"
)

const (
	EventStatusPending    = "PENDING"
	EventStatusProcessing = "PROCESSING"
	EventStatusCompleted  = "COMPLETED"
	EventStatusRetrying   = "RETRYING"
	EventStatusDeadLetter = "DEAD_LETTER"
)

const (
	MessageTypeCreateEntity = "CREATE_ENTITY"
	MessageTypeLinkEntities = "LINK_ENTITIES"
)

const (
	EntityTypeIssue  = "ISSUE"
	EntityTypePerson = "PERSON"

	RelationshipReportedBy = "REPORTED_BY"
)

// DefaultRetryLimit applies when the owning configuration has been deleted
// between enqueue and failure time.
const DefaultRetryLimit = 3

// SyncConfiguration is a tenant-scoped webhook registration. Configurations
// are written by operators through the configuration API and are read-only to
// the pipeline.
type SyncConfiguration struct {
	ID         string
	TenantID   string
	Source     string
	Secret     string
	RetryLimit int
	RetryDelay time.Duration
	Enabled    bool
}

// SyncEvent is the pipeline's unit of work. Events are created PENDING at
// intake and only ever transition through the lease manager and the outcome
// state machine. Terminal states are COMPLETED and DEAD_LETTER; events are
// never deleted.
type SyncEvent struct {
	ID            string
	ConfigID      string
	TenantID      string
	Source        string
	Type          string
	ExternalID    string
	Payload       []byte
	Status        string
	RetryCount    int
	ErrorMessage  string
	DeadLetter    *DeadLetterRecord
	LastFailureAt *time.Time
	ReceivedAt    time.Time
	UpdatedAt     time.Time
}

// DeadLetterRecord is populated exactly once, when an event exhausts its
// retry budget.
type DeadLetterRecord struct {
	Payload  []byte
	Error    string
	FailedAt time.Time
	Attempts int
}

// EntityMapping is the idempotency ledger row tying an upstream object to
// the graph entity it produced. The (TenantID, Source, ExternalID) triple is
// unique.
type EntityMapping struct {
	TenantID   string
	Source     string
	ExternalID string
	EntityID   string
	CreatedAt  time.Time
}

// DomainEvent is the broker wire message. Immutable once published; the
// MessageID is derived deterministically from the originating sync event so
// redelivery of the same publish attempt is detectable downstream.
type DomainEvent struct {
	MessageID   string
	MessageType string
	Payload     map[string]any
}

// EntityPayload is the CREATE_ENTITY payload shape.
type EntityPayload struct {
	ID       string
	Type     string
	Name     string
	Metadata map[string]any
}

// RelationshipPayload is the LINK_ENTITIES payload shape.
type RelationshipPayload struct {
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType string
}

// GraphEntity is a node applied to the graph store.
type GraphEntity struct {
	ID       string
	TenantID string
	Type     string
	Name     string
	Metadata map[string]any
}

// GraphRelationship is an edge applied to the graph store. The
// (SourceEntityID, TargetEntityID, RelationshipType) triple is unique.
type GraphRelationship struct {
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType string
	TenantID         string
}

func (p EntityPayload) ToMap() map[string]any {
	out := map[string]any{
		"id":   p.ID,
		"type": p.Type,
		"name": p.Name,
	}
	if len(p.Metadata) > 0 {
		out["metadata"] = copyAnyMap(p.Metadata)
	}
	return out
}

func (p RelationshipPayload) ToMap() map[string]any {
	return map[string]any{
		"sourceEntityId":   p.SourceEntityID,
		"targetEntityId":   p.TargetEntityID,
		"relationshipType": p.RelationshipType,
	}
}

func EntityPayloadFromMap(raw map[string]any) EntityPayload {
	payload := EntityPayload{
		ID:   stringField(raw, "id"),
		Type: stringField(raw, "type"),
		Name: stringField(raw, "name"),
	}
	if metadata, ok := raw["metadata"].(map[string]any); ok {
		payload.Metadata = copyAnyMap(metadata)
	}
	return payload
}

func RelationshipPayloadFromMap(raw map[string]any) RelationshipPayload {
	return RelationshipPayload{
		SourceEntityID:   stringField(raw, "sourceEntityId"),
		TargetEntityID:   stringField(raw, "targetEntityId"),
		RelationshipType: stringField(raw, "relationshipType"),
	}
}

// IsTerminalStatus reports whether a status can never be leased again.
func IsTerminalStatus(status string) bool {
	switch strings.TrimSpace(status) {
	case EventStatusCompleted, EventStatusDeadLetter:
		return true
	}
	return false
}

// IsLeasableStatus reports whether a status is eligible for LeaseBatch.
func IsLeasableStatus(status string) bool {
	switch strings.TrimSpace(status) {
	case EventStatusPending, EventStatusRetrying:
		return true
	}
	return false
}

func stringField(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func copyAnyMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	copied := make(map[string]any, len(input))
	for key, value := range input {
		copied[key] = value
	}
	return copied
}
