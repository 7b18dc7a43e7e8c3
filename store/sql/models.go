package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type syncConfigurationRecord struct {
	bun.BaseModel `bun:"table:sync_configurations,alias:scf"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Source     string    `bun:"source,notnull"`
	Secret     string    `bun:"secret,notnull"`
	RetryLimit int       `bun:"retry_limit,notnull"`
	RetryDelay int64     `bun:"retry_delay_ms,notnull"`
	Enabled    bool      `bun:"enabled,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// syncEventRecord keeps the dead-letter snapshot inline rather than in a side
// table: it is written exactly once, read rarely, and must survive exactly as
// long as the event row itself.
type syncEventRecord struct {
	bun.BaseModel `bun:"table:sync_events,alias:sev"`

	ID                 string     `bun:"id,pk"`
	ConfigID           string     `bun:"config_id,notnull"`
	TenantID           string     `bun:"tenant_id,notnull"`
	Source             string     `bun:"source,notnull"`
	EventType          string     `bun:"event_type,notnull"`
	ExternalID         string     `bun:"external_id,notnull"`
	Payload            []byte     `bun:"payload"`
	Status             string     `bun:"status,notnull"`
	RetryCount         int        `bun:"retry_count,notnull"`
	ErrorMessage       string     `bun:"error_message,notnull"`
	NextAttemptAt      *time.Time `bun:"next_attempt_at,nullzero"`
	LastFailureAt      *time.Time `bun:"last_failure_at,nullzero"`
	DeadLetterPayload  []byte     `bun:"dead_letter_payload"`
	DeadLetterError    string     `bun:"dead_letter_error,notnull"`
	DeadLetterFailedAt *time.Time `bun:"dead_letter_failed_at,nullzero"`
	DeadLetterAttempts int        `bun:"dead_letter_attempts,notnull"`
	ReceivedAt         time.Time  `bun:"received_at,notnull"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type entityMappingRecord struct {
	bun.BaseModel `bun:"table:entity_mappings,alias:emp"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Source     string    `bun:"source,notnull"`
	ExternalID string    `bun:"external_id,notnull"`
	EntityID   string    `bun:"entity_id,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type graphEntityRecord struct {
	bun.BaseModel `bun:"table:graph_entities,alias:gen"`

	ID        string         `bun:"id,pk"`
	TenantID  string         `bun:"tenant_id,notnull"`
	Type      string         `bun:"entity_type,notnull"`
	Name      string         `bun:"name,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type graphRelationshipRecord struct {
	bun.BaseModel `bun:"table:graph_relationships,alias:grl"`

	ID               string    `bun:"id,pk"`
	TenantID         string    `bun:"tenant_id,notnull"`
	SourceEntityID   string    `bun:"source_entity_id,notnull"`
	TargetEntityID   string    `bun:"target_entity_id,notnull"`
	RelationshipType string    `bun:"relationship_type,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
