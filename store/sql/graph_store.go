package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mdresch/cognisync-pipeline/core"
)

// GraphStore persists nodes and edges. Both writes are success-if-exists so
// the consumer can replay a delivery without checking first.
type GraphStore struct {
	db *bun.DB
}

func NewGraphStore(db *bun.DB) (*GraphStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &GraphStore{db: db}, nil
}

func (s *GraphStore) CreateEntity(ctx context.Context, entity core.GraphEntity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: graph store is not configured")
	}
	entity.ID = strings.TrimSpace(entity.ID)
	entity.TenantID = strings.TrimSpace(entity.TenantID)
	if entity.ID == "" {
		return fmt.Errorf("sqlstore: entity id is required")
	}
	if entity.TenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}

	now := time.Now().UTC()
	record := &graphEntityRecord{
		ID:        entity.ID,
		TenantID:  entity.TenantID,
		Type:      strings.TrimSpace(entity.Type),
		Name:      strings.TrimSpace(entity.Name),
		Metadata:  RedactMetadata(entity.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *GraphStore) CreateRelationship(ctx context.Context, relationship core.GraphRelationship) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: graph store is not configured")
	}
	relationship.SourceEntityID = strings.TrimSpace(relationship.SourceEntityID)
	relationship.TargetEntityID = strings.TrimSpace(relationship.TargetEntityID)
	relationship.RelationshipType = strings.TrimSpace(relationship.RelationshipType)
	if relationship.SourceEntityID == "" || relationship.TargetEntityID == "" {
		return fmt.Errorf("sqlstore: source and target entity ids are required")
	}
	if relationship.RelationshipType == "" {
		return fmt.Errorf("sqlstore: relationship type is required")
	}

	record := &graphRelationshipRecord{
		ID:               uuid.NewString(),
		TenantID:         strings.TrimSpace(relationship.TenantID),
		SourceEntityID:   relationship.SourceEntityID,
		TargetEntityID:   relationship.TargetEntityID,
		RelationshipType: relationship.RelationshipType,
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// Entities lists a tenant's nodes in insertion order. Operator-facing.
func (s *GraphStore) Entities(ctx context.Context, tenantID string) ([]core.GraphEntity, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: graph store is not configured")
	}
	var records []graphEntityRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entities := make([]core.GraphEntity, 0, len(records))
	for i := range records {
		record := records[i]
		entities = append(entities, core.GraphEntity{
			ID:       record.ID,
			TenantID: record.TenantID,
			Type:     record.Type,
			Name:     record.Name,
			Metadata: copyAnyMap(record.Metadata),
		})
	}
	return entities, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.GraphStore = (*GraphStore)(nil)
