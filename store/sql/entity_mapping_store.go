package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mdresch/cognisync-pipeline/core"
)

// EntityMappingStore is the idempotency ledger. The unique index on
// (tenant_id, source, external_id) is the whole mechanism: a losing
// concurrent Record collapses into "already existed".
type EntityMappingStore struct {
	db   *bun.DB
	repo repository.Repository[*entityMappingRecord]
}

func NewEntityMappingStore(db *bun.DB) (*EntityMappingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*entityMappingRecord](db, entityMappingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid entity mapping repository wiring: %w", err)
		}
	}
	return &EntityMappingStore{db: db, repo: repo}, nil
}

func (s *EntityMappingStore) Lookup(
	ctx context.Context,
	tenantID string,
	source string,
	externalID string,
) (core.EntityMapping, bool, error) {
	if s == nil || s.db == nil {
		return core.EntityMapping{}, false, fmt.Errorf("sqlstore: entity mapping store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	source = strings.TrimSpace(source)
	externalID = strings.TrimSpace(externalID)
	if tenantID == "" || source == "" || externalID == "" {
		return core.EntityMapping{}, false, fmt.Errorf("sqlstore: tenant id, source, and external id are required")
	}

	record := &entityMappingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Where("?TableAlias.source = ?", source).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.EntityMapping{}, false, nil
		}
		return core.EntityMapping{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *EntityMappingStore) Record(ctx context.Context, mapping core.EntityMapping) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: entity mapping store is not configured")
	}
	mapping.TenantID = strings.TrimSpace(mapping.TenantID)
	mapping.Source = strings.TrimSpace(mapping.Source)
	mapping.ExternalID = strings.TrimSpace(mapping.ExternalID)
	mapping.EntityID = strings.TrimSpace(mapping.EntityID)
	if mapping.TenantID == "" || mapping.Source == "" || mapping.ExternalID == "" {
		return false, fmt.Errorf("sqlstore: tenant id, source, and external id are required")
	}
	if mapping.EntityID == "" {
		return false, fmt.Errorf("sqlstore: entity id is required")
	}

	createdAt := mapping.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &entityMappingRecord{
		ID:         uuid.NewString(),
		TenantID:   mapping.TenantID,
		Source:     mapping.Source,
		ExternalID: mapping.ExternalID,
		EntityID:   mapping.EntityID,
		CreatedAt:  createdAt,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ core.MappingStore = (*EntityMappingStore)(nil)
