package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/mdresch/cognisync-pipeline/core"
)

type SyncConfigStore struct {
	db   *bun.DB
	repo repository.Repository[*syncConfigurationRecord]
}

func NewSyncConfigStore(db *bun.DB) (*SyncConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncConfigurationRecord](db, syncConfigurationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync configuration repository wiring: %w", err)
		}
	}
	return &SyncConfigStore{db: db, repo: repo}, nil
}

func (s *SyncConfigStore) Get(ctx context.Context, configID string) (core.SyncConfiguration, error) {
	if s == nil || s.db == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: sync config store is not configured")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: config id is required")
	}
	record := &syncConfigurationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", configID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncConfiguration{}, core.NewNotFoundError("sync configuration not found", map[string]any{
				"config_id": configID,
			})
		}
		return core.SyncConfiguration{}, err
	}
	return record.toDomain(), nil
}

// Upsert creates or replaces a configuration. Operator-facing; the pipeline
// itself only reads.
func (s *SyncConfigStore) Upsert(ctx context.Context, config core.SyncConfiguration) (core.SyncConfiguration, error) {
	if s == nil || s.db == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: sync config store is not configured")
	}
	config.ID = strings.TrimSpace(config.ID)
	config.TenantID = strings.TrimSpace(config.TenantID)
	config.Source = strings.TrimSpace(config.Source)
	if config.ID == "" {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: config id is required")
	}
	if config.TenantID == "" || config.Source == "" {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: tenant id and source are required")
	}
	if config.Secret == "" {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: secret is required")
	}
	if config.RetryLimit <= 0 {
		config.RetryLimit = core.DefaultRetryLimit
	}

	now := time.Now().UTC()
	var out core.SyncConfiguration
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := newSyncConfigurationRecord(config, now)
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			if !isUniqueViolation(insertErr) {
				return insertErr
			}
			if _, updateErr := tx.NewUpdate().
				Model((*syncConfigurationRecord)(nil)).
				Set("tenant_id = ?", record.TenantID).
				Set("source = ?", record.Source).
				Set("secret = ?", record.Secret).
				Set("retry_limit = ?", record.RetryLimit).
				Set("retry_delay_ms = ?", record.RetryDelay).
				Set("enabled = ?", record.Enabled).
				Set("updated_at = ?", now).
				Where("id = ?", record.ID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	return out, nil
}

func (s *SyncConfigStore) Delete(ctx context.Context, configID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync config store is not configured")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return fmt.Errorf("sqlstore: config id is required")
	}
	_, err := s.db.NewDelete().
		Model((*syncConfigurationRecord)(nil)).
		Where("id = ?", configID).
		Exec(ctx)
	return err
}

var _ core.ConfigStore = (*SyncConfigStore)(nil)
