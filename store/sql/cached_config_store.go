package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/mdresch/cognisync-pipeline/core"
)

const syncConfigCacheKeyPrefix = "cognisync::sync_configuration::v1"

// CachedSyncConfigStore fronts configuration reads with a cache. Every
// accepted webhook and every failure-time limit lookup hits Get, so the read
// path is by far the hottest query in the pipeline; writes invalidate.
type CachedSyncConfigStore struct {
	base  *SyncConfigStore
	cache repositorycache.CacheService
}

func NewCachedSyncConfigStore(
	base *SyncConfigStore,
	cacheService repositorycache.CacheService,
) (*CachedSyncConfigStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base sync config store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: config cache service is required")
	}
	return &CachedSyncConfigStore{base: base, cache: cacheService}, nil
}

// SyncConfigCacheKey returns the deterministic cache key contract for
// configuration reads: cognisync::sync_configuration::v1::<config_id> with
// the id URL-path escaped.
func SyncConfigCacheKey(configID string) (string, error) {
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return "", fmt.Errorf("sqlstore: config id is required")
	}
	return syncConfigCacheKeyPrefix + "::" + url.PathEscape(configID), nil
}

func (s *CachedSyncConfigStore) Get(ctx context.Context, configID string) (core.SyncConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: cached sync config store is not configured")
	}
	cacheKey, err := SyncConfigCacheKey(configID)
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.SyncConfiguration, error) {
		return s.base.Get(ctx, configID)
	})
}

func (s *CachedSyncConfigStore) Upsert(ctx context.Context, config core.SyncConfiguration) (core.SyncConfiguration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncConfiguration{}, fmt.Errorf("sqlstore: cached sync config store is not configured")
	}
	out, err := s.base.Upsert(ctx, config)
	if err != nil {
		return core.SyncConfiguration{}, err
	}
	if err := s.invalidate(ctx, out.ID); err != nil {
		return core.SyncConfiguration{}, err
	}
	return out, nil
}

func (s *CachedSyncConfigStore) Delete(ctx context.Context, configID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached sync config store is not configured")
	}
	if err := s.base.Delete(ctx, configID); err != nil {
		return err
	}
	return s.invalidate(ctx, configID)
}

func (s *CachedSyncConfigStore) invalidate(ctx context.Context, configID string) error {
	cacheKey, err := SyncConfigCacheKey(configID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.ConfigStore = (*CachedSyncConfigStore)(nil)
