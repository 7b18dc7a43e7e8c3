package sqlstore

import "github.com/mdresch/cognisync-pipeline/core"

var (
	_ core.ConfigStore  = (*SyncConfigStore)(nil)
	_ core.ConfigStore  = (*CachedSyncConfigStore)(nil)
	_ core.EventStore   = (*SyncEventStore)(nil)
	_ core.MappingStore = (*EntityMappingStore)(nil)
	_ core.GraphStore   = (*GraphStore)(nil)
)
