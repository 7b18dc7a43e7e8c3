package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the full SQL store set from one handle. Stores are
// constructed once and shared; the factory is the composition seam between
// the persistence client and the pipeline.
type RepositoryFactory struct {
	db *bun.DB

	configStore  *SyncConfigStore
	eventStore   *SyncEventStore
	mappingStore *EntityMappingStore
	graphStore   *GraphStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.eventStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConfigStore() *SyncConfigStore {
	if f == nil {
		return nil
	}
	return f.configStore
}

func (f *RepositoryFactory) EventStore() *SyncEventStore {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) MappingStore() *EntityMappingStore {
	if f == nil {
		return nil
	}
	return f.mappingStore
}

func (f *RepositoryFactory) GraphStore() *GraphStore {
	if f == nil {
		return nil
	}
	return f.graphStore
}

func (f *RepositoryFactory) initStores() error {
	configStore, err := NewSyncConfigStore(f.db)
	if err != nil {
		return err
	}
	f.configStore = configStore

	eventStore, err := NewSyncEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore

	mappingStore, err := NewEntityMappingStore(f.db)
	if err != nil {
		return err
	}
	f.mappingStore = mappingStore

	graphStore, err := NewGraphStore(f.db)
	if err != nil {
		return err
	}
	f.graphStore = graphStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
