package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/mdresch/cognisync-pipeline/core"
	pipelinemigrations "github.com/mdresch/cognisync-pipeline/migrations"
	sqlstore "github.com/mdresch/cognisync-pipeline/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "cognisync-pipeline-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:pipeline-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	err = pipelinemigrations.Apply(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, pipelinemigrations.DialectSQLite)
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"sync_events",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "sync_events" {
		t.Fatalf("expected sync_events table, got %q", tableName)
	}
}

func TestSyncEventStore_EnqueueLeaseCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()

	enqueued, err := events.Enqueue(ctx, core.EnqueueInput{
		ConfigID:   "cfg-1",
		TenantID:   "tenant-1",
		Source:     "jira",
		Type:       "jira:issue_created",
		ExternalID: "10001",
		Payload:    []byte(`{"webhookEvent":"jira:issue_created"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueued.Status != core.EventStatusPending {
		t.Fatalf("enqueued status = %q", enqueued.Status)
	}
	if enqueued.ID == "" {
		t.Fatal("enqueued event must have an id")
	}

	leased, err := events.LeaseBatch(ctx, 10)
	if err != nil {
		t.Fatalf("lease batch: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("expected 1 leased event, got %d", len(leased))
	}
	if leased[0].ID != enqueued.ID || leased[0].Status != core.EventStatusProcessing {
		t.Fatalf("unexpected leased event %+v", leased[0])
	}

	// A second lease over the same rows must come back empty.
	again, err := events.LeaseBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second lease batch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no events on second lease, got %d", len(again))
	}

	if err := events.Complete(ctx, enqueued.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	final, err := events.Get(ctx, enqueued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != core.EventStatusCompleted {
		t.Fatalf("final status = %q", final.Status)
	}
	if final.ErrorMessage != "" {
		t.Fatalf("completed event must clear error, got %q", final.ErrorMessage)
	}
}

func TestSyncEventStore_LeaseOrdersByArrival(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Minute
		events.Now = func() time.Time { return base.Add(offset) }
		enqueued, err := events.Enqueue(ctx, core.EnqueueInput{
			ConfigID: "cfg-1",
			TenantID: "tenant-1",
			Source:   "jira",
		})
		if err != nil {
			t.Fatalf("enqueue #%d: %v", i, err)
		}
		ids = append(ids, enqueued.ID)
	}
	events.Now = core.SystemClock

	leased, err := events.LeaseBatch(ctx, 2)
	if err != nil {
		t.Fatalf("lease batch: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("expected 2 leased events, got %d", len(leased))
	}
	if leased[0].ID != ids[0] || leased[1].ID != ids[1] {
		t.Fatalf("lease must follow arrival order, got %q then %q", leased[0].ID, leased[1].ID)
	}
}

func TestSyncEventStore_MarkRetryGatesLeaseUntilNotBefore(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	events.Now = func() time.Time { return now }

	enqueued, err := events.Enqueue(ctx, core.EnqueueInput{
		ConfigID: "cfg-1",
		TenantID: "tenant-1",
		Source:   "jira",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := events.LeaseBatch(ctx, 1); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := events.MarkRetry(ctx, enqueued.ID, fmt.Errorf("broker unavailable"), now.Add(time.Minute)); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	stored, err := events.Get(ctx, enqueued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.EventStatusRetrying || stored.RetryCount != 1 {
		t.Fatalf("after retry: status=%q retry_count=%d", stored.Status, stored.RetryCount)
	}
	if stored.ErrorMessage != "broker unavailable" {
		t.Fatalf("error message = %q", stored.ErrorMessage)
	}
	if stored.LastFailureAt == nil {
		t.Fatal("retry must record last failure time")
	}

	// Still inside the retry delay: invisible to leasing.
	leased, err := events.LeaseBatch(ctx, 10)
	if err != nil {
		t.Fatalf("lease during delay: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("expected no lease before not-before, got %d", len(leased))
	}

	now = now.Add(2 * time.Minute)
	leased, err = events.LeaseBatch(ctx, 10)
	if err != nil {
		t.Fatalf("lease after delay: %v", err)
	}
	if len(leased) != 1 || leased[0].ID != enqueued.ID {
		t.Fatalf("expected event leased after delay, got %+v", leased)
	}
}

func TestSyncEventStore_MarkDeadLetterIsTerminal(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()
	enqueued, err := events.Enqueue(ctx, core.EnqueueInput{
		ConfigID: "cfg-1",
		TenantID: "tenant-1",
		Source:   "jira",
		Payload:  []byte(`{"issue":{"id":"10001"}}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := events.LeaseBatch(ctx, 1); err != nil {
		t.Fatalf("lease: %v", err)
	}

	failedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := events.MarkDeadLetter(ctx, enqueued.ID, core.DeadLetterRecord{
		Payload:  enqueued.Payload,
		Error:    "publish timeout",
		FailedAt: failedAt,
		Attempts: 4,
	}); err != nil {
		t.Fatalf("mark dead letter: %v", err)
	}

	stored, err := events.Get(ctx, enqueued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.EventStatusDeadLetter {
		t.Fatalf("status = %q", stored.Status)
	}
	if stored.DeadLetter == nil {
		t.Fatal("dead letter record must be populated")
	}
	if stored.DeadLetter.Error != "publish timeout" || stored.DeadLetter.Attempts != 4 {
		t.Fatalf("unexpected dead letter record %+v", stored.DeadLetter)
	}
	if string(stored.DeadLetter.Payload) != `{"issue":{"id":"10001"}}` {
		t.Fatalf("dead letter payload = %q", stored.DeadLetter.Payload)
	}

	leased, err := events.LeaseBatch(ctx, 10)
	if err != nil {
		t.Fatalf("lease after dead letter: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("dead-lettered event must never lease, got %d", len(leased))
	}
}

func TestSyncEventStore_ReleaseReturnsEventWithoutChargingRetry(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()
	enqueued, err := events.Enqueue(ctx, core.EnqueueInput{
		ConfigID: "cfg-1",
		TenantID: "tenant-1",
		Source:   "jira",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := events.LeaseBatch(ctx, 1); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if err := events.Release(ctx, enqueued.ID, core.EventStatusPending); err != nil {
		t.Fatalf("release: %v", err)
	}
	stored, err := events.Get(ctx, enqueued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.EventStatusPending || stored.RetryCount != 0 {
		t.Fatalf("after release: status=%q retry_count=%d", stored.Status, stored.RetryCount)
	}

	if err := events.Release(ctx, enqueued.ID, core.EventStatusCompleted); err == nil {
		t.Fatal("release to a terminal status must be rejected")
	}
}

func TestSyncEventStore_ConcurrentLeasesNeverOverlap(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	events := factory.EventStore()
	const total = 30
	for i := 0; i < total; i++ {
		if _, err := events.Enqueue(ctx, core.EnqueueInput{
			ConfigID:   "cfg-1",
			TenantID:   "tenant-1",
			Source:     "jira",
			ExternalID: fmt.Sprintf("%05d", i),
		}); err != nil {
			t.Fatalf("enqueue #%d: %v", i, err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				leased, err := events.LeaseBatch(ctx, 5)
				if err != nil {
					t.Errorf("lease batch: %v", err)
					return
				}
				if len(leased) == 0 {
					return
				}
				mu.Lock()
				for _, event := range leased {
					seen[event.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct leased events, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("event %s leased %d times", id, count)
		}
	}
}

func TestSyncConfigStore_RoundTripAndNotFound(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	configs := factory.ConfigStore()
	saved, err := configs.Upsert(ctx, core.SyncConfiguration{
		ID:         "cfg-1",
		TenantID:   "tenant-1",
		Source:     "jira",
		Secret:     "shhh",
		RetryLimit: 5,
		RetryDelay: 30 * time.Second,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.RetryDelay != 30*time.Second {
		t.Fatalf("retry delay = %v", saved.RetryDelay)
	}

	loaded, err := configs.Get(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Secret != "shhh" || loaded.RetryLimit != 5 || !loaded.Enabled {
		t.Fatalf("unexpected configuration %+v", loaded)
	}

	// Upsert over the same id replaces the row.
	saved.Enabled = false
	if _, err := configs.Upsert(ctx, saved); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	loaded, err = configs.Get(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if loaded.Enabled {
		t.Fatal("expected replaced configuration to be disabled")
	}

	if err := configs.Delete(ctx, "cfg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := configs.Get(ctx, "cfg-1"); !core.IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestEntityMappingStore_RecordIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	mappings := factory.MappingStore()
	created, err := mappings.Record(ctx, core.EntityMapping{
		TenantID:   "tenant-1",
		Source:     "jira",
		ExternalID: "10001",
		EntityID:   "issue-10001",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !created {
		t.Fatal("first record must report created")
	}

	created, err = mappings.Record(ctx, core.EntityMapping{
		TenantID:   "tenant-1",
		Source:     "jira",
		ExternalID: "10001",
		EntityID:   "issue-other",
	})
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if created {
		t.Fatal("duplicate record must report already existed")
	}

	mapping, found, err := mappings.Lookup(ctx, "tenant-1", "jira", "10001")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if mapping.EntityID != "issue-10001" {
		t.Fatalf("first writer must win, got %q", mapping.EntityID)
	}

	if _, found, err := mappings.Lookup(ctx, "tenant-1", "jira", "99999"); err != nil || found {
		t.Fatalf("missing lookup: found=%v err=%v", found, err)
	}
}

func TestGraphStore_WritesAreSuccessIfExists(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	graph := factory.GraphStore()
	entity := core.GraphEntity{
		ID:       "issue-10001",
		TenantID: "tenant-1",
		Type:     core.EntityTypeIssue,
		Name:     "PROJ-101: Fix login",
		Metadata: map[string]any{"status": "Open", "api_token": "abc123"},
	}
	for i := 0; i < 2; i++ {
		if err := graph.CreateEntity(ctx, entity); err != nil {
			t.Fatalf("create entity #%d: %v", i+1, err)
		}
	}

	relationship := core.GraphRelationship{
		SourceEntityID:   "issue-10001",
		TargetEntityID:   "user-9",
		RelationshipType: core.RelationshipReportedBy,
		TenantID:         "tenant-1",
	}
	for i := 0; i < 2; i++ {
		if err := graph.CreateRelationship(ctx, relationship); err != nil {
			t.Fatalf("create relationship #%d: %v", i+1, err)
		}
	}

	entities, err := graph.Entities(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}
	if entities[0].Name != "PROJ-101: Fix login" {
		t.Fatalf("entity name = %q", entities[0].Name)
	}
	if got := entities[0].Metadata["api_token"]; got != "[REDACTED]" {
		t.Fatalf("expected api_token to be redacted, got %v", got)
	}
	if got := entities[0].Metadata["status"]; got != "Open" {
		t.Fatalf("expected status to survive redaction, got %v", got)
	}
}
