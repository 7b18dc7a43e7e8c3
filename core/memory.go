package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore keeps sync events in process memory. It honors the same
// lease semantics as the SQL store: LeaseBatch flips status under a single
// lock so two concurrent pollers can never claim the same event.
type MemoryEventStore struct {
	mu        sync.Mutex
	events    map[string]*SyncEvent
	order     []string
	notBefore map[string]time.Time
	Now       Clock
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: map[string]*SyncEvent{},
		Now:    SystemClock,
	}
}

func (s *MemoryEventStore) Enqueue(_ context.Context, input EnqueueInput) (SyncEvent, error) {
	if s == nil {
		return SyncEvent{}, fmt.Errorf("core: memory event store is not configured")
	}
	configID := strings.TrimSpace(input.ConfigID)
	if configID == "" {
		return SyncEvent{}, NewBadInputError("core: config id is required", nil)
	}
	now := s.now()
	event := &SyncEvent{
		ID:         uuid.NewString(),
		ConfigID:   configID,
		TenantID:   strings.TrimSpace(input.TenantID),
		Source:     strings.TrimSpace(input.Source),
		Type:       strings.TrimSpace(input.Type),
		ExternalID: strings.TrimSpace(input.ExternalID),
		Payload:    append([]byte(nil), input.Payload...),
		Status:     EventStatusPending,
		ReceivedAt: now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	s.order = append(s.order, event.ID)
	return cloneEvent(event), nil
}

func (s *MemoryEventStore) LeaseBatch(_ context.Context, limit int) ([]SyncEvent, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory event store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	leased := make([]SyncEvent, 0, limit)
	for _, id := range s.order {
		if len(leased) >= limit {
			break
		}
		event := s.events[id]
		if event == nil || !IsLeasableStatus(event.Status) {
			continue
		}
		if event.Status == EventStatusRetrying && event.LastFailureAt != nil {
			if notBefore, ok := s.notBefore[id]; ok && now.Before(notBefore) {
				continue
			}
		}
		event.Status = EventStatusProcessing
		event.UpdatedAt = now
		leased = append(leased, cloneEvent(event))
	}
	return leased, nil
}

func (s *MemoryEventStore) Get(_ context.Context, eventID string) (SyncEvent, error) {
	if s == nil {
		return SyncEvent{}, fmt.Errorf("core: memory event store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return SyncEvent{}, NewNotFoundError("core: sync event not found", map[string]any{"event_id": eventID})
	}
	return cloneEvent(event), nil
}

func (s *MemoryEventStore) Complete(_ context.Context, eventID string) error {
	return s.mutate(eventID, func(event *SyncEvent, now time.Time) {
		event.Status = EventStatusCompleted
		event.ErrorMessage = ""
		event.UpdatedAt = now
	})
}

func (s *MemoryEventStore) MarkRetry(_ context.Context, eventID string, cause error, notBefore time.Time) error {
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	return s.mutate(eventID, func(event *SyncEvent, now time.Time) {
		event.Status = EventStatusRetrying
		event.RetryCount++
		event.ErrorMessage = message
		failedAt := now
		event.LastFailureAt = &failedAt
		event.UpdatedAt = now
		if !notBefore.IsZero() {
			if s.notBefore == nil {
				s.notBefore = map[string]time.Time{}
			}
			s.notBefore[event.ID] = notBefore.UTC()
		}
	})
}

func (s *MemoryEventStore) MarkDeadLetter(_ context.Context, eventID string, record DeadLetterRecord) error {
	return s.mutate(eventID, func(event *SyncEvent, now time.Time) {
		event.Status = EventStatusDeadLetter
		event.RetryCount = record.Attempts
		event.ErrorMessage = record.Error
		copied := record
		copied.Payload = append([]byte(nil), record.Payload...)
		event.DeadLetter = &copied
		failedAt := record.FailedAt
		if failedAt.IsZero() {
			failedAt = now
		}
		event.LastFailureAt = &failedAt
		event.UpdatedAt = now
	})
}

func (s *MemoryEventStore) Release(_ context.Context, eventID string, status string) error {
	status = strings.TrimSpace(status)
	if !IsLeasableStatus(status) {
		return NewBadInputError("core: release status must be leasable", map[string]any{"status": status})
	}
	return s.mutate(eventID, func(event *SyncEvent, now time.Time) {
		if event.Status != EventStatusProcessing {
			return
		}
		event.Status = status
		event.UpdatedAt = now
	})
}

// Snapshot returns all events ordered by receipt for assertions.
func (s *MemoryEventStore) Snapshot() []SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncEvent, 0, len(s.order))
	for _, id := range s.order {
		if event := s.events[id]; event != nil {
			out = append(out, cloneEvent(event))
		}
	}
	return out
}

func (s *MemoryEventStore) mutate(eventID string, apply func(*SyncEvent, time.Time)) error {
	if s == nil {
		return fmt.Errorf("core: memory event store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return NewNotFoundError("core: sync event not found", map[string]any{"event_id": eventID})
	}
	apply(event, s.now())
	return nil
}

func (s *MemoryEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneEvent(event *SyncEvent) SyncEvent {
	cloned := *event
	cloned.Payload = append([]byte(nil), event.Payload...)
	if event.DeadLetter != nil {
		record := *event.DeadLetter
		record.Payload = append([]byte(nil), event.DeadLetter.Payload...)
		cloned.DeadLetter = &record
	}
	if event.LastFailureAt != nil {
		at := *event.LastFailureAt
		cloned.LastFailureAt = &at
	}
	return cloned
}

// MemoryConfigStore serves operator-written sync configurations from memory.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]SyncConfiguration
}

func NewMemoryConfigStore(configs ...SyncConfiguration) *MemoryConfigStore {
	store := &MemoryConfigStore{configs: map[string]SyncConfiguration{}}
	for _, cfg := range configs {
		store.configs[strings.TrimSpace(cfg.ID)] = cfg
	}
	return store
}

func (s *MemoryConfigStore) Get(_ context.Context, configID string) (SyncConfiguration, error) {
	if s == nil {
		return SyncConfiguration{}, fmt.Errorf("core: memory config store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[strings.TrimSpace(configID)]
	if !ok {
		return SyncConfiguration{}, NewNotFoundError(
			"core: sync configuration not found",
			map[string]any{"config_id": configID},
		)
	}
	return cfg, nil
}

func (s *MemoryConfigStore) Put(cfg SyncConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[strings.TrimSpace(cfg.ID)] = cfg
}

func (s *MemoryConfigStore) Delete(configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, strings.TrimSpace(configID))
}

// MemoryMappingStore is the in-process idempotency ledger.
type MemoryMappingStore struct {
	mu       sync.Mutex
	mappings map[string]EntityMapping
	Now      Clock
}

func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{
		mappings: map[string]EntityMapping{},
		Now:      SystemClock,
	}
}

func (s *MemoryMappingStore) Lookup(
	_ context.Context,
	tenantID string,
	source string,
	externalID string,
) (EntityMapping, bool, error) {
	if s == nil {
		return EntityMapping{}, false, fmt.Errorf("core: memory mapping store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingKey(tenantID, source, externalID)]
	return mapping, ok, nil
}

func (s *MemoryMappingStore) Record(_ context.Context, mapping EntityMapping) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: memory mapping store is not configured")
	}
	key := mappingKey(mapping.TenantID, mapping.Source, mapping.ExternalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mappings[key]; exists {
		return false, nil
	}
	if mapping.CreatedAt.IsZero() {
		now := time.Now().UTC()
		if s.Now != nil {
			now = s.Now().UTC()
		}
		mapping.CreatedAt = now
	}
	s.mappings[key] = mapping
	return true, nil
}

func (s *MemoryMappingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

// MemoryGraphStore applies entities and relationships to process memory with
// the same uniqueness semantics the SQL store enforces with constraints.
type MemoryGraphStore struct {
	mu            sync.Mutex
	entities      map[string]GraphEntity
	relationships map[string]GraphRelationship
}

func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		entities:      map[string]GraphEntity{},
		relationships: map[string]GraphRelationship{},
	}
}

func (s *MemoryGraphStore) CreateEntity(_ context.Context, entity GraphEntity) error {
	if s == nil {
		return fmt.Errorf("core: memory graph store is not configured")
	}
	id := strings.TrimSpace(entity.ID)
	if id == "" {
		return NewBadInputError("core: graph entity id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[id]; exists {
		return nil
	}
	entity.Metadata = copyAnyMap(entity.Metadata)
	s.entities[id] = entity
	return nil
}

func (s *MemoryGraphStore) CreateRelationship(_ context.Context, relationship GraphRelationship) error {
	if s == nil {
		return fmt.Errorf("core: memory graph store is not configured")
	}
	if strings.TrimSpace(relationship.SourceEntityID) == "" ||
		strings.TrimSpace(relationship.TargetEntityID) == "" ||
		strings.TrimSpace(relationship.RelationshipType) == "" {
		return NewBadInputError("core: relationship source, target and type are required", nil)
	}
	key := relationshipKey(relationship)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.relationships[key]; exists {
		return nil
	}
	s.relationships[key] = relationship
	return nil
}

func (s *MemoryGraphStore) Entities() []GraphEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GraphEntity, 0, len(s.entities))
	for _, entity := range s.entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryGraphStore) Relationships() []GraphRelationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GraphRelationship, 0, len(s.relationships))
	for _, relationship := range s.relationships {
		out = append(out, relationship)
	}
	sort.Slice(out, func(i, j int) bool {
		return relationshipKey(out[i]) < relationshipKey(out[j])
	})
	return out
}

func mappingKey(tenantID string, source string, externalID string) string {
	return strings.TrimSpace(tenantID) + "::" + strings.TrimSpace(source) + "::" + strings.TrimSpace(externalID)
}

func relationshipKey(relationship GraphRelationship) string {
	return strings.TrimSpace(relationship.SourceEntityID) + "::" +
		strings.TrimSpace(relationship.TargetEntityID) + "::" +
		strings.TrimSpace(relationship.RelationshipType)
}

var (
	_ EventStore   = (*MemoryEventStore)(nil)
	_ ConfigStore  = (*MemoryConfigStore)(nil)
	_ MappingStore = (*MemoryMappingStore)(nil)
	_ GraphStore   = (*MemoryGraphStore)(nil)
)
