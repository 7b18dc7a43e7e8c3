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

// SyncEventStore is the durable event record. The lease in LeaseBatch is a
// single conditional UPDATE guarded by the status predicate, so two pollers
// racing over the same rows can never both win.
type SyncEventStore struct {
	db   *bun.DB
	repo repository.Repository[*syncEventRecord]

	// Now is injectable for transition-timestamp tests.
	Now func() time.Time
}

func NewSyncEventStore(db *bun.DB) (*SyncEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncEventRecord](db, syncEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync event repository wiring: %w", err)
		}
	}
	return &SyncEventStore{db: db, repo: repo, Now: core.SystemClock}, nil
}

func (s *SyncEventStore) Enqueue(ctx context.Context, input core.EnqueueInput) (core.SyncEvent, error) {
	if s == nil || s.repo == nil {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if strings.TrimSpace(input.ConfigID) == "" {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: config id is required")
	}
	if strings.TrimSpace(input.TenantID) == "" {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	if strings.TrimSpace(input.Source) == "" {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: source is required")
	}

	now := s.now()
	record := &syncEventRecord{
		ID:           uuid.NewString(),
		ConfigID:     strings.TrimSpace(input.ConfigID),
		TenantID:     strings.TrimSpace(input.TenantID),
		Source:       strings.TrimSpace(input.Source),
		EventType:    strings.TrimSpace(input.Type),
		ExternalID:   strings.TrimSpace(input.ExternalID),
		Payload:      append([]byte(nil), input.Payload...),
		Status:       core.EventStatusPending,
		RetryCount:   0,
		ErrorMessage: "",
		ReceivedAt:   now,
		UpdatedAt:    now,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return core.SyncEvent{}, err
	}
	return record.toDomain(), nil
}

// LeaseBatch claims up to limit PENDING or RETRYING events in arrival order
// and transitions them to PROCESSING in the same statement. Rows whose
// next_attempt_at lies in the future stay invisible until the retry delay has
// elapsed.
func (s *SyncEventStore) LeaseBatch(ctx context.Context, limit int) ([]core.SyncEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.now()
	var records []syncEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM sync_events
	WHERE status IN (?, ?)
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY received_at ASC
	LIMIT ?
)
UPDATE sync_events
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?, ?)
RETURNING
	id,
	config_id,
	tenant_id,
	source,
	event_type,
	external_id,
	payload,
	status,
	retry_count,
	error_message,
	next_attempt_at,
	last_failure_at,
	dead_letter_payload,
	dead_letter_error,
	dead_letter_failed_at,
	dead_letter_attempts,
	received_at,
	updated_at
`
		return tx.NewRaw(
			query,
			core.EventStatusPending,
			core.EventStatusRetrying,
			now,
			limit,
			core.EventStatusProcessing,
			now,
			core.EventStatusPending,
			core.EventStatusRetrying,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.SyncEvent, 0, len(records))
	for i := range records {
		events = append(events, records[i].toDomain())
	}
	return events, nil
}

func (s *SyncEventStore) Get(ctx context.Context, eventID string) (core.SyncEvent, error) {
	if s == nil || s.db == nil {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: sync event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.SyncEvent{}, fmt.Errorf("sqlstore: event id is required")
	}
	record := &syncEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncEvent{}, core.NewNotFoundError("sync event not found", map[string]any{
				"event_id": eventID,
			})
		}
		return core.SyncEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncEventStore) Complete(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Set("status = ?", core.EventStatusCompleted).
		Set("error_message = ?", "").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", eventID).
		Exec(ctx)
	return err
}

func (s *SyncEventStore) MarkRetry(ctx context.Context, eventID string, cause error, notBefore time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	now := s.now()
	var next *time.Time
	if !notBefore.IsZero() {
		value := notBefore.UTC()
		next = &value
	}
	_, err := s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Set("status = ?", core.EventStatusRetrying).
		Set("retry_count = retry_count + 1").
		Set("error_message = ?", message).
		Set("next_attempt_at = ?", next).
		Set("last_failure_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", eventID).
		Exec(ctx)
	return err
}

func (s *SyncEventStore) MarkDeadLetter(ctx context.Context, eventID string, record core.DeadLetterRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	failedAt := record.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = s.now()
	}
	now := s.now()
	_, err := s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Set("status = ?", core.EventStatusDeadLetter).
		Set("error_message = ?", strings.TrimSpace(record.Error)).
		Set("next_attempt_at = NULL").
		Set("last_failure_at = ?", failedAt).
		Set("dead_letter_payload = ?", record.Payload).
		Set("dead_letter_error = ?", strings.TrimSpace(record.Error)).
		Set("dead_letter_failed_at = ?", failedAt).
		Set("dead_letter_attempts = ?", record.Attempts).
		Set("updated_at = ?", now).
		Where("id = ?", eventID).
		Exec(ctx)
	return err
}

// Release gives a leased event back without charging a retry. The status
// predicate keeps it from resurrecting an event that finished while the
// release was in flight.
func (s *SyncEventStore) Release(ctx context.Context, eventID string, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	status = strings.TrimSpace(status)
	if !core.IsLeasableStatus(status) {
		return fmt.Errorf("sqlstore: release status %q is not leasable", status)
	}
	_, err := s.db.NewUpdate().
		Model((*syncEventRecord)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", s.now()).
		Where("id = ?", eventID).
		Where("status = ?", core.EventStatusProcessing).
		Exec(ctx)
	return err
}

func (s *SyncEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.EventStore = (*SyncEventStore)(nil)
