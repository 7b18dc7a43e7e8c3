package sqlstore

import (
	"time"

	"github.com/mdresch/cognisync-pipeline/core"
)

func (r *syncConfigurationRecord) toDomain() core.SyncConfiguration {
	if r == nil {
		return core.SyncConfiguration{}
	}
	return core.SyncConfiguration{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Source:     r.Source,
		Secret:     r.Secret,
		RetryLimit: r.RetryLimit,
		RetryDelay: time.Duration(r.RetryDelay) * time.Millisecond,
		Enabled:    r.Enabled,
	}
}

func newSyncConfigurationRecord(config core.SyncConfiguration, now time.Time) *syncConfigurationRecord {
	return &syncConfigurationRecord{
		ID:         config.ID,
		TenantID:   config.TenantID,
		Source:     config.Source,
		Secret:     config.Secret,
		RetryLimit: config.RetryLimit,
		RetryDelay: config.RetryDelay.Milliseconds(),
		Enabled:    config.Enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *syncEventRecord) toDomain() core.SyncEvent {
	if r == nil {
		return core.SyncEvent{}
	}
	event := core.SyncEvent{
		ID:           r.ID,
		ConfigID:     r.ConfigID,
		TenantID:     r.TenantID,
		Source:       r.Source,
		Type:         r.EventType,
		ExternalID:   r.ExternalID,
		Payload:      append([]byte(nil), r.Payload...),
		Status:       r.Status,
		RetryCount:   r.RetryCount,
		ErrorMessage: r.ErrorMessage,
		ReceivedAt:   r.ReceivedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastFailureAt != nil {
		value := *r.LastFailureAt
		event.LastFailureAt = &value
	}
	if r.DeadLetterFailedAt != nil {
		event.DeadLetter = &core.DeadLetterRecord{
			Payload:  append([]byte(nil), r.DeadLetterPayload...),
			Error:    r.DeadLetterError,
			FailedAt: *r.DeadLetterFailedAt,
			Attempts: r.DeadLetterAttempts,
		}
	}
	return event
}

func (r *entityMappingRecord) toDomain() core.EntityMapping {
	if r == nil {
		return core.EntityMapping{}
	}
	return core.EntityMapping{
		TenantID:   r.TenantID,
		Source:     r.Source,
		ExternalID: r.ExternalID,
		EntityID:   r.EntityID,
		CreatedAt:  r.CreatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
