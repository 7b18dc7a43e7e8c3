package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mdresch/cognisync-pipeline/core"
)

// OutcomeRecorder owns every transition out of PROCESSING. Success moves the
// event to COMPLETED; failure moves it to RETRYING until the owning
// configuration's retry limit is exhausted, then DEAD_LETTER.
type OutcomeRecorder struct {
	Events            core.EventStore
	Configs           core.ConfigStore
	DefaultRetryLimit int
	Now               core.Clock
}

func NewOutcomeRecorder(events core.EventStore, configs core.ConfigStore) (*OutcomeRecorder, error) {
	if events == nil {
		return nil, fmt.Errorf("relay: event store is required")
	}
	if configs == nil {
		return nil, fmt.Errorf("relay: config store is required")
	}
	return &OutcomeRecorder{
		Events:            events,
		Configs:           configs,
		DefaultRetryLimit: core.DefaultRetryLimit,
		Now:               core.SystemClock,
	}, nil
}

func (r *OutcomeRecorder) RecordSuccess(ctx context.Context, event core.SyncEvent) error {
	if r == nil || r.Events == nil {
		return fmt.Errorf("relay: outcome recorder is not configured")
	}
	return r.Events.Complete(ctx, event.ID)
}

// RecordFailure applies the transition rule for a leased event. The retry
// limit and retry delay are read from the owning configuration at failure
// time, not cached on the event; a deleted configuration falls back to the
// default limit.
func (r *OutcomeRecorder) RecordFailure(ctx context.Context, event core.SyncEvent, cause error) error {
	if r == nil || r.Events == nil {
		return fmt.Errorf("relay: outcome recorder is not configured")
	}

	retryLimit := r.DefaultRetryLimit
	var retryDelay time.Duration
	if r.Configs != nil {
		if config, err := r.Configs.Get(ctx, event.ConfigID); err == nil {
			retryLimit = config.RetryLimit
			retryDelay = config.RetryDelay
		} else if !core.IsNotFound(err) {
			return core.WrapExternalError(err, "relay: resolve configuration for failure", map[string]any{
				"event_id":  event.ID,
				"config_id": event.ConfigID,
			})
		}
	}

	attempts := event.RetryCount + 1
	if attempts > retryLimit {
		return r.Events.MarkDeadLetter(ctx, event.ID, core.DeadLetterRecord{
			Payload:  event.Payload,
			Error:    failureMessage(cause),
			FailedAt: r.now(),
			Attempts: attempts,
		})
	}

	notBefore := time.Time{}
	if retryDelay > 0 {
		notBefore = r.now().Add(retryDelay)
	}
	return r.Events.MarkRetry(ctx, event.ID, cause, notBefore)
}

func (r *OutcomeRecorder) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func failureMessage(cause error) string {
	if cause == nil {
		return ""
	}
	return strings.TrimSpace(cause.Error())
}
