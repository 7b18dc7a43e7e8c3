package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/mdresch/cognisync-pipeline/core"
	"github.com/mdresch/cognisync-pipeline/transform"
)

// TickStats summarizes one poll cycle.
type TickStats struct {
	Leased       int
	Completed    int
	Skipped      int
	Retried      int
	DeadLettered int
}

// Poller drives the producer side: a fixed-interval timer leases a batch and
// processes it strictly sequentially. A single-flight guard skips a tick that
// finds the previous one still running, so the at-most-one-worker-per-event
// invariant does not rest on the store-level CAS alone.
type Poller struct {
	Events   core.EventStore
	Outcomes *OutcomeRecorder
	Publish  core.Publisher
	Interval time.Duration
	Batch    int
	Metrics  core.MetricsRecorder
	Logger   core.Logger
	Now      core.Clock

	inFlight atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewPoller(
	events core.EventStore,
	outcomes *OutcomeRecorder,
	publisher core.Publisher,
	cfg core.Config,
) (*Poller, error) {
	if events == nil {
		return nil, fmt.Errorf("relay: event store is required")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("relay: outcome recorder is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("relay: publisher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{
		Events:   events,
		Outcomes: outcomes,
		Publish:  publisher,
		Interval: cfg.PollInterval,
		Batch:    cfg.BatchSize,
		Metrics:  core.NopMetricsRecorder{},
		Logger:   glog.Nop(),
		Now:      core.SystemClock,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the poll loop until ctx is cancelled or Stop is called. It
// blocks; callers run it in a goroutine.
func (p *Poller) Start(ctx context.Context) error {
	if p == nil || p.Events == nil {
		return fmt.Errorf("relay: poller is not configured")
	}
	defer close(p.done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				p.logger().Debug("poll tick skipped, previous tick still running")
				continue
			}
			_, err := p.RunOnce(ctx)
			p.inFlight.Store(false)
			if err != nil && ctx.Err() == nil {
				p.logger().Error("poll tick failed", "error", err)
			}
		}
	}
}

// Stop halts the timer and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// RunOnce leases one batch and processes it sequentially. Failures are
// isolated per event; the batch always runs to the end. If ctx is cancelled
// mid-batch the unprocessed remainder is released back to a leasable status
// so nothing stays stuck in PROCESSING.
func (p *Poller) RunOnce(ctx context.Context) (TickStats, error) {
	startedAt := p.now()
	leased, err := p.Events.LeaseBatch(ctx, p.Batch)
	if err != nil {
		return TickStats{}, core.WrapExternalError(err, "relay: lease batch", nil)
	}

	stats := TickStats{Leased: len(leased)}
	for index, event := range leased {
		if ctx.Err() != nil {
			p.releaseRemainder(leased[index:])
			return stats, ctx.Err()
		}
		p.processOne(ctx, event, &stats)
	}

	p.metrics().ObserveHistogram(ctx, core.MetricBatchDuration,
		float64(time.Since(startedAt).Milliseconds()), map[string]string{})
	if stats.Leased > 0 {
		p.logger().Info("poll tick processed",
			"leased", stats.Leased,
			"completed", stats.Completed,
			"skipped", stats.Skipped,
			"retried", stats.Retried,
			"dead_lettered", stats.DeadLettered,
		)
	}
	return stats, nil
}

func (p *Poller) processOne(ctx context.Context, event core.SyncEvent, stats *TickStats) {
	tags := map[string]string{"config_id": event.ConfigID, "source": event.Source}

	result, err := transform.Transform(event)
	if err == nil && !result.Skipped {
		err = p.Publish.Publish(ctx, result.Events)
	}

	if err != nil {
		if recordErr := p.Outcomes.RecordFailure(ctx, event, err); recordErr != nil {
			p.logger().Error("record failure outcome",
				"event_id", event.ID, "error", recordErr)
			return
		}
		// Re-read to learn which branch the state machine took.
		updated, getErr := p.Events.Get(ctx, event.ID)
		if getErr == nil && updated.Status == core.EventStatusDeadLetter {
			stats.DeadLettered++
			p.metrics().IncCounter(ctx, core.MetricEventsDeadLettered, 1, tags)
			p.logger().Error("event dead-lettered",
				"event_id", event.ID, "attempts", updated.RetryCount, "error", err)
			return
		}
		stats.Retried++
		p.metrics().IncCounter(ctx, core.MetricEventsRetried, 1, tags)
		p.logger().Warn("event scheduled for retry", "event_id", event.ID, "error", err)
		return
	}

	if recordErr := p.Outcomes.RecordSuccess(ctx, event); recordErr != nil {
		p.logger().Error("record success outcome", "event_id", event.ID, "error", recordErr)
		return
	}
	if result.Skipped {
		stats.Skipped++
		stats.Completed++
		p.metrics().IncCounter(ctx, core.MetricEventsSkipped, 1, tags)
		p.logger().Info("event skipped", "event_id", event.ID, "reason", result.SkipReason)
		return
	}
	stats.Completed++
	p.metrics().IncCounter(ctx, core.MetricEventsSucceeded, 1, tags)
}

// releaseRemainder returns still-unprocessed leased events to their prior
// leasable status during shutdown. Uses a fresh context because the batch
// context is already cancelled.
func (p *Poller) releaseRemainder(events []core.SyncEvent) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, event := range events {
		status := core.EventStatusPending
		if event.RetryCount > 0 {
			status = core.EventStatusRetrying
		}
		if err := p.Events.Release(releaseCtx, event.ID, status); err != nil {
			p.logger().Error("release leased event", "event_id", event.ID, "error", err)
		}
	}
}

func (p *Poller) metrics() core.MetricsRecorder {
	if p != nil && p.Metrics != nil {
		return p.Metrics
	}
	return core.NopMetricsRecorder{}
}

func (p *Poller) logger() core.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return glog.Nop()
}

func (p *Poller) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
