// Package consumer is the broker-side half of the pipeline: a bounded worker
// pool drains the subscription and applies each domain event idempotently to
// the graph store. A failed apply is dead-lettered immediately and never
// retried here; apply failures are data-shape errors that redelivery cannot
// fix.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/mdresch/cognisync-pipeline/broker"
	"github.com/mdresch/cognisync-pipeline/core"
)

const (
	reasonUnknownMessageType = "unknown message type"
	reasonApplyFailed        = "apply failed"
)

type Consumer struct {
	Subscription broker.Subscription
	Mappings     core.MappingStore
	Graph        core.GraphStore
	TenantID     string
	Source       string
	Workers      int

	// ReceiveTimeout bounds each broker read; an idle interval elapsing is
	// not a failure, the worker just polls again. Zero disables the bound.
	ReceiveTimeout time.Duration

	Metrics core.MetricsRecorder
	Logger  core.Logger

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(
	subscription broker.Subscription,
	mappings core.MappingStore,
	graph core.GraphStore,
	tenantID, source string,
	cfg core.Config,
) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("consumer: subscription is required")
	}
	if mappings == nil {
		return nil, fmt.Errorf("consumer: mapping store is required")
	}
	if graph == nil {
		return nil, fmt.Errorf("consumer: graph store is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("consumer: tenant id is required")
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("consumer: source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Consumer{
		Subscription:   subscription,
		Mappings:       mappings,
		Graph:          graph,
		TenantID:       tenantID,
		Source:         source,
		Workers:        cfg.ConsumerWorkers,
		ReceiveTimeout: cfg.ReceiveTimeout,
		Metrics:        core.NopMetricsRecorder{},
		Logger:         glog.Nop(),
	}, nil
}

// Start launches the worker pool and blocks until ctx is done or the
// subscription closes. Each worker settles every delivery it receives with
// exactly one ack or dead-letter before picking up the next.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil || c.Subscription == nil {
		return fmt.Errorf("consumer: consumer is not configured")
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runWorker(ctx)
		}()
	}
	c.wg.Wait()
	return ctx.Err()
}

// Stop closes the subscription; in-flight handlers finish their settlement
// before their worker exits.
func (c *Consumer) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() {
		if c.Subscription != nil {
			_ = c.Subscription.Close()
		}
	})
}

func (c *Consumer) runWorker(ctx context.Context) {
	for {
		delivery, err := ReceiveWithTimeout(ctx, c.Subscription, c.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Idle interval elapsed; poll again.
				continue
			}
			// Subscription closed or broken; nothing further to drain.
			return
		}
		c.handle(ctx, delivery)
	}
}

// handle applies one delivery and settles it. Failures are isolated to this
// message's settlement decision; the worker keeps consuming.
func (c *Consumer) handle(ctx context.Context, delivery broker.Delivery) {
	msg := delivery.Message()
	event, err := broker.DecodeDomainEvent(msg)
	if err != nil {
		c.deadLetter(ctx, delivery, reasonApplyFailed, err)
		return
	}

	switch event.MessageType {
	case core.MessageTypeCreateEntity:
		err = c.applyCreateEntity(ctx, event)
	case core.MessageTypeLinkEntities:
		err = c.applyLinkEntities(ctx, event)
	default:
		c.deadLetter(ctx, delivery, reasonUnknownMessageType,
			fmt.Errorf("consumer: message type %q", event.MessageType))
		return
	}

	if err != nil {
		c.deadLetter(ctx, delivery, reasonApplyFailed, err)
		return
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		c.logger().Error("ack delivery", "message_id", msg.MessageID, "error", ackErr)
		return
	}
	c.metrics().IncCounter(ctx, core.MetricEventsSucceeded, 1, map[string]string{
		"message_type": event.MessageType,
		"side":         "consumer",
	})
}

// applyCreateEntity consults the idempotency ledger before touching the
// graph. The ledger write and the entity create are both safe under
// concurrent redelivery: the graph upsert treats "already exists" as success
// and the ledger records the mapping at most once.
func (c *Consumer) applyCreateEntity(ctx context.Context, event core.DomainEvent) error {
	payload := core.EntityPayloadFromMap(event.Payload)
	if payload.ID == "" {
		return fmt.Errorf("consumer: create-entity payload requires an id")
	}

	if _, exists, err := c.Mappings.Lookup(ctx, c.TenantID, c.Source, payload.ID); err != nil {
		return fmt.Errorf("consumer: lookup entity mapping: %w", err)
	} else if exists {
		return nil
	}

	if err := c.Graph.CreateEntity(ctx, core.GraphEntity{
		ID:       payload.ID,
		TenantID: c.TenantID,
		Type:     payload.Type,
		Name:     payload.Name,
		Metadata: payload.Metadata,
	}); err != nil {
		return fmt.Errorf("consumer: create graph entity %q: %w", payload.ID, err)
	}

	if _, err := c.Mappings.Record(ctx, core.EntityMapping{
		TenantID:   c.TenantID,
		Source:     c.Source,
		ExternalID: payload.ID,
		EntityID:   payload.ID,
	}); err != nil {
		return fmt.Errorf("consumer: record entity mapping %q: %w", payload.ID, err)
	}
	return nil
}

func (c *Consumer) applyLinkEntities(ctx context.Context, event core.DomainEvent) error {
	payload := core.RelationshipPayloadFromMap(event.Payload)
	if payload.SourceEntityID == "" || payload.TargetEntityID == "" || payload.RelationshipType == "" {
		return fmt.Errorf("consumer: link-entities payload requires source, target and type")
	}
	if err := c.Graph.CreateRelationship(ctx, core.GraphRelationship{
		SourceEntityID:   payload.SourceEntityID,
		TargetEntityID:   payload.TargetEntityID,
		RelationshipType: payload.RelationshipType,
		TenantID:         c.TenantID,
	}); err != nil {
		return fmt.Errorf("consumer: create relationship %s-%s: %w",
			payload.SourceEntityID, payload.TargetEntityID, err)
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, delivery broker.Delivery, reason string, cause error) {
	msg := delivery.Message()
	if err := delivery.DeadLetter(ctx, reason, cause); err != nil {
		c.logger().Error("dead-letter delivery", "message_id", msg.MessageID, "error", err)
		return
	}
	c.metrics().IncCounter(ctx, core.MetricEventsDeadLettered, 1, map[string]string{
		"side":   "consumer",
		"reason": strings.ReplaceAll(reason, " ", "_"),
	})
	c.logger().Error("delivery dead-lettered",
		"message_id", msg.MessageID,
		"reason", reason,
		"error", cause,
	)
}

func (c *Consumer) metrics() core.MetricsRecorder {
	if c != nil && c.Metrics != nil {
		return c.Metrics
	}
	return core.NopMetricsRecorder{}
}

func (c *Consumer) logger() core.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return glog.Nop()
}

// ReceiveWithTimeout bounds a single receive so a stalled broker read cannot
// hold a worker forever. Expiry surfaces as context.DeadlineExceeded.
func ReceiveWithTimeout(
	ctx context.Context,
	subscription broker.Subscription,
	timeout time.Duration,
) (broker.Delivery, error) {
	if timeout <= 0 {
		return subscription.Receive(ctx)
	}
	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return subscription.Receive(receiveCtx)
}
