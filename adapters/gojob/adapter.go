// Package gojob bridges the pipeline broker contracts onto a go-job queue,
// so deployments that already run a go-job worker fleet can carry domain
// events on it instead of the in-process topic.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/mdresch/cognisync-pipeline/broker"
)

// JobIDDomainEvent labels every queued domain event; the worker routes on it.
const JobIDDomainEvent = "pipeline.domain.event"

const (
	paramMessageType = "messageType"
	paramPayload     = "payload"
)

// ToExecutionMessage wraps a broker message in a go-job execution message.
// The broker message id doubles as the idempotency key, so queue-level
// deduplication lines up with the consumer's mapping ledger.
func ToExecutionMessage(msg broker.Message) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID: JobIDDomainEvent,
		Parameters: map[string]any{
			paramMessageType: msg.Body.MessageType,
			paramPayload:     copyAnyMap(msg.Body.Payload),
		},
		IdempotencyKey: strings.TrimSpace(msg.MessageID),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// FromExecutionMessage unwraps a queued execution message back into the
// broker envelope.
func FromExecutionMessage(msg *job.ExecutionMessage) (broker.Message, error) {
	if msg == nil {
		return broker.Message{}, fmt.Errorf("gojob: execution message is required")
	}
	messageID := strings.TrimSpace(msg.IdempotencyKey)
	if messageID == "" {
		return broker.Message{}, fmt.Errorf("gojob: execution message has no idempotency key")
	}
	messageType, _ := msg.Parameters[paramMessageType].(string)
	payload, _ := msg.Parameters[paramPayload].(map[string]any)
	return broker.Message{
		MessageID: messageID,
		Body: broker.MessageBody{
			MessageType: strings.TrimSpace(messageType),
			Payload:     copyAnyMap(payload),
		},
	}, nil
}

// PublisherAdapter publishes broker messages through a queue.Enqueuer.
type PublisherAdapter struct {
	enqueuer queue.Enqueuer
}

func NewPublisherAdapter(enqueuer queue.Enqueuer) *PublisherAdapter {
	return &PublisherAdapter{enqueuer: enqueuer}
}

func (a *PublisherAdapter) Publish(ctx context.Context, msg broker.Message) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return fmt.Errorf("gojob: message id is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// SubscriptionAdapter exposes a queue.Dequeuer as a broker subscription.
type SubscriptionAdapter struct {
	dequeuer queue.Dequeuer
	closed   atomic.Bool
}

func NewSubscriptionAdapter(dequeuer queue.Dequeuer) *SubscriptionAdapter {
	return &SubscriptionAdapter{dequeuer: dequeuer}
}

func (a *SubscriptionAdapter) Receive(ctx context.Context) (broker.Delivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	if a.closed.Load() {
		return nil, fmt.Errorf("gojob: subscription closed")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		// A message we cannot even address must not be requeued forever.
		_ = delivery.Nack(ctx, queue.NackOptions{
			DeadLetter: true,
			Reason:     "malformed execution message",
		})
		return nil, err
	}
	return &deliveryAdapter{delivery: delivery, msg: msg}, nil
}

func (a *SubscriptionAdapter) Close() error {
	if a == nil {
		return nil
	}
	a.closed.Store(true)
	return nil
}

type deliveryAdapter struct {
	delivery queue.Delivery
	msg      broker.Message
}

func (d *deliveryAdapter) Message() broker.Message {
	return d.msg
}

func (d *deliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *deliveryAdapter) DeadLetter(ctx context.Context, reason string, cause error) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	full := strings.TrimSpace(reason)
	if cause != nil {
		if full == "" {
			full = cause.Error()
		} else {
			full = full + ": " + cause.Error()
		}
	}
	return d.delivery.Nack(ctx, queue.NackOptions{
		Requeue:    false,
		DeadLetter: true,
		Reason:     full,
	})
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ broker.Publisher    = (*PublisherAdapter)(nil)
	_ broker.Subscription = (*SubscriptionAdapter)(nil)
	_ broker.Delivery     = (*deliveryAdapter)(nil)
)
