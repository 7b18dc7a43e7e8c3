package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/mdresch/cognisync-pipeline/broker"
	"github.com/mdresch/cognisync-pipeline/core"
)

const defaultPublishTimeout = 10 * time.Second

// BrokerPublisher publishes domain events one at a time, in the order
// produced. The first failure aborts the remaining events in the batch and
// surfaces as a retryable transform-stage failure; partial publish is a
// possible outcome, which is why the consumer side keeps an idempotency
// ledger.
type BrokerPublisher struct {
	Broker  broker.Publisher
	Timeout time.Duration
}

func NewBrokerPublisher(target broker.Publisher) (*BrokerPublisher, error) {
	if target == nil {
		return nil, fmt.Errorf("transform: broker publisher target is required")
	}
	return &BrokerPublisher{
		Broker:  target,
		Timeout: defaultPublishTimeout,
	}, nil
}

func (p *BrokerPublisher) Publish(ctx context.Context, events []core.DomainEvent) error {
	if p == nil || p.Broker == nil {
		return fmt.Errorf("transform: publisher is not configured")
	}
	for _, event := range events {
		msg, err := broker.EncodeDomainEvent(event)
		if err != nil {
			return err
		}
		if err := p.publishOne(ctx, msg); err != nil {
			return core.WrapExternalError(err, "transform: publish domain event", map[string]any{
				"message_id":   event.MessageID,
				"message_type": event.MessageType,
			})
		}
	}
	return nil
}

func (p *BrokerPublisher) publishOne(ctx context.Context, msg broker.Message) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Broker.Publish(publishCtx, msg)
}

var _ core.Publisher = (*BrokerPublisher)(nil)
