// Package broker is the only channel between the producer and consumer
// halves of the pipeline. Implementations deliver messages at least once;
// consumers settle every delivery with exactly one ack or dead-letter.
package broker

import "context"

// Message is the JSON wire envelope: {"messageId": ..., "body":
// {"messageType": ..., "payload": ...}}.
type Message struct {
	MessageID string      `json:"messageId"`
	Body      MessageBody `json:"body"`
}

type MessageBody struct {
	MessageType string         `json:"messageType"`
	Payload     map[string]any `json:"payload"`
}

// Publisher pushes one message onto the topic. Calls carry a bounded
// timeout via ctx; a timed-out publish is a failure.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Delivery is a single received message awaiting settlement. Ack and
// DeadLetter are mutually exclusive and single-shot.
type Delivery interface {
	Message() Message
	Ack(ctx context.Context) error
	DeadLetter(ctx context.Context, reason string, cause error) error
}

// Subscription is a consumer's view of the topic. Receive blocks until a
// delivery arrives, ctx is done, or the subscription closes.
type Subscription interface {
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// DeadLetteredMessage is an operator-visible record of a terminally failed
// delivery.
type DeadLetteredMessage struct {
	Message Message
	Reason  string
	Cause   string
}
