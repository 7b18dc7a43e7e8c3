package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mdresch/cognisync-pipeline/core"
)

// EncodeDomainEvent wraps a domain event in the wire envelope.
func EncodeDomainEvent(event core.DomainEvent) (Message, error) {
	messageID := strings.TrimSpace(event.MessageID)
	if messageID == "" {
		return Message{}, fmt.Errorf("broker: message id is required")
	}
	messageType := strings.TrimSpace(event.MessageType)
	if messageType == "" {
		return Message{}, fmt.Errorf("broker: message type is required")
	}
	return Message{
		MessageID: messageID,
		Body: MessageBody{
			MessageType: messageType,
			Payload:     event.Payload,
		},
	}, nil
}

// DecodeDomainEvent unwraps a wire message back into a domain event. Unknown
// message types are NOT rejected here; the consumer routes them to the dead
// letter queue so the decision is observable.
func DecodeDomainEvent(msg Message) (core.DomainEvent, error) {
	if strings.TrimSpace(msg.MessageID) == "" {
		return core.DomainEvent{}, fmt.Errorf("broker: message id is required")
	}
	return core.DomainEvent{
		MessageID:   strings.TrimSpace(msg.MessageID),
		MessageType: strings.TrimSpace(msg.Body.MessageType),
		Payload:     msg.Body.Payload,
	}, nil
}

// MarshalMessage and UnmarshalMessage fix the byte-level wire format shared
// with out-of-process brokers.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func UnmarshalMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("broker: decode message envelope: %w", err)
	}
	return msg, nil
}
