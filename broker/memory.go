package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const defaultMemoryCapacity = 1024

// Memory is the in-process topic. It is an explicitly constructed dependency
// with its own lifecycle: open at startup, Close on shutdown, injectable as
// a fake in tests.
type Memory struct {
	mu         sync.Mutex
	queue      chan Message
	done       chan struct{}
	deadLetter []DeadLetteredMessage
	closed     bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &Memory{
		queue: make(chan Message, capacity),
		done:  make(chan struct{}),
	}
}

// Publish enqueues a message or blocks until there is room. The queue
// channel itself is never closed, so a publish racing Close resolves to the
// closed error instead of a send panic.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if m == nil {
		return fmt.Errorf("broker: memory broker is not configured")
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return fmt.Errorf("broker: message id is required")
	}

	select {
	case <-m.done:
		return fmt.Errorf("broker: memory broker is closed")
	default:
	}

	select {
	case m.queue <- msg:
		return nil
	case <-m.done:
		return fmt.Errorf("broker: memory broker is closed")
	case <-ctx.Done():
		return fmt.Errorf("broker: publish %q: %w", msg.MessageID, ctx.Err())
	}
}

// Subscribe returns the consumer view. The memory broker supports a single
// shared topic; multiple subscribers compete for messages, which mirrors the
// competing-consumer semantics of the production broker.
func (m *Memory) Subscribe() Subscription {
	return &memorySubscription{broker: m}
}

func (m *Memory) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

// DeadLetters exposes the dead-letter side queue for operators and tests.
func (m *Memory) DeadLetters() []DeadLetteredMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetteredMessage(nil), m.deadLetter...)
}

// Depth reports queued-but-undelivered messages.
func (m *Memory) Depth() int {
	return len(m.queue)
}

func (m *Memory) recordDeadLetter(msg Message, reason string, cause error) {
	entry := DeadLetteredMessage{Message: msg, Reason: strings.TrimSpace(reason)}
	if cause != nil {
		entry.Cause = strings.TrimSpace(cause.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetter = append(m.deadLetter, entry)
}

type memorySubscription struct {
	broker *Memory
}

func (s *memorySubscription) Receive(ctx context.Context) (Delivery, error) {
	if s == nil || s.broker == nil {
		return nil, fmt.Errorf("broker: subscription is not configured")
	}
	select {
	case msg := <-s.broker.queue:
		return &memoryDelivery{broker: s.broker, msg: msg}, nil
	case <-s.broker.done:
		// One more look so Close never strands a buffered message.
		select {
		case msg := <-s.broker.queue:
			return &memoryDelivery{broker: s.broker, msg: msg}, nil
		default:
			return nil, fmt.Errorf("broker: subscription closed")
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	if s == nil || s.broker == nil {
		return nil
	}
	return s.broker.Close()
}

type memoryDelivery struct {
	broker  *Memory
	msg     Message
	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() Message {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.settle(func() {})
}

func (d *memoryDelivery) DeadLetter(_ context.Context, reason string, cause error) error {
	return d.settle(func() {
		d.broker.recordDeadLetter(d.msg, reason, cause)
	})
}

// settle enforces exactly-once settlement per delivery.
func (d *memoryDelivery) settle(apply func()) error {
	if d == nil || d.broker == nil {
		return fmt.Errorf("broker: delivery is not configured")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("broker: delivery %q already settled", d.msg.MessageID)
	}
	d.settled = true
	apply()
	return nil
}

var (
	_ Publisher    = (*Memory)(nil)
	_ Subscription = (*memorySubscription)(nil)
	_ Delivery     = (*memoryDelivery)(nil)
)
