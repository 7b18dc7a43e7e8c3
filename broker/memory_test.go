package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemory_PublishReceiveAck(t *testing.T) {
	topic := NewMemory(4)
	defer topic.Close()

	msg := Message{
		MessageID: "evt-1-issue",
		Body:      MessageBody{MessageType: "CREATE_ENTITY", Payload: map[string]any{"id": "JIRA-1"}},
	}
	if err := topic.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub := topic.Subscribe()
	delivery, err := sub.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if delivery.Message().MessageID != "evt-1-issue" {
		t.Fatalf("unexpected message: %+v", delivery.Message())
	}
	if err := delivery.Ack(context.Background()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(topic.DeadLetters()) != 0 {
		t.Fatalf("expected empty dead-letter queue")
	}
}

func TestMemory_DeliverySettlesExactlyOnce(t *testing.T) {
	topic := NewMemory(4)
	defer topic.Close()

	_ = topic.Publish(context.Background(), Message{MessageID: "evt-2"})
	delivery, err := topic.Subscribe().Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if err := delivery.DeadLetter(context.Background(), "unknown message type", errors.New("boom")); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if err := delivery.Ack(context.Background()); err == nil {
		t.Fatalf("expected second settlement to fail")
	}

	letters := topic.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(letters))
	}
	if letters[0].Reason != "unknown message type" || letters[0].Cause != "boom" {
		t.Fatalf("unexpected dead letter: %+v", letters[0])
	}
}

func TestMemory_ReceiveHonorsContext(t *testing.T) {
	topic := NewMemory(1)
	defer topic.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := topic.Subscribe().Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemory_PublishAfterCloseFails(t *testing.T) {
	topic := NewMemory(1)
	_ = topic.Close()

	if err := topic.Publish(context.Background(), Message{MessageID: "evt-3"}); err == nil {
		t.Fatalf("expected publish on closed broker to fail")
	}
}

func TestMemory_ConcurrentPublishAndCloseNeverPanics(t *testing.T) {
	for round := 0; round < 200; round++ {
		topic := NewMemory(4)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_ = topic.Publish(context.Background(), Message{MessageID: "evt-race"})
			}
		}()
		go func() {
			defer wg.Done()
			_ = topic.Close()
		}()
		wg.Wait()

		if err := topic.Publish(context.Background(), Message{MessageID: "evt-after"}); err == nil {
			t.Fatalf("expected publish after close to fail")
		}
	}
}

func TestMemory_CloseDrainsBufferedMessagesBeforeClosing(t *testing.T) {
	topic := NewMemory(4)
	for _, id := range []string{"evt-a", "evt-b"} {
		if err := topic.Publish(context.Background(), Message{MessageID: id}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	_ = topic.Close()

	subscription := topic.Subscribe()
	for _, want := range []string{"evt-a", "evt-b"} {
		delivery, err := subscription.Receive(context.Background())
		if err != nil {
			t.Fatalf("receive %s: %v", want, err)
		}
		if got := delivery.Message().MessageID; got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
		if err := delivery.Ack(context.Background()); err != nil {
			t.Fatalf("ack %s: %v", want, err)
		}
	}

	if _, err := subscription.Receive(context.Background()); err == nil {
		t.Fatalf("expected closed subscription after drain")
	}
}
