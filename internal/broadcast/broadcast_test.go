package broadcast

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryFanOut(t *testing.T) {
	bus := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := Event{Name: SessionScanned, SessionID: "s1", CourseID: "c1", StudentID: "stuA"}
	if err := bus.Publish(ctx, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			if got.SessionID != "s1" || got.Name != SessionScanned {
				t.Fatalf("got %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestInMemoryPublishWithoutSubscribers(t *testing.T) {
	bus := NewInMemory(4)
	if err := bus.Publish(context.Background(), Event{Name: SessionCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestInMemorySlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := bus.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Buffer is 1; the rest must be dropped, not block.
		for i := 0; i < 10; i++ {
			_ = bus.Publish(ctx, Event{Name: SessionScanned})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestInMemoryUnsubscribeOnCancel(t *testing.T) {
	bus := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
