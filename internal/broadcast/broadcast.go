package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event names emitted by the session and attendance services.
const (
	SessionCreated   = "session-created"
	SessionScanned   = "session-scanned"
	SessionExpired   = "session-expired"
	SessionCancelled = "session-cancelled"
	AttendanceMarked = "attendance-marked"
)

// Event carries the identifiers a listener needs to re-fetch authoritative
// state. No denormalized snapshots.
type Event struct {
	Name      string    `json:"name"`
	SessionID string    `json:"session_id,omitempty"`
	CourseID  string    `json:"course_id,omitempty"`
	StudentID string    `json:"student_id,omitempty"`
	At        time.Time `json:"at"`
}

// Bus is the abstraction over different backends. Publish is best-effort:
// delivery is not guaranteed and zero subscribers is fine.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// InMemory fans events out to in-process subscribers. Slow subscribers drop
// events rather than block the publisher.
type InMemory struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	size int
}

// NewInMemory creates a hub with the given per-subscriber buffer size.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 16
	}
	return &InMemory{subs: make(map[chan Event]struct{}), size: size}
}

// Publish delivers to every subscriber without blocking.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener until ctx is cancelled.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisBus broadcasts via Redis pub/sub so every API instance sees every event.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus builds a bus on a named pub/sub channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "edutend:events"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish sends the event as JSON. Errors surface to the caller, which is
// expected to log and move on.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe streams events until ctx is cancelled. Undecodable messages are
// skipped.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
