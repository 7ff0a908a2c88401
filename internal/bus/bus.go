// Package bus provides the observability event sink for the reload
// pipeline. The pipeline only depends on the Sink interface; Bus is the
// in-process publish/subscribe implementation behind it, and WSBridge
// streams bus events to websocket clients.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corbin/rewatch/internal/maputil"
)

// Topics emitted by the reload pipeline.
const (
	TopicFileChanged   = "file/changed"
	TopicReloadStart   = "hot/reload-start"
	TopicReloadSuccess = "hot/reload-success"
	TopicReloadError   = "hot/reload-error"
)

// Event is one published observability event. Time is stamped at
// emission.
type Event struct {
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data,omitempty"`
	Time  time.Time      `json:"timestamp"`
}

// Sink receives observability events emitted by the reload pipeline.
type Sink interface {
	Emit(topic string, data map[string]any)
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Emit drops the event.
func (Discard) Emit(string, map[string]any) {}

const defaultSubscriberBuffer = 128

// Bus is an in-process publish/subscribe sink. Publishing never blocks:
// an event that does not fit a subscriber's buffer is dropped and
// counted.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	dropped atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithSubscriberBuffer overrides the per-subscriber channel buffer size.
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:  slog.Default(),
		bufSize: defaultSubscriberBuffer,
		subs:    make(map[uint64]chan Event),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Emit publishes an event to every subscriber. The payload is deep
// copied once so subscribers never observe later mutations of the
// caller's map.
func (b *Bus) Emit(topic string, data map[string]any) {
	ev := Event{
		Topic: topic,
		Data:  maputil.DeepCopyMap(data),
		Time:  time.Now(),
	}

	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	chans := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chans = append(chans, ch)
	}

	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				b.logger.Warn("dropping events for slow subscriber",
					slog.String("topic", topic),
					slog.Int64("dropped", n),
				)
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)

	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		close(ch)

		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()

		sub, ok := b.subs[id]
		if ok {
			delete(b.subs, id)
		}

		b.mu.Unlock()

		if ok {
			close(sub)
		}
	}

	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

// Dropped returns the total number of events dropped for slow
// subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further Emit calls are no-ops
// and further Subscribe calls return a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]chan Event)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
