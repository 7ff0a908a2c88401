package bus

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
)

const (
	wsWriteDeadline = 10 * time.Second
	outboxLimit     = 256
)

// WSBridge is an http.Handler that upgrades requests to websocket and
// streams every bus event to the client as JSON. A slow client only
// loses its own oldest events, never blocks the bus.
type WSBridge struct {
	bus      *Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSBridge creates a bridge streaming events from b.
func NewWSBridge(b *Bus, logger *slog.Logger) *WSBridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &WSBridge{
		bus:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the bus closes.
func (h *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	out := newOutbox(outboxLimit)

	// Pump: bus channel → outbox.
	go func() {
		for ev := range ch {
			out.push(ev)
		}

		out.close()
	}()

	// Writer: outbox → websocket.
	go func() {
		for {
			ev, ok := out.pop()
			if !ok {
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
				conn.Close()
				return
			}

			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				conn.Close()

				return
			}
		}
	}()

	// Read loop only detects client disconnect; inbound payloads are
	// ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// outbox stages outbound events for one client. When full, the oldest
// event is discarded.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	limit  int
	closed bool
}

func newOutbox(limit int) *outbox {
	o := &outbox{q: queue.New(), limit: limit}
	o.cond = sync.NewCond(&o.mu)

	return o
}

func (o *outbox) push(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	if o.q.Length() >= o.limit {
		o.q.Remove()
	}

	o.q.Add(ev)
	o.cond.Signal()
}

// pop blocks until an event is available or the outbox is closed.
func (o *outbox) pop() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.q.Length() == 0 && !o.closed {
		o.cond.Wait()
	}

	if o.q.Length() == 0 {
		return Event{}, false
	}

	ev := o.q.Peek().(Event)
	o.q.Remove()

	return ev, true
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast()
}
