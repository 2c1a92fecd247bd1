package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mondtic/corporate-access/pkg/metrics"
)

// Handler consumes one invitation event. Handlers run synchronously on the
// publishing goroutine; slow external work belongs on the job runner, not in
// a handler.
type Handler func(data InvitationData)

// Bus delivers typed invitation events to subscribers registered at startup.
// Delivery is in-process and synchronous; ordering follows publish order,
// which for a single invitation is its causal write order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	log      *zap.Logger
}

// NewBus constructs an event bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Type][]Handler),
		log:      log.Named("events"),
	}
}

// Subscribe registers a handler for the event type. Intended for startup
// wiring; registration after publishing has begun is safe but subscribers
// only observe events published after they register.
func (b *Bus) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to every subscriber of its type. Missing
// handlers are not an error. A panicking handler is recovered and logged so
// one subscriber cannot poison delivery to the rest.
func (b *Bus) Publish(t Type, data InvitationData) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(t)).Inc()

	for _, h := range handlers {
		b.invoke(t, h, data)
	}
}

func (b *Bus) invoke(t Type, h Handler, data InvitationData) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("type", string(t)),
				zap.Uint("invitation_id", data.ID),
				zap.Any("panic", r),
			)
		}
	}()
	h(data)
}

// Recorder queues events raised inside a transaction and publishes them only
// once the transaction has committed, in the order they were recorded. On
// rollback the queue is simply discarded, so subscribers never observe a row
// a rollback later erased.
type Recorder struct {
	bus     *Bus
	pending []pendingEvent
}

type pendingEvent struct {
	t    Type
	data InvitationData
}

// NewRecorder constructs a Recorder bound to the bus.
func NewRecorder(bus *Bus) *Recorder {
	return &Recorder{bus: bus}
}

// Record queues an event for post-commit delivery.
func (r *Recorder) Record(t Type, data InvitationData) {
	r.pending = append(r.pending, pendingEvent{t: t, data: data})
}

// Flush publishes every queued event in program order. Call after the
// enclosing transaction commits.
func (r *Recorder) Flush() {
	for _, ev := range r.pending {
		r.bus.Publish(ev.t, ev.data)
	}
	r.pending = nil
}

// Discard drops queued events without publishing. Call on rollback.
func (r *Recorder) Discard() {
	r.pending = nil
}
