package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHistoryCap is the default bounded-history capacity.
const DefaultHistoryCap = 10000

// Subscription identifies a registered handler so it can be removed later.
type Subscription struct {
	typ EventType
	id  int
}

// Timing aggregates subscriber callback durations for one event type.
type Timing struct {
	// Count is the number of callback invocations.
	Count int64
	// Total is the summed elapsed time across invocations.
	Total time.Duration
	// Max is the longest single invocation.
	Max time.Duration
}

// Bus is an in-process publish/subscribe event bus with bounded history.
//
// Publish appends to history and enqueues onto a single FIFO queue; Run
// consumes that queue on one goroutine, invoking every subscriber for the
// dequeued event's type. All subscriber callbacks for one event finish (or
// individually fail) before the next event is processed. The queue is
// unbounded so a slow subscriber delays delivery but never loses an event.
// Because producers run on arbitrary goroutines, all shared state here is
// mutex-guarded.
type Bus struct {
	mu    sync.RWMutex
	subs  map[EventType]map[int]Handler
	subID int

	histMu     sync.RWMutex
	history    []Event
	historyCap int

	ctxMu    sync.RWMutex
	ctxStore map[string]any

	timingMu sync.Mutex
	timings  map[EventType]*Timing

	qmu     sync.Mutex
	qbuf    []Event
	qhead   int
	wake    chan struct{}
	pending atomic.Int64

	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryCap overrides the bounded-history capacity.
func WithHistoryCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// New creates an event bus. The bus does not deliver anything until Run is
// started on its own goroutine.
func New(logger zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[EventType]map[int]Handler),
		historyCap: DefaultHistoryCap,
		ctxStore:   make(map[string]any),
		timings:    make(map[EventType]*Timing),
		wake:       make(chan struct{}, 1),
		logger:     logger.With().Str("module", "bus").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event type and returns a subscription
// handle for later removal.
func (b *Bus) Subscribe(typ EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[typ] == nil {
		b.subs[typ] = make(map[int]Handler)
	}
	b.subID++
	b.subs[typ][b.subID] = h
	return Subscription{typ: typ, id: b.subID}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[sub.typ]; ok {
		delete(handlers, sub.id)
	}
}

// Publish records the event in history and enqueues it for delivery.
// A type with no subscribers still lands in history; that is not an error.
// Publish never blocks on slow subscribers and never loses an event; the
// queue grows as needed until the delivery loop catches up.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.histMu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	b.histMu.Unlock()

	b.pending.Add(1)
	b.qmu.Lock()
	b.qbuf = append(b.qbuf, ev)
	b.qmu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest queued event. The head index walks
// forward instead of re-slicing so the backing array is reused once empty.
func (b *Bus) pop() (Event, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()

	if b.qhead == len(b.qbuf) {
		b.qbuf = b.qbuf[:0]
		b.qhead = 0
		return Event{}, false
	}
	ev := b.qbuf[b.qhead]
	b.qbuf[b.qhead] = Event{}
	b.qhead++
	return ev, true
}

// SendMessage publishes a directed agent.message event. The payload is
// copied and annotated with "to" and "from" fields; receivers filter on "to".
func (b *Bus) SendMessage(to, from, runID string, payload map[string]any) {
	full := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		full[k] = v
	}
	full["to"] = to
	full["from"] = from

	ev := NewEvent(EventAgentMessage, runID, full)
	ev.AgentID = from
	b.Publish(ev)
}

// Run consumes the delivery queue until the context is cancelled or the
// shutdown sentinel is processed with an empty queue. Events are delivered
// in publish order; every subscriber for an event runs before the next
// event is dequeued.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Debug().Msg("delivery loop started")
	draining := false
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug().Msg("delivery loop cancelled")
			return
		case <-b.wake:
		}

		for {
			ev, ok := b.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				b.logger.Debug().Msg("delivery loop cancelled")
				return
			}
			b.dispatch(ev)
			remaining := b.pending.Add(-1)

			// The shutdown sentinel ends the loop only once the queue is
			// empty; until then the loop keeps draining so events enqueued
			// by shutdown-triggered handlers are still delivered.
			if ev.Type == EventSystemShutdown {
				draining = true
			}
			if draining && remaining == 0 {
				b.logger.Debug().Msg("shutdown sentinel processed, delivery loop exiting")
				return
			}
		}
	}
}

// dispatch invokes every subscriber registered for the event's type,
// isolating failures and recording per-callback elapsed time.
func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type]))
	for _, h := range b.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		start := time.Now()
		if err := b.invoke(h, ev); err != nil {
			b.logger.Error().
				Err(err).
				Str("event_type", string(ev.Type)).
				Msg("event subscriber failed")
		}
		b.recordTiming(ev.Type, time.Since(start))
	}
}

// invoke runs one handler, converting a panic into an error so a broken
// subscriber cannot take down the delivery loop.
func (b *Bus) invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return h(ev)
}

func (b *Bus) recordTiming(typ EventType, elapsed time.Duration) {
	b.timingMu.Lock()
	defer b.timingMu.Unlock()

	agg := b.timings[typ]
	if agg == nil {
		agg = &Timing{}
		b.timings[typ] = agg
	}
	agg.Count++
	agg.Total += elapsed
	if elapsed > agg.Max {
		agg.Max = elapsed
	}
}

// Drain waits up to timeout for every published event to be delivered.
// Returns true if the queue emptied, false on timeout.
func (b *Bus) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for b.pending.Load() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// Pending returns the number of events queued or in delivery.
func (b *Bus) Pending() int64 {
	return b.pending.Load()
}

// SetContext stores a value in the shared key-value context store.
func (b *Bus) SetContext(key string, value any) {
	b.ctxMu.Lock()
	defer b.ctxMu.Unlock()
	b.ctxStore[key] = value
}

// GetContext retrieves a value from the shared context store.
func (b *Bus) GetContext(key string) (any, bool) {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	v, ok := b.ctxStore[key]
	return v, ok
}

// TimingSummary returns a copy of the per-type callback timing aggregates.
func (b *Bus) TimingSummary() map[EventType]Timing {
	b.timingMu.Lock()
	defer b.timingMu.Unlock()

	out := make(map[EventType]Timing, len(b.timings))
	for typ, agg := range b.timings {
		out[typ] = *agg
	}
	return out
}
