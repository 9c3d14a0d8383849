// Package events is an in-process typed publish/subscribe dispatcher.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/log"
)

// DefaultHistorySize is how many recent events are kept for diagnostics.
const DefaultHistorySize = 100

type Event struct {
	Kind      Kind
	Payload   Payload
	Timestamp time.Time
}

type Handler func(ctx context.Context, ev Event) error

// Bus dispatches events to handlers registered per kind. Handlers of one
// kind run concurrently; Emit returns once all of them have finished.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind]map[uint64]Handler
	anyKind  map[uint64]Handler
	nextID   uint64

	histMu  sync.Mutex
	history []Event
	head    int
	full    bool

	logger *log.Logger
	now    func() time.Time
}

func NewBus(historySize int, logger *log.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Bus{
		handlers: make(map[Kind]map[uint64]Handler),
		anyKind:  make(map[uint64]Handler),
		history:  make([]Event, historySize),
		logger:   logger.WithComponent(log.ComponentEvents),
		now:      time.Now,
	}
}

// On registers h for kind and returns a function that removes it.
func (b *Bus) On(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]Handler)
	}
	b.handlers[kind][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

// OnAny registers h for every kind.
func (b *Bus) OnAny(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.anyKind[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.anyKind, id)
	}
}

// Subscribe registers a handler that receives the concrete payload type.
func Subscribe[P Payload](b *Bus, h func(ctx context.Context, p P, at time.Time) error) (unsubscribe func()) {
	var zero P
	return b.On(zero.Kind(), func(ctx context.Context, ev Event) error {
		p, ok := ev.Payload.(P)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Kind)
		}
		return h(ctx, p, ev.Timestamp)
	})
}

// Emit records the event and runs every matching handler. A failing or
// panicking handler is logged and does not affect its siblings; the joined
// handler errors are returned for callers that care.
func (b *Bus) Emit(ctx context.Context, p Payload) error {
	ev := Event{Kind: p.Kind(), Payload: p, Timestamp: b.now()}
	b.record(ev)

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Kind])+len(b.anyKind))
	for _, h := range b.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	for _, h := range b.anyKind {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	if len(hs) == 0 {
		return nil
	}

	errs := make([]error, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = b.run(ctx, ev, h)
		}(i, h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Bus) run(ctx context.Context, ev Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			b.logger.ErrorContext(ctx, "Event handler failed",
				log.FieldEventKind, string(ev.Kind),
				log.FieldOwner, ev.Payload.Owner(),
				log.FieldError, err)
		}
	}()
	return h(ctx, ev)
}

func (b *Bus) record(ev Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	b.history[b.head] = ev
	b.head = (b.head + 1) % len(b.history)
	if b.head == 0 {
		b.full = true
	}
}

// History returns the retained events, oldest first.
func (b *Bus) History() []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if !b.full {
		return append([]Event(nil), b.history[:b.head]...)
	}
	out := make([]Event, 0, len(b.history))
	out = append(out, b.history[b.head:]...)
	return append(out, b.history[:b.head]...)
}

// Recent returns retained events of kind for owner, newest first.
func (b *Bus) Recent(kind Kind, ownerID string, limit int) []Event {
	h := b.History()
	var out []Event
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Kind != kind || h[i].Payload.Owner() != ownerID {
			continue
		}
		out = append(out, h[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
