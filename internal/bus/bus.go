// Package bus is the in-process publish/subscribe channel every other part of
// the game talks through. Delivery is synchronous and ordered; payloads are a
// closed set of variants checked against the event kind when published.
package bus

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

var (
	// ErrPayloadMismatch is returned by Publish when the payload variant is
	// not the one declared for the event kind. Nothing is delivered.
	ErrPayloadMismatch = errors.New("bus: payload does not match event kind")
	// ErrUnknownKind is returned by Publish for kinds outside the enumeration.
	ErrUnknownKind = errors.New("bus: unknown event kind")
)

// Event is one message on the bus.
type Event struct {
	Kind    Kind
	Payload Payload
}

// NewEvent builds an event, treating a nil payload as None.
func NewEvent(kind Kind, payload Payload) Event {
	if payload == nil {
		payload = None{}
	}
	return Event{Kind: kind, Payload: payload}
}

// Signal builds a payload-less event.
func Signal(kind Kind) Event {
	return Event{Kind: kind, Payload: None{}}
}

func (e Event) String() string {
	return fmt.Sprintf("%s%+v", e.Kind, e.Payload)
}

// Handler receives matching events.
type Handler func(Event)

// Filter selects the kinds a subscription receives.
type Filter struct {
	mask uint64
}

// Only matches a single kind.
func Only(kind Kind) Filter {
	return AnyOf(kind)
}

// AnyOf matches any of the given kinds.
func AnyOf(kinds ...Kind) Filter {
	var f Filter
	for _, k := range kinds {
		if k.Valid() {
			f.mask |= 1 << k
		}
	}
	return f
}

// All matches every kind.
func All() Filter {
	return Filter{mask: 1<<kindCount - 1}
}

// Matches reports whether events of kind k pass the filter.
func (f Filter) Matches(k Kind) bool {
	return k.Valid() && f.mask&(1<<k) != 0
}

// Empty reports whether the filter matches nothing.
func (f Filter) Empty() bool {
	return f.mask == 0
}

// Subscription is the handle returned by Subscribe. Unsubscribe removes the
// registration; calling it again does nothing.
type Subscription struct {
	bus     *Bus
	filter  Filter
	handler Handler
	active  atomic.Bool
}

// Unsubscribe releases the registration. A handler released while an event
// is being dispatched is not invoked for the rest of that pass.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.bus != nil {
		s.bus.remove(s)
	}
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Stats are running delivery counters.
type Stats struct {
	Published  uint64
	Delivered  uint64
	Panicked   uint64
	Rejected   uint64
	AfterClose uint64
}

// Bus fans events out to subscribers. It is safe for concurrent use, but the
// game drives it from one tick goroutine per process.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription // copy-on-write; dispatch iterates a snapshot
	closed atomic.Bool

	published  atomic.Uint64
	delivered  atomic.Uint64
	panicked   atomic.Uint64
	rejected   atomic.Uint64
	afterClose atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler for events passing filter.
func (b *Bus) Subscribe(filter Filter, handler Handler) *Subscription {
	sub := &Subscription{bus: b, filter: filter, handler: handler}
	if handler == nil {
		log.Printf("bus: subscribe with nil handler ignored")
		return sub
	}
	if b.closed.Load() {
		log.Printf("bus: subscribe after close ignored")
		return sub
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub.active.Store(true)
	next := make([]*Subscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, sub)
	return sub
}

// On is shorthand for Subscribe(Only(kind), handler).
func (b *Bus) On(kind Kind, handler Handler) *Subscription {
	return b.Subscribe(Only(kind), handler)
}

// Publish delivers ev to every live matching subscriber, in subscription
// order, before returning. After Close it is a logged no-op.
func (b *Bus) Publish(ev Event) error {
	if b.closed.Load() {
		b.afterClose.Add(1)
		log.Printf("bus: publish %s after close dropped", ev.Kind)
		return nil
	}
	if !ev.Kind.Valid() {
		b.rejected.Add(1)
		return fmt.Errorf("%w: %d", ErrUnknownKind, ev.Kind)
	}
	if ev.Payload == nil {
		ev.Payload = None{}
	}
	if got, want := shapeOf(ev.Payload), ev.Kind.Shape(); got != want {
		b.rejected.Add(1)
		return fmt.Errorf("%w: %s carries %T", ErrPayloadMismatch, ev.Kind, ev.Payload)
	}

	b.published.Add(1)
	b.mu.Lock()
	snapshot := b.subs
	b.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() || !sub.filter.Matches(ev.Kind) {
			continue
		}
		b.deliver(sub, ev)
	}
	return nil
}

// Emit publishes and logs instead of returning the error. For call sites that
// build the payload themselves and cannot mismatch.
func (b *Bus) Emit(kind Kind, payload Payload) {
	if err := b.Publish(NewEvent(kind, payload)); err != nil {
		log.Printf("bus: %v", err)
	}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			log.Printf("bus: handler for %s panicked: %v", ev.Kind, r)
		}
	}()
	sub.handler(ev)
	b.delivered.Add(1)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			next := make([]*Subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close releases every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.active.Store(false)
	}
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	return b.closed.Load()
}

// Stats returns a copy of the delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:  b.published.Load(),
		Delivered:  b.delivered.Load(),
		Panicked:   b.panicked.Load(),
		Rejected:   b.rejected.Load(),
		AfterClose: b.afterClose.Load(),
	}
}
