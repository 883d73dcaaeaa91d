package bus

import (
	"log"
	"sync"
)

// Action is a handler bound to one event kind.
type Action interface {
	Kind() Kind
	Execute(Event)
}

// ActionFunc adapts a function to Action.
type ActionFunc struct {
	On Kind
	Fn func(Event)
}

func (a *ActionFunc) Kind() Kind       { return a.On }
func (a *ActionFunc) Execute(ev Event) { a.Fn(ev) }

// Dispatcher keeps one bus subscription per registered action.
type Dispatcher struct {
	bus *Bus

	mu   sync.Mutex
	subs map[Action]*Subscription
}

// NewDispatcher creates a dispatcher publishing through b.
func NewDispatcher(b *Bus) *Dispatcher {
	return &Dispatcher{bus: b, subs: make(map[Action]*Subscription)}
}

// Register subscribes a to its kind. Registering the same action again
// replaces the previous subscription.
func (d *Dispatcher) Register(a Action) {
	if a == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.subs[a]; ok {
		old.Unsubscribe()
	}
	if !a.Kind().Valid() {
		log.Printf("dispatcher: action with unknown kind %s ignored", a.Kind())
		delete(d.subs, a)
		return
	}
	d.subs[a] = d.bus.Subscribe(Only(a.Kind()), a.Execute)
}

// Unregister releases a's subscription. Unknown actions are ignored.
func (d *Dispatcher) Unregister(a Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[a]; ok {
		sub.Unsubscribe()
		delete(d.subs, a)
	}
}

// Registered reports whether a currently holds a subscription.
func (d *Dispatcher) Registered(a Action) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.subs[a]
	return ok
}

// Len returns the number of registered actions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close releases every registered action.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a, sub := range d.subs {
		sub.Unsubscribe()
		delete(d.subs, a)
	}
}
