package replica

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownValue is returned for updates addressed to an unregistered id.
var ErrUnknownValue = errors.New("replica: unknown value")

// Replicated is the type-erased view of a Value the transport works with.
type Replicated interface {
	ID() string
	Writer() PeerID
	Version() uint64
	ApplyUpdate(Update) (Outcome, error)
	Snapshot() (Update, error)
	Advance(dt float64)
}

// Registry maps value ids to live values for one session.
type Registry struct {
	mu     sync.RWMutex
	values map[string]Replicated
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[string]Replicated)}
}

// Add registers r, replacing any value with the same id.
func (r *Registry) Add(v Replicated) {
	r.mu.Lock()
	r.values[v.ID()] = v
	r.mu.Unlock()
}

// Remove drops id. Removing an unknown id does nothing.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.values, id)
	r.mu.Unlock()
}

// Get returns the value registered under id, or nil.
func (r *Registry) Get(id string) Replicated {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[id]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Apply routes u to its value.
func (r *Registry) Apply(u Update) (Outcome, error) {
	v := r.Get(u.ID)
	if v == nil {
		return Ignored, fmt.Errorf("%w: %s", ErrUnknownValue, u.ID)
	}
	return v.ApplyUpdate(u)
}

// ApplyFrom routes u only if from is the value's current writer.
func (r *Registry) ApplyFrom(from PeerID, u Update) (Outcome, error) {
	v := r.Get(u.ID)
	if v == nil {
		return Ignored, fmt.Errorf("%w: %s", ErrUnknownValue, u.ID)
	}
	if v.Writer() != from {
		return Ignored, fmt.Errorf("%w: %s does not own %s", ErrNotAuthorized, from, u.ID)
	}
	return v.ApplyUpdate(u)
}

// Advance steps interpolation on every value.
func (r *Registry) Advance(dt float64) {
	r.mu.RLock()
	values := make([]Replicated, 0, len(r.values))
	for _, v := range r.values {
		values = append(values, v)
	}
	r.mu.RUnlock()
	for _, v := range values {
		v.Advance(dt)
	}
}

// Snapshot encodes every value, ordered by id.
func (r *Registry) Snapshot() ([]Update, error) {
	r.mu.RLock()
	values := make([]Replicated, 0, len(r.values))
	for _, v := range r.values {
		values = append(values, v)
	}
	r.mu.RUnlock()

	sort.Slice(values, func(i, j int) bool { return values[i].ID() < values[j].ID() })
	out := make([]Update, 0, len(values))
	for _, v := range values {
		u, err := v.Snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Outbox collects updates produced by local writes until the transport
// drains them. Use Push as a value's Sink.
type Outbox struct {
	mu      sync.Mutex
	pending []Update
}

// Push queues u, replacing an older queued update for the same id.
func (o *Outbox) Push(u Update) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.pending {
		if o.pending[i].ID == u.ID {
			q := o.pending[i]
			if u.Written > q.Written || (u.Written == q.Written && u.Version >= q.Version) {
				o.pending[i] = u
			}
			return
		}
	}
	o.pending = append(o.pending, u)
}

// Drain returns and clears the queued updates.
func (o *Outbox) Drain() []Update {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.pending
	o.pending = nil
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
