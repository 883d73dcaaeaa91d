// Package replica implements single-writer replicated values. Exactly one peer
// may write a value; every other peer reconciles versioned updates and
// interpolates its rendered copy towards the latest one.
package replica

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotAuthorized is returned when a peer that is not the declared writer
// tries to write (or an owner tries to predict).
var ErrNotAuthorized = errors.New("replica: peer is not the writer")

// PeerID identifies a process taking part in a session.
type PeerID string

// ServerPeer is the authoritative process.
const ServerPeer PeerID = "server"

// Policy declares who may write a value.
type Policy uint8

const (
	ServerOnly Policy = iota
	OwnerOnly
)

func (p Policy) String() string {
	if p == OwnerOnly {
		return "owner"
	}
	return "server"
}

// Outcome reports what Reconcile did with a remote update.
type Outcome uint8

const (
	Ignored  Outcome = iota // local peer is the writer
	Stale                   // version not newer than local
	Blending                // adopted, rendered value interpolates
	Snapped                 // adopted, rendered value jumped
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Stale:
		return "stale"
	case Blending:
		return "blending"
	case Snapped:
		return "snapped"
	}
	return "unknown"
}

// Adopted reports whether the update replaced the local value.
func (o Outcome) Adopted() bool {
	return o == Blending || o == Snapped
}

// Tuning holds the empirical reconciliation constants.
type Tuning struct {
	SnapGap     uint64  // version gaps above this snap instead of blending
	BlendRate   float64 // fraction of the remaining distance covered per second
	SnapEpsilon float64 // remaining blend fraction treated as converged
}

// DefaultTuning returns the values the game ships with.
func DefaultTuning() Tuning {
	return Tuning{SnapGap: 3, BlendRate: 15, SnapEpsilon: 1e-3}
}

// LerpFunc interpolates from a towards b by t in [0, 1].
type LerpFunc[T any] func(a, b T, t float64) T

// Options configure a Value.
type Options[T any] struct {
	ID     string
	Policy Policy
	Local  PeerID
	Owner  PeerID // initial owner for OwnerOnly values
	Lerp   LerpFunc[T]
	Tuning Tuning
	// Sink receives an Update after every successful local Write.
	Sink func(Update)
}

// Observation is a registered observer. Dispose stops further notifications.
type Observation struct {
	active atomic.Bool
}

// Dispose releases the observer. Calling it again does nothing.
func (o *Observation) Dispose() {
	if o != nil {
		o.active.Store(false)
	}
}

type observer[T any] struct {
	obs *Observation
	fn  func(old, new T, version uint64)
}

// Value is one replicated datum.
type Value[T any] struct {
	mu sync.Mutex

	id     string
	policy Policy
	local  PeerID
	owner  PeerID
	epoch  uint64
	lerp   LerpFunc[T]
	tuning Tuning
	sink   func(Update)

	value    T
	version  uint64
	written  uint64 // owner epoch the value was written under
	rendered T

	pending    T
	hasPending bool

	blending  bool
	remaining float64

	observers []observer[T]
}

// New creates a value holding initial at version 0.
func New[T any](initial T, opts Options[T]) *Value[T] {
	if opts.Tuning == (Tuning{}) {
		opts.Tuning = DefaultTuning()
	}
	owner := opts.Owner
	if opts.Policy == ServerOnly || owner == "" {
		owner = ServerPeer
	}
	return &Value[T]{
		id:       opts.ID,
		policy:   opts.Policy,
		local:    opts.Local,
		owner:    owner,
		lerp:     opts.Lerp,
		tuning:   opts.Tuning,
		sink:     opts.Sink,
		value:    initial,
		rendered: initial,
	}
}

func (v *Value[T]) ID() string     { return v.id }
func (v *Value[T]) Policy() Policy { return v.policy }
func (v *Value[T]) Local() PeerID  { return v.local }

// Writer returns the peer currently allowed to write.
func (v *Value[T]) Writer() PeerID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writerLocked()
}

func (v *Value[T]) writerLocked() PeerID {
	if v.policy == ServerOnly {
		return ServerPeer
	}
	return v.owner
}

// CanWrite reports whether the local peer is the writer right now.
func (v *Value[T]) CanWrite() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writerLocked() == v.local
}

// Owner returns the current owner and its epoch.
func (v *Value[T]) Owner() (PeerID, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner, v.epoch
}

// Read returns the authoritative or last reconciled value.
func (v *Value[T]) Read() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Rendered returns the presentation value, which may still be blending.
func (v *Value[T]) Rendered() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rendered
}

func (v *Value[T]) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// Stamp returns the epoch and version of the current value.
func (v *Value[T]) Stamp() (epoch, version uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.written, v.version
}

// Pending returns the unconfirmed local prediction, if any.
func (v *Value[T]) Pending() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending, v.hasPending
}

// Blending reports whether the rendered value is still converging.
func (v *Value[T]) Blending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blending
}

// Observe registers fn to run after every change, in registration order.
func (v *Value[T]) Observe(fn func(old, new T, version uint64)) *Observation {
	obs := &Observation{}
	obs.active.Store(true)
	v.mu.Lock()
	v.observers = append(v.observers, observer[T]{obs: obs, fn: fn})
	v.mu.Unlock()
	return obs
}

// Write replaces the value. Only the declared writer may call it.
func (v *Value[T]) Write(nv T) error {
	v.mu.Lock()
	if v.writerLocked() != v.local {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s is %s-written", ErrNotAuthorized, v.id, v.policy)
	}
	var raw msgpack.RawMessage
	if v.sink != nil {
		b, err := msgpack.Marshal(nv)
		if err != nil {
			v.mu.Unlock()
			return fmt.Errorf("replica: encode %s: %w", v.id, err)
		}
		raw = b
	}

	old := v.value
	v.value = nv
	v.rendered = nv
	v.version++
	v.written = v.epoch
	v.blending = false
	v.clearPendingLocked()
	version := v.version
	upd := Update{ID: v.id, Version: version, Owner: string(v.owner), Epoch: v.epoch, Written: v.epoch, Value: raw}
	obs := v.liveObserversLocked()
	sink := v.sink
	v.mu.Unlock()

	notify(obs, old, nv, version)
	if sink != nil {
		sink(upd)
	}
	return nil
}

// Propose records a local prediction on a peer that is not the writer. The
// rendered value shows it until the next reconciled update arrives.
func (v *Value[T]) Propose(nv T) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.writerLocked() == v.local {
		return fmt.Errorf("%w: %s owner writes directly", ErrNotAuthorized, v.id)
	}
	v.pending = nv
	v.hasPending = true
	v.rendered = nv
	v.blending = false
	return nil
}

// Reconcile offers a remote update written under the current value's epoch.
// Updates at or below the local version are ignored, so applying the same
// update twice is harmless.
func (v *Value[T]) Reconcile(remote T, version uint64) Outcome {
	v.mu.Lock()
	return v.reconcileLocked(remote, v.written, version)
}

// ReconcileStamped is Reconcile for an update written under epoch. Updates
// are ordered by (epoch, version), so a value written by a newer owner wins
// even when that owner's counter is behind the previous owner's.
func (v *Value[T]) ReconcileStamped(remote T, epoch, version uint64) Outcome {
	v.mu.Lock()
	return v.reconcileLocked(remote, epoch, version)
}

// reconcileLocked is entered with v.mu held and releases it.
func (v *Value[T]) reconcileLocked(remote T, epoch, version uint64) Outcome {
	if v.writerLocked() == v.local {
		v.mu.Unlock()
		return Ignored
	}
	if epoch < v.written || (epoch == v.written && version <= v.version) {
		v.mu.Unlock()
		return Stale
	}

	// versions written by different owners are not comparable
	gap := uint64(1)
	if epoch == v.written {
		gap = version - v.version
	}
	old := v.value
	v.value = remote
	v.version = version
	v.written = epoch
	v.clearPendingLocked()

	outcome := Snapped
	if v.lerp != nil && gap <= v.tuning.SnapGap {
		outcome = Blending
		v.blending = true
		v.remaining = 1
	} else {
		v.rendered = remote
		v.blending = false
	}
	obs := v.liveObserversLocked()
	v.mu.Unlock()

	notify(obs, old, remote, version)
	return outcome
}

// Advance moves the rendered value towards the reconciled one.
func (v *Value[T]) Advance(dt float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.blending || dt <= 0 {
		return
	}
	k := min(1, dt*v.tuning.BlendRate)
	v.rendered = v.lerp(v.rendered, v.value, k)
	v.remaining *= 1 - k
	if v.remaining <= v.tuning.SnapEpsilon {
		v.rendered = v.value
		v.blending = false
	}
}

// Handoff moves ownership of an OwnerOnly value to owner. It applies only
// when epoch is newer than the current one, so repeated or reordered
// handoffs converge on the highest epoch.
func (v *Value[T]) Handoff(owner PeerID, epoch uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.policy != OwnerOnly || epoch <= v.epoch {
		return false
	}
	v.owner = owner
	v.epoch = epoch
	v.clearPendingLocked()
	if owner == v.local {
		v.rendered = v.value
		v.blending = false
	}
	return true
}

// Snapshot encodes the current value as an Update.
func (v *Value[T]) Snapshot() (Update, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	raw, err := msgpack.Marshal(v.value)
	if err != nil {
		return Update{}, fmt.Errorf("replica: encode %s: %w", v.id, err)
	}
	return Update{ID: v.id, Version: v.version, Owner: string(v.owner), Epoch: v.epoch, Written: v.written, Value: raw}, nil
}

// ApplyUpdate decodes u and reconciles it. Updates carrying an older epoch
// than the local one come from a previous owner and are stale.
func (v *Value[T]) ApplyUpdate(u Update) (Outcome, error) {
	if u.ID != v.id {
		return Ignored, fmt.Errorf("%w: %s sent to %s", ErrUnknownValue, u.ID, v.id)
	}
	if v.policy == OwnerOnly {
		_, epoch := v.Owner()
		if u.Epoch < epoch {
			return Stale, nil
		}
		v.Handoff(PeerID(u.Owner), u.Epoch)
	}
	var nv T
	if err := msgpack.Unmarshal(u.Value, &nv); err != nil {
		return Ignored, fmt.Errorf("replica: decode %s: %w", v.id, err)
	}
	return v.ReconcileStamped(nv, u.Written, u.Version), nil
}

func (v *Value[T]) clearPendingLocked() {
	var zero T
	v.pending = zero
	v.hasPending = false
}

func (v *Value[T]) liveObserversLocked() []observer[T] {
	live := v.observers[:0:0]
	for _, o := range v.observers {
		if o.obs.active.Load() {
			live = append(live, o)
		}
	}
	v.observers = live
	return live
}

func notify[T any](obs []observer[T], old, nv T, version uint64) {
	for _, o := range obs {
		if o.obs.active.Load() {
			o.fn(old, nv, version)
		}
	}
}
