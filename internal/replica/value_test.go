package replica

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
)

func observerValue(initial float64) *Value[float64] {
	return New(initial, Options[float64]{
		ID:     "x",
		Policy: OwnerOnly,
		Local:  "observer",
		Owner:  "owner",
		Lerp:   LerpFloat,
	})
}

func TestWriteRequiresWriter(t *testing.T) {
	v := New(0, Options[int]{ID: "hits", Policy: ServerOnly, Local: "client"})
	err := v.Write(3)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if v.Read() != 0 {
		t.Errorf("expected value 0, got %d", v.Read())
	}
	if v.Version() != 0 {
		t.Errorf("expected version 0, got %d", v.Version())
	}

	srv := New(0, Options[int]{ID: "hits", Policy: ServerOnly, Local: ServerPeer})
	if err := srv.Write(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Read() != 3 || srv.Version() != 1 {
		t.Errorf("expected 3@1, got %d@%d", srv.Read(), srv.Version())
	}
}

func TestWriteNotifiesObserversInOrder(t *testing.T) {
	var outbox Outbox
	v := New(1.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "p1", Owner: "p1", Sink: outbox.Push})
	var calls []string
	v.Observe(func(old, nv float64, version uint64) {
		if version == 1 && (old != 1 || nv != 2) {
			t.Errorf("expected (1, 2, 1), got (%v, %v, %d)", old, nv, version)
		}
		calls = append(calls, "a")
	})
	second := v.Observe(func(float64, float64, uint64) { calls = append(calls, "b") })

	if err := v.Write(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("expected [a b], got %v", calls)
	}

	second.Dispose()
	second.Dispose()
	calls = nil
	v.Write(3)
	if len(calls) != 1 {
		t.Errorf("expected 1 observer after dispose, got %v", calls)
	}

	sent := outbox.Drain()
	if len(sent) != 1 || sent[0].Version != 2 || sent[0].Owner != "p1" {
		t.Errorf("expected one coalesced update at version 2, got %+v", sent)
	}
	if outbox.Len() != 0 {
		t.Errorf("expected empty outbox after drain, got %d", outbox.Len())
	}
}

func TestReconcileIsIdempotentAndMonotonic(t *testing.T) {
	v := observerValue(0)

	if got := v.Reconcile(5, 7); got != Snapped {
		t.Errorf("expected snapped for a large gap, got %s", got)
	}
	if got := v.Reconcile(5, 7); got != Stale {
		t.Errorf("expected re-applying the same update to be stale, got %s", got)
	}
	if got := v.Reconcile(4, 6); got != Stale {
		t.Errorf("expected older update to be stale, got %s", got)
	}
	if v.Read() != 5 || v.Version() != 7 {
		t.Errorf("expected 5@7, got %v@%d", v.Read(), v.Version())
	}
}

func TestReconcileIgnoredOnWriter(t *testing.T) {
	v := New(1.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "p1", Owner: "p1"})
	if got := v.Reconcile(9, 100); got != Ignored {
		t.Errorf("expected ignored, got %s", got)
	}
	if v.Read() != 1 {
		t.Errorf("expected 1, got %v", v.Read())
	}
}

func TestReconcileBlendsSmallGaps(t *testing.T) {
	v := observerValue(0)
	if got := v.Reconcile(10, 2); got != Blending {
		t.Fatalf("expected blending, got %s", got)
	}
	if v.Read() != 10 {
		t.Errorf("expected read 10, got %v", v.Read())
	}
	if v.Rendered() != 0 {
		t.Errorf("expected rendered to start at 0, got %v", v.Rendered())
	}

	v.Advance(0.02) // k = 0.3
	if r := v.Rendered(); math.Abs(r-3) > 1e-9 {
		t.Errorf("expected rendered 3, got %v", r)
	}
	for i := 0; i < 100 && v.Blending(); i++ {
		v.Advance(0.02)
	}
	if v.Blending() {
		t.Error("expected blend to converge")
	}
	if v.Rendered() != 10 {
		t.Errorf("expected rendered 10 after convergence, got %v", v.Rendered())
	}
}

func TestReconcileSnapsWithoutLerp(t *testing.T) {
	v := New(0, Options[int]{ID: "hits", Policy: ServerOnly, Local: "client"})
	if got := v.Reconcile(2, 1); got != Snapped {
		t.Errorf("expected snapped, got %s", got)
	}
	if v.Rendered() != 2 {
		t.Errorf("expected rendered 2, got %d", v.Rendered())
	}
}

func TestAdvanceLargeStepFinishes(t *testing.T) {
	v := observerValue(0)
	v.Reconcile(4, 1)
	v.Advance(1)
	if v.Rendered() != 4 || v.Blending() {
		t.Errorf("expected immediate convergence, got %v blending=%v", v.Rendered(), v.Blending())
	}
}

func TestProposeKeepsAuthoritativeValue(t *testing.T) {
	v := observerValue(1)
	if err := v.Propose(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Read() != 1 || v.Version() != 0 {
		t.Errorf("propose must not touch value/version, got %v@%d", v.Read(), v.Version())
	}
	if v.Rendered() != 4 {
		t.Errorf("expected rendered prediction 4, got %v", v.Rendered())
	}
	if p, ok := v.Pending(); !ok || p != 4 {
		t.Errorf("expected pending 4, got %v %v", p, ok)
	}

	v.Reconcile(2, 1)
	if _, ok := v.Pending(); ok {
		t.Error("reconcile should clear the prediction")
	}

	owner := New(1.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "p1", Owner: "p1"})
	if err := owner.Propose(2); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized for owner propose, got %v", err)
	}
}

func TestHandoffByEpoch(t *testing.T) {
	v := observerValue(0)
	if !v.Handoff("observer", 2) {
		t.Fatal("expected handoff at epoch 2 to apply")
	}
	if v.Handoff("owner", 1) {
		t.Error("older epoch must not apply")
	}
	if v.Handoff("observer", 2) {
		t.Error("repeated epoch must not apply")
	}
	if owner, epoch := v.Owner(); owner != "observer" || epoch != 2 {
		t.Errorf("expected observer@2, got %s@%d", owner, epoch)
	}
	if err := v.Write(7); err != nil {
		t.Errorf("new owner should write, got %v", err)
	}

	srv := New(0, Options[int]{ID: "s", Policy: ServerOnly, Local: ServerPeer})
	if srv.Handoff("p1", 5) {
		t.Error("server-only values do not hand off")
	}
}

func TestApplyUpdateRoundTrip(t *testing.T) {
	var outbox Outbox
	owner := New(mgl64.Vec3{}, Options[mgl64.Vec3]{
		ID: "paddle", Policy: OwnerOnly, Local: "p1", Owner: "p1", Sink: outbox.Push,
	})
	remote := New(mgl64.Vec3{}, Options[mgl64.Vec3]{
		ID: "paddle", Policy: OwnerOnly, Local: ServerPeer, Owner: "p1", Lerp: LerpVec3,
	})

	owner.Write(mgl64.Vec3{1, 0, 0})
	frame, err := EncodeUpdates(outbox.Drain())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	updates, err := DecodeUpdates(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	got, err := remote.ApplyUpdate(updates[0])
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != Blending {
		t.Errorf("expected blending, got %s", got)
	}
	if remote.Read() != (mgl64.Vec3{1, 0, 0}) {
		t.Errorf("expected (1,0,0), got %v", remote.Read())
	}
}

func TestApplyUpdateFromPreviousOwnerIsStale(t *testing.T) {
	v := New(0.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: ServerPeer, Owner: "p1"})
	v.Handoff("phone", 3)

	old := New(0.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "p1", Owner: "p1"})
	old.Write(9)
	u, _ := old.Snapshot()

	got, err := v.ApplyUpdate(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Stale {
		t.Errorf("expected stale, got %s", got)
	}
	if v.Read() != 0 {
		t.Errorf("expected 0, got %v", v.Read())
	}
}

func TestHandoffConvergesWhenNewOwnerLags(t *testing.T) {
	var outA, outB Outbox
	a := New(0.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "a", Owner: "a", Sink: outA.Push})
	b := New(0.0, Options[float64]{ID: "x", Policy: OwnerOnly, Local: "b", Owner: "a", Sink: outB.Push})

	// b only ever sees version 3 of the five a writes
	for i := 1; i <= 5; i++ {
		a.Write(float64(i * 10))
		u := outA.Drain()[0]
		if i == 3 {
			b.ApplyUpdate(u)
		}
	}
	if b.Read() != 30 {
		t.Fatalf("expected b at 30, got %v", b.Read())
	}

	a.Handoff("b", 1)
	b.Handoff("b", 1)
	if err := b.Write(99); err != nil {
		t.Fatalf("new owner write: %v", err)
	}
	u := outB.Drain()[0]
	if u.Version != 4 || u.Written != 1 {
		t.Errorf("expected v4 written at epoch 1, got v%d at %d", u.Version, u.Written)
	}

	got, err := a.ApplyUpdate(u)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !got.Adopted() {
		t.Errorf("expected old owner to adopt the new epoch, got %s", got)
	}
	if a.Read() != b.Read() {
		t.Errorf("expected peers to agree, got a=%v b=%v", a.Read(), b.Read())
	}
	if epoch, version := a.Stamp(); epoch != 1 || version != 4 {
		t.Errorf("expected stamp (1,4), got (%d,%d)", epoch, version)
	}

	// a late update from the old epoch no longer wins
	stale := Update{ID: "x", Version: 6, Owner: "a", Epoch: 1, Written: 0}
	stale.Value, _ = msgpack.Marshal(60.0)
	if got, _ := a.ApplyUpdate(stale); got != Stale {
		t.Errorf("expected stale, got %s", got)
	}
	if a.Read() != 99 {
		t.Errorf("expected 99, got %v", a.Read())
	}
}

func TestOutboxKeepsNewerEpoch(t *testing.T) {
	var o Outbox
	o.Push(Update{ID: "x", Version: 9, Written: 0})
	o.Push(Update{ID: "x", Version: 2, Written: 1})
	o.Push(Update{ID: "x", Version: 8, Written: 0})
	got := o.Drain()
	if len(got) != 1 || got[0].Written != 1 || got[0].Version != 2 {
		t.Errorf("expected v2 at epoch 1, got %+v", got)
	}
}
