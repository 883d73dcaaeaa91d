package bus

import "github.com/go-gl/mathgl/mgl64"

// Shape names a payload variant.
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapeScalar
	ShapeVec2
	ShapeVec3
	ShapeCell
	ShapeCollision
	ShapeEntity
	ShapePhaseChange
	ShapeOwnership
	ShapePeer

	shapeInvalid Shape = 0xff
)

// Payload is the closed set of event payloads. The unexported method keeps
// implementations inside this package.
type Payload interface {
	shape() Shape
}

// None is the empty payload.
type None struct{}

// Scalar carries a single number (dt, score, level, axis value).
type Scalar float64

// Vec2 carries a 2D point, e.g. a pointer position.
type Vec2 mgl64.Vec2

// Vec3 carries a 3D point, e.g. a paddle position.
type Vec3 mgl64.Vec3

// Cell is an integer grid coordinate.
type Cell struct {
	X, Y, Z int
}

// CollisionOutcome is what the physics collaborator reports: which entity
// was hit, by what, and how hard.
type CollisionOutcome struct {
	Entity uint64
	Other  uint64
	Impact float64
}

// Entity names a tracked entity together with one value (hits, worth).
type Entity struct {
	ID    uint64
	Value int64
}

// PhaseChange carries a state machine transition. Phases travel as their
// numeric value so the bus does not depend on the fsm package.
type PhaseChange struct {
	From, To uint8
}

// Ownership announces that the writer role of a replicated value moved.
type Ownership struct {
	ValueID string
	Owner   string
	Epoch   uint64
}

// Peer names a connected process.
type Peer struct {
	ID string
}

func (None) shape() Shape             { return ShapeNone }
func (Scalar) shape() Shape           { return ShapeScalar }
func (Vec2) shape() Shape             { return ShapeVec2 }
func (Vec3) shape() Shape             { return ShapeVec3 }
func (Cell) shape() Shape             { return ShapeCell }
func (CollisionOutcome) shape() Shape { return ShapeCollision }
func (Entity) shape() Shape           { return ShapeEntity }
func (PhaseChange) shape() Shape      { return ShapePhaseChange }
func (Ownership) shape() Shape        { return ShapeOwnership }
func (Peer) shape() Shape             { return ShapePeer }

// shapeOf treats a nil payload as None. Only the value variants have a
// shape; pointers to them (typed nil included) are invalid.
func shapeOf(p Payload) Shape {
	switch v := p.(type) {
	case nil:
		return ShapeNone
	case None, Scalar, Vec2, Vec3, Cell, CollisionOutcome, Entity, PhaseChange, Ownership, Peer:
		return v.shape()
	default:
		return shapeInvalid
	}
}

// As returns the payload of ev as T. The second result is false when the
// event carries a different variant.
func As[T Payload](ev Event) (T, bool) {
	v, ok := ev.Payload.(T)
	return v, ok
}
