package bus

import "strconv"

// Kind identifies every event the bus can carry. Values are stable:
// new kinds are appended, never renumbered.
type Kind uint8

const (
	KindTick Kind = iota
	KindPhaseChanged

	// Commands and notifications for the game-wide phase
	KindGameStart
	KindGamePause
	KindGameResume
	KindGameRestart
	KindGameOver
	KindStageCleared

	// Input gestures, published by the input system once per tick
	KindInputHorizontal
	KindInputPointer
	KindInputPointerDown
	KindInputPointerUp
	KindInputCellClick

	// Gameplay outcomes
	KindPaddleMoved
	KindCollision
	KindBrickSpawned
	KindBrickDestroyed
	KindRowSpawned
	KindLevelUp
	KindScoreChanged
	KindBallsReturned
	KindOutOfBounds

	// Network
	KindOwnerChanged
	KindClientConnected
	KindClientDisconnected

	kindCount
)

var kindNames = [kindCount]string{
	KindTick:               "tick",
	KindPhaseChanged:       "phase_changed",
	KindGameStart:          "game_start",
	KindGamePause:          "game_pause",
	KindGameResume:         "game_resume",
	KindGameRestart:        "game_restart",
	KindGameOver:           "game_over",
	KindStageCleared:       "stage_cleared",
	KindInputHorizontal:    "input_horizontal",
	KindInputPointer:       "input_pointer",
	KindInputPointerDown:   "input_pointer_down",
	KindInputPointerUp:     "input_pointer_up",
	KindInputCellClick:     "input_cell_click",
	KindPaddleMoved:        "paddle_moved",
	KindCollision:          "collision",
	KindBrickSpawned:       "brick_spawned",
	KindBrickDestroyed:     "brick_destroyed",
	KindRowSpawned:         "row_spawned",
	KindLevelUp:            "level_up",
	KindScoreChanged:       "score_changed",
	KindBallsReturned:      "balls_returned",
	KindOutOfBounds:        "out_of_bounds",
	KindOwnerChanged:       "owner_changed",
	KindClientConnected:    "client_connected",
	KindClientDisconnected: "client_disconnected",
}

// kindShapes declares the only payload variant each kind may carry.
var kindShapes = [kindCount]Shape{
	KindTick:               ShapeScalar, // dt in seconds
	KindPhaseChanged:       ShapePhaseChange,
	KindGameStart:          ShapeNone,
	KindGamePause:          ShapeNone,
	KindGameResume:         ShapeNone,
	KindGameRestart:        ShapeNone,
	KindGameOver:           ShapeScalar, // final score
	KindStageCleared:       ShapeScalar, // final score
	KindInputHorizontal:    ShapeScalar,
	KindInputPointer:       ShapeVec2,
	KindInputPointerDown:   ShapeNone,
	KindInputPointerUp:     ShapeNone,
	KindInputCellClick:     ShapeCell,
	KindPaddleMoved:        ShapeVec3,
	KindCollision:          ShapeCollision,
	KindBrickSpawned:       ShapeEntity, // value = remaining hits
	KindBrickDestroyed:     ShapeEntity, // value = score worth
	KindRowSpawned:         ShapeScalar, // rows spawned so far
	KindLevelUp:            ShapeScalar,
	KindScoreChanged:       ShapeScalar,
	KindBallsReturned:      ShapeNone,
	KindOutOfBounds:        ShapeEntity,
	KindOwnerChanged:       ShapeOwnership,
	KindClientConnected:    ShapePeer,
	KindClientDisconnected: ShapePeer,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k < kindCount
}

// Shape returns the payload variant declared for k.
func (k Kind) Shape() Shape {
	if !k.Valid() {
		return shapeInvalid
	}
	return kindShapes[k]
}

func (k Kind) String() string {
	if !k.Valid() {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}
