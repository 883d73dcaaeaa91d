package fsm

// Phase is the game-wide lifecycle phase. Exactly one is current at a time.
type Phase uint8

const (
	None Phase = iota // no state entered yet
	Idle
	Playing
	Paused
	GameOver
	StageClear
)

var phaseNames = map[Phase]string{
	None:       "none",
	Idle:       "idle",
	Playing:    "playing",
	Paused:     "paused",
	GameOver:   "game_over",
	StageClear: "stage_clear",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == GameOver || p == StageClear
}
