package brickgame

// Settings tune one run. The env tags let the session server load them with
// a BRICK_ prefix.
type Settings struct {
	SpawnInterval     float64 `env:"SPAWN_INTERVAL" envDefault:"2.0"`
	InitialSpawnDelay float64 `env:"INITIAL_SPAWN_DELAY" envDefault:"2.0"`
	IntervalDecay     float64 `env:"INTERVAL_DECAY" envDefault:"0.9"`
	MinSpawnInterval  float64 `env:"MIN_SPAWN_INTERVAL" envDefault:"0.3"`
	// LevelIntervalStep shortens the interval by step*(level-1) on every
	// level up, on top of the regular decay. Zero disables it.
	LevelIntervalStep float64 `env:"LEVEL_INTERVAL_STEP" envDefault:"0"`

	InitialLevel int `env:"INITIAL_LEVEL" envDefault:"1"`
	MaxLevel     int `env:"MAX_LEVEL" envDefault:"50"`
	InitialRows  int `env:"INITIAL_ROWS" envDefault:"3"`
	Columns      int `env:"COLUMNS" envDefault:"7"`

	KeyboardSpeed    float64 `env:"KEYBOARD_SPEED" envDefault:"15"`
	PointerSmoothing float64 `env:"POINTER_SMOOTHING" envDefault:"20"`
	PaddleMinX       float64 `env:"PADDLE_MIN_X" envDefault:"-2.5"`
	PaddleMaxX       float64 `env:"PADDLE_MAX_X" envDefault:"2.5"`
	PaddleY          float64 `env:"PADDLE_Y" envDefault:"-3.5"`
	SyncThreshold    float64 `env:"SYNC_THRESHOLD" envDefault:"0.01"`

	BottomBoundary float64 `env:"BOTTOM_BOUNDARY" envDefault:"-2.3"`
	BallPower      int     `env:"BALL_POWER" envDefault:"1"`
}

// DefaultSettings mirrors the envDefault tags.
func DefaultSettings() Settings {
	return Settings{
		SpawnInterval:     2.0,
		InitialSpawnDelay: 2.0,
		IntervalDecay:     0.9,
		MinSpawnInterval:  0.3,
		InitialLevel:      1,
		MaxLevel:          50,
		InitialRows:       3,
		Columns:           7,
		KeyboardSpeed:     15,
		PointerSmoothing:  20,
		PaddleMinX:        -2.5,
		PaddleMaxX:        2.5,
		PaddleY:           -3.5,
		SyncThreshold:     0.01,
		BottomBoundary:    -2.3,
		BallPower:         1,
	}
}

// normalized replaces values that would break the schedule or movement with
// their defaults. Zero stays valid where it means "none" (rows, delay, step).
func (s Settings) normalized() Settings {
	if s == (Settings{}) {
		return DefaultSettings()
	}
	d := DefaultSettings()
	if s.SpawnInterval <= 0 {
		s.SpawnInterval = d.SpawnInterval
	}
	if s.InitialSpawnDelay < 0 {
		s.InitialSpawnDelay = 0
	}
	if s.IntervalDecay <= 0 || s.IntervalDecay > 1 {
		s.IntervalDecay = d.IntervalDecay
	}
	if s.MinSpawnInterval <= 0 {
		s.MinSpawnInterval = d.MinSpawnInterval
	}
	if s.LevelIntervalStep < 0 {
		s.LevelIntervalStep = 0
	}
	if s.InitialLevel <= 0 {
		s.InitialLevel = d.InitialLevel
	}
	if s.MaxLevel <= 0 {
		s.MaxLevel = d.MaxLevel
	}
	s.MaxLevel = max(s.MaxLevel, s.InitialLevel)
	if s.InitialRows < 0 {
		s.InitialRows = 0
	}
	if s.Columns <= 0 {
		s.Columns = d.Columns
	}
	if s.KeyboardSpeed <= 0 {
		s.KeyboardSpeed = d.KeyboardSpeed
	}
	if s.PointerSmoothing <= 0 {
		s.PointerSmoothing = d.PointerSmoothing
	}
	if s.PaddleMaxX <= s.PaddleMinX {
		s.PaddleMinX, s.PaddleMaxX = d.PaddleMinX, d.PaddleMaxX
	}
	if s.SyncThreshold < 0 {
		s.SyncThreshold = 0
	}
	if s.BallPower <= 0 {
		s.BallPower = d.BallPower
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
