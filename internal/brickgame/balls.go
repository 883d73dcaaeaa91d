package brickgame

import "brickarena/internal/bus"

// Balls tracks balls in flight and the temporary power multiplier.
type Balls struct {
	bus       *bus.Bus
	basePower int

	inFlight   int
	multiplier int
	powerLeft  float64
}

func NewBalls(b *bus.Bus, basePower int) *Balls {
	if basePower < 1 {
		basePower = 1
	}
	return &Balls{bus: b, basePower: basePower, multiplier: 1}
}

// Reset drops all balls and any active power.
func (b *Balls) Reset() {
	b.inFlight = 0
	b.multiplier = 1
	b.powerLeft = 0
}

// Launch puts n more balls in flight.
func (b *Balls) Launch(n int) {
	if n > 0 {
		b.inFlight += n
	}
}

// Return records a ball reaching the floor. BallsReturned is published when
// the last one comes back.
func (b *Balls) Return() {
	if b.inFlight == 0 {
		return
	}
	b.inFlight--
	if b.inFlight == 0 {
		b.bus.Emit(bus.KindBallsReturned, nil)
	}
}

func (b *Balls) InFlight() int { return b.inFlight }

// AttackPower is how many hits one ball contact removes.
func (b *Balls) AttackPower() int {
	return b.basePower * b.multiplier
}

// ActivatePower multiplies attack power for the given number of seconds.
func (b *Balls) ActivatePower(mult int, seconds float64) {
	if mult < 1 || seconds <= 0 {
		return
	}
	b.multiplier = mult
	b.powerLeft = seconds
}

// UpdatePowerTimer counts the power multiplier down.
func (b *Balls) UpdatePowerTimer(dt float64) {
	if b.powerLeft <= 0 {
		return
	}
	b.powerLeft -= dt
	if b.powerLeft <= 0 {
		b.powerLeft = 0
		b.multiplier = 1
	}
}

func (b *Balls) PowerActive() bool { return b.powerLeft > 0 }
