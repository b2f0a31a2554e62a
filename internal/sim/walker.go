package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Walker is a simulated entity moving in a straight line across cells and
// bouncing off the world bounds. A walker keeps its cell active.
type Walker struct {
	ID     uuid.UUID
	Player bool

	pos mgl64.Vec2
	vel mgl64.Vec2
	// ticks left to live; 0 lives forever
	ttl int64
}

// NewWalker creates a walker that expires after ttl ticks, or never for ttl 0.
func NewWalker(pos, vel mgl64.Vec2, player bool, ttl int64) *Walker {
	return &Walker{ID: uuid.New(), Player: player, pos: pos, vel: vel, ttl: ttl}
}

// Position returns the position in cell units.
func (w *Walker) Position() mgl64.Vec2 {
	return w.pos
}

// Velocity returns the velocity in cells per tick.
func (w *Walker) Velocity() mgl64.Vec2 {
	return w.vel
}

// Cell returns the cell the walker stands in.
func (w *Walker) Cell() (x, z int32) {
	return int32(math.Floor(w.pos.X())), int32(math.Floor(w.pos.Y()))
}

// step advances the walker by ticks. Returns false once the walker expired.
func (w *Walker) step(ticks int, bounds float64) bool {
	if w.ttl > 0 {
		w.ttl -= int64(ticks)
		if w.ttl <= 0 {
			return false
		}
	}

	w.pos = w.pos.Add(w.vel.Mul(float64(ticks)))
	for i := range 2 {
		switch {
		case w.pos[i] > bounds:
			w.pos[i] = bounds
			w.vel[i] = -math.Abs(w.vel[i])
		case w.pos[i] < -bounds:
			w.pos[i] = -bounds
			w.vel[i] = math.Abs(w.vel[i])
		}
	}
	return true
}
