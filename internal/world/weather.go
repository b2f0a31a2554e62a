package world

import "math/rand/v2"

// Weather durations in ticks.
const (
	rainDurationMin    = 12000
	rainDurationMax    = 24000
	thunderDurationMin = 3600
	thunderDurationMax = 15600
	clearDelayMin      = 12000
	clearDelayMax      = 180000
)

// Weather is a snapshot of a world's weather.
type Weather struct {
	Raining    bool
	Thundering bool
}

// weatherCycle counts down to the next rain and thunder toggles.
// Owned by the global tick.
type weatherCycle struct {
	rng *rand.Rand

	raining     bool
	thundering  bool
	rainTime    int
	thunderTime int
	// clearTime forces clear weather while positive
	clearTime int
}

func newWeatherCycle(seed uint64) *weatherCycle {
	return &weatherCycle{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// between returns a uniform value in [lo, hi).
func (c *weatherCycle) between(lo, hi int) int {
	return lo + c.rng.IntN(hi-lo)
}

// advance moves the cycle one tick forward. Returns whether the weather changed.
func (c *weatherCycle) advance() bool {
	before := c.state()

	if c.clearTime > 0 {
		c.clearTime--
		c.raining, c.thundering = false, false
		c.rainTime, c.thunderTime = 1, 1
		return c.state() != before
	}

	switch {
	case c.thunderTime > 0:
		c.thunderTime--
		if c.thunderTime == 0 {
			c.thundering = !c.thundering
		}
	case c.thundering:
		c.thunderTime = c.between(thunderDurationMin, thunderDurationMax)
	default:
		c.thunderTime = c.between(clearDelayMin, clearDelayMax)
	}

	switch {
	case c.rainTime > 0:
		c.rainTime--
		if c.rainTime == 0 {
			c.raining = !c.raining
		}
	case c.raining:
		c.rainTime = c.between(rainDurationMin, rainDurationMax)
	default:
		c.rainTime = c.between(clearDelayMin, clearDelayMax)
	}

	return c.state() != before
}

// state reports thunder only while it rains.
func (c *weatherCycle) state() Weather {
	return Weather{Raining: c.raining, Thundering: c.raining && c.thundering}
}

// setClear forces clear weather for the given number of ticks.
func (c *weatherCycle) setClear(ticks int) {
	c.clearTime = ticks
	c.raining, c.thundering = false, false
}
