// Package sim is a small demo simulation: walkers drifting across the world,
// which keeps sections active and moves load between regions.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/udisondev/regionized/internal/coord"
	"github.com/udisondev/regionized/internal/tickregion"
)

// Population holds the walkers of one region by section.
// Owned by the region's ticking goroutine.
type Population struct {
	bySection map[int64][]*Walker
}

// Len returns the number of walkers.
func (p *Population) Len() int {
	n := 0
	for _, ws := range p.bySection {
		n += len(ws)
	}
	return n
}

// Players returns the number of player walkers.
func (p *Population) Players() int {
	n := 0
	for _, ws := range p.bySection {
		for _, w := range ws {
			if w.Player {
				n++
			}
		}
	}
	return n
}

// Find returns the walker with the given id.
func (p *Population) Find(id uuid.UUID) (*Walker, bool) {
	for _, ws := range p.bySection {
		for _, w := range ws {
			if w.ID == id {
				return w, true
			}
		}
	}
	return nil, false
}

func (p *Population) add(section int64, w *Walker) {
	p.bySection[section] = append(p.bySection[section], w)
}

// Sim moves the walkers of one world.
type Sim struct {
	regions *tickregion.Regions
	key     *tickregion.Key[*Population]
	bounds  float64
}

// New registers the simulation's region data with regions. Walkers bounce
// off the square [-bounds, bounds].
func New(regions *tickregion.Regions, bounds float64) *Sim {
	s := &Sim{regions: regions, bounds: bounds}
	s.key = tickregion.NewKey[*Population](regions.Registry(), s)
	return s
}

// Population returns the walkers of a region. Must be called on the region's
// ticking goroutine.
func (s *Sim) Population(d *tickregion.Data) *Population {
	return s.key.Get(d)
}

// Spawn adds a walker to the world. It joins the population of the region
// owning its cell on that region's goroutine.
func (s *Sim) Spawn(w *Walker) {
	x, z := w.Cell()
	s.regions.AddCell(x, z)
	s.handOff(w)
}

// SpawnRandom spawns n walkers uniformly inside radius cells of the origin
// moving at up to speed cells per tick. One in playerEvery walkers is a player.
func (s *Sim) SpawnRandom(rng *rand.Rand, n int, radius, speed float64, playerEvery int, ttl int64) {
	for i := range n {
		angle := rng.Float64() * 2 * math.Pi
		dist := radius * math.Sqrt(rng.Float64())
		pos := mgl64.Vec2{math.Cos(angle) * dist, math.Sin(angle) * dist}

		heading := rng.Float64() * 2 * math.Pi
		vel := mgl64.Vec2{math.Cos(heading), math.Sin(heading)}.Mul(speed * rng.Float64())

		player := playerEvery > 0 && i%playerEvery == 0
		s.Spawn(NewWalker(pos, vel, player, ttl))
	}
}

// TickRegion implements tickregion.Ticker.
func (s *Sim) TickRegion(ctx context.Context, d *tickregion.Data, tickCount int, _, _ int64) {
	pop := s.key.Get(d)

	var moved []*Walker
	for section, walkers := range pop.bySection {
		kept := walkers[:0]
		for _, w := range walkers {
			oldX, oldZ := w.Cell()
			if !w.step(tickCount, s.bounds) {
				s.regions.RemoveCell(oldX, oldZ)
				continue
			}

			x, z := w.Cell()
			if x != oldX || z != oldZ {
				// take the new reference first so the walker is never unheld
				s.regions.AddCell(x, z)
				s.regions.RemoveCell(oldX, oldZ)
			}
			if s.regions.Regionizer().SectionKey(x, z) != section {
				moved = append(moved, w)
				continue
			}
			kept = append(kept, w)
		}

		if len(kept) == 0 {
			delete(pop.bySection, section)
		} else {
			clear(walkers[len(kept):])
			pop.bySection[section] = kept
		}
	}

	for _, w := range moved {
		s.place(d, pop, w)
	}

	d.Stats().Set(int64(pop.Len()), int64(pop.Players()))
}

// place adds w to d when d owns the walker's section, otherwise hands it to
// the owner through the world task queue.
func (s *Sim) place(d *tickregion.Data, pop *Population, w *Walker) {
	x, z := w.Cell()
	rz := s.regions.Regionizer()
	section := rz.SectionKey(x, z)

	if rz.RegionAt(section) == d.Region() {
		pop.add(section, w)
		return
	}
	s.handOff(w)
}

func (s *Sim) handOff(w *Walker) {
	x, z := w.Cell()
	s.regions.SubmitCellTask(x, z, func(ctx context.Context) {
		d := tickregion.Current(ctx)
		s.place(d, s.key.Get(d), w)
	})
}

// CreateNew implements tickregion.Callbacks.
func (s *Sim) CreateNew() *Population {
	return &Population{bySection: make(map[int64][]*Walker)}
}

// Merge implements tickregion.Callbacks.
func (s *Sim) Merge(from, into *Population, _, _ int64) {
	for section, ws := range from.bySection {
		into.bySection[section] = append(into.bySection[section], ws...)
	}
	clear(from.bySection)
}

// Split implements tickregion.Callbacks. A walker holds its section, so
// every populated section has a new owner.
func (s *Sim) Split(from *Population, _ uint, byRegion map[int64]*Population, _ []*Population) {
	for section, ws := range from.bySection {
		into := byRegion[section]
		if into == nil {
			panic(fmt.Sprintf("sim: section (%d, %d) with walkers has no owner after split", coord.X(section), coord.Z(section)))
		}
		into.bySection[section] = ws
	}
	clear(from.bySection)
}
