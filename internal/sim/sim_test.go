package sim

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionized/internal/coord"
	"github.com/udisondev/regionized/internal/regionizer"
	"github.com/udisondev/regionized/internal/sched"
	"github.com/udisondev/regionized/internal/tickregion"
)

func newTestSim(t *testing.T) (*Sim, *tickregion.Regions) {
	t.Helper()
	regions := tickregion.New(sched.New(1), tickregion.Options{
		Name:       "test",
		Regionizer: regionizer.DefaultConfig(),
		Interval:   int64(50 * time.Millisecond),
	})
	return New(regions, 1000), regions
}

func dataAt(regions *tickregion.Regions, cellX, cellZ int32) *tickregion.Data {
	r := regions.Regionizer().RegionAtCell(cellX, cellZ)
	if r == nil {
		return nil
	}
	return r.Data()
}

// runQueue delivers tasks queued for d, as the start of its tick would.
func runQueue(d *tickregion.Data) {
	d.Queue().RunSnapshot(tickregion.WithRegion(context.Background(), d))
}

func tick(s *Sim, d *tickregion.Data, n int) {
	s.TickRegion(tickregion.WithRegion(context.Background(), d), d, n, 0, 0)
}

func TestWalker_Step(t *testing.T) {
	w := NewWalker(mgl64.Vec2{0.5, 0.5}, mgl64.Vec2{2, -1}, false, 0)
	require.True(t, w.step(3, 1000))
	assert.Equal(t, mgl64.Vec2{6.5, -2.5}, w.Position())

	x, z := w.Cell()
	assert.Equal(t, int32(6), x)
	assert.Equal(t, int32(-3), z)
}

func TestWalker_Bounces(t *testing.T) {
	w := NewWalker(mgl64.Vec2{9, 0}, mgl64.Vec2{3, 0}, false, 0)
	require.True(t, w.step(1, 10))
	assert.Equal(t, 10.0, w.Position().X())
	assert.Equal(t, -3.0, w.Velocity().X())
}

func TestWalker_Expires(t *testing.T) {
	w := NewWalker(mgl64.Vec2{}, mgl64.Vec2{}, false, 2)
	assert.True(t, w.step(1, 10))
	assert.False(t, w.step(1, 10))
}

func TestSpawnJoinsOwningRegion(t *testing.T) {
	s, regions := newTestSim(t)

	w := NewWalker(mgl64.Vec2{3.5, 3.5}, mgl64.Vec2{}, true, 0)
	s.Spawn(w)

	d := dataAt(regions, 3, 3)
	require.NotNil(t, d)
	assert.Equal(t, int64(1), d.Region().CellCount())
	require.True(t, d.HasTasks())

	runQueue(d)
	pop := s.Population(d)
	assert.Equal(t, 1, pop.Len())
	assert.Equal(t, 1, pop.Players())
	found, ok := pop.Find(w.ID)
	require.True(t, ok)
	assert.Same(t, w, found)
}

func TestTickMovesWalkerAndItsCell(t *testing.T) {
	s, regions := newTestSim(t)

	s.Spawn(NewWalker(mgl64.Vec2{15.5, 0.5}, mgl64.Vec2{1, 0}, false, 0))
	d := dataAt(regions, 15, 0)
	runQueue(d)

	tick(s, d, 1)

	// crossed into section (1, 0), still inside the region's buffer
	assert.Same(t, d, dataAt(regions, 16, 0))
	assert.Equal(t, int64(1), d.Region().CellCount())
	assert.Equal(t, 1, s.Population(d).Len())
	assert.Len(t, s.Population(d).bySection[coord.Key(1, 0)], 1)
	assert.Equal(t, int64(1), d.Stats().Entities())
	require.NoError(t, regions.Regionizer().Audit())
}

func TestExpiredWalkerReleasesItsCell(t *testing.T) {
	s, regions := newTestSim(t)

	s.Spawn(NewWalker(mgl64.Vec2{0.5, 0.5}, mgl64.Vec2{}, false, 2))
	d := dataAt(regions, 0, 0)
	runQueue(d)

	tick(s, d, 1)
	assert.Equal(t, 1, s.Population(d).Len())

	tick(s, d, 1)
	assert.Equal(t, 0, s.Population(d).Len())
	assert.Equal(t, int64(0), d.Region().CellCount())
	assert.Equal(t, regionizer.StateInactive, d.Region().State())
	assert.Equal(t, int64(0), d.Stats().Entities())
}

func TestWalkerHandedOffToOtherRegion(t *testing.T) {
	s, regions := newTestSim(t)

	s.Spawn(NewWalker(mgl64.Vec2{0.5, 0.5}, mgl64.Vec2{96, 0}, false, 0))
	regions.AddCell(96, 0)
	a, b := dataAt(regions, 0, 0), dataAt(regions, 96, 0)
	require.NotSame(t, a, b)
	runQueue(a)

	// a ticking region is not merged, so the walker lands in b's section
	require.True(t, a.Region().TryMarkTicking(func() bool { return false }))
	tick(s, a, 1)
	assert.Equal(t, 0, s.Population(a).Len())
	assert.Equal(t, int64(2), b.Region().CellCount())

	require.True(t, b.HasTasks())
	runQueue(b)
	assert.Equal(t, 1, s.Population(b).Len())

	a.Region().MarkNotTicking()
	require.NoError(t, regions.Regionizer().Audit())
}

func TestSpawnRandom(t *testing.T) {
	s, regions := newTestSim(t)

	s.SpawnRandom(rand.New(rand.NewPCG(1, 2)), 40, 200, 2, 4, 0)

	var all []*tickregion.Data
	regions.ForEachRegion(func(d *tickregion.Data) { all = append(all, d) })

	walkers, players := 0, 0
	for _, d := range all {
		runQueue(d)
		walkers += s.Population(d).Len()
		players += s.Population(d).Players()
	}
	assert.Equal(t, 40, walkers)
	assert.Equal(t, 10, players)
	require.NoError(t, regions.Regionizer().Audit())
}

func TestMergeAndSplitCallbacks(t *testing.T) {
	s := &Sim{}
	w1, w2 := NewWalker(mgl64.Vec2{}, mgl64.Vec2{}, false, 0), NewWalker(mgl64.Vec2{}, mgl64.Vec2{}, true, 0)

	from, into := s.CreateNew(), s.CreateNew()
	from.add(1, w1)
	into.add(2, w2)
	s.Merge(from, into, 5, 0)
	assert.Equal(t, 2, into.Len())
	assert.Equal(t, 0, from.Len())

	a, b := s.CreateNew(), s.CreateNew()
	s.Split(into, 4, map[int64]*Population{1: a, 2: b}, []*Population{a, b})
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Players())
	assert.Equal(t, 0, into.Len())
}
