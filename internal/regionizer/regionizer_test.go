package regionizer

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionized/internal/coord"
)

type testData struct {
	tick  int64
	items map[int64]int // section key -> count
}

type recorder struct {
	created, destroyed int
	active, inactive   int
	merges, splits     int
}

func (c *recorder) CreateData(*Region[*testData]) *testData {
	return &testData{items: make(map[int64]int)}
}

func (c *recorder) MergeData(from, into *Region[*testData]) {
	into.Data().tick = min(into.Data().tick, from.Data().tick)
	for k, v := range from.Data().items {
		into.Data().items[k] += v
	}
	clear(from.Data().items)
}

func (c *recorder) SplitData(from *Region[*testData], bySection map[int64]*Region[*testData], into []*Region[*testData]) {
	for _, r := range into {
		r.Data().tick = from.Data().tick
	}
	for k, v := range from.Data().items {
		bySection[k].Data().items[k] += v
	}
	clear(from.Data().items)
}

func (c *recorder) OnRegionCreate(*Region[*testData])   { c.created++ }
func (c *recorder) OnRegionDestroy(*Region[*testData])  { c.destroyed++ }
func (c *recorder) OnRegionActive(*Region[*testData])   { c.active++ }
func (c *recorder) OnRegionInactive(*Region[*testData]) { c.inactive++ }
func (c *recorder) PreMerge(_, _ *Region[*testData])    { c.merges++ }
func (c *recorder) PreSplit(*Region[*testData])         { c.splits++ }

func newTestRegionizer(t *testing.T) (*Regionizer[*testData], *recorder) {
	t.Helper()
	rec := &recorder{}
	rz := New[*testData](Config{
		SectionShift:          4,
		MergeRadius:           2,
		RecalcSectionCount:    16,
		MaxDeadSectionPercent: 20,
	}, rec)
	return rz, rec
}

func regions(rz *Regionizer[*testData]) []*Region[*testData] {
	var out []*Region[*testData]
	rz.ForEachRegion(func(r *Region[*testData]) { out = append(out, r) })
	return out
}

func addItem(rz *Regionizer[*testData], key int64) {
	rz.AddSection(key)
	rz.RegionAt(key).Data().items[key]++
}

func TestAddSection_CreatesBufferedRegion(t *testing.T) {
	rz, rec := newTestRegionizer(t)

	rz.AddSection(coord.Key(0, 0))

	r := rz.RegionAt(coord.Key(0, 0))
	require.NotNil(t, r)
	assert.Equal(t, int64(1), r.ID())
	assert.Equal(t, 25, r.SectionCount())
	assert.Equal(t, int64(1), r.CellCount())
	assert.Equal(t, StateReady, r.State())
	assert.Same(t, r, rz.RegionAt(coord.Key(2, -2)), "buffer section belongs to the region")
	assert.Nil(t, rz.RegionAt(coord.Key(3, 0)))

	assert.Equal(t, 1, rec.created)
	assert.Equal(t, 1, rec.active)
	require.NoError(t, rz.Audit())

	// second reference only bumps the count
	rz.AddSection(coord.Key(0, 0))
	assert.Equal(t, int64(2), r.CellCount())
	assert.Equal(t, 25, r.SectionCount())
	assert.Equal(t, 1, rz.RegionCount())
}

func TestAddCell_UsesSectionShift(t *testing.T) {
	rz, _ := newTestRegionizer(t)

	rz.AddCell(-1, 17)
	r := rz.RegionAt(coord.Key(-1, 1))
	require.NotNil(t, r)
	assert.Same(t, r, rz.RegionAtCell(-16, 31))

	rz.RemoveCell(-1, 17)
	assert.Equal(t, StateInactive, r.State())
	require.NoError(t, rz.Audit())
}

func TestRemoveSection_NotAddedPanics(t *testing.T) {
	rz, _ := newTestRegionizer(t)
	assert.Panics(t, func() { rz.RemoveSection(coord.Key(7, 7)) })

	rz.AddSection(coord.Key(0, 0))
	// buffer section, no reference taken
	assert.Panics(t, func() { rz.RemoveSection(coord.Key(1, 1)) })
}

func TestDistantClustersMergeWhenAdjacent(t *testing.T) {
	rz, rec := newTestRegionizer(t)

	addItem(rz, coord.Key(0, 0))
	addItem(rz, coord.Key(50, 0))
	require.Equal(t, 2, rz.RegionCount(), "clusters beyond the merge radius stay apart")

	a := rz.RegionAt(coord.Key(0, 0))
	b := rz.RegionAt(coord.Key(50, 0))
	a.Data().tick = 100
	b.Data().tick = 80

	sectionsA := rz.Sections(a)
	sectionsB := rz.Sections(b)

	// bridge the gap: each new section's buffer touches the previous one's
	for x := int32(5); x <= 45; x += 5 {
		rz.AddSection(coord.Key(x, 0))
		require.NoError(t, rz.Audit(), "after adding (%d, 0)", x)
	}
	rz.MergeCheck()

	require.Equal(t, 1, rz.RegionCount())
	merged := rz.RegionAt(coord.Key(0, 0))
	assert.Same(t, merged, rz.RegionAt(coord.Key(50, 0)))
	assert.Equal(t, int64(80), merged.Data().tick, "merged tick is the minimum")
	assert.Equal(t, 1, merged.Data().items[coord.Key(0, 0)])
	assert.Equal(t, 1, merged.Data().items[coord.Key(50, 0)])

	all := rz.Sections(merged)
	assert.Subset(t, all, sectionsA)
	assert.Subset(t, all, sectionsB)

	assert.Equal(t, StateDead, b.State())
	assert.Equal(t, 1, rec.merges)
	assert.Equal(t, 1, rec.destroyed)
}

func TestSplitOnDisconnect(t *testing.T) {
	rz, rec := newTestRegionizer(t)

	addItem(rz, coord.Key(0, 0))
	addItem(rz, coord.Key(1, 0))
	addItem(rz, coord.Key(50, 0))
	for x := int32(5); x <= 45; x += 5 {
		rz.AddSection(coord.Key(x, 0))
	}
	rz.MergeCheck()
	require.Equal(t, 1, rz.RegionCount())

	original := rz.RegionAt(coord.Key(0, 0))
	original.Data().tick = 42

	for x := int32(5); x <= 45; x += 5 {
		rz.RemoveSection(coord.Key(x, 0))
		require.NoError(t, rz.Audit(), "after removing (%d, 0)", x)
	}
	assert.Equal(t, 1, rz.RegionCount(), "split waits for the split check")

	rz.SplitCheck()
	require.NoError(t, rz.Audit())
	require.Equal(t, 2, rz.RegionCount())
	assert.Equal(t, StateDead, original.State())
	assert.Equal(t, 1, rec.splits)

	left := rz.RegionAt(coord.Key(0, 0))
	right := rz.RegionAt(coord.Key(50, 0))
	require.NotNil(t, left)
	require.NotNil(t, right)
	require.NotSame(t, left, right)

	// 6x5 buffer around (0,0)-(1,0), 5x5 around (50,0)
	assert.Equal(t, 30, left.SectionCount())
	assert.Equal(t, 25, right.SectionCount())
	assert.ElementsMatch(t, []int64{coord.Key(0, 0), coord.Key(1, 0)}, rz.AliveSections(left))
	assert.ElementsMatch(t, []int64{coord.Key(50, 0)}, rz.AliveSections(right))

	assert.Equal(t, map[int64]int{coord.Key(0, 0): 1, coord.Key(1, 0): 1}, left.Data().items)
	assert.Equal(t, map[int64]int{coord.Key(50, 0): 1}, right.Data().items)
	assert.Equal(t, int64(42), left.Data().tick)
	assert.Equal(t, int64(42), right.Data().tick)

	assert.Equal(t, StateReady, left.State())
	assert.Equal(t, StateReady, right.State())
	assert.Greater(t, right.ID(), original.ID(), "split regions get fresh ids")
}

func TestIdleRegionDeactivatesAndIsDestroyed(t *testing.T) {
	rz, rec := newTestRegionizer(t)

	rz.AddSection(coord.Key(3, 3))
	r := rz.RegionAt(coord.Key(3, 3))

	rz.RemoveSection(coord.Key(3, 3))
	assert.Equal(t, StateInactive, r.State())
	assert.Equal(t, 1, rec.inactive)
	require.NoError(t, rz.Audit())

	// reactivation before cleanup reuses the region
	rz.AddSection(coord.Key(3, 3))
	assert.Same(t, r, rz.RegionAt(coord.Key(3, 3)))
	assert.Equal(t, StateReady, r.State())
	assert.Equal(t, 2, rec.active)

	rz.RemoveSection(coord.Key(3, 3))
	rz.SplitCheck()
	assert.Equal(t, 0, rz.RegionCount())
	assert.Equal(t, StateDead, r.State())
	assert.Equal(t, 1, rec.destroyed)
	require.NoError(t, rz.Audit())
}

func TestTickingRegionMergeIsDeferred(t *testing.T) {
	rz, _ := newTestRegionizer(t)

	rz.AddSection(coord.Key(0, 0))
	rz.AddSection(coord.Key(10, 0))
	a := rz.RegionAt(coord.Key(0, 0))
	b := rz.RegionAt(coord.Key(10, 0))
	require.NotSame(t, a, b)

	require.True(t, a.TryMarkTicking(nil))

	// buffers of (5,0) touch both regions
	rz.AddSection(coord.Key(5, 0))
	assert.Equal(t, 2, rz.RegionCount(), "ticking region must not be merged")
	assert.Equal(t, 1, rz.PendingMerges(a))
	assert.Same(t, b, rz.RegionAt(coord.Key(5, 0)), "new sections go to the region that is not ticking")
	assert.Equal(t, 0, rz.MergeCheck())
	require.NoError(t, rz.Audit())

	// b is larger now and absorbs a on release
	assert.False(t, a.MarkNotTicking())
	assert.Equal(t, StateDead, a.State())
	assert.Equal(t, 1, rz.RegionCount())
	assert.Same(t, b, rz.RegionAt(coord.Key(0, 0)))
	require.NoError(t, rz.Audit())
}

func TestTickingRegionSurvivesDeferredMerge(t *testing.T) {
	rz, _ := newTestRegionizer(t)

	for x := int32(0); x <= 6; x++ {
		rz.AddSection(coord.Key(x, 0))
	}
	rz.AddSection(coord.Key(16, 0))
	big := rz.RegionAt(coord.Key(0, 0))
	small := rz.RegionAt(coord.Key(16, 0))
	require.Equal(t, 55, big.SectionCount())

	require.True(t, big.TryMarkTicking(nil))
	rz.AddSection(coord.Key(11, 0))
	require.Equal(t, 2, rz.RegionCount())
	require.Equal(t, 50, small.SectionCount())

	assert.True(t, big.MarkNotTicking())
	assert.Equal(t, StateReady, big.State())
	assert.Equal(t, 1, rz.RegionCount())
	assert.Equal(t, StateDead, small.State())
	assert.Same(t, big, rz.RegionAt(coord.Key(16, 0)))
	require.NoError(t, rz.Audit())
}

func TestTickingRegionDeactivatesOnRelease(t *testing.T) {
	rz, rec := newTestRegionizer(t)

	rz.AddSection(coord.Key(0, 0))
	r := rz.RegionAt(coord.Key(0, 0))
	require.True(t, r.TryMarkTicking(nil))

	rz.RemoveSection(coord.Key(0, 0))
	assert.Equal(t, StateTicking, r.State())
	assert.Equal(t, 0, rec.inactive)

	// every section is dead, so the release also drops the region
	assert.False(t, r.MarkNotTicking())
	assert.Equal(t, StateDead, r.State())
	assert.Equal(t, 1, rec.inactive)
	assert.Equal(t, 1, rec.destroyed)
	assert.Equal(t, 0, rz.RegionCount())
}

func TestReleaseRecalculatesPastThreshold(t *testing.T) {
	rz, _ := newTestRegionizer(t)

	rz.AddSection(coord.Key(0, 0))
	rz.AddSection(coord.Key(4, 0))
	r := rz.RegionAt(coord.Key(0, 0))
	require.Same(t, r, rz.RegionAt(coord.Key(4, 0)))

	require.True(t, r.TryMarkTicking(nil))
	rz.RemoveSection(coord.Key(4, 0))

	// 20 of 45 sections are dead now, over the 20% threshold
	assert.True(t, r.MarkNotTicking())
	assert.Equal(t, 25, r.SectionCount())
	require.NoError(t, rz.Audit())
}

func TestMarkNotTicking_NotTickingPanics(t *testing.T) {
	rz, _ := newTestRegionizer(t)
	rz.AddSection(coord.Key(0, 0))
	r := rz.RegionAt(coord.Key(0, 0))
	assert.Panics(t, func() { r.MarkNotTicking() })
}

func TestTryMarkTicking_ExactlyOneWinner(t *testing.T) {
	rz, _ := newTestRegionizer(t)
	rz.AddSection(coord.Key(0, 0))
	r := rz.RegionAt(coord.Key(0, 0))

	const racers = 64
	var (
		wins  atomic.Int32
		start sync.WaitGroup
		done  sync.WaitGroup
	)
	start.Add(1)
	done.Add(racers)
	for range racers {
		go func() {
			defer done.Done()
			start.Wait()
			if r.TryMarkTicking(nil) {
				wins.Add(1)
			}
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, StateTicking, r.State())
}

func TestTryMarkTicking_Abort(t *testing.T) {
	rz, _ := newTestRegionizer(t)
	rz.AddSection(coord.Key(0, 0))
	r := rz.RegionAt(coord.Key(0, 0))

	assert.False(t, r.TryMarkTicking(func() bool { return true }))
	assert.Equal(t, StateReady, r.State())
}

func TestRandomizedOwnership(t *testing.T) {
	rz, _ := newTestRegionizer(t)
	rng := rand.New(rand.NewPCG(7, 11))

	refs := make(map[int64]int)
	for i := range 3000 {
		key := coord.Key(int32(rng.IntN(41)-20), int32(rng.IntN(41)-20))
		if refs[key] > 0 && rng.IntN(2) == 0 {
			rz.RemoveSection(key)
			refs[key]--
		} else {
			rz.AddSection(key)
			refs[key]++
		}

		switch i % 97 {
		case 0:
			rz.SplitCheck()
		case 50:
			rz.MergeCheck()
		}
		if i%25 == 0 {
			require.NoError(t, rz.Audit(), "step %d", i)
		}
	}
	require.NoError(t, rz.Audit())

	for key, n := range refs {
		for range n {
			rz.RemoveSection(key)
		}
	}
	rz.SplitCheck()
	require.NoError(t, rz.Audit())
	assert.Equal(t, 0, rz.RegionCount(), "every region is destroyed once all sections are idle")
	assert.Empty(t, regions(rz))
}
