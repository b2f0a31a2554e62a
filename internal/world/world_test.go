package world

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionized/internal/coord"
	"github.com/udisondev/regionized/internal/regionizer"
	"github.com/udisondev/regionized/internal/sched"
)

func newTestWorld(t *testing.T, daylight, weather bool) *World {
	t.Helper()
	return New(sched.New(1), Options{
		Name:          "overworld",
		Regionizer:    regionizer.DefaultConfig(),
		Interval:      int64(50 * time.Millisecond),
		DaylightCycle: daylight,
		WeatherCycle:  weather,
		Seed:          42,
	})
}

func TestGlobalTick_AdvancesClocks(t *testing.T) {
	w := newTestWorld(t, true, false)

	w.GlobalTick(1)
	w.GlobalTick(3)
	assert.Equal(t, int64(4), w.GameTime())
	assert.Equal(t, int64(4), w.DayTime())

	w.GlobalTick(DayLength)
	assert.Equal(t, int64(4), w.DayTime(), "day time wraps")
	assert.Equal(t, int64(DayLength+4), w.GameTime())
}

func TestGlobalTick_DaylightCycleOff(t *testing.T) {
	w := newTestWorld(t, false, false)

	w.GlobalTick(10)
	assert.Equal(t, int64(10), w.GameTime())
	assert.Equal(t, int64(0), w.DayTime())
}

func TestGlobalTick_ClaimsPendingTasks(t *testing.T) {
	w := newTestWorld(t, false, false)
	tasks := w.Regions().Tasks()

	tasks.QueueSpatialTask(coord.Key(0, 0), func(context.Context) {})
	require.Equal(t, 1, tasks.PendingCount())

	w.GlobalTick(1)
	assert.Equal(t, 1, tasks.PendingCount(), "nothing owns the section yet")

	w.Regions().AddCell(0, 0)
	w.GlobalTick(1)
	assert.Equal(t, 0, tasks.PendingCount())

	d := w.Regions().Regionizer().RegionAt(coord.Key(0, 0)).Data()
	assert.True(t, d.HasTasks())
}

func TestGlobalTick_SplitsDisconnectedRegions(t *testing.T) {
	w := newTestWorld(t, false, false)
	rz := w.Regions().Regionizer()

	for x := int32(0); x <= 50; x += 5 {
		rz.AddSection(coord.Key(x, 0))
	}
	require.Equal(t, 1, rz.RegionCount())

	for x := int32(5); x <= 45; x += 5 {
		rz.RemoveSection(coord.Key(x, 0))
	}
	w.GlobalTick(1)
	assert.Equal(t, 2, rz.RegionCount())
	require.NoError(t, rz.Audit())
}

func TestGlobalTick_RefreshesStats(t *testing.T) {
	w := newTestWorld(t, false, false)
	assert.Equal(t, Stats{}, w.Stats())

	w.Regions().AddCell(0, 0)
	w.Regions().AddCell(0, 0)
	w.Regions().AddCell(5000, 0)

	w.GlobalTick(1)
	st := w.Stats()
	assert.Equal(t, 2, st.Regions)
	assert.Equal(t, int64(3), st.Cells)
	assert.Equal(t, 50, st.Sections)
}

func TestWeatherCycle_Toggles(t *testing.T) {
	c := newWeatherCycle(7)

	rainChanges := 0
	last := c.state()
	for range 2_000_000 {
		c.advance()
		if s := c.state(); s.Raining != last.Raining {
			rainChanges++
			last = s
		}
		if c.state().Thundering {
			assert.True(t, c.state().Raining, "thunder only while raining")
		}
	}
	assert.Greater(t, rainChanges, 4)
}

func TestWeatherCycle_ClearOverride(t *testing.T) {
	w := newTestWorld(t, false, true)
	w.weather.raining = true
	w.publishWeather()
	require.True(t, w.Weather().Raining)

	w.SetClearWeather(100)
	assert.False(t, w.Weather().Raining)

	for range 100 {
		w.GlobalTick(1)
		require.False(t, w.Weather().Raining)
	}
}
