package gameserver

import (
	"context"
	"fmt"

	"github.com/udisondev/regionized/internal/coord"
	"github.com/udisondev/regionized/internal/tickregion"
	"github.com/udisondev/regionized/internal/world"
)

type regionConn struct {
	c *Connection
	b *binding
}

// regionConns holds the connections a region ticks, by section.
// Owned by the region's ticking goroutine.
type regionConns struct {
	bySection map[int64][]regionConn
}

func (rc *regionConns) len() int {
	n := 0
	for _, cs := range rc.bySection {
		n += len(cs)
	}
	return n
}

// worldEntry is a world registered with the server. It ticks the regions of
// the world: their connections first, then location tasks, then the
// simulation tickers.
type worldEntry struct {
	world   *world.World
	conns   *ConnectionManager
	key     *tickregion.Key[*regionConns]
	tickers []tickregion.Ticker
}

func newWorldEntry(w *world.World, conns *ConnectionManager) *worldEntry {
	we := &worldEntry{world: w, conns: conns}
	we.key = tickregion.NewKey[*regionConns](w.Regions().Registry(), we)
	w.Regions().SetTicker(we)
	return we
}

// TickRegion implements tickregion.Ticker.
func (we *worldEntry) TickRegion(ctx context.Context, d *tickregion.Data, tickCount int, startTime, scheduledEnd int64) {
	we.tickConnections(ctx, d)
	we.world.Locations().Tick(ctx, d)
	for _, t := range we.tickers {
		t.TickRegion(ctx, d, tickCount, startTime, scheduledEnd)
	}
}

// adopt transfers c to the region owning the cell. The connection holds the
// cell until it leaves the region.
func (we *worldEntry) adopt(c *Connection, cellX, cellZ int32) {
	b := &binding{world: we, cellX: cellX, cellZ: cellZ}
	we.world.Regions().AddCell(cellX, cellZ)
	c.owner.Store(b)
	we.submit(c, b)
}

func (we *worldEntry) submit(c *Connection, b *binding) {
	we.world.SubmitCellTask(b.cellX, b.cellZ, func(ctx context.Context) {
		we.place(tickregion.Current(ctx), c, b)
	})
}

func (we *worldEntry) place(d *tickregion.Data, c *Connection, b *binding) {
	if c.owner.Load() != b {
		// transferred again before arriving
		we.release(b)
		return
	}

	rz := we.world.Regions().Regionizer()
	section := rz.SectionKey(b.cellX, b.cellZ)
	if rz.RegionAt(section) != d.Region() {
		we.submit(c, b)
		return
	}

	rc := we.key.Get(d)
	rc.bySection[section] = append(rc.bySection[section], regionConn{c: c, b: b})
}

func (we *worldEntry) release(b *binding) {
	we.world.Regions().RemoveCell(b.cellX, b.cellZ)
}

func (we *worldEntry) tickConnections(ctx context.Context, d *tickregion.Data) {
	rc := we.key.Get(d)
	for section, conns := range rc.bySection {
		kept := conns[:0]
		for _, e := range conns {
			if e.c.owner.Load() != e.b {
				we.release(e.b)
				continue
			}
			if !e.c.tick(ctx) {
				e.c.owner.CompareAndSwap(e.b, nil)
				we.release(e.b)
				we.conns.remove(e.c)
				continue
			}
			kept = append(kept, e)
		}

		if len(kept) == 0 {
			delete(rc.bySection, section)
		} else {
			clear(conns[len(kept):])
			rc.bySection[section] = kept
		}
	}
}

// CreateNew implements tickregion.Callbacks.
func (we *worldEntry) CreateNew() *regionConns {
	return &regionConns{bySection: make(map[int64][]regionConn)}
}

// Merge implements tickregion.Callbacks.
func (we *worldEntry) Merge(from, into *regionConns, _, _ int64) {
	for section, cs := range from.bySection {
		into.bySection[section] = append(into.bySection[section], cs...)
	}
	clear(from.bySection)
}

// Split implements tickregion.Callbacks. A connection holds its cell, so every
// section with connections has a new owner.
func (we *worldEntry) Split(from *regionConns, _ uint, byRegion map[int64]*regionConns, _ []*regionConns) {
	for section, cs := range from.bySection {
		into := byRegion[section]
		if into == nil {
			panic(fmt.Sprintf("gameserver: section (%d, %d) with connections has no owner after split", coord.X(section), coord.Z(section)))
		}
		into.bySection[section] = cs
	}
	clear(from.bySection)
}
