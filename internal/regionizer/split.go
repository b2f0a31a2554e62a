package regionizer

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/udisondev/regionized/internal/coord"
)

// SplitCheck recalculates every region holding dead sections that is not
// ticking: dead sections are dropped, empty regions destroyed, and regions
// whose sections form several disconnected groups are split.
// Returns the number of regions recalculated.
func (rz *Regionizer[D]) SplitCheck() int {
	rz.mu.Lock()
	defer rz.mu.Unlock()

	n := 0
	for _, r := range rz.snapshot() {
		if r.dead == 0 || !rz.modifiable(r) {
			continue
		}
		rz.recalculate(r)
		n++
	}
	return n
}

func (rz *Regionizer[D]) needsRecalculation(r *Region[D]) bool {
	if r.dead == 0 {
		return false
	}
	return r.dead >= rz.cfg.RecalcSectionCount ||
		r.dead*100 >= rz.cfg.MaxDeadSectionPercent*len(r.sections)
}

func (rz *Regionizer[D]) recalculate(r *Region[D]) {
	for _, s := range r.sections {
		if s.isDead() {
			rz.unassign(s, r)
		}
	}

	if len(r.sections) == 0 {
		rz.destroy(r)
		return
	}

	groups := rz.components(r)
	if len(groups) < 2 {
		return
	}

	rz.callbacks.PreSplit(r)

	into := make([]*Region[D], 0, len(groups))
	bySection := make(map[int64]*Region[D], len(r.sections))
	for _, keys := range groups {
		nr := rz.createRegion()
		for _, key := range keys {
			rz.assign(r.sections[key], nr)
			bySection[key] = nr
		}
		into = append(into, nr)
	}

	rz.callbacks.SplitData(r, bySection, into)

	clear(r.sections)
	r.alive, r.dead = 0, 0
	r.sectionCount.Store(0)
	r.cells.Store(0)
	rz.destroy(r)

	// the new regions are disconnected from each other but may still touch
	// regions the original was waiting to merge with
	for _, nr := range into {
		for key := range nr.sections {
			coord.ForEachNeighbour(key, func(k int64) {
				if o := rz.ownerOf(k); o != nil && o != nr {
					rz.markMerge(nr, o)
				}
			})
		}
	}

	ids := make([]int64, 0, len(into))
	for _, nr := range into {
		rz.callbacks.OnRegionCreate(nr)
		rz.activate(nr)
		ids = append(ids, nr.id)
	}

	slog.Debug("Region split", "region", r.id, "into", ids)
}

// components returns r's sections grouped into 8-connected components.
func (rz *Regionizer[D]) components(r *Region[D]) [][]int64 {
	keys := slices.Sorted(maps.Keys(r.sections))

	visited := make(map[int64]struct{}, len(keys))
	var groups [][]int64
	var stack []int64

	for _, start := range keys {
		if _, ok := visited[start]; ok {
			continue
		}
		visited[start] = struct{}{}
		stack = append(stack[:0], start)

		var group []int64
		for len(stack) > 0 {
			key := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			group = append(group, key)

			coord.ForEachNeighbour(key, func(k int64) {
				if _, ok := r.sections[k]; !ok {
					return
				}
				if _, ok := visited[k]; ok {
					return
				}
				visited[k] = struct{}{}
				stack = append(stack, k)
			})
		}
		groups = append(groups, group)
	}
	return groups
}
