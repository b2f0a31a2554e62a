package regionizer

import (
	"log/slog"
)

// MergeCheck applies every pending merge whose regions are not ticking.
// Returns the number of merges performed.
func (rz *Regionizer[D]) MergeCheck() int {
	rz.mu.Lock()
	defer rz.mu.Unlock()

	merged := 0
	for _, r := range rz.snapshot() {
		if r.State() == StateDead || len(r.pendingMerges) == 0 {
			continue
		}
		before := len(rz.regions)
		rz.processMerges(r)
		merged += before - len(rz.regions)
	}
	return merged
}

// PendingMerges returns how many regions r is waiting to merge with.
func (rz *Regionizer[D]) PendingMerges(r *Region[D]) int {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	return len(r.pendingMerges)
}

func (rz *Regionizer[D]) markMerge(a, b *Region[D]) {
	if a == b {
		return
	}
	a.pendingMerges[b] = struct{}{}
	b.pendingMerges[a] = struct{}{}
}

// processMerges merges r with every pending partner that can be modified now
// and returns the region r ended up in.
func (rz *Regionizer[D]) processMerges(r *Region[D]) *Region[D] {
	for rz.modifiable(r) {
		var other *Region[D]
		for p := range r.pendingMerges {
			if rz.modifiable(p) {
				other = p
				break
			}
		}
		if other == nil {
			break
		}
		r = rz.merge(r, other)
	}
	return r
}

// merge folds the smaller region into the larger one (lower id on ties) and
// returns the survivor.
func (rz *Regionizer[D]) merge(a, b *Region[D]) *Region[D] {
	into, from := a, b
	if len(from.sections) > len(into.sections) ||
		(len(from.sections) == len(into.sections) && from.id < into.id) {
		into, from = from, into
	}

	delete(into.pendingMerges, from)
	delete(from.pendingMerges, into)

	rz.callbacks.PreMerge(from, into)
	rz.callbacks.MergeData(from, into)

	for _, s := range from.sections {
		rz.assign(s, into)
	}
	clear(from.sections)
	from.alive, from.dead = 0, 0
	from.sectionCount.Store(0)
	from.cells.Store(0)

	for p := range from.pendingMerges {
		delete(p.pendingMerges, from)
		rz.markMerge(into, p)
	}
	clear(from.pendingMerges)

	rz.destroy(from)
	rz.activate(into)

	slog.Debug("Regions merged",
		"from", from.id,
		"into", into.id,
		"sections", len(into.sections))
	return into
}

func (rz *Regionizer[D]) snapshot() []*Region[D] {
	regions := make([]*Region[D], 0, len(rz.regions))
	for _, r := range rz.regions {
		regions = append(regions, r)
	}
	return regions
}
