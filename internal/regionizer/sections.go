package regionizer

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/udisondev/regionized/internal/coord"
)

// AddSection takes a reference on a section. The first reference makes the
// section alive: buffer sections are created around it and every region they
// touch is merged with the region receiving them, immediately when neither is
// ticking and at the next safe point otherwise.
func (rz *Regionizer[D]) AddSection(key int64) {
	rz.mu.Lock()
	defer rz.mu.Unlock()

	if s, r := rz.sectionAt(key); s != nil && s.isAlive() {
		rz.update(s, r, func(s *section) { s.cells++ })
		return
	}

	radius := rz.cfg.MergeRadius

	var candidates []*Region[D]
	coord.ForEachInRadius(key, radius+1, func(k int64) {
		if r := rz.ownerOf(k); r != nil && !slices.Contains(candidates, r) {
			candidates = append(candidates, r)
		}
	})

	target, created := rz.pickTarget(candidates), false
	if target == nil {
		target, created = rz.createRegion(), true
	}

	coord.ForEachInRadius(key, radius, func(k int64) {
		if rz.ownerOf(k) == nil {
			rz.assign(&section{key: k}, target)
		}
	})
	coord.ForEachInRadius(key, radius, func(k int64) {
		s, r := rz.sectionAt(k)
		if k == key {
			rz.update(s, r, func(s *section) { s.cells++ })
		} else {
			rz.update(s, r, func(s *section) { s.nonEmptyNeighbours++ })
		}
	})

	if created {
		rz.callbacks.OnRegionCreate(target)
		slog.Debug("Region created", "region", target.id, "section", sectionAttr(key))
	}

	for _, c := range candidates {
		rz.markMerge(target, c)
	}
	rz.processMerges(target)

	rz.activate(rz.ownerOf(key))
}

// RemoveSection releases one reference on a section. Removing a section that
// holds no reference is a programming error.
func (rz *Regionizer[D]) RemoveSection(key int64) {
	rz.mu.Lock()
	defer rz.mu.Unlock()

	s, r := rz.sectionAt(key)
	if s == nil || !s.isAlive() {
		panic(fmt.Sprintf("regionizer: removing section (%d, %d) that was never added", coord.X(key), coord.Z(key)))
	}

	rz.update(s, r, func(s *section) { s.cells-- })
	if s.isAlive() {
		return
	}

	coord.ForEachInRadius(key, rz.cfg.MergeRadius, func(k int64) {
		if k == key {
			return
		}
		n, nr := rz.sectionAt(k)
		rz.update(n, nr, func(n *section) { n.nonEmptyNeighbours-- })
	})

	// a ticking region is deactivated when it is released
	if r.alive == 0 && r.State() == StateReady {
		rz.deactivate(r)
	}
}

// update applies fn to a section and keeps the owner's counters in step.
func (rz *Regionizer[D]) update(s *section, r *Region[D], fn func(s *section)) {
	wasAlive, wasDead, cells := s.isAlive(), s.isDead(), s.cells

	fn(s)

	if alive := s.isAlive(); alive != wasAlive {
		if alive {
			r.alive++
		} else {
			r.alive--
		}
	}
	if dead := s.isDead(); dead != wasDead {
		if dead {
			r.dead++
		} else {
			r.dead--
		}
	}
	if d := s.cells - cells; d != 0 {
		r.cells.Add(int64(d))
	}
}

// pickTarget chooses the region receiving new buffer sections: the largest
// candidate, lowest id on ties. Regions that can be modified right now are
// preferred so that merges are not deferred needlessly.
func (rz *Regionizer[D]) pickTarget(candidates []*Region[D]) *Region[D] {
	if len(candidates) == 0 {
		return nil
	}
	return slices.MinFunc(candidates, func(a, b *Region[D]) int {
		if ma, mb := rz.modifiable(a), rz.modifiable(b); ma != mb {
			if ma {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(len(b.sections), len(a.sections)); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
}

func sectionAttr(key int64) [2]int32 {
	return [2]int32{coord.X(key), coord.Z(key)}
}
