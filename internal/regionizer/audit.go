package regionizer

import (
	"fmt"

	"github.com/udisondev/regionized/internal/coord"
)

// Audit checks the structural invariants and returns the first violation found:
// every section has exactly one owner, region counters match their sections,
// alive sections are fully buffered, and regions with touching sections are
// waiting to merge.
func (rz *Regionizer[D]) Audit() error {
	rz.mu.RLock()
	defer rz.mu.RUnlock()

	total := 0
	for id, r := range rz.regions {
		if r.id != id {
			return fmt.Errorf("region %d registered under id %d", r.id, id)
		}
		if r.State() == StateDead {
			return fmt.Errorf("dead region %d still registered", id)
		}
		if err := rz.auditRegion(r); err != nil {
			return fmt.Errorf("region %d: %w", id, err)
		}
		total += len(r.sections)
	}

	if n := rz.owners.Size(); n != total {
		return fmt.Errorf("ownership index holds %d sections, regions hold %d", n, total)
	}
	return nil
}

func (rz *Regionizer[D]) auditRegion(r *Region[D]) error {
	var (
		alive, dead int
		cells       int64
	)
	for key, s := range r.sections {
		x, z := coord.X(key), coord.Z(key)
		if s.key != key {
			return fmt.Errorf("section (%d, %d) stored under wrong key", x, z)
		}
		if owner, ok := rz.owners.Get(key); !ok || owner != r.id {
			return fmt.Errorf("section (%d, %d) owned by %d in the index", x, z, owner)
		}

		neighbours := 0
		var err error
		coord.ForEachInRadius(key, rz.cfg.MergeRadius, func(k int64) {
			if k == key || err != nil {
				return
			}
			n, _ := rz.sectionAt(k)
			if n == nil {
				if s.isAlive() {
					err = fmt.Errorf("alive section (%d, %d) missing buffer section (%d, %d)", x, z, coord.X(k), coord.Z(k))
				}
				return
			}
			if n.isAlive() {
				neighbours++
			}
		})
		if err != nil {
			return err
		}
		if neighbours != s.nonEmptyNeighbours {
			return fmt.Errorf("section (%d, %d) counts %d alive neighbours, found %d", x, z, s.nonEmptyNeighbours, neighbours)
		}

		coord.ForEachNeighbour(key, func(k int64) {
			if err != nil {
				return
			}
			o := rz.ownerOf(k)
			if o == nil || o == r {
				return
			}
			if _, ok := r.pendingMerges[o]; !ok {
				err = fmt.Errorf("section (%d, %d) touches region %d without a pending merge", x, z, o.id)
			}
		})
		if err != nil {
			return err
		}

		if s.isAlive() {
			alive++
			cells += int64(s.cells)
		}
		if s.isDead() {
			dead++
		}
	}

	if alive != r.alive || dead != r.dead {
		return fmt.Errorf("counts alive=%d dead=%d, sections say alive=%d dead=%d", r.alive, r.dead, alive, dead)
	}
	if got := r.cells.Load(); got != cells {
		return fmt.Errorf("cell count %d, sections hold %d", got, cells)
	}
	if got := r.SectionCount(); got != len(r.sections) {
		return fmt.Errorf("section count %d, holds %d", got, len(r.sections))
	}
	for p := range r.pendingMerges {
		if p.State() == StateDead {
			return fmt.Errorf("pending merge with dead region %d", p.id)
		}
		if _, ok := p.pendingMerges[r]; !ok {
			return fmt.Errorf("pending merge with %d is not symmetric", p.id)
		}
	}

	switch st := r.State(); {
	case st == StateInactive && alive > 0:
		return fmt.Errorf("inactive with %d alive sections", alive)
	case st == StateReady && alive == 0:
		return fmt.Errorf("ready without alive sections")
	}
	return nil
}
