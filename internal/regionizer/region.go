package regionizer

import (
	"strconv"
	"sync/atomic"
)

// State is the lifecycle state of a region.
type State int32

const (
	// StateInactive regions have no alive sections and are not scheduled.
	StateInactive State = iota
	// StateReady regions are scheduled and may be acquired for ticking.
	StateReady
	// StateTicking regions are owned by exactly one goroutine.
	StateTicking
	// StateDead regions were merged away, split or emptied.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateReady:
		return "ready"
	case StateTicking:
		return "ticking"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

type section struct {
	key   int64
	cells int
	// alive sections within the merge radius, excluding this one
	nonEmptyNeighbours int
}

func (s *section) isAlive() bool {
	return s.cells > 0
}

func (s *section) isDead() bool {
	return s.cells == 0 && s.nonEmptyNeighbours == 0
}

// Region is a connected set of sections plus a data payload.
// Its id is never reused; 0 is reserved for the global pseudo-region.
type Region[D any] struct {
	id   int64
	rz   *Regionizer[D]
	data D

	state atomic.Int32

	// guarded by the regionizer lock
	sections      map[int64]*section
	alive         int
	dead          int
	pendingMerges map[*Region[D]]struct{}

	// racy mirrors for introspection
	sectionCount atomic.Int32
	cells        atomic.Int64
}

// ID returns the region id.
func (r *Region[D]) ID() int64 {
	return r.id
}

// Data returns the region payload.
func (r *Region[D]) Data() D {
	return r.data
}

// State returns the current lifecycle state.
func (r *Region[D]) State() State {
	return State(r.state.Load())
}

// SectionCount returns the number of owned sections. Racy, for introspection.
func (r *Region[D]) SectionCount() int {
	return int(r.sectionCount.Load())
}

// CellCount returns the number of active cell references. Racy, for introspection.
func (r *Region[D]) CellCount() int64 {
	return r.cells.Load()
}

// TryMarkTicking moves the region from ready to ticking.
// abort is evaluated while the structure is locked; a true result vetoes the
// acquire. Exactly one of any number of concurrent callers can succeed.
func (r *Region[D]) TryMarkTicking(abort func() bool) bool {
	r.rz.mu.RLock()
	defer r.rz.mu.RUnlock()

	if abort != nil && abort() {
		return false
	}
	return r.state.CompareAndSwap(int32(StateReady), int32(StateTicking))
}

// MarkNotTicking releases a ticking region. Deferred merges and, past the
// dead section thresholds, a recalculation are applied before the region
// becomes ready again. Returns false if the region is no longer ready: it was
// merged into another region, split, or has no alive sections left.
func (r *Region[D]) MarkNotTicking() bool {
	rz := r.rz
	rz.mu.Lock()
	defer rz.mu.Unlock()

	if r.State() != StateTicking {
		panic("regionizer: releasing region " + r.String() + " that is not ticking")
	}

	rz.releasing = r
	defer func() { rz.releasing = nil }()

	survivor := rz.processMerges(r)
	if survivor != r {
		return false
	}

	if rz.needsRecalculation(r) {
		rz.recalculate(r)
		if r.State() == StateDead {
			return false
		}
	}

	if r.alive == 0 {
		rz.deactivate(r)
		return false
	}

	r.state.Store(int32(StateReady))
	return true
}

func (r *Region[D]) String() string {
	return "#" + strconv.FormatInt(r.id, 10)
}
