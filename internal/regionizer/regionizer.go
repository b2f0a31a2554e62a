// Package regionizer partitions space into connected regions of sections and
// keeps that partition up to date as sections become active or idle.
//
// A section is alive while its cell count is positive. Every alive section is
// surrounded by buffer sections within the merge radius, and all of them belong
// to the same region. Two regions whose sections touch are merged as soon as
// neither is ticking; a region whose sections fall apart into disconnected
// groups is split when it is recalculated.
//
// All structural state is guarded by a single RWMutex. Callbacks are invoked
// with the write lock held and must not call back into the Regionizer.
package regionizer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/brentp/intintmap"

	"github.com/udisondev/regionized/internal/coord"
)

// Config holds the regionizer tuning knobs.
type Config struct {
	// SectionShift is log2 of a section side in cells.
	SectionShift uint
	// MergeRadius is the buffer radius (in sections) kept around alive sections.
	// Regions whose buffers touch are merged.
	MergeRadius int32
	// RecalcSectionCount triggers a recalculation on release once a region
	// holds this many dead sections.
	RecalcSectionCount int
	// MaxDeadSectionPercent triggers a recalculation on release once dead
	// sections make up this share of a region.
	MaxDeadSectionPercent int
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		SectionShift:          4,
		MergeRadius:           2,
		RecalcSectionCount:    16,
		MaxDeadSectionPercent: 20,
	}
}

// Callbacks receive region lifecycle events and migrate region data.
// Every method is called with the regionizer write lock held.
type Callbacks[D any] interface {
	// CreateData builds the payload of a new region.
	CreateData(r *Region[D]) D

	// MergeData moves everything from's data holds into into's data.
	MergeData(from, into *Region[D])
	// SplitData distributes from's data over the regions it splits into.
	// bySection maps every section key of the new regions to its owner.
	SplitData(from *Region[D], bySection map[int64]*Region[D], into []*Region[D])

	OnRegionCreate(r *Region[D])
	OnRegionDestroy(r *Region[D])
	OnRegionActive(r *Region[D])
	OnRegionInactive(r *Region[D])
	PreMerge(from, into *Region[D])
	PreSplit(r *Region[D])
}

// Regionizer owns every region of one world.
type Regionizer[D any] struct {
	cfg       Config
	callbacks Callbacks[D]

	mu      sync.RWMutex
	owners  *intintmap.Map // section key -> region id
	regions map[int64]*Region[D]
	nextID  int64

	// region whose release is being processed; it may be modified while still
	// marked as ticking
	releasing *Region[D]
}

// New creates an empty regionizer.
func New[D any](cfg Config, callbacks Callbacks[D]) *Regionizer[D] {
	def := DefaultConfig()
	if cfg.MergeRadius < 1 {
		cfg.MergeRadius = def.MergeRadius
	}
	if cfg.RecalcSectionCount < 1 {
		cfg.RecalcSectionCount = def.RecalcSectionCount
	}
	if cfg.MaxDeadSectionPercent < 1 || cfg.MaxDeadSectionPercent > 100 {
		cfg.MaxDeadSectionPercent = def.MaxDeadSectionPercent
	}
	return &Regionizer[D]{
		cfg:       cfg,
		callbacks: callbacks,
		owners:    intintmap.New(1024, 0.6),
		regions:   make(map[int64]*Region[D]),
		nextID:    1, // 0 is the global pseudo-region
	}
}

// Config returns the tuning the regionizer was created with.
func (rz *Regionizer[D]) Config() Config {
	return rz.cfg
}

// SectionShift returns log2 of a section side in cells.
func (rz *Regionizer[D]) SectionShift() uint {
	return rz.cfg.SectionShift
}

// SectionKey returns the section key of a cell.
func (rz *Regionizer[D]) SectionKey(cellX, cellZ int32) int64 {
	return coord.SectionOf(cellX, cellZ, rz.cfg.SectionShift)
}

// AddCell marks a cell as active. Cells are reference counted per section.
func (rz *Regionizer[D]) AddCell(cellX, cellZ int32) {
	rz.AddSection(rz.SectionKey(cellX, cellZ))
}

// RemoveCell releases one reference taken by AddCell.
func (rz *Regionizer[D]) RemoveCell(cellX, cellZ int32) {
	rz.RemoveSection(rz.SectionKey(cellX, cellZ))
}

// RegionAt returns the region owning a section, or nil.
func (rz *Regionizer[D]) RegionAt(sectionKey int64) *Region[D] {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	return rz.ownerOf(sectionKey)
}

// RegionAtCell returns the region owning the section of a cell, or nil.
func (rz *Regionizer[D]) RegionAtCell(cellX, cellZ int32) *Region[D] {
	return rz.RegionAt(rz.SectionKey(cellX, cellZ))
}

// RegionByID returns a live region by id, or nil.
func (rz *Regionizer[D]) RegionByID(id int64) *Region[D] {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	return rz.regions[id]
}

// WithSectionOwner calls fn with the owner of a section (nil if unowned) while
// holding the read lock, so ownership cannot change during fn.
// fn must not call back into the Regionizer.
func (rz *Regionizer[D]) WithSectionOwner(sectionKey int64, fn func(r *Region[D])) {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	fn(rz.ownerOf(sectionKey))
}

// WithRegion calls fn with a live region under the read lock.
// Returns false if no region with that id exists.
func (rz *Regionizer[D]) WithRegion(id int64, fn func(r *Region[D])) bool {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	r := rz.regions[id]
	if r == nil {
		return false
	}
	fn(r)
	return true
}

// ForEachRegion calls fn for every live region under the read lock.
func (rz *Regionizer[D]) ForEachRegion(fn func(r *Region[D])) {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	for _, r := range rz.regions {
		fn(r)
	}
}

// RegionCount returns the number of live regions.
func (rz *Regionizer[D]) RegionCount() int {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	return len(rz.regions)
}

// Sections returns the section keys owned by r.
func (rz *Regionizer[D]) Sections(r *Region[D]) []int64 {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	keys := make([]int64, 0, len(r.sections))
	for k := range r.sections {
		keys = append(keys, k)
	}
	return keys
}

// AliveSections returns the section keys of r with a positive cell count.
func (rz *Regionizer[D]) AliveSections(r *Region[D]) []int64 {
	rz.mu.RLock()
	defer rz.mu.RUnlock()
	keys := make([]int64, 0, r.alive)
	for k, s := range r.sections {
		if s.isAlive() {
			keys = append(keys, k)
		}
	}
	return keys
}

// ownerOf must be called with the lock held.
func (rz *Regionizer[D]) ownerOf(sectionKey int64) *Region[D] {
	id, ok := rz.owners.Get(sectionKey)
	if !ok {
		return nil
	}
	return rz.regions[id]
}

func (rz *Regionizer[D]) sectionAt(key int64) (*section, *Region[D]) {
	r := rz.ownerOf(key)
	if r == nil {
		return nil, nil
	}
	return r.sections[key], r
}

func (rz *Regionizer[D]) createRegion() *Region[D] {
	r := &Region[D]{
		id:            rz.nextID,
		rz:            rz,
		sections:      make(map[int64]*section),
		pendingMerges: make(map[*Region[D]]struct{}),
	}
	rz.nextID++
	r.data = rz.callbacks.CreateData(r)
	rz.regions[r.id] = r
	return r
}

func (rz *Regionizer[D]) assign(s *section, r *Region[D]) {
	r.sections[s.key] = s
	r.sectionCount.Store(int32(len(r.sections)))
	if s.isAlive() {
		r.alive++
		r.cells.Add(int64(s.cells))
	}
	if s.isDead() {
		r.dead++
	}
	rz.owners.Put(s.key, r.id)
}

func (rz *Regionizer[D]) unassign(s *section, r *Region[D]) {
	delete(r.sections, s.key)
	r.sectionCount.Store(int32(len(r.sections)))
	if s.isAlive() {
		r.alive--
		r.cells.Add(-int64(s.cells))
	}
	if s.isDead() {
		r.dead--
	}
	rz.owners.Del(s.key)
}

// modifiable reports whether a region may take part in a structural change now.
func (rz *Regionizer[D]) modifiable(r *Region[D]) bool {
	switch r.State() {
	case StateDead:
		return false
	case StateTicking:
		return r == rz.releasing
	default:
		return true
	}
}

func (rz *Regionizer[D]) activate(r *Region[D]) {
	if r.State() != StateInactive || r.alive == 0 {
		return
	}
	r.state.Store(int32(StateReady))
	rz.callbacks.OnRegionActive(r)
}

func (rz *Regionizer[D]) deactivate(r *Region[D]) {
	switch r.State() {
	case StateReady:
	case StateTicking:
		if r != rz.releasing {
			panic(fmt.Sprintf("regionizer: deactivating ticking region %d", r.id))
		}
	default:
		return
	}
	r.state.Store(int32(StateInactive))
	rz.callbacks.OnRegionInactive(r)
}

func (rz *Regionizer[D]) destroy(r *Region[D]) {
	rz.deactivate(r)
	for other := range r.pendingMerges {
		delete(other.pendingMerges, r)
	}
	clear(r.pendingMerges)
	r.state.Store(int32(StateDead))
	delete(rz.regions, r.id)
	rz.callbacks.OnRegionDestroy(r)

	slog.Debug("Region destroyed", "region", r.id)
}
