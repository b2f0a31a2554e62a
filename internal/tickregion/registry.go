package tickregion

import (
	"sync"
)

// Callbacks migrate one kind of region-local data when regions change shape.
type Callbacks[T any] interface {
	// CreateNew returns an empty value for a region that has none yet.
	CreateNew() T
	// Merge moves from into into. The merged region keeps the lower of the
	// two tick counters, so tick numbers recorded by from are shifted by
	// fromTickOffset and those already held by into by intoTickOffset.
	// intoTickOffset is zero or negative.
	Merge(from, into T, fromTickOffset, intoTickOffset int64)
	// Split distributes from over the new regions. byRegion maps each section
	// key to the value of the region now owning it; all lists every value.
	Split(from T, sectionShift uint, byRegion map[int64]T, all []T)
}

type keyOps interface {
	create() any
	merge(from, into any, fromTickOffset, intoTickOffset int64)
	split(from any, sectionShift uint, sections map[int64]int, targets []any)
}

// Registry lists every kind of region-local data of a world.
type Registry struct {
	mu   sync.RWMutex
	keys []keyOps
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Len returns the number of registered keys.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.keys)
}

func (reg *Registry) snapshot() []keyOps {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.keys
}

// Key identifies one kind of region-local data.
type Key[T any] struct {
	index int
	cb    Callbacks[T]
}

// NewKey registers a kind of region-local data.
func NewKey[T any](reg *Registry, cb Callbacks[T]) *Key[T] {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	k := &Key[T]{index: len(reg.keys), cb: cb}
	reg.keys = append(reg.keys, k)
	return k
}

// Get returns the region's value, creating it on first access.
// Only the goroutine ticking the region may call it.
func (k *Key[T]) Get(d *Data) T {
	if v, ok := k.Lookup(d); ok {
		return v
	}
	v := k.cb.CreateNew()
	d.setValue(k.index, v)
	return v
}

// Lookup returns the region's value without creating it.
func (k *Key[T]) Lookup(d *Data) (T, bool) {
	v := d.value(k.index)
	if v == nil {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (k *Key[T]) create() any {
	return k.cb.CreateNew()
}

func (k *Key[T]) merge(from, into any, fromTickOffset, intoTickOffset int64) {
	k.cb.Merge(from.(T), into.(T), fromTickOffset, intoTickOffset)
}

func (k *Key[T]) split(from any, sectionShift uint, sections map[int64]int, targets []any) {
	all := make([]T, len(targets))
	for i, t := range targets {
		all[i] = t.(T)
	}
	byRegion := make(map[int64]T, len(sections))
	for section, i := range sections {
		byRegion[section] = all[i]
	}
	k.cb.Split(from.(T), sectionShift, byRegion, all)
}

// mergeValues also visits values only into holds, their ticks may need
// rebasing too.
func mergeValues(keys []keyOps, from, into *Data, fromTickOffset, intoTickOffset int64) {
	for i, k := range keys {
		fv, iv := from.value(i), into.value(i)
		if fv == nil && iv == nil {
			continue
		}
		if fv == nil {
			fv = k.create()
		}
		if iv == nil {
			iv = k.create()
			into.setValue(i, iv)
		}
		k.merge(fv, iv, fromTickOffset, intoTickOffset)
	}
}

func splitValues(keys []keyOps, from *Data, sectionShift uint, sections map[int64]int, into []*Data) {
	for i, k := range keys {
		fv := from.value(i)
		if fv == nil {
			continue
		}
		targets := make([]any, len(into))
		for j, d := range into {
			v := d.value(i)
			if v == nil {
				v = k.create()
				d.setValue(i, v)
			}
			targets[j] = v
		}
		k.split(fv, sectionShift, sections, targets)
	}
}
