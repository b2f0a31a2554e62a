package regionizer

import (
	"testing"
)

func newBenchRegionizer() *Regionizer[*testData] {
	return New[*testData](DefaultConfig(), &recorder{})
}

// BenchmarkAddRemoveCell measures a reference on an already owned section.
func BenchmarkAddRemoveCell(b *testing.B) {
	rz := newBenchRegionizer()
	rz.AddCell(0, 0)

	b.ReportAllocs()
	for b.Loop() {
		rz.AddCell(3, 3)
		rz.RemoveCell(3, 3)
	}
}

// BenchmarkRegionAtCell measures the owner lookup used by task routing.
func BenchmarkRegionAtCell(b *testing.B) {
	rz := newBenchRegionizer()
	for x := int32(0); x < 64; x++ {
		rz.AddCell(x*16, 0)
	}

	b.ReportAllocs()
	i := int32(0)
	for b.Loop() {
		_ = rz.RegionAtCell(i&1023, 0)
		i++
	}
}

// BenchmarkGrowAndSplit measures a line of sections forming one region and
// falling apart again.
func BenchmarkGrowAndSplit(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		rz := newBenchRegionizer()
		for x := int32(0); x < 32; x++ {
			rz.AddCell(x*16, 0)
		}
		for x := int32(1); x < 32; x += 2 {
			rz.RemoveCell(x*16, 0)
		}
		rz.SplitCheck()
	}
}
