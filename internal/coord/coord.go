package coord

// Cells are the fine grained simulation cells (chunks). Sections group
// 2^shift × 2^shift cells and are the unit of region membership.

// Key packs an (x, z) pair into a single int64.
// Low 32 bits hold x, high 32 bits hold z.
func Key(x, z int32) int64 {
	return int64(uint32(x)) | int64(uint32(z))<<32
}

// X returns the x component of a packed key.
func X(key int64) int32 {
	return int32(key)
}

// Z returns the z component of a packed key.
func Z(key int64) int32 {
	return int32(key >> 32)
}

// SectionCoord converts a cell coordinate to its section coordinate.
// Arithmetic shift keeps negative coordinates in the correct section.
func SectionCoord(cell int32, shift uint) int32 {
	return cell >> shift
}

// SectionOf returns the packed section key for a cell.
func SectionOf(cellX, cellZ int32, shift uint) int64 {
	return Key(cellX>>shift, cellZ>>shift)
}

// SectionOrigin returns the first cell of a section (minimum x/z).
func SectionOrigin(sectionX, sectionZ int32, shift uint) (cellX, cellZ int32) {
	return sectionX << shift, sectionZ << shift
}

// ChebyshevDistance returns max(|dx|, |dz|) between two packed keys.
func ChebyshevDistance(a, b int64) int32 {
	dx := X(a) - X(b)
	dz := Z(a) - Z(b)
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return max(dx, dz)
}

// ForEachInRadius calls fn for every key within Chebyshev distance radius of
// center, center included, in row-major order.
func ForEachInRadius(center int64, radius int32, fn func(key int64)) {
	cx, cz := X(center), Z(center)
	for z := cz - radius; z <= cz+radius; z++ {
		for x := cx - radius; x <= cx+radius; x++ {
			fn(Key(x, z))
		}
	}
}

// ForEachNeighbour calls fn for the 8 keys adjacent to center.
func ForEachNeighbour(center int64, fn func(key int64)) {
	ForEachInRadius(center, 1, func(key int64) {
		if key != center {
			fn(key)
		}
	})
}
