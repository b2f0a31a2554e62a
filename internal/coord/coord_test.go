package coord

import (
	"testing"
)

func TestKey_Components(t *testing.T) {
	tests := []struct {
		x, z int32
	}{
		{0, 0},
		{1, -1},
		{-30000000, 30000000},
		{-1, -1},
	}

	for _, tt := range tests {
		key := Key(tt.x, tt.z)
		if X(key) != tt.x {
			t.Errorf("X(Key(%d, %d)) = %d, want %d", tt.x, tt.z, X(key), tt.x)
		}
		if Z(key) != tt.z {
			t.Errorf("Z(Key(%d, %d)) = %d, want %d", tt.x, tt.z, Z(key), tt.z)
		}
	}
}

func TestKey_Distinct(t *testing.T) {
	// (x=-1, z=0) must not collide with (x=0, z=-1) or with any sign-extended neighbour
	if Key(-1, 0) == Key(0, -1) {
		t.Error("Key(-1, 0) collides with Key(0, -1)")
	}
	if Key(-1, 0) == Key(-1, -1) {
		t.Error("Key(-1, 0) collides with Key(-1, -1)")
	}
}

func TestSectionOf_Negative(t *testing.T) {
	// cell -1 belongs to section -1 with shift 4, not section 0
	if got := SectionOf(-1, 15, 4); got != Key(-1, 0) {
		t.Errorf("SectionOf(-1, 15, 4) = (%d, %d), want (-1, 0)", X(got), Z(got))
	}
	if got := SectionOf(16, -17, 4); got != Key(1, -2) {
		t.Errorf("SectionOf(16, -17, 4) = (%d, %d), want (1, -2)", X(got), Z(got))
	}

	x, z := SectionOrigin(-1, 2, 4)
	if x != -16 || z != 32 {
		t.Errorf("SectionOrigin(-1, 2, 4) = (%d, %d), want (-16, 32)", x, z)
	}
}

func TestChebyshevDistance(t *testing.T) {
	if d := ChebyshevDistance(Key(0, 0), Key(3, -5)); d != 5 {
		t.Errorf("ChebyshevDistance = %d, want 5", d)
	}
	if d := ChebyshevDistance(Key(-2, 7), Key(-2, 7)); d != 0 {
		t.Errorf("ChebyshevDistance(same) = %d, want 0", d)
	}
}

func TestForEachInRadius(t *testing.T) {
	seen := make(map[int64]bool)
	ForEachInRadius(Key(-1, 3), 2, func(key int64) {
		if ChebyshevDistance(key, Key(-1, 3)) > 2 {
			t.Errorf("key (%d, %d) outside radius", X(key), Z(key))
		}
		seen[key] = true
	})
	if len(seen) != 25 {
		t.Errorf("ForEachInRadius visited %d keys, want 25", len(seen))
	}

	n := 0
	ForEachNeighbour(Key(0, 0), func(key int64) {
		if key == Key(0, 0) {
			t.Error("ForEachNeighbour visited center")
		}
		n++
	})
	if n != 8 {
		t.Errorf("ForEachNeighbour visited %d keys, want 8", n)
	}
}
