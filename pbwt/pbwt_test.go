package pbwt

import "testing"

// buildColumns runs Update over a sequence of biallelic columns and returns
// the final state.
func buildColumns(h int, cols [][]int32) *State {
	s := New(h)
	for pos, col := range cols {
		s.Update(pos, 2, col)
	}
	return s
}

func TestUpdateIsPermutation(t *testing.T) {
	cols := [][]int32{
		{0, 1, 0, 1, 1, 0},
		{1, 1, 0, 0, 1, 0},
		{0, 0, 0, 1, 1, 1},
	}
	s := buildColumns(6, cols)
	seen := make([]bool, 6)
	for _, hap := range s.A {
		if seen[hap] {
			t.Fatalf("haplotype %d appears twice in A: %v", hap, s.A)
		}
		seen[hap] = true
	}
}

func TestIdenticalHaplotypesAdjacent(t *testing.T) {
	// Haplotypes 0 and 2 are identical at every column; PBWT should sort them
	// next to each other.
	cols := [][]int32{
		{0, 1, 0, 1},
		{1, 0, 1, 0},
		{0, 1, 0, 1},
	}
	s := buildColumns(4, cols)
	rank := s.Inverse()
	if diff := rank[0] - rank[2]; diff != 1 && diff != -1 {
		t.Errorf("expected haplotypes 0 and 2 adjacent in sort order, got ranks %d, %d", rank[0], rank[2])
	}
}

func TestDivergenceZeroAtTop(t *testing.T) {
	cols := [][]int32{{0, 1, 1}, {1, 0, 0}}
	s := buildColumns(3, cols)
	if s.D[0] != 0 {
		t.Errorf("D[0] = %d, want 0", s.D[0])
	}
}

func TestMultiAryAlphabet(t *testing.T) {
	s := New(4)
	// 4-ary alphabet (step-coded sequence indices).
	s.Update(0, 4, []int32{0, 1, 2, 3})
	s.Update(1, 2, []int32{0, 0, 1, 1})
	seen := make([]bool, 4)
	for _, hap := range s.A {
		seen[hap] = true
	}
	for i, ok := range seen {
		if !ok {
			t.Errorf("haplotype %d missing from A after update", i)
		}
	}
}
