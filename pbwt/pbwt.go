// Package pbwt implements the positional Burrows-Wheeler transform used by
// both the coded-steps builder (component B, over markers within one step)
// and the IBS scanner (component C, over steps within one chromosome). The
// same State type and Update recurrence serve both granularities; only the
// alphabet size and the per-position symbol vector differ.
package pbwt

// State holds a PBWT prefix array and divergence array over H haplotypes.
// A is a permutation of [0,H) ordering haplotypes by their symbol history,
// most recent first-differing position last. D[i] is the earliest position
// (marker or step index, depending on caller) at which haplotypes A[i-1] and
// A[i] begin to agree on every subsequent symbol seen so far; D[0] is always
// 0 by convention (no predecessor).
type State struct {
	A []int32
	D []int32

	// scratch buffers, reused across Update calls to avoid per-step
	// allocation; sized lazily to the largest alphabet seen.
	bucketA [][]int32
	bucketD [][]int32
	start   []int32
}

// New returns a State initialized to the identity order over H haplotypes,
// as of "before the first position."
func New(h int) *State {
	s := &State{A: make([]int32, h), D: make([]int32, h)}
	for i := range s.A {
		s.A[i] = int32(i)
	}
	return s
}

// Update advances the state by one position. symbol[h] gives haplotype h's
// coded value at this position, an integer in [0, alphabet). pos is the
// caller's position index (marker index or step index), used to seed new
// divergence runs.
//
// This is the textbook Durbin PBWT recurrence (per-allele bucket sort),
// generalized from the biallelic case to an arbitrary small alphabet: each
// allele value gets its own output bucket and its own running divergence
// tracker, buckets are concatenated in allele order once every haplotype has
// been classified.
func (s *State) Update(pos int, alphabet int, symbol []int32) {
	if alphabet < 1 {
		alphabet = 1
	}
	if cap(s.bucketA) < alphabet {
		s.bucketA = make([][]int32, alphabet)
		s.bucketD = make([][]int32, alphabet)
		s.start = make([]int32, alphabet)
	}
	s.bucketA = s.bucketA[:alphabet]
	s.bucketD = s.bucketD[:alphabet]
	s.start = s.start[:alphabet]
	for v := 0; v < alphabet; v++ {
		s.bucketA[v] = s.bucketA[v][:0]
		s.bucketD[v] = s.bucketD[v][:0]
		s.start[v] = int32(pos + 1)
	}

	h := len(s.A)
	for i := 0; i < h; i++ {
		hap := s.A[i]
		div := s.D[i]
		for v := 0; v < alphabet; v++ {
			if div > s.start[v] {
				s.start[v] = div
			}
		}
		v := symbol[hap]
		s.bucketA[v] = append(s.bucketA[v], hap)
		s.bucketD[v] = append(s.bucketD[v], s.start[v])
		s.start[v] = 0
	}

	idx := 0
	for v := 0; v < alphabet; v++ {
		for k, hap := range s.bucketA[v] {
			s.A[idx] = hap
			s.D[idx] = s.bucketD[v][k]
			idx++
		}
	}
	if h > 0 {
		s.D[0] = 0
	}
}

// Inverse returns rank such that rank[A[i]] = i, i.e. the sort-order rank of
// each haplotype.
func (s *State) Inverse() []int32 {
	rank := make([]int32, len(s.A))
	for i, hap := range s.A {
		rank[hap] = int32(i)
	}
	return rank
}
