// Package composite builds, for one target haplotype, a small composite
// reference panel: a set of up to S "slots," each a mosaic of reference
// haplotype segments that is identity-by-state with the target over each
// segment's span (spec component D).
package composite

import (
	"container/heap"
	"math/rand"
	"sort"

	farm "github.com/dgryski/go-farm"
)

// Segment is one piece of a slot's mosaic: haplotype Hap is copied starting
// at marker Start (inclusive), running until the next segment's Start (or M
// for the last segment in a slot).
type Segment struct {
	Hap   int32
	Start int
}

type slot struct {
	segments []Segment
	lastStep int
	index    int // position in the heap, maintained by container/heap callbacks
}

// slotHeap orders slots by lastStep ascending (the stalest slot is the
// recycling candidate). It is an indexed heap: each slot records its own
// heap position, and heap.Fix restores the order in place whenever a
// slot's lastStep changes, so no stale entries are ever reinserted.
type slotHeap []*slot

func (h slotHeap) Len() int            { return len(h) }
func (h slotHeap) Less(i, j int) bool  { return h[i].lastStep < h[j].lastStep }
func (h slotHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *slotHeap) Push(x interface{}) { s := x.(*slot); s.index = len(*h); *h = append(*h, s) }
func (h *slotHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// Assembler assembles composite reference state for one target haplotype at
// a time. It is safe to Reset() and reuse across target haplotypes within
// one worker goroutine (spec section 5's per-worker reuse rule).
type Assembler struct {
	maxSlots     int
	minSteps     int // ceil(ibs_recycle / ibs_step)
	stepMarker   []int
	m            int
	slots        []*slot
	hapToSlotIdx map[int32]int
	h            slotHeap
}

// Opts configures an Assembler.
type Opts struct {
	MaxSlots   int   // S
	MinSteps   int   // ceil(ibs_recycle/ibs_step)
	StepMarker []int // StepMarker[step] = starting marker of that step
	NumMarkers int   // M
}

// New returns an Assembler configured by opts. Call Reset before each target
// haplotype.
func New(opts Opts) *Assembler {
	a := &Assembler{
		maxSlots:   opts.MaxSlots,
		minSteps:   opts.MinSteps,
		stepMarker: opts.StepMarker,
		m:          opts.NumMarkers,
	}
	a.Reset()
	return a
}

// Reset clears all slot state so the Assembler can be reused for the next
// target haplotype.
func (a *Assembler) Reset() {
	a.slots = a.slots[:0]
	a.hapToSlotIdx = make(map[int32]int, a.maxSlots)
	a.h = a.h[:0]
}

// Consume folds in one scanner emission: reference haplotype hap was seen to
// be IBS with the query at scan-step step.
func (a *Assembler) Consume(hap int32, step int) {
	if hap < 0 {
		return
	}
	if idx, ok := a.hapToSlotIdx[hap]; ok {
		s := a.slots[idx]
		s.lastStep = step
		heap.Fix(&a.h, s.index)
		return
	}
	if len(a.slots) < a.maxSlots {
		s := &slot{
			segments: []Segment{{Hap: hap, Start: 0}},
			lastStep: step,
		}
		a.slots = append(a.slots, s)
		a.hapToSlotIdx[hap] = len(a.slots) - 1
		heap.Push(&a.h, s)
		return
	}
	// At capacity: only recycle the stalest slot if it has genuinely gone
	// quiet (its last IBS step is at least minSteps behind); otherwise this
	// candidate is simply dropped, preserving the "slots ever used <= S"
	// invariant without reducing a still-active slot's coverage.
	if len(a.h) == 0 {
		return
	}
	min := a.h[0]
	if step-min.lastStep < a.minSteps {
		return
	}
	oldHap := min.segments[len(min.segments)-1].Hap
	delete(a.hapToSlotIdx, oldHap)

	midStep := (min.lastStep + step) >> 1
	midMarker := a.markerForStep(midStep)
	min.segments = append(min.segments, Segment{Hap: hap, Start: midMarker})
	min.lastStep = step
	for k, sl := range a.slots {
		if sl == min {
			a.hapToSlotIdx[hap] = k
			break
		}
	}
	heap.Fix(&a.h, min.index)
}

func (a *Assembler) markerForStep(step int) int {
	if len(a.stepMarker) == 0 {
		return 0
	}
	if step < 0 {
		step = 0
	}
	if step >= len(a.stepMarker) {
		return a.m
	}
	return a.stepMarker[step]
}

// State is the finished, queryable composite reference state for one target
// haplotype.
type State struct {
	m        int
	nSlots   int
	segments [][]Segment // per slot, sorted by Start, ascending
}

// NumSlots returns the number of populated slots (<= S).
func (s *State) NumSlots() int { return s.nSlots }

// Panel returns the haplotype index backing slot sl at marker m. It is the
// caller's responsibility to map that haplotype to a reference panel.
func (s *State) Panel(m, sl int) int32 {
	segs := s.segments[sl]
	i := sort.Search(len(segs), func(i int) bool { return segs[i].Start > m }) - 1
	if i < 0 {
		i = 0
	}
	return segs[i].Hap
}

// Mismatch reports whether the haplotype backing slot sl at marker m
// disagrees with the query's allele there. allele looks up the coded allele
// of a haplotype at a marker.
func (s *State) Mismatch(m, sl int, allele func(hap int32, marker int) byte, queryAllele byte) bool {
	hap := s.Panel(m, sl)
	return allele(hap, m) != queryAllele
}

// Finish closes out the Assembler for the target haplotype just consumed,
// producing a queryable State. If no slots were ever populated, it falls
// back to up to maxSlots random reference haplotypes, chosen by a PRNG
// seeded deterministically from (seed, queryHap) so behavior doesn't depend
// on thread scheduling.
func (a *Assembler) Finish(queryHap int32, seed int64, refHaps []int32) *State {
	st := &State{m: a.m}
	if len(a.slots) == 0 {
		st.nSlots = 0
		if len(refHaps) == 0 {
			return st
		}
		mixed := int64(farm.Hash64([]byte{
			byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24),
			byte(seed >> 32), byte(seed >> 40), byte(seed >> 48), byte(seed >> 56),
			byte(queryHap), byte(queryHap >> 8), byte(queryHap >> 16), byte(queryHap >> 24),
		}))
		rng := rand.New(rand.NewSource(mixed))
		n := a.maxSlots
		if n > len(refHaps) {
			n = len(refHaps)
		}
		perm := rng.Perm(len(refHaps))
		st.segments = make([][]Segment, n)
		for i := 0; i < n; i++ {
			st.segments[i] = []Segment{{Hap: refHaps[perm[i]], Start: 0}}
		}
		st.nSlots = n
		return st
	}
	st.nSlots = len(a.slots)
	st.segments = make([][]Segment, len(a.slots))
	for i, s := range a.slots {
		segs := make([]Segment, len(s.segments))
		copy(segs, s.segments)
		st.segments[i] = segs
	}
	return st
}
