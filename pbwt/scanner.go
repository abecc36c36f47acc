package pbwt

import (
	"github.com/grailbio/base/traverse"
)

// Opts configures one directional IBS scan (spec component C).
type Opts struct {
	// HapToSeq[step] is the length-H coded-sequence vector for that step, as
	// produced by coding.EncodeStep.
	HapToSeq [][]int32
	// Alphabet[step] is the number of distinct sequence codes used in that
	// step (the PBWT alphabet size for the Update call at that step).
	Alphabet []int
	// Queries are the haplotype indices (usually target haplotypes) to emit
	// matches for.
	Queries []int32
	// IsRef reports whether a haplotype index is a reference haplotype
	// (only reference haplotypes are ever emitted).
	IsRef func(hap int32) bool
	// KHaps is the total number of haplotypes to emit per query per step;
	// up to KHaps/2 are emitted in each scan direction.
	KHaps int
	// BurnInSteps is the number of additional steps (ibs_buffer, converted
	// to step units by the caller) replayed before each batch's assigned
	// range so the PBWT state is warmed up at batch boundaries.
	BurnInSteps int
	// BatchSteps is the number of steps each parallel batch is responsible
	// for emitting.
	BatchSteps int
	// Parallelism is not read by the scanner: every batch is handed to
	// traverse.Each, which runs them with its own default concurrency.
	Parallelism int
}

// Scanner runs the PBWT over nHap haplotypes, in batches, emitting IBS
// matches for a fixed set of query haplotypes.
type Scanner struct {
	nHap int
}

// NewScanner returns a Scanner over nHap total haplotypes (reference +
// target).
func NewScanner(nHap int) *Scanner {
	return &Scanner{nHap: nHap}
}

// query result: for each query haplotype, a slice indexed by step of up to
// KHaps/2 reference haplotype indices (padded with -1), one step for every
// step in [0, len(opts.HapToSeq)).
type queryResult = [][]int32

// ScanForward sweeps steps [0, nSteps) in increasing order.
func (sc *Scanner) ScanForward(opts Opts) map[int32]queryResult {
	return sc.scan(opts, false)
}

// ScanBackward sweeps steps [0, nSteps) in decreasing order.
func (sc *Scanner) ScanBackward(opts Opts) map[int32]queryResult {
	return sc.scan(opts, true)
}

func (sc *Scanner) scan(opts Opts, backward bool) map[int32]queryResult {
	nSteps := len(opts.HapToSeq)
	half := opts.KHaps / 2
	if half < 1 {
		half = 1
	}
	results := make(map[int32]queryResult, len(opts.Queries))
	for _, q := range opts.Queries {
		r := make(queryResult, nSteps)
		results[q] = r
	}
	if nSteps == 0 {
		return results
	}

	batchSteps := opts.BatchSteps
	if batchSteps <= 0 {
		batchSteps = nSteps
	}
	nBatches := (nSteps + batchSteps - 1) / batchSteps

	// Each batch is independent: it replays the PBWT from a burned-in
	// starting point up through its own assigned step range and only
	// records emissions for its own range, so batches can run fully in
	// parallel without shared mutable state (spec section 5).
	type batchOut struct {
		queries map[int32]queryResult
	}
	outs := make([]batchOut, nBatches)

	worker := func(bi int) error {
		lo := bi * batchSteps
		hi := lo + batchSteps
		if hi > nSteps {
			hi = nSteps
		}
		var replayLo, replayHi int
		if !backward {
			replayLo = lo - opts.BurnInSteps
			if replayLo < 0 {
				replayLo = 0
			}
			replayHi = hi
		} else {
			replayLo = lo
			replayHi = hi + opts.BurnInSteps
			if replayHi > nSteps {
				replayHi = nSteps
			}
		}

		s := New(sc.nHap)
		out := batchOut{queries: make(map[int32]queryResult, len(opts.Queries))}
		for _, q := range opts.Queries {
			out.queries[q] = make(queryResult, hi-lo)
		}

		stepOrder := make([]int, 0, replayHi-replayLo)
		if !backward {
			for st := replayLo; st < replayHi; st++ {
				stepOrder = append(stepOrder, st)
			}
		} else {
			for st := replayHi - 1; st >= replayLo; st-- {
				stepOrder = append(stepOrder, st)
			}
		}

		windowStart := lo
		windowEnd := hi
		if backward {
			windowStart = lo
			windowEnd = hi
		}

		for _, st := range stepOrder {
			// A backward scan numbers its steps in processing order, so the
			// divergence positions in State.D grow the same way they do in a
			// forward scan and emitNeighbors' span test holds in both.
			pos := st
			if backward {
				pos = nSteps - 1 - st
			}
			s.Update(pos, opts.Alphabet[st], opts.HapToSeq[st])
			if st < windowStart || st >= windowEnd {
				continue
			}
			rank := s.Inverse()
			for _, q := range opts.Queries {
				emissions := emitNeighbors(s, rank[q], pos, half, backward, opts.IsRef)
				out.queries[q][st-lo] = emissions
			}
		}
		outs[bi] = out
		return nil
	}

	_ = traverse.Each(nBatches, worker) // nolint: errcheck — worker never returns non-nil

	for bi := 0; bi < nBatches; bi++ {
		lo := bi * batchSteps
		for q, qr := range outs[bi].queries {
			dst := results[q]
			for i, emissions := range qr {
				dst[lo+i] = emissions
			}
		}
	}
	return results
}

// emitNeighbors walks outward from rank i in the current PBWT order,
// alternating between the upper boundary (u <- i) and lower boundary (v <-
// i+1), picking at each step the boundary with the smaller divergence value
// (ties go to the lower boundary v, per the assembler's tie-break policy),
// and emits the neighbor if it is a reference haplotype. Divergence values
// are non-decreasing as the walk moves away from i in either direction
// (State.D's own invariant), so once a boundary's divergence exceeds step
// its IBS match no longer spans the current step and neither it nor any
// farther neighbor in that direction can do better; that boundary is
// retired. The walk stops once half candidates have been emitted or both
// boundaries are retired (array exhausted or no longer spanning), padding
// any remaining slots with -1.
func emitNeighbors(s *State, i int32, step int, half int, backward bool, isRef func(int32) bool) []int32 {
	out := make([]int32, 0, half)
	h := len(s.A)
	up := int(i)
	down := int(i) + 1
	haveUp := up-1 >= 0
	haveDown := down < h
	var dUp, dDown int32
	if haveUp {
		dUp = s.D[up]
	}
	if haveDown {
		dDown = s.D[down]
	}

	for len(out) < half && (haveUp || haveDown) {
		if haveUp && int(dUp) > step {
			haveUp = false
		}
		if haveDown && int(dDown) > step {
			haveDown = false
		}
		if !haveUp && !haveDown {
			break
		}

		useUp := false
		switch {
		case haveUp && haveDown:
			useUp = dUp < dDown
		case haveUp:
			useUp = true
		default:
			useUp = false
		}

		var cand int32
		if useUp {
			cand = s.A[up-1]
			up--
			if up-1 >= 0 {
				if s.D[up] > dUp {
					dUp = s.D[up]
				}
			} else {
				haveUp = false
			}
		} else {
			cand = s.A[down]
			down++
			if down < h {
				if s.D[down] > dDown {
					dDown = s.D[down]
				}
			} else {
				haveDown = false
			}
		}
		if isRef(cand) {
			out = append(out, cand)
		}
	}
	for len(out) < half {
		out = append(out, -1)
	}
	_ = backward
	return out
}
