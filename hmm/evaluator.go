// Package hmm implements the scaled forward/backward recursion over the
// (ancestry × composite-slot) lattice and its three accumulator modes (spec
// components F and G). An Evaluator is allocated once per worker goroutine
// and reused across target haplotypes, holding flat row-major lattices the
// way util's small matrix type lays out distance tables
// (util/distance.go), and following the teacher's
// BagProcessor/BagProcessorFactory one-instance-per-goroutine discipline
// (markduplicates/mark_duplicates.go) for per-worker reuse.
package hmm

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/composite"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/transition"
)

// Evaluator holds every buffer the forward/backward recursion needs for one
// target haplotype's composite reference state, sized once and reused.
type Evaluator struct {
	cache *transition.Cache
	A, S  int
	M     int
	maxS  int // slot capacity the lattice buffers were sized for

	genDist []float64 // per-marker cM distance, genDist[0] = 0

	state       *composite.State
	hapPanel    func(hap int32) int
	refAllele   func(hap int32, marker int) byte
	queryAllele []byte // length M, 0/1 coded

	windowSize int
	nWindows   int

	// fwd buffers: ping-ponged between markers. fwdPrev holds m-1's values
	// once fwdCur has been computed for m, needed by the {μ,T} accumulator
	// which looks at the joint (fwd[m-1], bwd[m]).
	fwdPrev, fwdCur []float64 // length A*S
	ancMass         []float64 // length A, Σ_s fwd[i][s] for the most recently finalized marker
	ancMassPrev     []float64 // length A, snapshot of ancMass taken before each stepForward

	// bwdSweepCur/bwdSweepNext are ping-ponged scratch lattices shared by the
	// initial checkpoint-building sweep and by on-demand window
	// recomputation; the two phases never run concurrently.
	bwdSweepCur, bwdSweepNext []float64

	// backward checkpoints: one full lattice snapshot (length A*S) at the
	// last marker of each window, built by a single backward sweep.
	checkpoints [][]float64
	// window is the currently-materialized window of backward lattices,
	// window[k] holding bwd values for marker windowStart+k.
	window      [][]float64
	windowStart int

	// scratch reused per marker by backward-window recomputation.
	selfTerm  []float64 // length A*S
	panelSum  []float64 // length P, reused per ancestry
	bwdAncSum []float64 // length A

	// ancPostMass is scratch for the sinks: Σ_s fwd[i][s]·bwd[i][s], normalized
	// over i, for the marker currently being folded into an accumulator.
	ancPostMass []float64 // length A
}

// Config bundles everything needed to evaluate one target haplotype against
// one composite reference state.
type Config struct {
	Cache       *transition.Cache
	GenDist     []float64
	State       *composite.State
	HapPanel    func(hap int32) int
	RefAllele   func(hap int32, marker int) byte
	QueryAllele []byte
}

// NewEvaluator allocates an Evaluator sized for A ancestries, M markers, and
// a composite state of up to S slots. Call Reset before each target
// haplotype to rebind it to a new composite.State/query without
// reallocating any buffer.
func NewEvaluator(a, maxSlots, m int) *Evaluator {
	windowSize := int(math.Ceil(math.Sqrt(float64(m))))
	if windowSize < 1 {
		windowSize = 1
	}
	nWindows := (m + windowSize - 1) / windowSize
	e := &Evaluator{
		A:          a,
		S:          maxSlots,
		M:          m,
		maxS:       maxSlots,
		windowSize: windowSize,
		nWindows:   nWindows,
	}
	e.fwdPrev = make([]float64, a*maxSlots)
	e.fwdCur = make([]float64, a*maxSlots)
	e.ancMass = make([]float64, a)
	e.ancMassPrev = make([]float64, a)
	e.bwdSweepCur = make([]float64, a*maxSlots)
	e.bwdSweepNext = make([]float64, a*maxSlots)
	e.selfTerm = make([]float64, a*maxSlots)
	e.bwdAncSum = make([]float64, a)
	e.ancPostMass = make([]float64, a)
	e.checkpoints = make([][]float64, nWindows)
	for w := range e.checkpoints {
		e.checkpoints[w] = make([]float64, a*maxSlots)
	}
	e.window = make([][]float64, windowSize)
	for k := range e.window {
		e.window[k] = make([]float64, a*maxSlots)
	}
	return e
}

// Reset rebinds the Evaluator to a new target haplotype's composite state
// and transition cache without reallocating any lattice buffer.
func (e *Evaluator) Reset(cfg Config) error {
	s := cfg.State.NumSlots()
	if s > e.maxS {
		return errors.E(errs.Internal, "composite state has more slots than evaluator was sized for", "slots", s, "capacity", e.maxS)
	}
	e.cache = cfg.Cache
	e.genDist = cfg.GenDist
	e.state = cfg.State
	e.hapPanel = cfg.HapPanel
	e.refAllele = cfg.RefAllele
	e.queryAllele = cfg.QueryAllele
	e.S = s
	if len(e.panelSum) != cfg.Cache.P {
		e.panelSum = make([]float64, cfg.Cache.P)
	}
	return nil
}

func (e *Evaluator) idx(i, s int) int { return i*e.S + s }

func (e *Evaluator) panelAt(s, m int) int {
	return e.hapPanel(e.state.Panel(m, s))
}

func (e *Evaluator) mismatchAt(s, m int) int {
	if e.state.Mismatch(m, s, e.refAllele, e.queryAllele[m]) {
		return 1
	}
	return 0
}

func normalizeLattice(lat []float64) float64 {
	sum := 0.0
	for _, v := range lat {
		sum += v
	}
	if sum <= 0 {
		return sum
	}
	inv := 1 / sum
	for i := range lat {
		lat[i] *= inv
	}
	return sum
}
