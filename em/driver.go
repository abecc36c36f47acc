// Package em implements the EM parameter estimator (spec component H): it
// drives the hmm package's {μ,T} and {ρ,p} accumulator modes to convergence
// over repeated random subsets of target haplotypes, following the
// teacher's seeded math/rand use for deterministic subsampling
// (encoding/fastq/downsample.go) and its per-worker-accumulator,
// merge-at-the-barrier concurrency idiom (markduplicates/metrics.go).
package em

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/sequolab/lanc/accum"
	"github.com/sequolab/lanc/composite"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/hmm"
	"github.com/sequolab/lanc/params"
	"github.com/sequolab/lanc/transition"
)

// Target is one target haplotype's precomputed composite reference state
// and coded query alleles, ready to be evaluated against a transition
// cache.
type Target struct {
	State       *composite.State
	QueryAllele []byte
}

// Driver runs the EM loop of spec §4.H to convergence.
type Driver struct {
	GenMap       *genmap.Table
	HapPanel     func(hap int32) int
	RefAllele    func(hap int32, marker int) byte
	NHapsInPanel []int
	Targets      []Target

	NumIterations int // em_its
	NumHaps       int // em_haps: subset size sampled per iteration
	Seed          int64
	UpdateP       bool
	DeltaMu       float64
	DeltaP        float64
	EMAncProb     float64 // threshold below which occupancy is discarded (spec §4.F)
	MaxSlots      int
	NumWorkers    int
}

// Run executes up to NumIterations EM steps starting from initial,
// returning the converged (or final) Bundle.
func (d *Driver) Run(initial *params.Bundle) (*params.Bundle, error) {
	if len(d.Targets) == 0 {
		return nil, errors.E(errs.Internal, "em: no target haplotypes supplied")
	}
	rng := rand.New(rand.NewSource(d.Seed))
	current := initial
	for iter := 0; iter < d.NumIterations; iter++ {
		cache, err := transition.New(current, d.GenMap, d.NHapsInPanel)
		if err != nil {
			return nil, err
		}
		selected := selectSubset(rng, len(d.Targets), d.NumHaps)
		acc, err := d.accumulate(cache, selected)
		if err != nil {
			return nil, err
		}

		newMu := acc.FinalizeMu(current.Mu())
		newRho := acc.FinalizeRho(current.Rho())
		newT := acc.FinalizeT(current.T())
		newP := current.P()
		if d.UpdateP {
			newP = acc.FinalizeP(current.P())
		}

		muConverged := withinTolerance(newMu, current.Mu(), d.DeltaMu)
		pConverged := !d.UpdateP || withinTolerance2D(newP, current.P(), d.DeltaP)
		log.Printf("em: iteration %d, mu=%v, T=%v, converged=%v", iter, newMu, newT, muConverged && pConverged)
		if muConverged && pConverged {
			break
		}

		next, err := params.FromEM(newT, newMu, newP, current.Theta(), newRho, current.SampleData())
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// accumulate evaluates every selected target haplotype's {μ,T} and {ρ,p}
// sufficient statistics under cache, spreading the work over NumWorkers
// goroutines (spec section 5's fixed-size worker pool over an atomic
// cursor), each owning its own Evaluator and partial Accumulators, merged
// once every worker has drained.
func (d *Driver) accumulate(cache *transition.Cache, selected []int) (*accum.Accumulators, error) {
	workers := d.NumWorkers
	if workers < 1 {
		workers = 1
	}
	global := accum.New(cache.A, cache.P)
	var mu sync.Mutex
	var cursor int64 = -1
	m := len(d.GenMap.GenDist())

	err := traverse.Each(workers, func(int) error {
		ev := hmm.NewEvaluator(cache.A, d.MaxSlots, m)
		local := accum.New(cache.A, cache.P)
		for {
			idx := int(atomic.AddInt64(&cursor, 1))
			if idx >= len(selected) {
				break
			}
			tgt := d.Targets[selected[idx]]
			if err := ev.Reset(hmm.Config{
				Cache:       cache,
				GenDist:     d.GenMap.GenDist(),
				State:       tgt.State,
				HapPanel:    d.HapPanel,
				RefAllele:   d.RefAllele,
				QueryAllele: tgt.QueryAllele,
			}); err != nil {
				return err
			}
			if err := ev.RunMuT(local); err != nil {
				return err
			}
			if err := ev.RunRhoP(local, d.EMAncProb); err != nil {
				return err
			}
		}
		mu.Lock()
		global.Merge(local)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return global, nil
}

// selectSubset draws a deterministic, seeded, without-replacement subset of
// size k (capped at n) from [0,n).
func selectSubset(rng *rand.Rand, n, k int) []int {
	if k <= 0 || k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(n)[:k]
}

func withinTolerance(a, b []float64, delta float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > delta {
			return false
		}
	}
	return true
}

func withinTolerance2D(a, b [][]float64, delta float64) bool {
	for i := range a {
		if !withinTolerance(a[i], b[i], delta) {
			return false
		}
	}
	return true
}
