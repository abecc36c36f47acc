// Package accum implements the per-purpose sufficient-statistic adders spec
// component G describes: per-(ancestry,panel) state occupancy, and the
// switch/genDist sums that feed the ρ and T re-estimators. Grounded on the
// teacher's "one metrics object, reduced with plain adds at a barrier"
// idiom (markduplicates/metrics.go's MetricsCollection), since the
// concurrency model (spec §5) already guarantees a join between EM
// iterations rather than concurrent unsynchronized adds.
package accum

import "github.com/sequolab/lanc/params"

// Accumulators holds one worker's (or the globally-merged) running sums.
// Zero value is ready to use.
type Accumulators struct {
	A, P int

	StateProbs [][]float64 // [i][j]: expected occupancy mass of ancestry i, panel j

	SumRhoSwitch  []float64 // [i]: expected count of within-ancestry switches
	SumRhoGenDist []float64 // [i]: cM distance over which that count accrued

	SumTSwitch  float64 // expected count of post-admixture jumps
	SumTGenDist float64 // cM distance over which that count accrued
}

// New allocates a zeroed Accumulators for A ancestries and P panels.
func New(a, p int) *Accumulators {
	stateProbs := make([][]float64, a)
	for i := range stateProbs {
		stateProbs[i] = make([]float64, p)
	}
	return &Accumulators{
		A:             a,
		P:             p,
		StateProbs:    stateProbs,
		SumRhoSwitch:  make([]float64, a),
		SumRhoGenDist: make([]float64, a),
	}
}

// AddStateProb folds mass w into the (ancestry i, panel j) occupancy sum.
func (a *Accumulators) AddStateProb(i, j int, w float64) {
	a.StateProbs[i][j] += w
}

// AddRho folds a within-ancestry switch-expectation sample into ancestry i's
// ρ sufficient statistics.
func (a *Accumulators) AddRho(i int, switchMass, genDist float64) {
	a.SumRhoSwitch[i] += switchMass
	a.SumRhoGenDist[i] += genDist
}

// AddT folds a post-admixture jump-expectation sample into the shared T
// sufficient statistics.
func (a *Accumulators) AddT(switchMass, genDist float64) {
	a.SumTSwitch += switchMass
	a.SumTGenDist += genDist
}

// Merge adds other's sums into a, element-wise. Used to reduce per-worker
// partials at the barrier between EM iterations (spec §5).
func (a *Accumulators) Merge(other *Accumulators) {
	for i := 0; i < a.A; i++ {
		for j := 0; j < a.P; j++ {
			a.StateProbs[i][j] += other.StateProbs[i][j]
		}
		a.SumRhoSwitch[i] += other.SumRhoSwitch[i]
		a.SumRhoGenDist[i] += other.SumRhoGenDist[i]
	}
	a.SumTSwitch += other.SumTSwitch
	a.SumTGenDist += other.SumTGenDist
}

// FinalizeMu re-estimates μ from state occupancy, falling back to prevMu if
// the total mass is 0 (spec §4.G).
func (a *Accumulators) FinalizeMu(prevMu []float64) []float64 {
	raw := make([]float64, a.A)
	for i := 0; i < a.A; i++ {
		for j := 0; j < a.P; j++ {
			raw[i] += a.StateProbs[i][j]
		}
	}
	return params.Normalize(raw, prevMu)
}

// FinalizeP re-estimates each ancestry's panel-copying row, row-wise
// falling back to prevP[i] when that ancestry's total mass is 0.
func (a *Accumulators) FinalizeP(prevP [][]float64) [][]float64 {
	out := make([][]float64, a.A)
	for i := 0; i < a.A; i++ {
		out[i] = params.Normalize(a.StateProbs[i], prevP[i])
	}
	return out
}

// FinalizeRho re-estimates ρ per ancestry, guarding against non-finite or
// non-positive results (spec §4.G).
func (a *Accumulators) FinalizeRho(prevRho []float64) []float64 {
	out := make([]float64, a.A)
	for i := 0; i < a.A; i++ {
		v := a.SumRhoSwitch[i] / a.SumRhoGenDist[i]
		if !params.FiniteAndPositive(v) {
			v = prevRho[i]
		}
		out[i] = v
	}
	return out
}

// FinalizeT re-estimates T, guarding against non-finite or non-positive
// results (spec §4.G).
func (a *Accumulators) FinalizeT(prevT float64) float64 {
	v := a.SumTSwitch / a.SumTGenDist
	if !params.FiniteAndPositive(v) {
		return prevT
	}
	return v
}
