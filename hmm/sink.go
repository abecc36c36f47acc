package hmm

import "github.com/sequolab/lanc/accum"

// ancSumsAt computes, for the bwd lattice at marker m, the per-ancestry sum
// Σ_j q[i][j]·Σ_{s: panel(s@m)=j} pObs[i][j][mismatch(s@m)]·bwd[i][s] into
// e.bwdAncSum and returns it. The result is scratch: callers must consume it
// before the next call.
func (e *Evaluator) ancSumsAt(bwd []float64, m int) []float64 {
	for i := 0; i < e.A; i++ {
		pObs := e.cache.PObs[i]
		q := e.cache.Q[i]
		for j := range e.panelSum {
			e.panelSum[j] = 0
		}
		for s := 0; s < e.S; s++ {
			j := e.panelAt(s, m)
			mm := e.mismatchAt(s, m)
			e.panelSum[j] += pObs[j][mm] * bwd[e.idx(i, s)]
		}
		anc := 0.0
		for j := 0; j < e.cache.P; j++ {
			anc += q[j] * e.panelSum[j]
		}
		e.bwdAncSum[i] = anc
	}
	return e.bwdAncSum
}

// ancPostAt fills e.ancPostMass with the normalized ancestry posterior at
// marker m, ancPost[i] ∝ Σ_s fwd[i][s]·bwd[i][s] (spec §4.F), and returns the
// pre-normalization sum Z. If Z is non-positive, ancPostMass is left at 0.
func (e *Evaluator) ancPostAt(fwd, bwd []float64) float64 {
	for i := range e.ancPostMass {
		e.ancPostMass[i] = 0
	}
	z := 0.0
	for i := 0; i < e.A; i++ {
		sum := 0.0
		for s := 0; s < e.S; s++ {
			sum += fwd[e.idx(i, s)] * bwd[e.idx(i, s)]
		}
		e.ancPostMass[i] = sum
		z += sum
	}
	if z <= 0 {
		return z
	}
	inv := 1 / z
	for i := range e.ancPostMass {
		e.ancPostMass[i] *= inv
	}
	return z
}

// RunPosterior drives the forward/backward recursion in ancestry-posterior
// inference mode, filling out[m][i] with the normalized posterior ancestry
// probability at each marker (spec §4.F, mode "ancestry posterior"). out
// must already be allocated with M rows of length A.
func (e *Evaluator) RunPosterior(out [][]float64) error {
	return e.Run(func(m int, fwdPrev, fwdCur, bwdCur []float64, ancMassPrev []float64) {
		e.ancPostAt(fwdCur, bwdCur)
		copy(out[m], e.ancPostMass)
	})
}

// RunMuT drives the recursion in {μ,T} estimation mode, folding each
// marker's post-admixture jump-expectation sample into acc (spec §4.F,
// mode "{μ,T} estimation"). The jump contribution at marker m doesn't
// depend on the source state, since Σ_{i,s} fwdPrev[i][s] = 1 exactly (the
// forward lattice is globally renormalized every step), so it collapses to
// a single scalar per marker.
func (e *Evaluator) RunMuT(acc *accum.Accumulators) error {
	return e.Run(func(m int, fwdPrev, fwdCur, bwdCur []float64, ancMassPrev []float64) {
		if m == 0 {
			return
		}
		ancSum := e.ancSumsAt(bwdCur, m)
		jumpMass := 0.0
		for i := 0; i < e.A; i++ {
			jumpMass += e.cache.Mu[i] * ancSum[i]
		}
		jumpMass *= e.cache.PRecT[m]
		acc.AddT(jumpMass, e.genDist[m])
	})
}

// RunRhoP drives the recursion in {ρ,p} estimation mode, folding each
// marker's expected within-ancestry switch count and per-(ancestry,panel)
// occupancy into acc (spec §4.F, mode "{ρ,p} estimation"). Occupancy
// contributions for an ancestry are discarded at markers where that
// ancestry's normalized posterior mass falls below emAncProb (spec's
// threshold rule).
func (e *Evaluator) RunRhoP(acc *accum.Accumulators, emAncProb float64) error {
	return e.Run(func(m int, fwdPrev, fwdCur, bwdCur []float64, ancMassPrev []float64) {
		z := e.ancPostAt(fwdCur, bwdCur)
		if z > 0 {
			for i := 0; i < e.A; i++ {
				if e.ancPostMass[i] < emAncProb {
					continue
				}
				for s := 0; s < e.S; s++ {
					j := e.panelAt(s, m)
					acc.AddStateProb(i, j, fwdCur[e.idx(i, s)]*bwdCur[e.idx(i, s)]/z)
				}
			}
		}

		if m == 0 {
			return
		}
		ancSum := e.ancSumsAt(bwdCur, m)
		for i := 0; i < e.A; i++ {
			switchMass := ancMassPrev[i] * e.cache.PNoRecTPRecRho[i][m] * ancSum[i]
			acc.AddRho(i, switchMass, ancMassPrev[i]*e.genDist[m])
		}
	})
}
