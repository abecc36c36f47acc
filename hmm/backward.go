package hmm

// initBackwardBase fills lat with the backward recursion's base case at the
// last marker, bwd[i][s] = 1/(A·S) (spec §4.F).
func (e *Evaluator) initBackwardBase(lat []float64) {
	v := 1.0 / float64(e.A*e.S)
	for i := range lat {
		lat[i] = v
	}
}

// stepBackward derives bwd at marker m from bwd at marker m+1 (dst),
// writing into out, following the same renewal/switch/stay decomposition as
// the forward recursion (spec §4.F, "backward recursion: symmetric").
//
// Folding emission into the destination state first (selfTerm), the three
// transition components collapse to:
//   - stay: scale[i](m+1) * selfTerm[i][s]
//   - within-ancestry switch: PNoRecTPRecRho[i][m+1] * Σ_j Q[i][j]·panelSum[i][j]
//   - renewal (any ancestry): PRecT[m+1] * Σ_i' μ[i']·Σ_j Q[i'][j]·panelSum[i'][j]
//
// The renewal term is identical for every (i,s) since it doesn't depend on
// the source state at all, mirroring the forward pass's μ[i]·q[i][j] term
// which likewise doesn't depend on the previous lattice.
func (e *Evaluator) stepBackward(m int, dst []float64, out []float64) {
	mNext := m + 1
	for i := 0; i < e.A; i++ {
		pObs := e.cache.PObs[i]
		q := e.cache.Q[i]
		for j := range e.panelSum {
			e.panelSum[j] = 0
		}
		for s := 0; s < e.S; s++ {
			j := e.panelAt(s, mNext)
			mm := e.mismatchAt(s, mNext)
			v := pObs[j][mm] * dst[e.idx(i, s)]
			e.selfTerm[e.idx(i, s)] = v
			e.panelSum[j] += v
		}
		anc := 0.0
		for j := 0; j < e.cache.P; j++ {
			anc += q[j] * e.panelSum[j]
		}
		e.bwdAncSum[i] = anc
	}
	bwdSumGlobal := 0.0
	for i := 0; i < e.A; i++ {
		bwdSumGlobal += e.cache.Mu[i] * e.bwdAncSum[i]
	}
	for i := 0; i < e.A; i++ {
		scale := e.cache.PNoRecTPNoRecRho[i][mNext]
		bwdShift := e.cache.PRecT[mNext]*bwdSumGlobal + e.cache.PNoRecTPRecRho[i][mNext]*e.bwdAncSum[i]
		for s := 0; s < e.S; s++ {
			out[e.idx(i, s)] = scale*e.selfTerm[e.idx(i, s)] + bwdShift
		}
	}
	normalizeLattice(out)
}
