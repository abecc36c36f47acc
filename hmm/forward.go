package hmm

// initForward sets fwdCur to the m=0 base case: fwd[i][s] = QMu[i][panel(s@0)],
// then globally normalizes and derives ancMass (spec §4.F).
func (e *Evaluator) initForward() float64 {
	for i := 0; i < e.A; i++ {
		qMu := e.cache.QMu[i]
		for s := 0; s < e.S; s++ {
			j := e.panelAt(s, 0)
			e.fwdCur[e.idx(i, s)] = qMu[j]
		}
	}
	presum := normalizeLattice(e.fwdCur)
	for i := 0; i < e.A; i++ {
		mass := 0.0
		for s := 0; s < e.S; s++ {
			mass += e.fwdCur[e.idx(i, s)]
		}
		e.ancMass[i] = mass
	}
	return presum
}

// stepForward advances fwdPrev (holding marker m-1's values, with ancMass
// already derived from it) to fwdCur for marker m, returning the pre-scale
// sum fwdSum[m] (spec §4.F's forward recursion).
func (e *Evaluator) stepForward(m int) float64 {
	for i := 0; i < e.A; i++ {
		q := e.cache.Q[i]
		pObs := e.cache.PObs[i]
		shiftBase := e.cache.PRecT[m]
		switchBase := e.cache.PNoRecTPRecRho[i][m] * e.ancMass[i]
		scale := e.cache.PNoRecTPNoRecRho[i][m]
		for s := 0; s < e.S; s++ {
			j := e.panelAt(s, m)
			mm := e.mismatchAt(s, m)
			shiftJ := shiftBase*e.muTimesQ(i, j) + switchBase*q[j]
			prev := e.fwdPrev[e.idx(i, s)]
			e.fwdCur[e.idx(i, s)] = pObs[j][mm] * (scale*prev + shiftJ)
		}
	}
	presum := normalizeLattice(e.fwdCur)
	for i := 0; i < e.A; i++ {
		mass := 0.0
		for s := 0; s < e.S; s++ {
			mass += e.fwdCur[e.idx(i, s)]
		}
		e.ancMass[i] = mass
	}
	return presum
}

// muTimesQ returns μ[i]·q[i][j]; QMu is already that product, precomputed by
// the transition cache.
func (e *Evaluator) muTimesQ(i, j int) float64 {
	return e.cache.QMu[i][j]
}

func (e *Evaluator) swapForward() {
	e.fwdPrev, e.fwdCur = e.fwdCur, e.fwdPrev
}
