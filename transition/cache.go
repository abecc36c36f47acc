// Package transition precomputes, once per chromosome per EM iteration, the
// per-(marker, ancestry[, panel]) factors the HMM evaluator multiplies in its
// hot loop (spec component E). Grounded on the teacher's style of building a
// precomputed per-column accumulation-factor table ahead of a hot scan loop
// (pileup/snp/basestrand.go).
package transition

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/params"
)

// Cache holds every per-marker factor the forward/backward recursion needs,
// indexed as described in spec §4.E. All slices are read-only after New
// returns and are shared across worker goroutines.
type Cache struct {
	A, P int

	PRecT      []float64 // PRecT[m]
	InvPNoRecT []float64 // InvPNoRecT[m] = 1/(1-PRecT[m])

	PRecRho          [][]float64 // PRecRho[i][m]
	PNoRecTPRecRho   [][]float64 // PNoRecTPRecRho[i][m]
	PNoRecTPNoRecRho [][]float64 // PNoRecTPNoRecRho[i][m]

	Mu  []float64   // Mu[i], global ancestry proportions
	Q   [][]float64 // Q[i][j] = p[i][j] / nHapsInPanel[j]
	QMu [][]float64 // QMu[i][j] = mu[i] * Q[i][j]

	// PObs[i][j][b] = P(mismatch bit b | ancestry i, panel j): (1-theta, theta).
	PObs [][][2]float64
}

// New builds a Cache from a parameter bundle, a chromosome's genetic map, and
// the number of reference haplotypes in each panel (needed to normalize
// copying probability into a per-haplotype copying probability q).
func New(b *params.Bundle, gm *genmap.Table, nHapsInPanel []int) (*Cache, error) {
	A := b.NumAncestries()
	P := b.NumPanels()
	if len(nHapsInPanel) != P {
		return nil, errors.E(errs.Internal, "nHapsInPanel length mismatch", "want", P, "got", len(nHapsInPanel))
	}
	for j, n := range nHapsInPanel {
		if n <= 0 {
			return nil, errors.E(errs.Internal, "empty reference panel", "panel", j)
		}
	}

	c := &Cache{A: A, P: P}
	c.PRecT = gm.PRec(b.T())
	M := len(c.PRecT)
	c.InvPNoRecT = make([]float64, M)
	for m, pr := range c.PRecT {
		if pr >= 1 {
			return nil, errors.E(errs.Internal, "pRecT >= 1, division would be unsafe", "marker", m)
		}
		c.InvPNoRecT[m] = 1 / (1 - pr)
	}

	rho := b.Rho()
	c.PRecRho = make([][]float64, A)
	c.PNoRecTPRecRho = make([][]float64, A)
	c.PNoRecTPNoRecRho = make([][]float64, A)
	for i := 0; i < A; i++ {
		c.PRecRho[i] = gm.PRec(rho[i])
		pNoRecTPRecRho := make([]float64, M)
		pNoRecTPNoRecRho := make([]float64, M)
		for m := 0; m < M; m++ {
			pNoRecT := 1 - c.PRecT[m]
			pNoRecTPRecRho[m] = pNoRecT * c.PRecRho[i][m]
			pNoRecTPNoRecRho[m] = pNoRecT * (1 - c.PRecRho[i][m])
		}
		c.PNoRecTPRecRho[i] = pNoRecTPRecRho
		c.PNoRecTPNoRecRho[i] = pNoRecTPNoRecRho
	}

	mu := b.Mu()
	c.Mu = mu
	p := b.P()
	theta := b.Theta()
	c.Q = make([][]float64, A)
	c.QMu = make([][]float64, A)
	c.PObs = make([][][2]float64, A)
	for i := 0; i < A; i++ {
		qRow := make([]float64, P)
		qMuRow := make([]float64, P)
		obsRow := make([][2]float64, P)
		for j := 0; j < P; j++ {
			qRow[j] = p[i][j] / float64(nHapsInPanel[j])
			qMuRow[j] = mu[i] * qRow[j]
			th := theta[i][j]
			obsRow[j] = [2]float64{1 - th, th}
		}
		c.Q[i] = qRow
		c.QMu[i] = qMuRow
		c.PObs[i] = obsRow
	}
	return c, nil
}

// Finite reports whether every factor in the cache is a finite number,
// a sanity check the evaluator can run once after construction.
func (c *Cache) Finite() bool {
	check := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	for _, v := range c.PRecT {
		if !check(v) {
			return false
		}
	}
	for _, v := range c.InvPNoRecT {
		if !check(v) {
			return false
		}
	}
	for i := 0; i < c.A; i++ {
		for _, v := range c.PRecRho[i] {
			if !check(v) {
				return false
			}
		}
		for _, v := range c.PNoRecTPRecRho[i] {
			if !check(v) {
				return false
			}
		}
		for _, v := range c.PNoRecTPNoRecRho[i] {
			if !check(v) {
				return false
			}
		}
		for _, v := range c.Q[i] {
			if !check(v) {
				return false
			}
		}
		for _, v := range c.QMu[i] {
			if !check(v) {
				return false
			}
		}
	}
	return true
}
