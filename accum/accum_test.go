package accum

import "testing"

func TestAddAndFinalizeMu(t *testing.T) {
	a := New(2, 2)
	a.AddStateProb(0, 0, 3)
	a.AddStateProb(0, 1, 1)
	a.AddStateProb(1, 0, 2)
	a.AddStateProb(1, 1, 2)
	mu := a.FinalizeMu([]float64{0.5, 0.5})
	if mu[0] != 0.5 || mu[1] != 0.5 {
		t.Fatalf("unexpected mu: %v", mu)
	}
}

func TestFinalizeMuFallsBackOnZeroMass(t *testing.T) {
	a := New(2, 2)
	prev := []float64{0.3, 0.7}
	mu := a.FinalizeMu(prev)
	if mu[0] != prev[0] || mu[1] != prev[1] {
		t.Fatalf("expected fallback to prev, got %v", mu)
	}
}

func TestFinalizeP(t *testing.T) {
	a := New(1, 2)
	a.AddStateProb(0, 0, 3)
	a.AddStateProb(0, 1, 1)
	p := a.FinalizeP([][]float64{{0.5, 0.5}})
	if p[0][0] != 0.75 || p[0][1] != 0.25 {
		t.Fatalf("unexpected p row: %v", p[0])
	}
}

func TestFinalizeRhoGuardsNonFinite(t *testing.T) {
	a := New(1, 1)
	// SumRhoGenDist left at 0 -> division yields NaN, must fall back.
	prev := []float64{4.2}
	rho := a.FinalizeRho(prev)
	if rho[0] != prev[0] {
		t.Fatalf("expected fallback rho %v, got %v", prev[0], rho[0])
	}
}

func TestFinalizeRho(t *testing.T) {
	a := New(1, 1)
	a.AddRho(0, 10, 5)
	rho := a.FinalizeRho([]float64{1})
	if rho[0] != 2 {
		t.Fatalf("expected rho=2, got %v", rho[0])
	}
}

func TestFinalizeT(t *testing.T) {
	a := New(1, 1)
	a.AddT(8, 4)
	if got := a.FinalizeT(1); got != 2 {
		t.Fatalf("expected T=2, got %v", got)
	}
}

func TestFinalizeTGuardsNonPositive(t *testing.T) {
	a := New(1, 1)
	a.AddT(-8, 4)
	if got := a.FinalizeT(5); got != 5 {
		t.Fatalf("expected fallback T=5, got %v", got)
	}
}

func TestMerge(t *testing.T) {
	a := New(1, 1)
	b := New(1, 1)
	a.AddStateProb(0, 0, 1)
	b.AddStateProb(0, 0, 2)
	a.AddRho(0, 1, 1)
	b.AddRho(0, 2, 2)
	a.AddT(1, 1)
	b.AddT(2, 2)
	a.Merge(b)
	if a.StateProbs[0][0] != 3 {
		t.Errorf("StateProbs not merged: %v", a.StateProbs[0][0])
	}
	if a.SumRhoSwitch[0] != 3 || a.SumRhoGenDist[0] != 3 {
		t.Errorf("rho sums not merged: %v %v", a.SumRhoSwitch[0], a.SumRhoGenDist[0])
	}
	if a.SumTSwitch != 3 || a.SumTGenDist != 3 {
		t.Errorf("T sums not merged: %v %v", a.SumTSwitch, a.SumTGenDist)
	}
}
