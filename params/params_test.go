package params

import (
	"bytes"
	"strings"
	"testing"
)

func newTestData(t *testing.T) *SampleData {
	t.Helper()
	panelMap := "s1\tEUR\ns2\tEUR\ns3\tAFR\ns4\tAFR\n"
	d, err := LoadPanelMap(strings.NewReader(panelMap))
	if err != nil {
		t.Fatalf("LoadPanelMap: %v", err)
	}
	d.DefaultAncestries()
	return d
}

func TestNewValidBundle(t *testing.T) {
	data := newTestData(t)
	mu := []float64{0.5, 0.5}
	p := [][]float64{{1, 0}, {0, 1}}
	theta := [][]float64{{0.01, 0.01}, {0.01, 0.01}}
	rho := []float64{1, 1}
	b, err := New(8, mu, p, theta, rho, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.NumAncestries() != 2 || b.NumPanels() != 2 {
		t.Fatalf("unexpected dims: A=%d P=%d", b.NumAncestries(), b.NumPanels())
	}
}

func TestNewRejectsBadSimplex(t *testing.T) {
	data := newTestData(t)
	mu := []float64{0.9, 0.05}
	p := [][]float64{{1, 0}, {0, 1}}
	theta := [][]float64{{0.01, 0.01}, {0.01, 0.01}}
	rho := []float64{1, 1}
	if _, err := New(8, mu, p, theta, rho, data); err == nil {
		t.Fatal("expected error for mu not summing to 1")
	}
}

func TestNewRejectsNonPositiveT(t *testing.T) {
	data := newTestData(t)
	mu := []float64{0.5, 0.5}
	p := [][]float64{{1, 0}, {0, 1}}
	theta := [][]float64{{0.01, 0.01}, {0.01, 0.01}}
	rho := []float64{1, 1}
	if _, err := New(0, mu, p, theta, rho, data); err == nil {
		t.Fatal("expected error for T<=0")
	}
}

func TestNormalizeFallsBackOnZeroSum(t *testing.T) {
	prev := []float64{0.3, 0.7}
	out := Normalize([]float64{0, 0}, prev)
	if out[0] != prev[0] || out[1] != prev[1] {
		t.Fatalf("expected fallback to prev, got %v", out)
	}
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float64{1, 3}, nil)
	if out[0] != 0.25 || out[1] != 0.75 {
		t.Fatalf("unexpected normalized row: %v", out)
	}
}

func TestFiniteAndPositive(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{1.0, true},
		{0, false},
		{-1, false},
	}
	for _, c := range cases {
		if got := FiniteAndPositive(c.v); got != c.want {
			t.Errorf("FiniteAndPositive(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestPartiallyUpdated(t *testing.T) {
	data := newTestData(t)
	defaults, err := FromBootstrap(8, 1, 0.01, data)
	if err != nil {
		t.Fatalf("FromBootstrap: %v", err)
	}
	updated, err := PartiallyUpdated(defaults, 0, []float64{1, 0}, 2)
	if err != nil {
		t.Fatalf("PartiallyUpdated: %v", err)
	}
	if updated.Rho()[0] != 2 {
		t.Errorf("rho not updated: %v", updated.Rho())
	}
	if defaults.Rho()[0] == 2 {
		t.Error("PartiallyUpdated mutated defaults")
	}
}

func TestModelFileRoundTrip(t *testing.T) {
	data := newTestData(t)
	orig, err := FromBootstrap(8, 1.5, 0.02, data)
	if err != nil {
		t.Fatalf("FromBootstrap: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteModelFile(&buf, orig); err != nil {
		t.Fatalf("WriteModelFile: %v", err)
	}
	loaded, err := FromModelFile(&buf, data)
	if err != nil {
		t.Fatalf("FromModelFile: %v", err)
	}
	if loaded.T() != orig.T() {
		t.Errorf("T mismatch: got %v want %v", loaded.T(), orig.T())
	}
	for i := range orig.Mu() {
		if loaded.Mu()[i] != orig.Mu()[i] {
			t.Errorf("mu[%d] mismatch: got %v want %v", i, loaded.Mu()[i], orig.Mu()[i])
		}
	}
}

func TestFromModelFileParsesSpecGrammar(t *testing.T) {
	data := newTestData(t)
	const file = `# hand-authored model file, spec section 6 grammar
EUR AFR
EUR AFR
8
0.5 0.5
1 0
0 1
0.01 0.01
0.01 0.01
1 1
`
	b, err := FromModelFile(strings.NewReader(file), data)
	if err != nil {
		t.Fatalf("FromModelFile: %v", err)
	}
	if b.T() != 8 {
		t.Errorf("T = %v, want 8", b.T())
	}
	if b.Mu()[0] != 0.5 || b.Mu()[1] != 0.5 {
		t.Errorf("Mu = %v, want [0.5 0.5]", b.Mu())
	}
	if b.P()[0][0] != 1 || b.P()[1][1] != 1 {
		t.Errorf("P = %v, want [[1 0] [0 1]]", b.P())
	}
}

func TestFromModelFileRejectsMismatchedAncestryHeader(t *testing.T) {
	data := newTestData(t)
	const file = `EUR EAS
EUR AFR
8
0.5 0.5
1 0
0 1
0.01 0.01
0.01 0.01
1 1
`
	if _, err := FromModelFile(strings.NewReader(file), data); err == nil {
		t.Fatal("expected error for ancestry header mismatch")
	}
}

func TestFromBootstrapRestrictsToAllowedPanels(t *testing.T) {
	data := newTestData(t)
	b, err := FromBootstrap(8, 1, 0.01, data)
	if err != nil {
		t.Fatalf("FromBootstrap: %v", err)
	}
	// Ancestry 0 (EUR) may only copy from panel 0.
	if b.P()[0][1] != 0 {
		t.Errorf("expected P[0][1]=0, got %v", b.P()[0][1])
	}
}
