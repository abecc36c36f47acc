package genmap

import (
	"strings"
	"testing"
)

const sampleMap = `chr1 rs1 0.0 1000
chr1 rs2 1.0 2000
chr1 rs3 1.0 3000
chr1 rs4 2.5 4000
chr2 rs5 0.0 500
# a comment line
chr2 rs6 3.0 1500
`

func TestLoad(t *testing.T) {
	tables, err := Load(strings.NewReader(sampleMap))
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 chromosomes, got %d", len(tables))
	}
	chr1 := tables[0]
	if chr1.Chrom != "chr1" || len(chr1.CM) != 4 {
		t.Fatalf("unexpected chr1 table: %+v", chr1)
	}
	chr2 := tables[1]
	if chr2.Chrom != "chr2" || len(chr2.CM) != 2 {
		t.Fatalf("unexpected chr2 table: %+v", chr2)
	}
}

func TestGenDist(t *testing.T) {
	tables, err := Load(strings.NewReader(sampleMap))
	if err != nil {
		t.Fatal(err)
	}
	gd := tables[0].GenDist()
	want := []float64{0, 1.0, 0.0, 1.5}
	for i, w := range want {
		if gd[i] != w {
			t.Errorf("genDist[%d] = %v, want %v", i, gd[i], w)
		}
	}
}

func TestPRecZeroAtStart(t *testing.T) {
	tables, err := Load(strings.NewReader(sampleMap))
	if err != nil {
		t.Fatal(err)
	}
	pr := tables[0].PRec(10)
	if pr[0] != 0 {
		t.Errorf("pRec[0] = %v, want 0", pr[0])
	}
	if pr[1] <= 0 || pr[1] >= 1 {
		t.Errorf("pRec[1] = %v, expected in (0,1)", pr[1])
	}
}

func TestInterpolate(t *testing.T) {
	tables, err := Load(strings.NewReader(sampleMap))
	if err != nil {
		t.Fatal(err)
	}
	chr1 := tables[0]
	if got := chr1.Interpolate(1000); got != 0.0 {
		t.Errorf("Interpolate(1000) = %v, want 0", got)
	}
	if got := chr1.Interpolate(4000); got != 2.5 {
		t.Errorf("Interpolate(4000) = %v, want 2.5", got)
	}
	// Between rs3 (3000, cM=1.0) and rs4 (4000, cM=2.5): halfway -> 1.75.
	if got := chr1.Interpolate(3500); got != 1.75 {
		t.Errorf("Interpolate(3500) = %v, want 1.75", got)
	}
	// Out of range clamps.
	if got := chr1.Interpolate(100); got != 0.0 {
		t.Errorf("Interpolate(100) = %v, want 0", got)
	}
	if got := chr1.Interpolate(9000); got != 2.5 {
		t.Errorf("Interpolate(9000) = %v, want 2.5", got)
	}
}

func TestMalformedLine(t *testing.T) {
	_, err := Load(strings.NewReader("chr1 rs1 0.0\n"))
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
}
