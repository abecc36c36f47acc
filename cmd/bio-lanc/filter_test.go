package main

import (
	"strings"
	"testing"

	"github.com/sequolab/lanc/genmap"
)

type fakeHaps [][]byte // fakeHaps[marker][hap]

func (f fakeHaps) Allele(hap int32, m int) byte { return f[m][hap] }

func TestLoadIDSetSkipsBlankAndComment(t *testing.T) {
	set, err := loadIDSet(strings.NewReader("rs1\n\n# comment\nrs2\n"))
	if err != nil {
		t.Fatalf("loadIDSet: %v", err)
	}
	if len(set) != 2 || !set["rs1"] || !set["rs2"] {
		t.Fatalf("unexpected set: %v", set)
	}
}

func TestReindexedMarkersDropsColumns(t *testing.T) {
	inner := fakeHaps{{0, 1}, {1, 0}, {1, 1}}
	r := reindexedMarkers{inner: inner, keep: []int{0, 2}}
	if got := r.Allele(0, 1); got != 1 {
		t.Fatalf("Allele(0,1) = %d, want 1 (marker 2)", got)
	}
}

func TestReindexedHapsRemapsHaplotypes(t *testing.T) {
	inner := fakeHaps{{0, 1, 0, 1}}
	r := reindexedHaps{inner: inner, hapMap: []int32{2, 3}}
	if got := r.Allele(0, 0); got != 0 {
		t.Fatalf("Allele(0,0) = %d, want 0 (remapped to hap 2)", got)
	}
	if got := r.Allele(1, 0); got != 1 {
		t.Fatalf("Allele(1,0) = %d, want 1 (remapped to hap 3)", got)
	}
}

func TestMarkerFilterExcludesByID(t *testing.T) {
	ref := fakeHaps{{0, 0, 1, 1}, {0, 0, 0, 0}}
	mf := markerFilter{exclude: map[string]bool{"rs2": true}}
	keep, err := mf.apply([]string{"rs1", "rs2"}, ref, 4, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(keep) != 1 || keep[0] != 0 {
		t.Fatalf("keep = %v, want [0]", keep)
	}
}

func TestMarkerFilterAppliesMinMAF(t *testing.T) {
	// marker 0: 1-of-4 alt (MAF 0.25); marker 1: 0-of-4 alt (MAF 0)
	ref := fakeHaps{{0, 0, 0, 1}, {0, 0, 0, 0}}
	mf := markerFilter{minMAF: 0.1}
	keep, err := mf.apply([]string{"rs1", "rs2"}, ref, 4, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(keep) != 1 || keep[0] != 0 {
		t.Fatalf("keep = %v, want [0]", keep)
	}
}

func TestProjectGenMapInterpolates(t *testing.T) {
	src := &genmap.Table{
		Chrom:     "chr1",
		Positions: []int64{0, 1000, 2000},
		CM:        []float64{0, 1, 2},
	}
	gm := projectGenMap(src, "chr1", []int64{500, 1500})
	if len(gm.CM) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(gm.CM))
	}
	if gm.CM[0] < 0.4 || gm.CM[0] > 0.6 {
		t.Fatalf("CM[0] = %v, want ~0.5", gm.CM[0])
	}
}

func TestFindChromTableErrorsOnMissingChrom(t *testing.T) {
	tables := []*genmap.Table{{Chrom: "chr2"}}
	if _, err := findChromTable(tables, "chr1"); err == nil {
		t.Fatal("expected error for missing chromosome")
	}
}
