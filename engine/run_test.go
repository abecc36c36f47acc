package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sequolab/lanc/encoding/vcfio"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/params"
)

// hapMatrix is a minimal HapSource backed by a marker-major allele matrix,
// used to stand in for both bref.Store and vcfio.Targets in this test.
type hapMatrix [][]byte // hapMatrix[marker][hap]

func (h hapMatrix) Allele(hap int32, m int) byte { return h[m][hap] }

func smallGenMap() *genmap.Table {
	t := &genmap.Table{
		Chrom:     "chr1",
		Positions: []int64{1000, 2000, 3000, 4000, 5000, 6000},
		CM:        []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0},
	}
	return t
}

func smallSampleData(t *testing.T) *params.SampleData {
	t.Helper()
	data, err := params.LoadPanelMap(strings.NewReader("r0\tAFR\nr1\tAFR\nr2\tEUR\nr3\tEUR\n"))
	if err != nil {
		t.Fatalf("LoadPanelMap: %v", err)
	}
	data.DefaultAncestries()
	return data
}

func smallBundle(t *testing.T, data *params.SampleData) *params.Bundle {
	t.Helper()
	b, err := params.FromBootstrap(6, 6, 0.01, data)
	if err != nil {
		t.Fatalf("FromBootstrap: %v", err)
	}
	return b
}

func TestRunWritesNonEmptyVCF(t *testing.T) {
	m := 6
	// Reference: 4 haplotypes (2 panels of 2), markers alternate 0/1 so the
	// composite assembler and transition cache see real variation.
	ref := make(hapMatrix, m)
	for mk := 0; mk < m; mk++ {
		ref[mk] = []byte{byte(mk % 2), byte((mk + 1) % 2), byte(mk % 2), byte((mk + 1) % 2)}
	}
	// Target: one diploid sample (2 haplotypes), matching panel 0's pattern.
	tgt := make(hapMatrix, m)
	for mk := 0; mk < m; mk++ {
		tgt[mk] = []byte{byte(mk % 2), byte((mk + 1) % 2)}
	}

	data := smallSampleData(t)
	bundle := smallBundle(t, data)

	var buf bytes.Buffer
	w, err := vcfio.NewWriter(&buf, 1, "chr1", []string{"s0"}, []string{"AFR", "EUR"}, true)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	positions := make([]int64, m)
	ids := make([]string, m)
	refAlleles := make([]string, m)
	altAlleles := make([]string, m)
	gm := smallGenMap()
	for mk := 0; mk < m; mk++ {
		positions[mk] = gm.Positions[mk]
		ids[mk] = "."
		refAlleles[mk] = "A"
		altAlleles[mk] = "G"
	}

	cfg := Config{
		Chrom:        "chr1",
		GenMap:       gm,
		Bundle:       bundle,
		RefGeno:      ref,
		TgtGeno:      tgt,
		NHapsInPanel: []int{2, 2},
		HapPanel: func(refHap int32) int {
			if refHap < 2 {
				return 0
			}
			return 1
		},
		SampleNames:  []string{"s0"},
		IDs:          ids,
		Ref:          refAlleles,
		Alt:          altAlleles,
		Positions:    positions,
		StepCM:       0.2,
		IBSHaps:      4,
		IBSBufferCM:  0.2,
		IBSRecycleCM: 0.2,
		MaxSlots:     4,
		NumWorkers:   2,
		Seed:         1,
		EmitProbs:    true,
		Writer:       w,
	}

	if _, err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty VCF output")
	}
}

func TestRunRejectsEmptyGenMap(t *testing.T) {
	data := smallSampleData(t)
	bundle := smallBundle(t, data)
	var buf bytes.Buffer
	w, err := vcfio.NewWriter(&buf, 1, "chr1", []string{"s0"}, []string{"AFR", "EUR"}, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	cfg := Config{
		Chrom:        "chr1",
		GenMap:       &genmap.Table{},
		Bundle:       bundle,
		RefGeno:      hapMatrix{},
		TgtGeno:      hapMatrix{},
		NHapsInPanel: []int{2, 2},
		SampleNames:  []string{"s0"},
		Writer:       w,
	}
	if _, err := Run(cfg); err == nil {
		t.Fatal("expected error for empty genetic map")
	}
}
