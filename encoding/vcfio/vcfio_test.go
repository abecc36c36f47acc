package vcfio

import (
	"bytes"
	"strings"
	"testing"
)

const testVCF = `##fileformat=VCFv4.2
##source=test
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	s0	s1
chr1	100	rs1	A	G	.	.	.	GT	0|1	1|0
chr1	200	rs2	C	T	.	.	.	GT	0|0	1|1
`

func TestReadTargetsParsesPhasedGenotypes(t *testing.T) {
	targets, err := ReadTargets(strings.NewReader(testVCF))
	if err != nil {
		t.Fatalf("ReadTargets: %v", err)
	}
	if targets.Chrom != "chr1" {
		t.Errorf("chrom: got %q", targets.Chrom)
	}
	if len(targets.SampleNames) != 2 || targets.SampleNames[0] != "s0" || targets.SampleNames[1] != "s1" {
		t.Fatalf("sample names: got %v", targets.SampleNames)
	}
	if targets.NumHap() != 4 || targets.NumMarkers() != 2 {
		t.Fatalf("dims: NumHap=%d NumMarkers=%d", targets.NumHap(), targets.NumMarkers())
	}
	// marker 0: s0=0|1, s1=1|0 -> haps [0,1,1,0]
	want0 := []byte{0, 1, 1, 0}
	for h := int32(0); h < 4; h++ {
		if got := targets.Allele(h, 0); got != want0[h] {
			t.Errorf("marker 0 hap %d: got %d want %d", h, got, want0[h])
		}
	}
	// marker 1: s0=0|0, s1=1|1 -> haps [0,0,1,1]
	want1 := []byte{0, 0, 1, 1}
	for h := int32(0); h < 4; h++ {
		if got := targets.Allele(h, 1); got != want1[h] {
			t.Errorf("marker 1 hap %d: got %d want %d", h, got, want1[h])
		}
	}
	if targets.Positions[0] != 100 || targets.Positions[1] != 200 {
		t.Errorf("positions: got %v", targets.Positions)
	}
	if targets.Ref[0] != "A" || targets.Alt[0] != "G" {
		t.Errorf("ref/alt: got %s/%s", targets.Ref[0], targets.Alt[0])
	}
}

func TestReadTargetsRejectsUnphasedGenotype(t *testing.T) {
	vcf := strings.Replace(testVCF, "0|1", "0/1", 1)
	if _, err := ReadTargets(strings.NewReader(vcf)); err == nil {
		t.Fatal("expected error for unphased genotype")
	}
}

func TestReadTargetsRejectsMissingHeader(t *testing.T) {
	vcf := "chr1\t100\trs1\tA\tG\t.\t.\t.\tGT\t0|1\n"
	if _, err := ReadTargets(strings.NewReader(vcf)); err == nil {
		t.Fatal("expected error for record before #CHROM header")
	}
}

func TestWriterRoundTripsRecordFields(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1, "chr1", []string{"s0", "s1"}, []string{"AFR", "EUR"}, true)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	calls := []Call{
		{Allele: 0, Ancestry: 0, Probs: []float64{0.99, 0.01}},
		{Allele: 1, Ancestry: 1, Probs: []float64{0.02, 0.98}},
		{Allele: 0, Ancestry: 0, Probs: []float64{0.80, 0.20}},
		{Allele: 0, Ancestry: 1, Probs: []float64{0.10, 0.90}},
	}
	if err := w.WriteRecord("chr1", 100, "rs1", "A", "G", calls); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty compressed output")
	}
}

func TestWriterRejectsWrongCallCount(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 1, "chr1", []string{"s0", "s1"}, []string{"AFR", "EUR"}, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord("chr1", 100, "rs1", "A", "G", []Call{{}}); err == nil {
		t.Fatal("expected error for call-count mismatch")
	}
}
