package bref

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type bufWriter struct {
	buf bytes.Buffer
}

func (w *bufWriter) int32(v int32)   { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *bufWriter) int64(v int64)   { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *bufWriter) string(s string) { w.int32(int32(len(s))); w.buf.WriteString(s) }

// writeTestStream builds a minimal one-chromosome, one-block, 2-marker,
// 4-haplotype bref3 stream: marker 0 sequence-coded, marker 1 allele-coded.
func writeTestStream() []byte {
	w := &bufWriter{}
	w.int32(Magic)
	w.string("lanc-test")
	w.int32(2)
	w.string("s0")
	w.string("s1")

	// one block, 2 markers, 4 haplotypes, identity hap->seq map
	w.int32(2) // nMarkers (block tag)
	w.string("chr1")
	w.int32(4) // nHap
	for h := int32(0); h < 4; h++ {
		w.int32(h)
	}
	// marker 0: sequence-coded, seq->allele table {0,1,0,1}
	w.int32(0) // tag 0
	w.int32(4) // nSeq
	w.buf.Write([]byte{0, 1, 0, 1})
	// marker 1: allele-coded, allele0={0,2}, allele1={1,3}
	w.int32(1) // tag 1
	w.int32(2) // nAlleles
	w.int32(2)
	w.int32(0)
	w.int32(2)
	w.int32(1)
	w.int32(3)

	w.int32(0) // end-of-data marker

	// trailing index: one entry, then sentinel, then trailing pointer
	w.int64(0)
	w.int64(1000)
	w.int64(indexSentinel)
	w.int64(0)

	return w.buf.Bytes()
}

func TestLoadDecodesBothRecordKinds(t *testing.T) {
	s, err := Load(bytes.NewReader(writeTestStream()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Chrom != "chr1" {
		t.Errorf("chrom: got %q", s.Chrom)
	}
	if s.NumHap != 4 || s.NumMarkers != 2 {
		t.Fatalf("dims: NumHap=%d NumMarkers=%d", s.NumHap, s.NumMarkers)
	}
	want := [][]byte{
		{0, 1, 0, 1}, // marker 0, sequence-coded
		{0, 1, 0, 1}, // marker 1, allele-coded
	}
	for m := 0; m < 2; m++ {
		for h := int32(0); h < 4; h++ {
			if got := s.Allele(h, m); got != want[m][h] {
				t.Errorf("marker %d hap %d: got %d, want %d", m, h, got, want[m][h])
			}
		}
	}
	if len(s.Index) != 1 || s.Index[0].Offset != 0 || s.Index[0].FirstPos != 1000 {
		t.Errorf("index: got %v", s.Index)
	}
}

func TestReaderHeaderFields(t *testing.T) {
	rd, err := NewReader(bytes.NewReader(writeTestStream()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if rd.Program != "lanc-test" {
		t.Errorf("program: got %q", rd.Program)
	}
	if len(rd.Samples) != 2 || rd.Samples[0] != "s0" || rd.Samples[1] != "s1" {
		t.Errorf("samples: got %v", rd.Samples)
	}
}

func TestBadMagicRejected(t *testing.T) {
	w := &bufWriter{}
	w.int32(0x12345678)
	if _, err := NewReader(bytes.NewReader(w.buf.Bytes())); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
