package bref

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
)

// Store is a fully materialized, random-access view of one chromosome's
// reference haplotypes decoded from a bref3 stream: Allele(hap, marker)
// answers in O(1), the shape the HMM evaluator's RefAllele callback needs
// (spec component F). Built once per chromosome, shared read-only across
// worker goroutines, matching the "engine receives fully materialized
// per-chromosome data structures" resource model of spec section 5.
type Store struct {
	Chrom      string
	Program    string
	Samples    []string // one per diploid sample; NumHap == 2*len(Samples)
	NumHap     int
	NumMarkers int
	Index      []IndexEntry

	alleles [][]byte // alleles[marker][hap]
}

// Load reads an entire bref3 stream into a Store. The stream must describe
// a single chromosome.
func Load(r io.Reader) (*Store, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	s := &Store{Program: rd.Program, Samples: rd.Samples}
	for {
		block, ok, err := rd.NextBlock()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if s.Chrom == "" {
			s.Chrom = block.Chrom
			s.NumHap = len(block.HapToSeq)
		} else if block.Chrom != s.Chrom {
			return nil, errors.E(errs.Compatibility, "bref: multiple chromosomes in one stream", "first", s.Chrom, "got", block.Chrom)
		} else if len(block.HapToSeq) != s.NumHap {
			return nil, errors.E(errs.Compatibility, "bref: haplotype count changed between blocks", "chrom", s.Chrom)
		}
		for _, rec := range block.Markers {
			row := make([]byte, s.NumHap)
			if rec.Coded {
				for h := 0; h < s.NumHap; h++ {
					seq := block.HapToSeq[h]
					if int(seq) >= len(rec.SeqAllele) {
						return nil, errors.E(errs.InputValidation, "bref: sequence class out of range", "hap", h, "seq", seq)
					}
					row[h] = rec.SeqAllele[seq]
				}
			} else {
				for a, haps := range rec.AlleleHaps {
					for _, h := range haps {
						if int(h) < 0 || int(h) >= s.NumHap {
							return nil, errors.E(errs.InputValidation, "bref: haplotype index out of range", "hap", h)
						}
						row[h] = byte(a)
					}
				}
			}
			s.alleles = append(s.alleles, row)
		}
	}
	idx, err := rd.Index()
	if err != nil {
		return nil, err
	}
	s.Index = idx
	s.NumMarkers = len(s.alleles)
	return s, nil
}

// Allele returns the coded allele of haplotype hap at marker m.
func (s *Store) Allele(hap int32, m int) byte {
	return s.alleles[m][hap]
}
