// Package vcfio reads target and reference phased genotypes from VCF text
// (optionally block-gzip or plain-gzip compressed) and writes the
// per-marker ancestry-annotated output VCF (spec §6, external I/O).
//
// Reading is grounded on the teacher's whitespace tokenizer,
// internal/textscan (itself modeled on genmap's PLINK-map reader) — VCF
// fields never contain internal whitespace, so the same delimiter-agnostic
// tokenizer that splits genetic-map rows splits VCF rows. Compressed input
// follows pileup/snp/output.go's bgzf usage; github.com/klauspost/compress's
// gzip is the fallback for plain (non-block) gzip streams, since a bare
// hts/bgzf.Reader rejects those.
package vcfio

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	kgzip "github.com/klauspost/compress/gzip"

	htsbgzf "github.com/grailbio/hts/bgzf"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/internal/textscan"
)

// Targets holds one chromosome's phased genotypes read from a VCF: one
// haplotype pair per sample, one allele byte per haplotype per marker. This
// is the shape both reference-VCF loading and target-VCF loading produce;
// bref.Store offers the same Allele(hap, m) query for the binary reference
// format, so downstream code (composite/pbwt) is agnostic to which one fed
// it.
type Targets struct {
	Chrom       string
	Positions   []int64
	IDs         []string
	Ref         []string
	Alt         []string
	SampleNames []string // one per diploid sample; NumHap() == 2*len(SampleNames)

	alleles [][]byte // alleles[marker][hap]
}

// NumHap returns the haplotype count (2 per sample).
func (t *Targets) NumHap() int { return 2 * len(t.SampleNames) }

// NumMarkers returns the marker count.
func (t *Targets) NumMarkers() int { return len(t.Positions) }

// Allele returns the coded allele (0=REF, 1=ALT, ... ) of haplotype hap at
// marker m.
func (t *Targets) Allele(hap int32, m int) byte { return t.alleles[m][hap] }

// Open returns a decompressing reader over path's contents based on its
// extension: ".bgz"/".bgzf" are read as bgzf; ".gz" is read as bgzf when
// its first gzip header carries the bgzf "BC" extra subfield (the common
// case for reference VCFs) and as plain gzip otherwise; anything else is
// read as-is. The caller must Close the returned reader.
func Open(r io.Reader, name string) (io.ReadCloser, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".bgz"), strings.HasSuffix(lower, ".bgzf"):
		br, err := htsbgzf.NewReader(r, 1)
		if err != nil {
			return nil, errors.E(err, errs.IO, "vcfio: opening bgzf stream", "file", name)
		}
		return ioNopCloser{br}, nil
	case strings.HasSuffix(lower, ".gz"):
		buffered := bufio.NewReaderSize(r, 1<<16)
		// Decide from the unread header, so a plain gzip stream reaches the
		// gzip reader with nothing consumed: FLG.FEXTRA set and subfield "BC".
		peek, err := buffered.Peek(14)
		if err == nil && peek[0] == 0x1f && peek[1] == 0x8b && peek[3]&0x04 != 0 && peek[12] == 'B' && peek[13] == 'C' {
			br, err := htsbgzf.NewReader(buffered, 1)
			if err != nil {
				return nil, errors.E(err, errs.IO, "vcfio: opening bgzf stream", "file", name)
			}
			return ioNopCloser{br}, nil
		}
		gz, err := kgzip.NewReader(buffered)
		if err != nil {
			return nil, errors.E(err, errs.IO, "vcfio: opening gzip stream", "file", name)
		}
		return gz, nil
	default:
		return io.NopCloser(r), nil
	}
}

type ioNopCloser struct{ io.Reader }

func (ioNopCloser) Close() error { return nil }

// ReadTargets parses a phased-genotype VCF body into a Targets. Only the GT
// subfield of FORMAT is consulted; additional FORMAT/INFO content is
// ignored. Multiallelic sites use the ALT field's comma-separated list
// verbatim, and genotype indices index into {REF, ALT...} directly.
func ReadTargets(r io.Reader) (*Targets, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<24)

	t := &Targets{}
	gtIdx := -1
	lineNo := 0
	var fields [1 << 12][]byte

	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("##")) {
			continue
		}
		if bytes.HasPrefix(line, []byte("#CHROM")) {
			n := textscan.Tokens(fields[:], line)
			if n < 10 {
				return nil, errors.E(errs.InputValidation, "vcfio: VCF header has no samples", "line", lineNo)
			}
			t.SampleNames = make([]string, n-9)
			for i := 9; i < n; i++ {
				t.SampleNames[i-9] = string(fields[i])
			}
			continue
		}
		n := textscan.Tokens(fields[:], line)
		if n < 10 {
			return nil, errors.E(errs.InputValidation, "vcfio: malformed record", "line", lineNo, "expected", "at least 10 columns")
		}
		if t.SampleNames == nil {
			return nil, errors.E(errs.InputValidation, "vcfio: record before #CHROM header", "line", lineNo)
		}
		chrom := string(fields[0])
		if t.Chrom == "" {
			t.Chrom = chrom
		} else if chrom != t.Chrom {
			return nil, errors.E(errs.Compatibility, "vcfio: multiple chromosomes in one VCF", "first", t.Chrom, "got", chrom, "line", lineNo)
		}
		pos, err := strconv.ParseInt(string(fields[1]), 10, 64)
		if err != nil {
			return nil, errors.E(err, errs.InputValidation, "vcfio: bad POS", "line", lineNo)
		}
		format := string(fields[8])
		gtIdx = gtSubfieldIndex(format)
		if gtIdx < 0 {
			return nil, errors.E(errs.InputValidation, "vcfio: FORMAT has no GT subfield", "line", lineNo)
		}
		row := make([]byte, 2*len(t.SampleNames))
		for s := 0; s < len(t.SampleNames); s++ {
			col := 9 + s
			if col >= n {
				return nil, errors.E(errs.InputValidation, "vcfio: missing sample column", "sample", t.SampleNames[s], "line", lineNo)
			}
			a, b, err := parseGT(fields[col], gtIdx)
			if err != nil {
				return nil, errors.E(err, errs.InputValidation, "vcfio: bad genotype", "sample", t.SampleNames[s], "line", lineNo)
			}
			row[2*s] = a
			row[2*s+1] = b
		}
		t.Positions = append(t.Positions, pos)
		t.IDs = append(t.IDs, string(fields[2]))
		t.Ref = append(t.Ref, string(fields[3]))
		t.Alt = append(t.Alt, string(fields[4]))
		t.alleles = append(t.alleles, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, errs.IO, "vcfio: reading VCF body")
	}
	if t.SampleNames == nil {
		return nil, errors.E(errs.InputValidation, "vcfio: no #CHROM header found")
	}
	return t, nil
}

func gtSubfieldIndex(format string) int {
	for i, sub := range strings.Split(format, ":") {
		if sub == "GT" {
			return i
		}
	}
	return -1
}

// parseGT extracts the phased pair of allele indices from a sample column,
// taking the gtIdx'th colon-delimited subfield as the genotype. Genotypes
// must be phased ("a|b"); unphased ("a/b") and missing ("." or "./.")
// genotypes are rejected, matching the teacher's stance of failing fast on
// malformed input rather than guessing a phase.
func parseGT(col []byte, gtIdx int) (byte, byte, error) {
	sub := col
	if gtIdx > 0 {
		parts := bytes.SplitN(col, []byte(":"), gtIdx+2)
		if gtIdx >= len(parts) {
			return 0, 0, errors.E(errs.InputValidation, "vcfio: sample column missing GT subfield")
		}
		sub = parts[gtIdx]
	} else {
		if i := bytes.IndexByte(col, ':'); i >= 0 {
			sub = col[:i]
		}
	}
	i := bytes.IndexByte(sub, '|')
	if i < 0 {
		return 0, 0, errors.E(errs.InputValidation, "vcfio: unphased or missing genotype", "gt", string(sub))
	}
	a, err := strconv.Atoi(string(sub[:i]))
	if err != nil {
		return 0, 0, errors.E(err, errs.InputValidation, "vcfio: bad allele index", "gt", string(sub))
	}
	b, err := strconv.Atoi(string(sub[i+1:]))
	if err != nil {
		return 0, 0, errors.E(err, errs.InputValidation, "vcfio: bad allele index", "gt", string(sub))
	}
	if a < 0 || a > 255 || b < 0 || b > 255 {
		return 0, 0, errors.E(errs.InputValidation, "vcfio: allele index out of range", "gt", string(sub))
	}
	return byte(a), byte(b), nil
}
