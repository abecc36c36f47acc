package vcfio

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/encoding/bgzf"
	"github.com/sequolab/lanc/errs"
)

// Call is one haplotype's ancestry call at one marker: Allele is the
// genotype-indexed allele carried on that haplotype (echoed through to the
// GT field), Ancestry is the argmax ancestry index (ANn), and Probs, when
// non-nil, is the full per-ancestry posterior vector (ANPn), rounded to two
// decimals at write time.
type Call struct {
	Allele   byte
	Ancestry int
	Probs    []float64
}

// Writer emits a per-chromosome, block-gzip-compressed ancestry-annotated
// VCF (spec §6). Grounded on pileup/snp/output.go's tsv.Writer-over-a-bgzf
// pattern, adapted here to VCF's fixed column grammar instead of a TSV
// writer, since VCF's header block (meta-lines, #CHROM row) doesn't fit
// tsv.Writer's flat row model.
type Writer struct {
	bw          *bgzf.Writer
	sampleNames []string
	withProbs   bool
}

// NewWriter wraps dst in a block-gzip writer at the given compression level
// and writes the VCF meta-header, the ##ANCESTRY line (one entry per
// ancestryNames[i], 0-indexed), and the #CHROM sample-column row. withProbs
// selects whether WriteRecord emits the optional ANPn probability fields.
func NewWriter(dst io.Writer, level int, chrom string, sampleNames, ancestryNames []string, withProbs bool) (*Writer, error) {
	bw, err := bgzf.NewWriter(dst, level)
	if err != nil {
		return nil, errors.E(err, errs.IO, "vcfio: creating bgzf writer")
	}
	w := &Writer{bw: bw, sampleNames: sampleNames, withProbs: withProbs}

	var b strings.Builder
	b.WriteString("##fileformat=VCFv4.2\n")
	fmt.Fprintf(&b, "##contig=<ID=%s>\n", chrom)
	var anc strings.Builder
	for i, name := range ancestryNames {
		if i > 0 {
			anc.WriteByte(',')
		}
		fmt.Fprintf(&anc, "%s=%d", name, i)
	}
	fmt.Fprintf(&b, "##ANCESTRY=<%s>\n", anc.String())
	b.WriteString("##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Phased genotype\">\n")
	b.WriteString("##FORMAT=<ID=AN1,Number=1,Type=Integer,Description=\"Ancestry of haplotype 1\">\n")
	b.WriteString("##FORMAT=<ID=AN2,Number=1,Type=Integer,Description=\"Ancestry of haplotype 2\">\n")
	if withProbs {
		b.WriteString("##FORMAT=<ID=ANP1,Number=.,Type=Float,Description=\"Posterior ancestry probabilities, haplotype 1\">\n")
		b.WriteString("##FORMAT=<ID=ANP2,Number=.,Type=Float,Description=\"Posterior ancestry probabilities, haplotype 2\">\n")
	}
	b.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT")
	for _, s := range sampleNames {
		b.WriteByte('\t')
		b.WriteString(s)
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(bw, b.String()); err != nil {
		return nil, errors.E(err, errs.IO, "vcfio: writing VCF header")
	}
	return w, nil
}

// WriteRecord writes one marker's row. calls has 2*len(sampleNames)
// entries, haplotype-major within each sample (calls[2*s], calls[2*s+1]).
func (w *Writer) WriteRecord(chrom string, pos int64, id, ref, alt string, calls []Call) error {
	if len(calls) != 2*len(w.sampleNames) {
		return errors.E(errs.Internal, "vcfio: call count mismatch", "got", len(calls), "want", 2*len(w.sampleNames))
	}
	format := "GT:AN1:AN2"
	if w.withProbs {
		format += ":ANP1:ANP2"
	}
	recID := id
	if recID == "" {
		recID = "."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%d\t%s\t%s\t%s\t.\t.\t.\t%s", chrom, pos, recID, ref, alt, format)
	for s := range w.sampleNames {
		c1, c2 := calls[2*s], calls[2*s+1]
		fmt.Fprintf(&b, "\t%d|%d:%d:%d", c1.Allele, c2.Allele, c1.Ancestry, c2.Ancestry)
		if w.withProbs {
			b.WriteByte(':')
			writeProbs(&b, c1.Probs)
			b.WriteByte(':')
			writeProbs(&b, c2.Probs)
		}
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(w.bw, b.String()); err != nil {
		return errors.E(err, errs.IO, "vcfio: writing VCF record", "pos", pos)
	}
	return nil
}

func writeProbs(b *strings.Builder, probs []float64) {
	for i, p := range probs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(roundTo2(p), 'f', 2, 64))
	}
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Close flushes and terminates the underlying bgzf stream.
func (w *Writer) Close() error {
	if err := w.bw.Close(); err != nil {
		return errors.E(err, errs.IO, "vcfio: closing bgzf writer")
	}
	return nil
}
