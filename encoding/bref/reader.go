// Package bref reads the length-prefixed bref3 binary reference format
// (spec §6, component J): magic int32, program string, sample ID array,
// repeated per-chromosome blocks, an end-of-data marker, and a trailing
// index. Grounded on the teacher's own length-prefixed binary record
// format, encoding/pam/fieldio (magic numbers, block framing, a trailing
// index of file offsets) — the same shape of problem (chromosome blocks,
// per-block index, scan-forward reader) the teacher already solves for PAM,
// adapted here to bref3's simpler big-endian int32/int64 framing instead of
// PAM's varint/recordio machinery.
package bref

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/grailbio/base/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/sequolab/lanc/errs"
)

// Magic is the bref3 stream's leading int32.
const Magic int32 = 0x7A864274

// indexSentinel terminates the trailing (offset, firstPos) index.
const indexSentinel int64 = -999_999_999_999_999

// Record is one marker's per-haplotype allele encoding within a Block.
// Exactly one of SeqAllele (tag 0, sequence-coded) or AlleleHaps (tag 1,
// allele-coded) is populated.
type Record struct {
	Coded bool // true => sequence-coded (SeqAllele), false => allele-coded (AlleleHaps)

	// SeqAllele[seq] is the allele value for PBWT sequence class seq,
	// looked up through the block's HapToSeq map to get a haplotype's
	// allele (tag 0).
	SeqAllele []byte

	// AlleleHaps[allele] lists the haplotype indices carrying that allele
	// (tag 1); a nil entry denotes the sentinel "null" allele length.
	AlleleHaps [][]int32
}

// Block is one chromosome segment's worth of markers, sharing one
// haplotype->PBWT-sequence-class assignment.
type Block struct {
	Chrom    string
	HapToSeq []int32
	Markers  []Record
}

// IndexEntry is one entry of the trailing index: the file offset of a block
// and the genomic position of its first marker.
type IndexEntry struct {
	Offset   int64
	FirstPos int64
}

// Reader scans a bref3 stream block by block.
type Reader struct {
	r       *bufio.Reader
	Program string
	Samples []string
}

// NewReader reads the header (magic, program string, sample IDs) and
// returns a Reader positioned at the first block.
func NewReader(r io.Reader) (*Reader, error) {
	br := &Reader{r: bufio.NewReaderSize(r, 1<<16)}
	magic, err := br.readInt32()
	if err != nil {
		return nil, errors.E(err, errs.IO, "bref: reading magic")
	}
	if magic != Magic {
		return nil, errors.E(errs.InputValidation, "bref: bad magic", "got", magic, "want", Magic)
	}
	program, err := br.readString()
	if err != nil {
		return nil, errors.E(err, errs.IO, "bref: reading program string")
	}
	br.Program = program
	n, err := br.readInt32()
	if err != nil {
		return nil, errors.E(err, errs.IO, "bref: reading sample count")
	}
	if n < 0 {
		return nil, errors.E(errs.InputValidation, "bref: negative sample count", "count", n)
	}
	samples := make([]string, n)
	for i := range samples {
		s, err := br.readString()
		if err != nil {
			return nil, errors.E(err, errs.IO, "bref: reading sample ID", "index", i)
		}
		samples[i] = s
	}
	br.Samples = samples
	return br, nil
}

// NextBlock reads the next block. It returns (nil, false, nil) once the
// end-of-data marker has been consumed (the reader should then call Index).
func (br *Reader) NextBlock() (*Block, bool, error) {
	tag, err := br.readInt32()
	if err != nil {
		return nil, false, errors.E(err, errs.IO, "bref: reading block tag")
	}
	if tag == 0 {
		return nil, false, nil
	}
	nMarkers := int(tag)
	chrom, err := br.readString()
	if err != nil {
		return nil, false, errors.E(err, errs.IO, "bref: reading block chrom")
	}
	nHap, err := br.readInt32()
	if err != nil {
		return nil, false, errors.E(err, errs.IO, "bref: reading block haplotype count")
	}
	hapToSeq := make([]int32, nHap)
	for i := range hapToSeq {
		v, err := br.readInt32()
		if err != nil {
			return nil, false, errors.E(err, errs.IO, "bref: reading hap-to-seq map", "hap", i)
		}
		hapToSeq[i] = v
	}

	block := &Block{Chrom: chrom, HapToSeq: hapToSeq, Markers: make([]Record, nMarkers)}
	for m := 0; m < nMarkers; m++ {
		rec, err := br.readRecord(int(nHap))
		if err != nil {
			return nil, false, errors.E(err, errs.IO, "bref: reading marker record", "chrom", chrom, "marker", m)
		}
		block.Markers[m] = rec
	}
	return block, true, nil
}

func (br *Reader) readRecord(nHap int) (Record, error) {
	codeTag, err := br.readInt32()
	if err != nil {
		return Record{}, err
	}
	switch codeTag {
	case 0:
		nSeq, err := br.readInt32()
		if err != nil {
			return Record{}, err
		}
		table := make([]byte, nSeq)
		if _, err := io.ReadFull(br.r, table); err != nil {
			return Record{}, err
		}
		return Record{Coded: true, SeqAllele: table}, nil
	case 1:
		nAlleles, err := br.readInt32()
		if err != nil {
			return Record{}, err
		}
		hapsPerAllele := make([][]int32, nAlleles)
		for a := 0; a < int(nAlleles); a++ {
			length, err := br.readInt32()
			if err != nil {
				return Record{}, err
			}
			if length < 0 {
				hapsPerAllele[a] = nil // sentinel "null" allele
				continue
			}
			haps := make([]int32, length)
			for i := range haps {
				v, err := br.readInt32()
				if err != nil {
					return Record{}, err
				}
				haps[i] = v
			}
			hapsPerAllele[a] = haps
		}
		return Record{Coded: false, AlleleHaps: hapsPerAllele}, nil
	default:
		return Record{}, errors.E(errs.InputValidation, "bref: unknown record tag", "tag", codeTag)
	}
}

// Index reads the trailing (offset, firstPos) index following the
// end-of-data marker, terminated by the sentinel and a trailing pointer
// int64 (which the caller does not need once the index itself is read
// sequentially, since NextBlock already consumed everything up to here).
func (br *Reader) Index() ([]IndexEntry, error) {
	var entries []IndexEntry
	for {
		offset, err := br.readInt64()
		if err != nil {
			return nil, errors.E(err, errs.IO, "bref: reading index offset")
		}
		if offset == indexSentinel {
			break
		}
		firstPos, err := br.readInt64()
		if err != nil {
			return nil, errors.E(err, errs.IO, "bref: reading index firstPos")
		}
		entries = append(entries, IndexEntry{Offset: offset, FirstPos: firstPos})
	}
	// Trailing pointer to the index itself; present for random-access
	// readers seeking straight to the index. A forward-scanning reader has
	// no use for it.
	if _, err := br.readInt64(); err != nil && pkgerrors.Cause(err) != io.EOF {
		return nil, errors.E(err, errs.IO, "bref: reading trailing index pointer")
	}
	return entries, nil
}

func (br *Reader) readInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return 0, pkgerrors.Wrap(err, "bref: short read (int32)")
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func (br *Reader) readInt64() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return 0, pkgerrors.Wrap(err, "bref: short read (int64)")
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (br *Reader) readString() (string, error) {
	n, err := br.readInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", errors.E(errs.InputValidation, "bref: negative string length", "length", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return "", pkgerrors.Wrap(err, "bref: short read (string body)")
	}
	return string(buf), nil
}
