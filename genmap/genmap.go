// Package genmap parses a PLINK-style genetic map and derives the per-marker
// distance and recombination-probability tables the HMM needs (spec
// component A). A Table is built once per chromosome and shared read-only
// across all worker goroutines.
package genmap

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/internal/textscan"
)

// Table holds per-marker genetic-map coordinates for one chromosome, plus the
// intermarker cM distances derived from them. Markers are ordered by
// position; Positions and CM are parallel slices.
type Table struct {
	Chrom     string
	Positions []int64   // base-pair position of each marker
	CM        []float64 // centiMorgan position of each marker
	genDist   []float64 // genDist[m] = max(0, CM[m]-CM[m-1]); genDist[0]=0
}

// Load reads a PLINK-style map file ("chrom rsID cM bp", whitespace
// delimited, '#' comments allowed) and returns one Table per chromosome
// encountered, in first-seen order. Lines are not required to be sorted by
// position; each chromosome's rows are sorted by bp after reading.
func Load(r io.Reader) ([]*Table, error) {
	type row struct {
		cm float64
		bp int64
	}
	order := []string{}
	rows := map[string][]row{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	var tokens [4][]byte
	tokSlice := tokens[:]
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if textscan.IsComment(line) {
			continue
		}
		n := textscan.Tokens(tokSlice, line)
		if n < 4 {
			return nil, errors.E(errs.InputValidation, "malformed genetic map line", "line", lineNo, "expected 4 columns")
		}
		chrom := string(tokens[0])
		cm, err := strconv.ParseFloat(string(tokens[2]), 64)
		if err != nil {
			return nil, errors.E(err, errs.InputValidation, "bad cM value", "line", lineNo)
		}
		bp, err := strconv.ParseInt(string(tokens[3]), 10, 64)
		if err != nil {
			return nil, errors.E(err, errs.InputValidation, "bad bp value", "line", lineNo)
		}
		if _, ok := rows[chrom]; !ok {
			order = append(order, chrom)
		}
		rows[chrom] = append(rows[chrom], row{cm: cm, bp: bp})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, errs.IO, "error reading genetic map")
	}

	tables := make([]*Table, 0, len(order))
	for _, chrom := range order {
		rs := rows[chrom]
		sort.Slice(rs, func(i, j int) bool { return rs[i].bp < rs[j].bp })
		t := &Table{Chrom: chrom, Positions: make([]int64, len(rs)), CM: make([]float64, len(rs))}
		for i, r := range rs {
			t.Positions[i] = r.bp
			t.CM[i] = r.cm
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// GenDist returns genDist[m] = max(0, CM[m]-CM[m-1]), with genDist[0] = 0.
// The result is cached after the first call.
func (t *Table) GenDist() []float64 {
	if t.genDist != nil {
		return t.genDist
	}
	d := make([]float64, len(t.CM))
	for m := 1; m < len(t.CM); m++ {
		delta := t.CM[m] - t.CM[m-1]
		if delta < 0 {
			delta = 0
		}
		d[m] = delta
	}
	t.genDist = d
	return d
}

// PRec returns, for recombination rate r, pRec(r)[m] = 1 - exp(-0.01 *
// genDist[m] * r). pRec(r)[0] is guaranteed to be 0.
func (t *Table) PRec(r float64) []float64 {
	genDist := t.GenDist()
	out := make([]float64, len(genDist))
	for m, gd := range genDist {
		out[m] = 1 - math.Exp(-0.01*gd*r)
	}
	out[0] = 0
	return out
}

// TotalCM returns the cM span of the chromosome, CM[last]-CM[0]. Zero markers
// yields 0.
func (t *Table) TotalCM() float64 {
	if len(t.CM) == 0 {
		return 0
	}
	return t.CM[len(t.CM)-1] - t.CM[0]
}

// Interpolate returns a linearly-interpolated cM value for a base-pair
// position not necessarily present among t.Positions, clamping to the first
// or last map entry outside the mapped range.
func (t *Table) Interpolate(bp int64) float64 {
	n := len(t.Positions)
	if n == 0 {
		return 0
	}
	i := sort.Search(n, func(i int) bool { return t.Positions[i] >= bp })
	if i == 0 {
		return t.CM[0]
	}
	if i == n {
		return t.CM[n-1]
	}
	if t.Positions[i] == bp {
		return t.CM[i]
	}
	lo, hi := i-1, i
	span := float64(t.Positions[hi] - t.Positions[lo])
	if span <= 0 {
		return t.CM[lo]
	}
	frac := float64(bp-t.Positions[lo]) / span
	return t.CM[lo] + frac*(t.CM[hi]-t.CM[lo])
}
