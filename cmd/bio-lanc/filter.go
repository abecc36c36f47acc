package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/genmap"
)

// loadIDSetFromPath opens path and parses it with loadIDSet, reporting the
// close error (if any) alongside a read error.
func loadIDSetFromPath(ctx context.Context, path string) (set map[string]bool, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening ID list", "path", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	set, err = loadIDSet(f.Reader(ctx))
	return
}

// loadIDSet reads a one-ID-per-line text file (marker exclude lists,
// gt-samples subsets), skipping blank lines and '#' comments.
func loadIDSet(r io.Reader) (map[string]bool, error) {
	set := map[string]bool{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, errs.IO, "reading ID list")
	}
	return set, nil
}

// hapSource is the minimal allele-lookup capability engine.Config.RefGeno/
// TgtGeno need; satisfied structurally by bref.Store, vcfio.Targets, and the
// marker/sample remappings below.
type hapSource interface {
	Allele(hap int32, m int) byte
}

// reindexedMarkers wraps a hapSource, remapping marker index m to keep[m] —
// used to drop excluded/low-MAF/low-MAC markers without copying the
// underlying allele matrix.
type reindexedMarkers struct {
	inner hapSource
	keep  []int
}

func (r reindexedMarkers) Allele(hap int32, m int) byte { return r.inner.Allele(hap, r.keep[m]) }

// reindexedHaps wraps a hapSource, remapping haplotype index h to hapMap[h]
// — used by gt-samples to restrict target processing to a sample subset
// without copying the underlying allele matrix.
type reindexedHaps struct {
	inner  hapSource
	hapMap []int32
}

func (r reindexedHaps) Allele(hap int32, m int) byte { return r.inner.Allele(r.hapMap[hap], m) }

// markerFilter decides, for one marker, whether it survives the
// excludemarkers / min-maf / min-mac filters (spec §6 CLI surface,
// supplemented per SPEC_FULL.md). Reference allele frequency is computed by
// counting the coded-0 allele across every reference haplotype; multiallelic
// sites are treated as biallelic (0 vs. anything else) for this purpose,
// since bref3 and VCF reference alike only expose Allele(hap,m) byte.
type markerFilter struct {
	exclude map[string]bool
	minMAF  float64
	minMAC  int
}

// apply computes the keep mask over numMarkers markers and returns the
// filtered marker indices.
func (f markerFilter) apply(ids []string, ref hapSource, refNumHap, numMarkers int) ([]int, error) {
	keep := make([]int, 0, numMarkers)
	for m := 0; m < numMarkers; m++ {
		if f.exclude != nil && m < len(ids) && f.exclude[ids[m]] {
			continue
		}
		if f.minMAF <= 0 && f.minMAC <= 0 {
			keep = append(keep, m)
			continue
		}
		count0 := 0
		for h := 0; h < refNumHap; h++ {
			if ref.Allele(int32(h), m) == 0 {
				count0++
			}
		}
		countAlt := refNumHap - count0
		mac := count0
		if countAlt < mac {
			mac = countAlt
		}
		maf := float64(mac) / float64(refNumHap)
		if maf < f.minMAF || mac < f.minMAC {
			continue
		}
		keep = append(keep, m)
	}
	return keep, nil
}

// projectGenMap builds a Table whose markers line up 1:1 with positions, by
// linearly interpolating cM values from src (spec genmap.Table.Interpolate),
// since the genetic map file's own marker set need not match the
// reference/target marker set exactly.
func projectGenMap(src *genmap.Table, chrom string, positions []int64) *genmap.Table {
	cm := make([]float64, len(positions))
	for i, bp := range positions {
		cm[i] = src.Interpolate(bp)
	}
	return &genmap.Table{Chrom: chrom, Positions: append([]int64(nil), positions...), CM: cm}
}

// findChromTable returns the Table for chrom among tables, or an error if
// none matches.
func findChromTable(tables []*genmap.Table, chrom string) (*genmap.Table, error) {
	for _, t := range tables {
		if t.Chrom == chrom {
			return t, nil
		}
	}
	return nil, errors.E(errs.InputValidation, "genetic map has no entry for chromosome", "chrom", chrom)
}
