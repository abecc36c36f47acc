package params

import (
	"bufio"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/internal/textscan"
)

// SampleData holds the panel-membership map, the optional ancestry->panel
// allowlist, and the optional per-target ancestry-proportion table (spec
// section 3 and section 6).
type SampleData struct {
	panelNames    []string       // index -> panel name
	panelIndex    map[string]int // name -> index
	sampleToPanel map[string]int // reference sample ID -> panel index

	ancestryNames []string  // index -> ancestry name
	ancestryPanel [][]int32 // ancestryPanel[i] = allowed panel indices for ancestry i

	// targetProportions, if supplied, maps a target sample ID to its prior
	// ancestry-proportion vector.
	targetProportions map[string][]float64
}

// NumPanels returns P.
func (d *SampleData) NumPanels() int { return len(d.panelNames) }

// PanelName returns the name of panel index j.
func (d *SampleData) PanelName(j int) string { return d.panelNames[j] }

// PanelOf returns the panel index for a reference sample ID, and whether it
// was found.
func (d *SampleData) PanelOf(sampleID string) (int, bool) {
	idx, ok := d.sampleToPanel[sampleID]
	return idx, ok
}

// AncestryPanels returns the panel indices ancestry i is allowed to copy
// from.
func (d *SampleData) AncestryPanels(i int) []int32 { return d.ancestryPanel[i] }

// AncestryName returns the name of ancestry index i.
func (d *SampleData) AncestryName(i int) string { return d.ancestryNames[i] }

// NumAncestries returns A.
func (d *SampleData) NumAncestries() int { return len(d.ancestryNames) }

// TargetProportions returns the prior ancestry-proportion vector for a target
// sample, and whether one was supplied.
func (d *SampleData) TargetProportions(sampleID string) ([]float64, bool) {
	if d.targetProportions == nil {
		return nil, false
	}
	v, ok := d.targetProportions[sampleID]
	return v, ok
}

// LoadPanelMap reads a two-column "sampleId panelId" text file (spec
// section 6), assigning panel indices in first-seen order.
func LoadPanelMap(r io.Reader) (*SampleData, error) {
	d := &SampleData{
		panelIndex:    map[string]int{},
		sampleToPanel: map[string]int{},
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	var tokens [2][]byte
	tokSlice := tokens[:]
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if textscan.IsComment(line) {
			continue
		}
		n := textscan.Tokens(tokSlice, line)
		if n < 2 {
			return nil, errors.E(errs.InputValidation, "malformed panel map line", "line", lineNo)
		}
		sample := string(tokens[0])
		panel := string(tokens[1])
		if _, dup := d.sampleToPanel[sample]; dup {
			return nil, errors.E(errs.InputValidation, "duplicate sample in panel map", "sample", sample, "line", lineNo)
		}
		idx, ok := d.panelIndex[panel]
		if !ok {
			idx = len(d.panelNames)
			d.panelIndex[panel] = idx
			d.panelNames = append(d.panelNames, panel)
		}
		d.sampleToPanel[sample] = idx
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, errs.IO, "error reading panel map")
	}
	if len(d.panelNames) > 32767 {
		return nil, errors.E(errs.Compatibility, "more than 32767 reference panels", "count", len(d.panelNames))
	}
	return d, nil
}

// LoadAncestryMap reads an "ancestryId panelId[,panelId...]" text file
// restricting each ancestry to a subset of panels (spec section 3). Every
// panel named must already exist in d (from LoadPanelMap) and every panel
// referenced in any ancestry's allowlist must be nonempty.
func (d *SampleData) LoadAncestryMap(r io.Reader) error {
	names := []string{}
	allow := [][]int32{}
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	var tokens [2][]byte
	tokSlice := tokens[:]
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if textscan.IsComment(line) {
			continue
		}
		n := textscan.Tokens(tokSlice, line)
		if n < 2 {
			return errors.E(errs.InputValidation, "malformed ancestry map line", "line", lineNo)
		}
		anc := string(tokens[0])
		if seen[anc] {
			return errors.E(errs.InputValidation, "duplicated ancestry label", "ancestry", anc, "line", lineNo)
		}
		seen[anc] = true
		panelNames := splitComma(tokens[1])
		panelIdxs := make([]int32, 0, len(panelNames))
		for _, pn := range panelNames {
			idx, ok := d.panelIndex[pn]
			if !ok {
				return errors.E(errs.InputValidation, "unknown panel identifier in ancestry map", "panel", pn, "line", lineNo)
			}
			panelIdxs = append(panelIdxs, int32(idx))
		}
		names = append(names, anc)
		allow = append(allow, panelIdxs)
	}
	if err := scanner.Err(); err != nil {
		return errors.E(err, errs.IO, "error reading ancestry map")
	}
	if len(names) < 2 {
		return errors.E(errs.InputValidation, "fewer than 2 ancestries", "count", len(names))
	}
	d.ancestryNames = names
	d.ancestryPanel = allow
	return nil
}

// DefaultAncestries treats every panel as its own ancestry (the bijective
// default when no ancestry->panel map is supplied).
func (d *SampleData) DefaultAncestries() {
	d.ancestryNames = append([]string(nil), d.panelNames...)
	d.ancestryPanel = make([][]int32, len(d.panelNames))
	for i := range d.panelNames {
		d.ancestryPanel[i] = []int32{int32(i)}
	}
}

func splitComma(field []byte) []string {
	out := []string{}
	start := 0
	for i := 0; i <= len(field); i++ {
		if i == len(field) || field[i] == ',' {
			if i > start {
				out = append(out, string(field[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

// LoadTargetProportions reads the optional per-target ancestry-proportions
// file: a header row "SAMPLE <ancestryId...>" followed by one row per
// sample. Rows must sum to 1 within tolerance 0.01. Samples present in the
// file but absent from the target VCF are silently ignored by the caller
// (spec section 9, open question iv) — this loader just returns everything
// it parsed.
func (d *SampleData) LoadTargetProportions(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return errors.E(errs.InputValidation, "empty ancestry-proportions file")
	}
	header := splitFields(scanner.Text())
	if len(header) < 2 {
		return errors.E(errs.InputValidation, "malformed ancestry-proportions header")
	}
	ancCols := header[1:]
	result := map[string][]float64{}
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		fields := splitFields(line)
		if len(fields) != len(header) {
			return errors.E(errs.InputValidation, "row column count mismatch", "line", lineNo)
		}
		sample := fields[0]
		props := make([]float64, len(ancCols))
		sum := 0.0
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return errors.E(err, errs.InputValidation, "bad proportion value", "line", lineNo)
			}
			props[i] = v
			sum += v
		}
		if sum < 0.99 || sum > 1.01 {
			return errors.E(errs.InputValidation, "ancestry proportions do not sum to 1", "sample", sample, "sum", sum, "line", lineNo)
		}
		result[sample] = props
	}
	if err := scanner.Err(); err != nil {
		return errors.E(err, errs.IO, "error reading ancestry-proportions file")
	}
	d.targetProportions = result
	return nil
}

func splitFields(line string) []string {
	var tokens [64][]byte
	n := textscan.Tokens(tokens[:], []byte(line))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = string(tokens[i])
	}
	return out
}

// RestrictToPanels returns a new SampleData scoped to just the given panel
// indices (renumbered 0..len(panels)-1, in the given order), with a single
// ancestry allowed to copy from all of them. Used by the EM driver's
// per-ancestry bootstrap (spec §4.H) to build a degenerate single-ancestry
// sub-problem out of one ancestry's allowed reference panels.
func (d *SampleData) RestrictToPanels(panels []int32) *SampleData {
	names := make([]string, len(panels))
	idx := make(map[string]int, len(panels))
	for k, p := range panels {
		names[k] = d.panelNames[p]
		idx[names[k]] = k
	}
	allow := make([]int32, len(panels))
	for k := range panels {
		allow[k] = int32(k)
	}
	return &SampleData{
		panelNames:    names,
		panelIndex:    idx,
		sampleToPanel: map[string]int{},
		ancestryNames: []string{"bootstrap"},
		ancestryPanel: [][]int32{allow},
	}
}

// SortedPanelNames returns a copy of the panel names sorted alphabetically,
// a convenience for deterministic display; the result is not in panel-index
// order.
func (d *SampleData) SortedPanelNames() []string {
	out := make([]string, len(d.panelNames))
	copy(out, d.panelNames)
	sort.Strings(out) // only used for display/debug contexts expecting a stable order
	return out
}
