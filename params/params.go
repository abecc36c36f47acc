// Package params holds the immutable model-parameter bundle (spec section 3
// and component I) and the sample/panel/ancestry metadata it's built from.
// The HMM evaluator (package hmm) depends only on Bundle's accessor methods,
// never on how a particular Bundle was constructed, per spec section 9's
// "capability set, not a tagged variant" design note.
package params

import (
	"bufio"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/internal/textscan"
)

// Bundle is the immutable parameter bundle: generations since admixture (T),
// global ancestry proportions (Mu), panel-copying probabilities (P),
// miscopy probabilities (Theta), and per-ancestry pre-admixture switch rates
// (Rho), plus the sample metadata needed to interpret them.
type Bundle struct {
	t     float64
	mu    []float64
	p     [][]float64
	theta [][]float64
	rho   []float64
	data  *SampleData
}

// T returns generations since admixture.
func (b *Bundle) T() float64 { return b.t }

// Mu returns global ancestry proportions, summing to 1.
func (b *Bundle) Mu() []float64 { return b.mu }

// P returns panel-copying probabilities; P()[i] sums to 1 for each ancestry i.
func (b *Bundle) P() [][]float64 { return b.p }

// Theta returns per-(ancestry, panel) allele-mismatch probabilities.
func (b *Bundle) Theta() [][]float64 { return b.theta }

// Rho returns per-ancestry pre-admixture switch rates.
func (b *Bundle) Rho() []float64 { return b.rho }

// SampleData returns the panel/ancestry/sample metadata this bundle was
// built against.
func (b *Bundle) SampleData() *SampleData { return b.data }

// NumAncestries returns A, the number of ancestries.
func (b *Bundle) NumAncestries() int { return len(b.mu) }

// NumPanels returns P, the number of reference panels.
func (b *Bundle) NumPanels() int { return b.data.NumPanels() }

// New validates and constructs a Bundle from already-normalized (or
// near-normalized, per spec tolerance) components. It is the common
// constructor used by FromModelFile, FromBootstrap, FromEM (the EM
// re-estimation step), and PartiallyUpdated (the per-ancestry bootstrap).
func New(t float64, mu []float64, p, theta [][]float64, rho []float64, data *SampleData) (*Bundle, error) {
	a := len(mu)
	if a < 2 {
		return nil, errors.E(errs.InputValidation, "fewer than 2 ancestries", "count", a)
	}
	if t <= 0 {
		return nil, errors.E(errs.InputValidation, "T must be positive", "T", t)
	}
	if len(p) != a || len(theta) != a || len(rho) != a {
		return nil, errors.E(errs.InputValidation, "parameter row count does not match ancestry count")
	}
	if err := checkSimplex(mu, "mu"); err != nil {
		return nil, err
	}
	for i := range p {
		if err := checkSimplex(p[i], "p"); err != nil {
			return nil, err
		}
		for j, th := range theta[i] {
			if th < 0 || th > 1 {
				return nil, errors.E(errs.InputValidation, "theta out of [0,1]", "ancestry", i, "panel", j, "theta", th)
			}
		}
		if rho[i] <= 0 {
			return nil, errors.E(errs.InputValidation, "rho must be positive", "ancestry", i, "rho", rho[i])
		}
	}
	return &Bundle{t: t, mu: mu, p: p, theta: theta, rho: rho, data: data}, nil
}

func checkSimplex(row []float64, name string) error {
	sum := 0.0
	for _, v := range row {
		if v < 0 || v > 1 {
			return errors.E(errs.InputValidation, name+" entry out of [0,1]", "value", v)
		}
		sum += v
	}
	if sum < 0.99 || sum > 1.01 {
		return errors.E(errs.InputValidation, name+" row does not sum to 1 within tolerance", "sum", sum)
	}
	return nil
}

// Normalize renormalizes row to sum to 1, falling back to prev if the sum is
// zero (spec section 3's EM-invariant fallback rule).
func Normalize(row, prev []float64) []float64 {
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum == 0 {
		out := make([]float64, len(prev))
		copy(out, prev)
		return out
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = v / sum
	}
	return out
}

// FiniteAndPositive reports whether v is finite and > 0, the guard spec
// section 3 requires for rho/T estimates before accepting them.
func FiniteAndPositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PartiallyUpdated builds a new Bundle that keeps defaults' Mu/Theta/T but
// substitutes a learned P row and Rho value for one ancestry, used by the
// per-ancestry bootstrap initialization path (spec section 4.H).
func PartiallyUpdated(defaults *Bundle, ancestry int, pRow []float64, rho float64) (*Bundle, error) {
	p := make([][]float64, len(defaults.p))
	copy(p, defaults.p)
	p[ancestry] = pRow
	rhoCopy := make([]float64, len(defaults.rho))
	copy(rhoCopy, defaults.rho)
	rhoCopy[ancestry] = rho
	return New(defaults.t, defaults.mu, p, defaults.theta, rhoCopy, defaults.data)
}

// modelFileScanner reads the model file's section-structured grammar (spec
// §6): whitespace-delimited rows, blank lines and '#' comments skipped.
type modelFileScanner struct {
	sc     *bufio.Scanner
	lineNo int
}

func newModelFileScanner(r io.Reader) *modelFileScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &modelFileScanner{sc: sc}
}

// nextRow returns the next non-comment, non-blank line's fields, or an error
// if the stream ends first.
func (m *modelFileScanner) nextRow() ([][]byte, error) {
	for m.sc.Scan() {
		m.lineNo++
		line := m.sc.Bytes()
		if textscan.IsComment(line) {
			continue
		}
		fields := make([][]byte, 1<<8)
		n := textscan.Tokens(fields, line)
		return fields[:n], nil
	}
	if err := m.sc.Err(); err != nil {
		return nil, errors.E(err, errs.IO, "reading model file")
	}
	return nil, errors.E(errs.InputValidation, "model file ended early", "line", m.lineNo)
}

// readFields returns the next row's fields as strings, requiring exactly n.
func (m *modelFileScanner) readFields(n int) ([]string, error) {
	fields, err := m.nextRow()
	if err != nil {
		return nil, err
	}
	if len(fields) != n {
		return nil, errors.E(errs.InputValidation, "model file row has wrong column count", "line", m.lineNo, "want", n, "got", len(fields))
	}
	out := make([]string, n)
	for i, f := range fields {
		out[i] = string(f)
	}
	return out, nil
}

// readFloats returns the next row's fields parsed as float64, requiring
// exactly n.
func (m *modelFileScanner) readFloats(n int) ([]float64, error) {
	fields, err := m.nextRow()
	if err != nil {
		return nil, err
	}
	if len(fields) != n {
		return nil, errors.E(errs.InputValidation, "model file row has wrong column count", "line", m.lineNo, "want", n, "got", len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(string(f), 64)
		if err != nil {
			return nil, errors.E(err, errs.InputValidation, "bad numeric value in model file", "line", m.lineNo)
		}
		out[i] = v
	}
	return out, nil
}

// FromModelFile reads a model file in the section-structured grammar spec §6
// describes: an ancestry-name header row, a panel-name header row, then in
// order T (1 number), Mu (A numbers), P (A rows of P numbers), Theta (A rows
// of P numbers), Rho (A numbers). Comments start with '#'. The header rows
// must name data's ancestries and panels, in order, so a model file can't be
// silently replayed against mismatched sample metadata.
func FromModelFile(r io.Reader, data *SampleData) (*Bundle, error) {
	a := data.NumAncestries()
	numPanels := data.NumPanels()
	m := newModelFileScanner(r)

	ancestryNames, err := m.readFields(a)
	if err != nil {
		return nil, err
	}
	for i, name := range ancestryNames {
		if name != data.AncestryName(i) {
			return nil, errors.E(errs.InputValidation, "model file ancestry header does not match sample data", "index", i, "want", data.AncestryName(i), "got", name)
		}
	}

	panelNames, err := m.readFields(numPanels)
	if err != nil {
		return nil, err
	}
	for j, name := range panelNames {
		if name != data.PanelName(j) {
			return nil, errors.E(errs.InputValidation, "model file panel header does not match sample data", "index", j, "want", data.PanelName(j), "got", name)
		}
	}

	tRow, err := m.readFloats(1)
	if err != nil {
		return nil, err
	}
	t := tRow[0]

	mu, err := m.readFloats(a)
	if err != nil {
		return nil, err
	}

	p := make([][]float64, a)
	for i := range p {
		if p[i], err = m.readFloats(numPanels); err != nil {
			return nil, err
		}
	}

	theta := make([][]float64, a)
	for i := range theta {
		if theta[i], err = m.readFloats(numPanels); err != nil {
			return nil, err
		}
	}

	rho, err := m.readFloats(a)
	if err != nil {
		return nil, err
	}

	return New(t, mu, p, theta, rho, data)
}

// WriteModelFile writes a Bundle in the section-structured grammar
// FromModelFile reads, using the teacher's tsv.Writer for each row.
func WriteModelFile(w io.Writer, b *Bundle) error {
	tw := tsv.NewWriter(w)
	a := len(b.mu)
	numPanels := b.NumPanels()

	for i := 0; i < a; i++ {
		tw.WriteString(b.data.AncestryName(i))
	}
	if err := tw.EndLine(); err != nil {
		return errors.E(err, errs.IO, "writing model file ancestry header")
	}
	for j := 0; j < numPanels; j++ {
		tw.WriteString(b.data.PanelName(j))
	}
	if err := tw.EndLine(); err != nil {
		return errors.E(err, errs.IO, "writing model file panel header")
	}

	tw.WriteString(strconv.FormatFloat(b.t, 'g', -1, 64))
	if err := tw.EndLine(); err != nil {
		return errors.E(err, errs.IO, "writing model file T")
	}

	for i := 0; i < a; i++ {
		tw.WriteString(strconv.FormatFloat(b.mu[i], 'g', -1, 64))
	}
	if err := tw.EndLine(); err != nil {
		return errors.E(err, errs.IO, "writing model file mu")
	}

	for i := 0; i < a; i++ {
		for j := 0; j < numPanels; j++ {
			tw.WriteString(strconv.FormatFloat(b.p[i][j], 'g', -1, 64))
		}
		if err := tw.EndLine(); err != nil {
			return errors.E(err, errs.IO, "writing model file p row")
		}
	}

	for i := 0; i < a; i++ {
		for j := 0; j < numPanels; j++ {
			tw.WriteString(strconv.FormatFloat(b.theta[i][j], 'g', -1, 64))
		}
		if err := tw.EndLine(); err != nil {
			return errors.E(err, errs.IO, "writing model file theta row")
		}
	}

	for i := 0; i < a; i++ {
		tw.WriteString(strconv.FormatFloat(b.rho[i], 'g', -1, 64))
	}
	if err := tw.EndLine(); err != nil {
		return errors.E(err, errs.IO, "writing model file rho")
	}

	return tw.Flush()
}

// FromBootstrap builds a starting Bundle for EM: Mu uniform over ancestries,
// P uniform over each ancestry's allowed panels (zero elsewhere), Theta set
// to a small constant miscopy rate, and Rho set to a shared initial value —
// the bootstrap spec §4.H describes before the per-ancestry refinement loop.
func FromBootstrap(t, initRho, initTheta float64, data *SampleData) (*Bundle, error) {
	a := data.NumAncestries()
	P := data.NumPanels()
	mu := make([]float64, a)
	for i := range mu {
		mu[i] = 1.0 / float64(a)
	}
	p := make([][]float64, a)
	theta := make([][]float64, a)
	rho := make([]float64, a)
	for i := 0; i < a; i++ {
		pRow := make([]float64, P)
		allowed := data.AncestryPanels(i)
		if len(allowed) > 0 {
			share := 1.0 / float64(len(allowed))
			for _, j := range allowed {
				pRow[j] = share
			}
		}
		thetaRow := make([]float64, P)
		for j := range thetaRow {
			thetaRow[j] = initTheta
		}
		p[i] = pRow
		theta[i] = thetaRow
		rho[i] = initRho
	}
	return New(t, mu, p, theta, rho, data)
}

// FromEM builds the final Bundle from an EM iteration's re-estimated
// parameters (spec §4.H's re-estimation step), reusing New's validation.
func FromEM(t float64, mu []float64, p, theta [][]float64, rho []float64, data *SampleData) (*Bundle, error) {
	return New(t, mu, p, theta, rho, data)
}
