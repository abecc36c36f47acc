package hmm

import (
	"github.com/grailbio/base/errors"
	"github.com/sequolab/lanc/errs"
)

// MarkerFunc is invoked once per marker during Run, with fwdPrev (marker
// m-1's values, nil at m=0), fwdCur (marker m's values), bwdCur (marker m's
// backward values), and ancMassPrev (Σ_s fwd[i][s] at marker m-1, nil at
// m=0). Implementations must not retain the slices past the call, since
// they are reused for the next marker.
type MarkerFunc func(m int, fwdPrev, fwdCur, bwdCur []float64, ancMassPrev []float64)

// Run drives the full forward pass with √M-window-checkpointed backward
// recomputation (spec §4.F), invoking fn once per marker in increasing
// order. The Evaluator must have been Reset with a composite state and
// transition cache first.
func (e *Evaluator) Run(fn MarkerFunc) error {
	if e.S == 0 {
		return errors.E(errs.Internal, "evaluator has zero slots; Reset was not called")
	}
	e.buildCheckpoints()
	e.windowStart = -1

	presum := e.initForward()
	if presum <= 0 {
		return errors.E(errs.Internal, "forward lattice degenerate at marker 0")
	}
	e.ensureWindow(0)
	fn(0, nil, e.fwdCur, e.window[0-e.windowStart], nil)
	e.swapForward()

	for m := 1; m < e.M; m++ {
		copy(e.ancMassPrev, e.ancMass)
		presum := e.stepForward(m)
		if presum <= 0 {
			return errors.E(errs.Internal, "forward lattice degenerate", "marker", m)
		}
		e.ensureWindow(m)
		fn(m, e.fwdPrev, e.fwdCur, e.window[m-e.windowStart], e.ancMassPrev)
		e.swapForward()
	}
	return nil
}

// buildCheckpoints runs one full backward sweep from the last marker down to
// 0, snapshotting the lattice at the last marker of every window (spec
// §4.F's checkpoint strategy).
func (e *Evaluator) buildCheckpoints() {
	cur, next := e.bwdSweepCur, e.bwdSweepNext
	e.initBackwardBase(cur)
	e.maybeCheckpoint(e.M-1, cur)
	for m := e.M - 2; m >= 0; m-- {
		e.stepBackward(m, cur, next)
		cur, next = next, cur
		e.maybeCheckpoint(m, cur)
	}
}

func (e *Evaluator) windowOf(m int) int { return m / e.windowSize }

// windowLast returns the highest marker index belonging to window w.
func (e *Evaluator) windowLast(w int) int {
	last := w*e.windowSize + e.windowSize - 1
	if last > e.M-1 {
		last = e.M - 1
	}
	return last
}

func (e *Evaluator) maybeCheckpoint(m int, lat []float64) {
	w := e.windowOf(m)
	if m == e.windowLast(w) {
		copy(e.checkpoints[w], lat)
	}
}

// ensureWindow materializes the backward window covering marker m into
// e.window, recomputing it from the window's saved checkpoint (the bwd
// lattice at the window's last marker) only when the forward cursor has
// crossed into a new window.
func (e *Evaluator) ensureWindow(m int) {
	w := e.windowOf(m)
	windowStart := w * e.windowSize
	if e.windowStart == windowStart {
		return
	}
	wLast := e.windowLast(w)
	cur, next := e.bwdSweepCur, e.bwdSweepNext
	copy(cur, e.checkpoints[w])
	copy(e.window[wLast-windowStart], cur)
	for mm := wLast - 1; mm >= windowStart; mm-- {
		e.stepBackward(mm, cur, next)
		cur, next = next, cur
		copy(e.window[mm-windowStart], cur)
	}
	e.windowStart = windowStart
}
