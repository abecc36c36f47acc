// Package coding partitions a chromosome's markers into equal-cM steps and
// reduces each haplotype's allele sequence within a step to a small integer
// index, via an in-step PBWT pass (spec component B).
package coding

import (
	"math"

	"github.com/sequolab/lanc/pbwt"
)

// Step is a half-open marker interval [Start, End).
type Step struct {
	Start, End int
}

// BuildSteps partitions the M markers described by cm (per-marker cM
// position) into steps of approximately stepCM width each. nSteps =
// ceil(totalCM/stepCM); boundaries are placed at the marker whose cM value
// first reaches each multiple of stepCM.
func BuildSteps(cm []float64, stepCM float64) []Step {
	m := len(cm)
	if m == 0 {
		return nil
	}
	if stepCM <= 0 {
		stepCM = 0.01
	}
	totalCM := cm[m-1] - cm[0]
	nSteps := int(math.Ceil(totalCM / stepCM))
	if nSteps < 1 {
		nSteps = 1
	}
	steps := make([]Step, 0, nSteps)
	start := 0
	base := cm[0]
	for s := 1; s <= nSteps; s++ {
		threshold := base + float64(s)*stepCM
		end := start
		for end < m && (s == nSteps || cm[end] < threshold) {
			end++
		}
		if end <= start {
			end = start + 1
		}
		if end > m {
			end = m
		}
		steps = append(steps, Step{Start: start, End: end})
		start = end
		if start >= m {
			break
		}
	}
	return steps
}

// EncodeStep reduces each haplotype's allele sequence within one step to a
// small per-step-local integer: haplotypes with identical alleles across the
// whole step get the same code. A single-marker step uses the allele
// directly (0/1). A multi-marker step runs a PBWT forward pass over the
// step's markers and assigns a fresh sequence index to haplotype a[i]
// whenever its divergence d[i] does not reach back to the step's first
// marker (i.e. d[i] > step.Start), meaning it started a new run within the
// step.
//
// alleles[k] is the length-H allele vector (0/1) for marker step.Start+k.
func EncodeStep(step Step, alleles [][]int32, h int) []int32 {
	n := step.End - step.Start
	hapToSeq := make([]int32, h)
	if n == 0 {
		return hapToSeq
	}
	if n == 1 {
		copy(hapToSeq, alleles[0])
		return hapToSeq
	}

	s := pbwt.New(h)
	for k := 0; k < n; k++ {
		s.Update(step.Start+k, 2, alleles[k])
	}

	seq := int32(0)
	for i := 0; i < h; i++ {
		hap := s.A[i]
		if i == 0 || s.D[i] > int32(step.Start) {
			seq++
		}
		hapToSeq[hap] = seq - 1
	}
	return hapToSeq
}
