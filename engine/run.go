// Package engine wires components A-H into one per-chromosome pipeline
// (spec §5): step/code the combined reference+target haplotype matrix,
// scan it with the PBWT for IBS matches, assemble a composite reference
// state per target haplotype, optionally train parameters with EM, then
// evaluate the forward/backward posterior and write the ancestry VCF.
//
// The worker pool follows encoding/bam's AdjacentShardedBAMReader.GetShard()
// atomic-work-queue shape, generalized from BAM shards to target
// haplotypes, using github.com/grailbio/base/traverse.Each the same way
// em.Driver's accumulate step does — deliberately the same idiom in both
// packages, since both are "divide N independent units of work over a
// fixed worker pool" problems.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/sequolab/lanc/coding"
	"github.com/sequolab/lanc/composite"
	"github.com/sequolab/lanc/em"
	"github.com/sequolab/lanc/encoding/vcfio"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/hmm"
	"github.com/sequolab/lanc/params"
	"github.com/sequolab/lanc/pbwt"
	"github.com/sequolab/lanc/transition"
)

// Config bundles everything one chromosome's run needs. Reference and
// target haplotypes share one flat index space: [0, RefNumHap) is the
// reference, [RefNumHap, RefNumHap+2*len(SampleNames)) the target, diploid
// samples occupying two consecutive indices each. This lets the PBWT
// scanner and composite assembler operate over a single combined
// haplotype matrix without caring which backing store (bref.Store or
// vcfio.Targets) an index came from.
type Config struct {
	Chrom   string
	GenMap  *genmap.Table
	Bundle  *params.Bundle
	RefGeno HapSource
	TgtGeno HapSource

	NHapsInPanel []int
	HapPanel     func(refHap int32) int

	SampleNames []string
	IDs         []string
	Ref         []string
	Alt         []string
	Positions   []int64

	StepCM       float64
	IBSHaps      int
	IBSBufferCM  float64
	IBSRecycleCM float64
	MaxSlots     int
	NumWorkers   int
	Seed         int64

	RunEM         bool
	EMIterations  int
	EMHaps        int
	UpdateP       bool
	DeltaMu       float64
	DeltaP        float64
	EMAncProb     float64

	EmitProbs bool
	Writer    *vcfio.Writer
}

// HapSource looks up a coded allele for a haplotype at a marker; both
// bref.Store and vcfio.Targets satisfy it.
type HapSource interface {
	Allele(hap int32, m int) byte
}

// Run executes the full A-H pipeline for one chromosome and writes the
// ancestry-annotated VCF to cfg.Writer, returning the final parameter
// bundle (the input bundle unchanged if RunEM is false).
func Run(cfg Config) (*params.Bundle, error) {
	m := len(cfg.GenMap.CM)
	if m == 0 {
		return nil, errors.E(errs.InputValidation, "engine: empty genetic map")
	}
	refNumHap := cfg.refHapCount()
	numTargetHap := 2 * len(cfg.SampleNames)
	totalHap := refNumHap + numTargetHap

	combinedAllele := func(hap int32, marker int) byte {
		if int(hap) < refNumHap {
			return cfg.RefGeno.Allele(hap, marker)
		}
		return cfg.TgtGeno.Allele(hap-int32(refNumHap), marker)
	}

	steps := coding.BuildSteps(cfg.GenMap.CM, cfg.StepCM)
	if len(steps) == 0 {
		return nil, errors.E(errs.InputValidation, "engine: no PBWT steps produced")
	}
	stepMarker := make([]int, len(steps))
	hapToSeq := make([][]int32, len(steps))
	alphabet := make([]int, len(steps))
	for i, step := range steps {
		stepMarker[i] = step.Start
		alleles := make([][]int32, step.End-step.Start)
		for k := range alleles {
			marker := step.Start + k
			row := make([]int32, totalHap)
			for h := 0; h < totalHap; h++ {
				row[h] = int32(combinedAllele(int32(h), marker))
			}
			alleles[k] = row
		}
		codes := coding.EncodeStep(step, alleles, totalHap)
		hapToSeq[i] = codes
		max := 0
		for _, c := range codes {
			if int(c) > max {
				max = int(c)
			}
		}
		alphabet[i] = max + 1
	}

	targetHaps := make([]int32, numTargetHap)
	for i := range targetHaps {
		targetHaps[i] = int32(refNumHap + i)
	}
	isRef := func(hap int32) bool { return int(hap) < refNumHap }

	burnInSteps := int(math.Ceil(cfg.IBSBufferCM / cfg.StepCM))
	scanner := pbwt.NewScanner(totalHap)
	scanOpts := pbwt.Opts{
		HapToSeq:    hapToSeq,
		Alphabet:    alphabet,
		Queries:     targetHaps,
		IsRef:       isRef,
		KHaps:       cfg.IBSHaps,
		BurnInSteps: burnInSteps,
		BatchSteps:  batchSteps(len(steps), cfg.NumWorkers),
		Parallelism: cfg.NumWorkers,
	}
	fwdMatches := scanner.ScanForward(scanOpts)
	bwdMatches := scanner.ScanBackward(scanOpts)

	minSteps := int(math.Ceil(cfg.IBSRecycleCM / cfg.StepCM))
	if minSteps < 1 {
		minSteps = 1
	}
	refHapsForFallback := make([]int32, refNumHap)
	for h := range refHapsForFallback {
		refHapsForFallback[h] = int32(h)
	}

	workers := cfg.NumWorkers
	if workers < 1 {
		workers = 1
	}

	targets := make([]em.Target, numTargetHap)
	log.Printf("engine: assembling composite reference states for %d target haplotypes", numTargetHap)
	var assembleCursor int64 = -1
	err := traverse.Each(workers, func(int) error {
		asm := composite.New(composite.Opts{
			MaxSlots:   cfg.MaxSlots,
			MinSteps:   minSteps,
			StepMarker: stepMarker,
			NumMarkers: m,
		})
		for {
			idx := int(atomic.AddInt64(&assembleCursor, 1))
			if idx >= len(targetHaps) {
				break
			}
			q := targetHaps[idx]
			asm.Reset()
			consumeBoth(asm, fwdMatches[q], bwdMatches[q])
			state := asm.Finish(q, cfg.Seed+int64(q), refHapsForFallback)

			queryAllele := make([]byte, m)
			for mk := 0; mk < m; mk++ {
				queryAllele[mk] = combinedAllele(q, mk)
			}
			targets[idx] = em.Target{State: state, QueryAllele: queryAllele}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	current := cfg.Bundle
	if cfg.RunEM {
		driver := &em.Driver{
			GenMap:       cfg.GenMap,
			HapPanel:     cfg.HapPanel,
			RefAllele:    cfg.RefGeno.Allele,
			NHapsInPanel: cfg.NHapsInPanel,
			Targets:      targets,
			NumIterations: cfg.EMIterations,
			NumHaps:       cfg.EMHaps,
			Seed:          cfg.Seed,
			UpdateP:       cfg.UpdateP,
			DeltaMu:       cfg.DeltaMu,
			DeltaP:        cfg.DeltaP,
			EMAncProb:     cfg.EMAncProb,
			MaxSlots:      cfg.MaxSlots,
			NumWorkers:    cfg.NumWorkers,
		}
		current, err = driver.Run(current)
		if err != nil {
			return nil, err
		}
	}

	cache, err := transition.New(current, cfg.GenMap, cfg.NHapsInPanel)
	if err != nil {
		return nil, err
	}
	genDist := cfg.GenMap.GenDist()
	a := current.NumAncestries()

	posteriors := make([][][]float64, numTargetHap) // posteriors[hap][marker][ancestry]
	err = traverse.Each(workers, func(worker int) error {
		ev := hmm.NewEvaluator(a, cfg.MaxSlots, m)
		for qi := worker; qi < numTargetHap; qi += workers {
			out := make([][]float64, m)
			for mk := range out {
				out[mk] = make([]float64, a)
			}
			if err := ev.Reset(hmm.Config{
				Cache:       cache,
				GenDist:     genDist,
				State:       targets[qi].State,
				HapPanel:    cfg.HapPanel,
				RefAllele:   cfg.RefGeno.Allele,
				QueryAllele: targets[qi].QueryAllele,
			}); err != nil {
				return err
			}
			if err := ev.RunPosterior(out); err != nil {
				return err
			}
			posteriors[qi] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for mk := 0; mk < m; mk++ {
		calls := make([]vcfio.Call, numTargetHap)
		for qi := 0; qi < numTargetHap; qi++ {
			row := posteriors[qi][mk]
			anc := argmax(row)
			var probs []float64
			if cfg.EmitProbs {
				probs = row
			}
			calls[qi] = vcfio.Call{
				Allele:   combinedAllele(targetHaps[qi], mk),
				Ancestry: anc,
				Probs:    probs,
			}
		}
		id := ""
		if mk < len(cfg.IDs) {
			id = cfg.IDs[mk]
		}
		ref, alt := "", ""
		if mk < len(cfg.Ref) {
			ref = cfg.Ref[mk]
		}
		if mk < len(cfg.Alt) {
			alt = cfg.Alt[mk]
		}
		if err := cfg.Writer.WriteRecord(cfg.Chrom, cfg.Positions[mk], id, ref, alt, calls); err != nil {
			return nil, err
		}
	}

	return current, nil
}

// refHapCount returns the total reference haplotype count, derived from
// NHapsInPanel (the per-panel counts passed in by the caller, the same
// input transition.New requires).
func (cfg Config) refHapCount() int {
	n := 0
	for _, c := range cfg.NHapsInPanel {
		n += c
	}
	return n
}

// consumeBoth feeds one target haplotype's forward- and backward-scan
// emissions into asm in a single increasing-step traversal. fwdSteps and
// bwdSteps are both indexed over the same full step range [0, nSteps)
// (pbwt.Scanner's contract), so replaying them as two separate step-0..N-1
// loops would hand composite.Assembler.Consume a non-monotonic step
// sequence on the second pass; Consume's recency-ordered heap requires
// steps to never decrease across calls.
func consumeBoth(asm *composite.Assembler, fwdSteps, bwdSteps [][]int32) {
	n := len(fwdSteps)
	if len(bwdSteps) > n {
		n = len(bwdSteps)
	}
	for step := 0; step < n; step++ {
		if step < len(fwdSteps) {
			for _, h := range fwdSteps[step] {
				if h >= 0 {
					asm.Consume(h, step)
				}
			}
		}
		if step < len(bwdSteps) {
			for _, h := range bwdSteps[step] {
				if h >= 0 {
					asm.Consume(h, step)
				}
			}
		}
	}
}

func batchSteps(nSteps, workers int) int {
	if workers < 1 {
		workers = 1
	}
	b := (nSteps + workers - 1) / workers
	if b < 1 {
		b = 1
	}
	return b
}

func argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
