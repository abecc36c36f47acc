// bio-lanc infers per-marker local ancestry for phased target haplotypes
// against a reference panel, using a composite-reference HMM driven by PBWT
// IBS scanning (spec §5/§6). Flag style follows cmd/bio-pileup/main.go:
// descriptive flag.String/flag.Int vars plus grail.Init()/defer shutdown().
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/sequolab/lanc/encoding/bref"
	"github.com/sequolab/lanc/encoding/vcfio"
	"github.com/sequolab/lanc/engine"
	"github.com/sequolab/lanc/errs"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/params"
)

var (
	refPath      = flag.String("ref", "", "Required. Reference phased genotype path: VCF (optionally .gz/.bgz) or bref3 (.bref/.bref3)")
	refPanelPath = flag.String("ref-panel", "", "Required. Two-column \"sampleId panelId\" reference panel-membership file")
	gtPath       = flag.String("gt", "", "Required. Target phased genotype VCF path")
	mapPath      = flag.String("map", "", "Required. PLINK-style genetic map path")
	outPath      = flag.String("out", "", "Required. Output ancestry VCF path (bgzf-compressed)")

	gen            = flag.Float64("gen", 0, "Generations since admixture (T); required unless -model is given")
	modelPath      = flag.String("model", "", "Optional pretrained model file path; overrides -gen bootstrap")
	runEM          = flag.Bool("em", false, "Run EM parameter re-estimation before scoring")
	updateP        = flag.Bool("update-p", false, "During EM, also re-estimate panel-copying probabilities P")
	gtSamplesPath  = flag.String("gt-samples", "", "Optional file listing target sample IDs to restrict processing to")
	gtAncestries   = flag.String("gt-ancestries", "", "Optional \"ancestryId panelId[,panelId...]\" ancestry->panel allowlist file; default is one ancestry per panel")
	excludeMarkers = flag.String("excludemarkers", "", "Optional file of marker IDs to drop before scoring")
	nThreads       = flag.Int("nthreads", 0, "Worker goroutines; values below 1 run a single worker")
	seed           = flag.Int64("seed", 1, "PRNG seed for deterministic subsampling and random reference-haplotype fallback")
	array          = flag.Bool("array", false, "Input is genotyping-array data; skips min-maf/min-mac marker QC (arrays are assumed pre-QCed)")
	minMAF         = flag.Float64("min-maf", 0, "Drop reference markers with minor allele frequency below this threshold")
	minMAC         = flag.Int("min-mac", 0, "Drop reference markers with minor allele count below this threshold")
	emitProbs      = flag.Bool("probs", false, "Emit per-ancestry posterior probabilities (ANP1/ANP2) in the output VCF")

	emIts      = flag.Int("em-its", 20, "Maximum EM iterations")
	emHaps     = flag.Int("em-haps", 100, "Target haplotype subset size sampled per EM iteration")
	ibsStep    = flag.Float64("ibs-step", 0.01, "PBWT step width, in cM")
	ibsBuffer  = flag.Float64("ibs-buffer", 2.0, "PBWT batch burn-in margin, in cM")
	ibsHaps    = flag.Int("ibs-haps", 4, "Reference haplotypes emitted per query per step")
	ibsRecycle = flag.Float64("ibs-recycle", 4.0, "Minimum quiet period, in cM, before a composite-state slot may be recycled")
	states     = flag.Int("states", 100, "Composite reference panel size S (max slots per target haplotype)")
	deltaMu    = flag.Float64("delta-mu", 0.03, "EM convergence tolerance for mu")
	deltaP     = flag.Float64("delta-p", 0.03, "EM convergence tolerance for P (only checked when -update-p is set)")
	emAncProb  = flag.Float64("em-anc-prob", 0.01, "Discard EM occupancy contributions below this normalized ancestry mass")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -ref=... -ref-panel=... -gt=... -map=... -out=... [options]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	shutdown := grail.Init()
	defer shutdown()

	if *refPath == "" || *refPanelPath == "" || *gtPath == "" || *mapPath == "" || *outPath == "" {
		log.Fatalf("missing required flag: -ref, -ref-panel, -gt, -map, and -out are all required")
	}
	if *modelPath == "" && *gen <= 0 {
		log.Fatalf("-gen must be positive unless -model is given")
	}

	ctx := vcontext.Background()
	if err := run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("bio-lanc: done")
}

func run(ctx context.Context) (err error) {
	target, err := readTargets(ctx, *gtPath)
	if err != nil {
		return err
	}

	sampleNames := target.SampleNames
	var tgt hapSource = target
	if *gtSamplesPath != "" {
		sampleNames, tgt, err = restrictTargetSamples(ctx, *gtSamplesPath, target)
		if err != nil {
			return err
		}
	}

	refSrc, refSampleNames, refNumHap, refNumMarkers, err := loadReference(ctx, *refPath)
	if err != nil {
		return err
	}
	if refNumMarkers != target.NumMarkers() {
		return errors.E(errs.Compatibility, "reference and target marker counts differ", "ref", refNumMarkers, "target", target.NumMarkers())
	}

	data, err := loadSampleData(ctx, *refPanelPath, *gtAncestries)
	if err != nil {
		return err
	}
	nHapsInPanel, hapPanel, err := buildPanelAssignment(data, refSampleNames, refNumHap)
	if err != nil {
		return err
	}

	gmTables, err := loadGenMap(ctx, *mapPath)
	if err != nil {
		return err
	}
	srcTable, err := findChromTable(gmTables, target.Chrom)
	if err != nil {
		return err
	}

	keep, err := buildMarkerKeep(ctx, target, refSrc, refNumHap)
	if err != nil {
		return err
	}

	positions := make([]int64, len(keep))
	ids := make([]string, len(keep))
	refAlleles := make([]string, len(keep))
	altAlleles := make([]string, len(keep))
	for i, m := range keep {
		positions[i] = target.Positions[m]
		ids[i] = target.IDs[m]
		refAlleles[i] = target.Ref[m]
		altAlleles[i] = target.Alt[m]
	}
	gm := projectGenMap(srcTable, target.Chrom, positions)

	bundle, err := loadOrBootstrapBundle(ctx, data)
	if err != nil {
		return err
	}

	ancestryNames := make([]string, data.NumAncestries())
	for i := range ancestryNames {
		ancestryNames[i] = data.AncestryName(i)
	}

	dst, err := file.Create(ctx, *outPath)
	if err != nil {
		return errors.E(err, errs.IO, "creating -out file")
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w, err := vcfio.NewWriter(dst.Writer(ctx), 6, target.Chrom, sampleNames, ancestryNames, *emitProbs)
	if err != nil {
		return err
	}

	cfg := engine.Config{
		Chrom:        target.Chrom,
		GenMap:       gm,
		Bundle:       bundle,
		RefGeno:      reindexedMarkers{inner: refSrc, keep: keep},
		TgtGeno:      reindexedMarkers{inner: tgt, keep: keep},
		NHapsInPanel: nHapsInPanel,
		HapPanel:     hapPanel,
		SampleNames:  sampleNames,
		IDs:          ids,
		Ref:          refAlleles,
		Alt:          altAlleles,
		Positions:    positions,
		StepCM:       *ibsStep,
		IBSHaps:      *ibsHaps,
		IBSBufferCM:  *ibsBuffer,
		IBSRecycleCM: *ibsRecycle,
		MaxSlots:     *states,
		NumWorkers:   *nThreads,
		Seed:         *seed,
		RunEM:        *runEM,
		EMIterations: *emIts,
		EMHaps:       *emHaps,
		UpdateP:      *updateP,
		DeltaMu:      *deltaMu,
		DeltaP:       *deltaP,
		EMAncProb:    *emAncProb,
		EmitProbs:    *emitProbs,
		Writer:       w,
	}

	if _, err := engine.Run(cfg); err != nil {
		return err
	}
	return w.Close()
}

func restrictTargetSamples(ctx context.Context, path string, target *vcfio.Targets) ([]string, hapSource, error) {
	wantSet, err := loadIDSetFromPath(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	keptNames := make([]string, 0, len(wantSet))
	hapMap := make([]int32, 0, 2*len(wantSet))
	for i, s := range target.SampleNames {
		if wantSet[s] {
			keptNames = append(keptNames, s)
			hapMap = append(hapMap, int32(2*i), int32(2*i+1))
		}
	}
	if len(keptNames) == 0 {
		return nil, nil, errors.E(errs.InputValidation, "-gt-samples matched no target samples")
	}
	return keptNames, reindexedHaps{inner: target, hapMap: hapMap}, nil
}

func buildMarkerKeep(ctx context.Context, target *vcfio.Targets, refSrc hapSource, refNumHap int) ([]int, error) {
	var excl map[string]bool
	if *excludeMarkers != "" {
		var err error
		excl, err = loadIDSetFromPath(ctx, *excludeMarkers)
		if err != nil {
			return nil, err
		}
	}
	mf := markerFilter{exclude: excl}
	if !*array {
		mf.minMAF = *minMAF
		mf.minMAC = *minMAC
	}
	keep, err := mf.apply(target.IDs, refSrc, refNumHap, target.NumMarkers())
	if err != nil {
		return nil, err
	}
	if len(keep) == 0 {
		return nil, errors.E(errs.InputValidation, "no markers survived filtering")
	}
	return keep, nil
}

func loadOrBootstrapBundle(ctx context.Context, data *params.SampleData) (bundle *params.Bundle, err error) {
	if *modelPath == "" {
		return params.FromBootstrap(*gen, *gen, 0.01, data)
	}
	f, err := file.Open(ctx, *modelPath)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening -model file")
	}
	defer file.CloseAndReport(ctx, f, &err)
	bundle, err = params.FromModelFile(f.Reader(ctx), data)
	return
}

func readTargets(ctx context.Context, path string) (targets *vcfio.Targets, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening -gt file", "path", path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	r, err := vcfio.Open(f.Reader(ctx), path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	targets, err = vcfio.ReadTargets(r)
	return
}

func loadReference(ctx context.Context, path string) (src hapSource, sampleNames []string, numHap, numMarkers int, err error) {
	lower := strings.ToLower(path)
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, 0, 0, errors.E(err, errs.IO, "opening -ref file", "path", path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	if strings.HasSuffix(lower, ".bref") || strings.HasSuffix(lower, ".bref3") {
		store, err := bref.Load(f.Reader(ctx))
		if err != nil {
			return nil, nil, 0, 0, err
		}
		return store, store.Samples, store.NumHap, store.NumMarkers, nil
	}
	r, err := vcfio.Open(f.Reader(ctx), path)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	defer r.Close()
	refTargets, err := vcfio.ReadTargets(r)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	src, sampleNames, numHap, numMarkers = refTargets, refTargets.SampleNames, refTargets.NumHap(), refTargets.NumMarkers()
	return
}

func loadSampleData(ctx context.Context, panelPath, ancestryPath string) (data *params.SampleData, err error) {
	if data, err = readPanelMap(ctx, panelPath); err != nil {
		return nil, err
	}
	if ancestryPath == "" {
		data.DefaultAncestries()
		return data, nil
	}
	af, err := file.Open(ctx, ancestryPath)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening -gt-ancestries file")
	}
	defer file.CloseAndReport(ctx, af, &err)
	err = data.LoadAncestryMap(af.Reader(ctx))
	return data, err
}

func readPanelMap(ctx context.Context, path string) (data *params.SampleData, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening -ref-panel file")
	}
	defer file.CloseAndReport(ctx, f, &err)
	data, err = params.LoadPanelMap(f.Reader(ctx))
	return
}

func buildPanelAssignment(data *params.SampleData, sampleNames []string, numHap int) ([]int, func(int32) int, error) {
	if len(sampleNames)*2 != numHap {
		return nil, nil, errors.E(errs.Internal, "reference sample count does not match haplotype count", "samples", len(sampleNames), "haps", numHap)
	}
	hapPanelIdx := make([]int32, numHap)
	nHapsInPanel := make([]int, data.NumPanels())
	for i, s := range sampleNames {
		panelIdx, ok := data.PanelOf(s)
		if !ok {
			return nil, nil, errors.E(errs.InputValidation, "reference sample missing from -ref-panel", "sample", s)
		}
		hapPanelIdx[2*i] = int32(panelIdx)
		hapPanelIdx[2*i+1] = int32(panelIdx)
		nHapsInPanel[panelIdx] += 2
	}
	for j, n := range nHapsInPanel {
		if n == 0 {
			return nil, nil, errors.E(errs.InputValidation, "reference panel has no haplotypes", "panel", data.PanelName(j))
		}
	}
	return nHapsInPanel, func(hap int32) int { return int(hapPanelIdx[hap]) }, nil
}

func loadGenMap(ctx context.Context, path string) (tables []*genmap.Table, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, errs.IO, "opening -map file")
	}
	defer file.CloseAndReport(ctx, f, &err)
	tables, err = genmap.Load(f.Reader(ctx))
	return
}
