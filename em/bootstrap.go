package em

import (
	"github.com/sequolab/lanc/accum"
	"github.com/sequolab/lanc/genmap"
	"github.com/sequolab/lanc/hmm"
	"github.com/sequolab/lanc/params"
	"github.com/sequolab/lanc/transition"
)

// Bootstrap implements spec §4.H's per-ancestry initialization path: for
// each ancestry, a degenerate single-ancestry HMM (μ=[1], A=1, restricted to
// that ancestry's allowed panels) is run over a leave-one-out composite of
// that ancestry's own reference haplotypes to learn a panel-copying row and
// a switch rate, which are folded into an otherwise-default Bundle via
// params.PartiallyUpdated.
//
// refTargets[i] holds one Target per reference haplotype belonging to
// ancestry i, already composite-assembled (leave-one-out) by the caller
// against only that ancestry's allowed reference panels.
func Bootstrap(data *params.SampleData, gm *genmap.Table, hapPanel func(hap int32) int, refAllele func(hap int32, marker int) byte, nHapsInPanel []int, maxSlots int, t, initRho, initTheta float64, refTargets [][]Target) (*params.Bundle, error) {
	defaults, err := params.FromBootstrap(t, initRho, initTheta, data)
	if err != nil {
		return nil, err
	}
	current := defaults
	for i := 0; i < data.NumAncestries(); i++ {
		allowed := data.AncestryPanels(i)
		if len(allowed) == 0 || len(refTargets[i]) == 0 {
			continue
		}
		subData := data.RestrictToPanels(allowed)
		subNHaps := make([]int, len(allowed))
		for k, j := range allowed {
			subNHaps[k] = nHapsInPanel[j]
		}
		share := 1.0 / float64(len(allowed))
		subP := make([]float64, len(allowed))
		subTheta := make([]float64, len(allowed))
		for k := range subP {
			subP[k] = share
			subTheta[k] = initTheta
		}
		subBundle, err := params.New(t, []float64{1.0}, [][]float64{subP}, [][]float64{subTheta}, []float64{initRho}, subData)
		if err != nil {
			return nil, err
		}
		cache, err := transition.New(subBundle, gm, subNHaps)
		if err != nil {
			return nil, err
		}
		acc := accum.New(1, len(allowed))
		m := len(gm.GenDist())
		ev := hmm.NewEvaluator(1, maxSlots, m)
		for _, tgt := range refTargets[i] {
			if err := ev.Reset(hmm.Config{
				Cache:       cache,
				GenDist:     gm.GenDist(),
				State:       tgt.State,
				HapPanel:    hapPanel,
				RefAllele:   refAllele,
				QueryAllele: tgt.QueryAllele,
			}); err != nil {
				return nil, err
			}
			if err := ev.RunRhoP(acc, 0); err != nil {
				return nil, err
			}
		}
		learnedP := acc.FinalizeP([][]float64{subP})[0]
		learnedRho := acc.FinalizeRho([]float64{initRho})[0]

		fullPRow := make([]float64, data.NumPanels())
		for k, j := range allowed {
			fullPRow[j] = learnedP[k]
		}
		current, err = params.PartiallyUpdated(current, i, fullPRow, learnedRho)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}
