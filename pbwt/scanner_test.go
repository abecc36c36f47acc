package pbwt

import "testing"

// buildStepCodes constructs per-step hapToSeq vectors directly (bypassing
// coding.EncodeStep) for scanner unit tests, where hap h's code at step s is
// given by codes[s][h].
func buildStepCodes(codes [][]int32) ([][]int32, []int) {
	alphabet := make([]int, len(codes))
	for s, col := range codes {
		max := int32(-1)
		for _, v := range col {
			if v > max {
				max = v
			}
		}
		alphabet[s] = int(max) + 1
	}
	return codes, alphabet
}

func TestScanForwardEmissionBound(t *testing.T) {
	// 6 haplotypes: 0,1 are "target", 2..5 are reference.
	codes := [][]int32{
		{0, 0, 0, 0, 1, 1},
		{0, 1, 0, 1, 0, 1},
		{0, 0, 1, 1, 0, 0},
	}
	hapToSeq, alphabet := buildStepCodes(codes)
	sc := NewScanner(6)
	isRef := func(h int32) bool { return h >= 2 }
	res := sc.ScanForward(Opts{
		HapToSeq:    hapToSeq,
		Alphabet:    alphabet,
		Queries:     []int32{0, 1},
		IsRef:       isRef,
		KHaps:       4,
		BurnInSteps: 0,
		BatchSteps:  3,
	})
	for _, q := range []int32{0, 1} {
		for step, emissions := range res[q] {
			if len(emissions) != 2 {
				t.Fatalf("query %d step %d: got %d emissions, want 2 (KHaps/2)", q, step, len(emissions))
			}
			for _, hap := range emissions {
				if hap != -1 && !isRef(hap) {
					t.Errorf("query %d step %d emitted non-reference haplotype %d", q, step, hap)
				}
			}
		}
	}
}

func TestScanForwardExactCopyAlwaysEmitted(t *testing.T) {
	// Haplotype 0 (target) is an exact copy of haplotype 3 (reference) at
	// every step.
	codes := [][]int32{
		{5, 1, 2, 5, 3},
		{0, 1, 1, 0, 1},
		{2, 2, 0, 2, 1},
		{1, 0, 0, 1, 1},
	}
	hapToSeq, alphabet := buildStepCodes(codes)
	sc := NewScanner(5)
	isRef := func(h int32) bool { return h >= 1 }
	res := sc.ScanForward(Opts{
		HapToSeq:    hapToSeq,
		Alphabet:    alphabet,
		Queries:     []int32{0},
		IsRef:       isRef,
		KHaps:       4,
		BurnInSteps: 0,
		BatchSteps:  4,
	})
	for step, emissions := range res[0] {
		found := false
		for _, hap := range emissions {
			if hap == 3 {
				found = true
			}
		}
		if !found {
			t.Errorf("step %d: exact-copy reference haplotype 3 not emitted, got %v", step, emissions)
		}
	}
}

func TestScanBackwardEmissionBound(t *testing.T) {
	codes := [][]int32{
		{0, 0, 0, 0, 1, 1},
		{0, 1, 0, 1, 0, 1},
		{0, 0, 1, 1, 0, 0},
	}
	hapToSeq, alphabet := buildStepCodes(codes)
	sc := NewScanner(6)
	isRef := func(h int32) bool { return h >= 2 }
	res := sc.ScanBackward(Opts{
		HapToSeq:    hapToSeq,
		Alphabet:    alphabet,
		Queries:     []int32{0, 1},
		IsRef:       isRef,
		KHaps:       4,
		BurnInSteps: 1,
		BatchSteps:  2,
	})
	for _, q := range []int32{0, 1} {
		if len(res[q]) != 3 {
			t.Fatalf("expected 3 steps of results, got %d", len(res[q]))
		}
		for _, emissions := range res[q] {
			if len(emissions) != 2 {
				t.Fatalf("expected 2 emissions per step, got %d", len(emissions))
			}
		}
	}
}
