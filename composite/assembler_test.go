package composite

import "testing"

func newTestAssembler(maxSlots, minSteps, m int) *Assembler {
	stepMarker := make([]int, 20)
	for i := range stepMarker {
		stepMarker[i] = i * (m / 20)
	}
	return New(Opts{MaxSlots: maxSlots, MinSteps: minSteps, StepMarker: stepMarker, NumMarkers: m})
}

func TestConsumeCapsSlotsAtMaxSlots(t *testing.T) {
	a := newTestAssembler(3, 4, 1000)
	for step := 0; step < 10; step++ {
		a.Consume(int32(100+step), step)
	}
	if len(a.slots) > 3 {
		t.Fatalf("slots grew beyond MaxSlots: %d", len(a.slots))
	}
}

func TestConsumeReusesSameHaplotype(t *testing.T) {
	a := newTestAssembler(3, 4, 1000)
	a.Consume(5, 0)
	a.Consume(5, 1)
	a.Consume(5, 2)
	if len(a.slots) != 1 {
		t.Fatalf("expected 1 slot for repeated haplotype, got %d", len(a.slots))
	}
	if a.slots[0].lastStep != 2 {
		t.Errorf("lastStep not updated: %d", a.slots[0].lastStep)
	}
}

func TestFinishCoversWholeChromosome(t *testing.T) {
	a := newTestAssembler(2, 1, 1000)
	a.Consume(10, 0)
	a.Consume(11, 1)
	// Force a recycle: 11's slot (or 10's) will go stale after minSteps=1.
	a.Consume(12, 5)
	st := a.Finish(0, 42, []int32{10, 11, 12})
	if st.NumSlots() == 0 {
		t.Fatal("expected populated slots")
	}
	for sl := 0; sl < st.NumSlots(); sl++ {
		// Every marker in [0, M) must resolve to some haplotype.
		for _, m := range []int{0, 1, 250, 500, 999} {
			hap := st.Panel(m, sl)
			if hap < 0 {
				t.Errorf("slot %d marker %d: no haplotype assigned", sl, m)
			}
		}
	}
}

func TestFinishFallsBackToRandomWhenEmpty(t *testing.T) {
	a := newTestAssembler(3, 4, 1000)
	refHaps := []int32{20, 21, 22, 23, 24}
	st := a.Finish(7, 1, refHaps)
	if st.NumSlots() == 0 {
		t.Fatal("expected fallback slots to be populated")
	}
	if st.NumSlots() > 3 {
		t.Fatalf("fallback produced more than MaxSlots: %d", st.NumSlots())
	}
}

func TestFallbackIsDeterministic(t *testing.T) {
	a1 := newTestAssembler(3, 4, 1000)
	a2 := newTestAssembler(3, 4, 1000)
	refHaps := []int32{20, 21, 22, 23, 24, 25, 26}
	st1 := a1.Finish(7, 99, refHaps)
	st2 := a2.Finish(7, 99, refHaps)
	if st1.NumSlots() != st2.NumSlots() {
		t.Fatalf("fallback slot counts differ: %d vs %d", st1.NumSlots(), st2.NumSlots())
	}
	for sl := 0; sl < st1.NumSlots(); sl++ {
		if st1.Panel(0, sl) != st2.Panel(0, sl) {
			t.Errorf("fallback not deterministic at slot %d: %d vs %d", sl, st1.Panel(0, sl), st2.Panel(0, sl))
		}
	}
}

func TestMismatch(t *testing.T) {
	a := newTestAssembler(2, 4, 1000)
	a.Consume(10, 0)
	st := a.Finish(0, 1, nil)
	allele := func(hap int32, marker int) byte {
		if hap == 10 && marker == 5 {
			return 1
		}
		return 0
	}
	if !st.Mismatch(5, 0, allele, 0) {
		t.Error("expected mismatch at marker 5")
	}
	if st.Mismatch(6, 0, allele, 0) {
		t.Error("expected no mismatch at marker 6")
	}
}
