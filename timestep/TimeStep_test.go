package timestep

import (
	"testing"
)

func TestBatchDone(t *testing.T) {
	b := Batch{
		Rewards:    []float64{0, 0, 0},
		Terminated: []bool{true, false, false},
		Truncated:  []bool{false, true, false},
	}

	if !b.Done(0) || !b.Done(1) || b.Done(2) {
		t.Errorf("done flags (%v, %v, %v), want (true, true, false)",
			b.Done(0), b.Done(1), b.Done(2))
	}
	if b.AllDone() {
		t.Error("batch with a running episode reported all done")
	}

	b.Truncated[2] = true
	if !b.AllDone() {
		t.Error("fully finished batch not reported all done")
	}
}

func TestBatchPosition(t *testing.T) {
	b := Batch{Positions: []int{1, 2, 3, 4}}
	if r, c := b.Position(1); r != 3 || c != 4 {
		t.Errorf("position (%d, %d), want (3, 4)", r, c)
	}
}

func TestBatchFirst(t *testing.T) {
	if !(Batch{Kind: First}).First() {
		t.Error("First batch not reported first")
	}
	if (Batch{Kind: Mid}).First() {
		t.Error("Mid batch reported first")
	}
}
