package needle

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
	"sfneuman.com/needle/timestep"
	"sfneuman.com/needle/utils/tensorutils"
)

// fixedStarter always starts every episode at the same grid position.
type fixedStarter struct {
	row, col int
}

func (f fixedStarter) Start(batch, rows, cols int) []int {
	positions := make([]int, 2*batch)
	for b := 0; b < batch; b++ {
		positions[2*b] = f.row
		positions[2*b+1] = f.col
	}
	return positions
}

func newTestEnv(t *testing.T, batch int, boxes [][]Box,
	config Config) *Env {
	t.Helper()
	images := randomImages(batch, 1, 8, 8, 99)
	env, err := New(images, boxes, config)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestNewValidation(t *testing.T) {
	images := randomImages(2, 1, 8, 8, 7)
	boxes := [][]Box{nil, nil}
	good := Config{PatchSize: 2, MaxEpLen: 4, GlimpseLevels: 2}

	cases := []struct {
		name   string
		images *tensor.Dense
		boxes  [][]Box
		config Config
	}{
		{"box sets mismatch", images, [][]Box{nil}, good},
		{"patch size zero", images, boxes,
			Config{PatchSize: 0, MaxEpLen: 4, GlimpseLevels: 2}},
		{"non-divisible patch", images, boxes,
			Config{PatchSize: 3, MaxEpLen: 4, GlimpseLevels: 2}},
		{"zero levels", images, boxes,
			Config{PatchSize: 2, MaxEpLen: 4, GlimpseLevels: 0}},
		{"zero horizon", images, boxes,
			Config{PatchSize: 2, MaxEpLen: 0, GlimpseLevels: 2}},
	}
	for _, c := range cases {
		if _, err := New(c.images, c.boxes, c.config); err == nil {
			t.Errorf("%v: expected construction error", c.name)
		}
	}
}

func TestStepWrapsPositions(t *testing.T) {
	batch := 3
	env := newTestEnv(t, batch, [][]Box{nil, nil, nil},
		Config{PatchSize: 2, MaxEpLen: 50, GlimpseLevels: 2, Seed: 11})
	env.Reset()

	rows, cols := env.GridDims()
	rng := rand.New(rand.NewSource(13))
	for step := 0; step < 30; step++ {
		moves := make([]int, 2*batch)
		for i := range moves {
			// Arbitrary displacements, well outside the grid.
			moves[i] = rng.Intn(21) - 10
		}
		env.Step(moves)

		for b := 0; b < batch; b++ {
			pos := env.Positions()
			r, c := pos[2*b], pos[2*b+1]
			if r < 0 || r >= rows || c < 0 || c >= cols {
				t.Fatalf("step %d: episode %d at (%d, %d), outside "+
					"(%d, %d) grid", step, b, r, c, rows, cols)
			}
		}
	}
}

func TestWrapOpposingMovesCancel(t *testing.T) {
	env := newTestEnv(t, 1, [][]Box{nil}, Config{
		PatchSize: 2, MaxEpLen: 10, GlimpseLevels: 1,
		Starter: fixedStarter{row: 1, col: 1},
	})
	env.Reset()

	env.Step([]int{-3, 5})
	env.Step([]int{3, -5})
	pos := env.Positions()
	if pos[0] != 1 || pos[1] != 1 {
		t.Errorf("opposing displacements should cancel, at (%d, %d)",
			pos[0], pos[1])
	}
}

func TestScoresMonotoneAndBounded(t *testing.T) {
	batch := 2
	boxes := [][]Box{
		{{X1: 0, Y1: 0, X2: 4, Y2: 4}},
		{{X1: 2, Y1: 2, X2: 6, Y2: 6}},
	}
	env := newTestEnv(t, batch, boxes,
		Config{PatchSize: 2, MaxEpLen: 40, GlimpseLevels: 2, Seed: 5})
	env.Reset()

	prev := env.Scores()
	maxScores := env.MaxScores()
	rng := rand.New(rand.NewSource(17))
	for step := 0; step < 40; step++ {
		moves := make([]int, 2*batch)
		for i := range moves {
			moves[i] = rng.Intn(3) - 1
		}
		env.Step(moves)

		scores := env.Scores()
		for b := 0; b < batch; b++ {
			if scores[b] < prev[b] {
				t.Fatalf("step %d: episode %d score decreased %d -> %d",
					step, b, prev[b], scores[b])
			}
			if scores[b] > maxScores[b] {
				t.Fatalf("step %d: episode %d score %d exceeds max %d",
					step, b, scores[b], maxScores[b])
			}
		}
		prev = scores
	}
}

func TestZeroTargetEpisode(t *testing.T) {
	// An image with no boxes yields zero reward everywhere and never
	// terminates before truncation.
	env := newTestEnv(t, 1, [][]Box{nil}, Config{
		PatchSize: 2, MaxEpLen: 6, GlimpseLevels: 2,
		Starter: fixedStarter{row: 0, col: 0},
	})
	first := env.Reset()
	if first.Terminated[0] {
		t.Fatal("zero-target episode terminated at reset")
	}

	var step timestep.Batch
	var done bool
	rng := rand.New(rand.NewSource(23))
	for i := 0; i < 6; i++ {
		action := rng.Intn(len(Moves))
		step, done = env.Step(Displacements([]int{action}))
		if step.Rewards[0] != 0 {
			t.Fatalf("step %d: zero-target reward %v, want 0", i,
				step.Rewards[0])
		}
		if step.Coverage[0] != 0 {
			t.Fatalf("step %d: zero-target coverage %v, want 0", i,
				step.Coverage[0])
		}
		if step.Terminated[0] {
			t.Fatalf("step %d: zero-target episode terminated", i)
		}
		if i < 5 && done {
			t.Fatalf("step %d: batch done before truncation", i)
		}
	}
	if !done || !step.Truncated[0] {
		t.Error("zero-target episode should truncate at the horizon")
	}
}

func TestPatchesMatchGlimpseCrop(t *testing.T) {
	batch, channels := 2, 3
	images := randomImages(batch, channels, 8, 8, 31)
	env, err := New(images, [][]Box{nil, nil}, Config{
		PatchSize: 2, MaxEpLen: 10, GlimpseLevels: 3, Seed: 37,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.Reset()
	env.Step(Displacements([]int{1, 3}))

	patches := env.Patches().Data().([]float64)
	glimpses := env.Glimpses().Data().([]float64)
	positions := env.Positions()
	levels := env.GlimpseLevels()
	patchSize := env.PatchSize()
	height, width := 8, 8
	shape := []int{batch, levels, channels, height, width}

	i := 0
	for b := 0; b < batch; b++ {
		top := positions[2*b] * patchSize
		left := positions[2*b+1] * patchSize
		for l := 0; l < levels; l++ {
			for c := 0; c < channels; c++ {
				for r := 0; r < patchSize; r++ {
					for p := 0; p < patchSize; p++ {
						idx := tensorutils.Index(
							[]int{b, l, c, top + r, left + p}, shape)
						want := glimpses[idx] / PixelMax
						if math.Abs(patches[i]-want) > 1e-12 {
							t.Fatalf("episode %d level %d channel %d pixel "+
								"(%d, %d): want %v, have %v", b, l, c, r, p,
								want, patches[i])
						}
						i++
					}
				}
			}
		}
	}
}

func TestSearchEndToEnd(t *testing.T) {
	// Two episodes on a 2x2 patch grid. Episode 0 has one target in
	// patch (0, 0); episode 1 has none. Both start at (1, 1). Moving
	// down and then right wraps onto the target in two steps.
	batch := 2
	images := randomImages(batch, 1, 4, 4, 41)
	boxes := [][]Box{
		{{X1: 0, Y1: 0, X2: 2, Y2: 2}},
		nil,
	}
	env, err := New(images, boxes, Config{
		PatchSize: 2, MaxEpLen: 5, GlimpseLevels: 2,
		Starter: fixedStarter{row: 1, col: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	first := env.Reset()
	if first.Terminated[0] || first.Terminated[1] {
		t.Fatal("no episode should terminate at reset")
	}

	// Down: (1, 1) wraps to (0, 1).
	step, done := env.Step(Displacements([]int{1, 1}))
	if step.Rewards[0] != 0 || step.Terminated[0] || done {
		t.Fatalf("after down: reward %v, terminated %v, done %v",
			step.Rewards[0], step.Terminated[0], done)
	}

	// Right: (0, 1) wraps to (0, 0), the target tile.
	step, done = env.Step(Displacements([]int{3, 3}))
	if step.Rewards[0] != 1 {
		t.Errorf("target reward %v, want 1", step.Rewards[0])
	}
	if !step.Terminated[0] {
		t.Error("episode 0 should terminate on finding its only target")
	}
	if !step.JustFinished[0] {
		t.Error("episode 0 should report just finished")
	}
	if step.Terminated[1] || step.Rewards[1] != 0 {
		t.Errorf("episode 1: reward %v, terminated %v",
			step.Rewards[1], step.Terminated[1])
	}
	if done {
		t.Error("batch should not be done while episode 1 runs")
	}

	// Sticky termination: episode 0 keeps stepping with zero reward.
	for i := 2; i < 5; i++ {
		step, done = env.Step(Displacements([]int{0, 0}))
		if step.Rewards[0] != 0 {
			t.Errorf("step %d: terminated episode reward %v, want 0", i,
				step.Rewards[0])
		}
		if !step.Terminated[0] {
			t.Errorf("step %d: termination should be sticky", i)
		}
		if step.JustFinished[0] {
			t.Errorf("step %d: just finished must fire only once", i)
		}
	}
	if !done {
		t.Error("batch should be done at the horizon")
	}
	if !step.Truncated[1] || step.Terminated[1] {
		t.Errorf("episode 1: truncated %v, terminated %v at horizon",
			step.Truncated[1], step.Terminated[1])
	}
}

func TestVisitedMaskMonotone(t *testing.T) {
	batch := 2
	env := newTestEnv(t, batch, [][]Box{nil, nil},
		Config{PatchSize: 2, MaxEpLen: 30, GlimpseLevels: 1, Seed: 43})
	env.Reset()

	prev := env.VisitedMask()
	rng := rand.New(rand.NewSource(47))
	for step := 0; step < 20; step++ {
		actions := make([]int, batch)
		for b := range actions {
			actions[b] = rng.Intn(len(Moves))
		}
		env.Step(Displacements(actions))

		visited := env.VisitedMask()
		for i := range visited {
			if prev[i] && !visited[i] {
				t.Fatalf("step %d: visited bit %d cleared", step, i)
			}
		}
		prev = visited
	}
}

func BenchmarkPatches(b *testing.B) {
	images := randomImages(32, 3, 64, 64, 53)
	boxes := make([][]Box, 32)
	env, err := New(images, boxes, Config{
		PatchSize: 16, MaxEpLen: 20, GlimpseLevels: 3, Seed: 59,
	})
	if err != nil {
		b.Fatal(err)
	}
	env.Reset()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env.Patches()
	}
}
