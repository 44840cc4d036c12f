// Package needle implements a batched environment for the needle
// search problem: an agent moves a fixed-size viewing window over a
// patch grid covering a large image, looking for the patches that
// contain objects of interest. All episodes in a batch advance in
// lockstep so that every operation is a single pass over dense
// batched state.
package needle

import (
	"fmt"

	"gorgonia.org/tensor"
	"sfneuman.com/needle/environment"
	"sfneuman.com/needle/timestep"
)

// PixelMax is the largest pixel value of input images. Observations
// returned by the environment are scaled down by this to [0, 1].
const PixelMax float64 = 255

// Moves is the canonical action set of the environment: the four
// cardinal unit displacements (up, down, left, right) in (row, col)
// patch units.
var Moves = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// Displacements translates a batch of action indices into Moves into
// a row-major [batch, 2] displacement slice accepted by Env.Step.
func Displacements(actions []int) []int {
	moves := make([]int, 2*len(actions))
	for i, a := range actions {
		moves[2*i] = Moves[a][0]
		moves[2*i+1] = Moves[a][1]
	}
	return moves
}

// Config holds the scalar parameters of an Env.
type Config struct {
	// PatchSize is the side length in pixels of the square viewing
	// window. Image dimensions must be divisible by it.
	PatchSize int

	// MaxEpLen is the step horizon of each episode.
	MaxEpLen int

	// GlimpseLevels is the number of levels in the multi-resolution
	// glimpse stack observed at each position. Must be positive.
	GlimpseLevels int

	// Starter samples starting positions on Reset. If nil, a
	// UniformStarter seeded with Seed is used.
	Starter environment.Starter

	Seed uint64
}

// Env is a batched needle-search environment over a fixed image
// batch. An Env is built fresh from each image batch and owns its
// images for its lifetime; the glimpse stack and target masks are
// immutable after construction, while positions, visited masks, step
// counts, and termination flags are mutated only through Reset and
// Step.
type Env struct {
	patchSize     int
	maxEpLen      int
	glimpseLevels int

	batchSize int
	channels  int
	height    int
	width     int

	// Patch grid dimensions.
	rows int
	cols int

	// images is the glimpse stack, shape
	// [batch, glimpseLevels, channels, height, width].
	images *tensor.Dense
	boxes  [][]Box

	// targets and visited are row-major [batch, rows, cols] masks.
	targets   []bool
	visited   []bool
	maxScores []int

	starter environment.Starter

	// positions is row-major [batch, 2] (row, col) in patch units.
	positions  []int
	steps      []int
	terminated []bool
	number     int

	// pixelIdx holds the flattened within-plane pixel indices of the
	// patch at grid position (0, 0); the gather in Patches adds a
	// per-episode offset to them.
	pixelIdx []int
}

// New creates a batched environment from a batch of images with shape
// [batch, channels, height, width] and pixel values in [0, PixelMax],
// together with each image's bounding boxes. All precondition
// violations are construction-time errors.
func New(images *tensor.Dense, boxes [][]Box, config Config) (*Env, error) {
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("new: images must have shape [batch, "+
			"channels, height, width], got %v", shape)
	}
	batchSize, channels, height, width := shape[0], shape[1], shape[2],
		shape[3]

	if len(boxes) != batchSize {
		return nil, fmt.Errorf("new: got %d images but %d box sets",
			batchSize, len(boxes))
	}
	if config.PatchSize <= 0 {
		return nil, fmt.Errorf("new: patch size must be positive, got %d",
			config.PatchSize)
	}
	if height%config.PatchSize != 0 || width%config.PatchSize != 0 {
		return nil, fmt.Errorf("new: image dims (%d, %d) not divisible by "+
			"patch size %d", height, width, config.PatchSize)
	}
	if config.GlimpseLevels <= 0 {
		return nil, fmt.Errorf("new: glimpse levels must be positive, "+
			"got %d", config.GlimpseLevels)
	}
	if config.MaxEpLen <= 0 {
		return nil, fmt.Errorf("new: max episode length must be positive, "+
			"got %d", config.MaxEpLen)
	}

	rows := height / config.PatchSize
	cols := width / config.PatchSize

	// Precompute the per-patch coverage masks and total target counts.
	targets := make([]bool, batchSize*rows*cols)
	maxScores := make([]int, batchSize)
	for b := 0; b < batchSize; b++ {
		mask, err := CoverageMask(boxes[b], height, width, config.PatchSize)
		if err != nil {
			return nil, fmt.Errorf("new: image %d: %v", b, err)
		}
		copy(targets[b*rows*cols:], mask)
		maxScores[b] = countTrue(mask)
	}

	stack, err := glimpseStack(images, config.GlimpseLevels, config.PatchSize)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	starter := config.Starter
	if starter == nil {
		starter = environment.NewUniformStarter(config.Seed)
	}

	// Flattened pixel indices of the patch anchored at grid (0, 0).
	pixelIdx := make([]int, config.PatchSize*config.PatchSize)
	for r := 0; r < config.PatchSize; r++ {
		for c := 0; c < config.PatchSize; c++ {
			pixelIdx[r*config.PatchSize+c] = r*width + c
		}
	}

	env := &Env{
		patchSize:     config.PatchSize,
		maxEpLen:      config.MaxEpLen,
		glimpseLevels: config.GlimpseLevels,
		batchSize:     batchSize,
		channels:      channels,
		height:        height,
		width:         width,
		rows:          rows,
		cols:          cols,
		images:        stack,
		boxes:         boxes,
		targets:       targets,
		visited:       make([]bool, batchSize*rows*cols),
		maxScores:     maxScores,
		starter:       starter,
		positions:     make([]int, 2*batchSize),
		steps:         make([]int, batchSize),
		terminated:    make([]bool, batchSize),
		pixelIdx:      pixelIdx,
	}
	return env, nil
}

// Reset starts a fresh episode batch. Starting positions are sampled
// from the Starter, the start tiles are marked visited, and episodes
// whose start tile already completes their targets are terminated.
func (e *Env) Reset() timestep.Batch {
	for i := range e.visited {
		e.visited[i] = false
	}
	for b := 0; b < e.batchSize; b++ {
		e.steps[b] = 0
		e.terminated[b] = false
	}
	e.number = 0

	copy(e.positions, e.starter.Start(e.batchSize, e.rows, e.cols))
	e.markVisited()

	scores := e.Scores()
	coverage := make([]float64, e.batchSize)
	for b := 0; b < e.batchSize; b++ {
		e.terminated[b] = e.maxScores[b] > 0 && scores[b] == e.maxScores[b]
		coverage[b] = float64(scores[b]) / float64(divisor(e.maxScores[b]))
	}

	return timestep.Batch{
		Kind:         timestep.First,
		Patches:      e.Patches(),
		Rewards:      make([]float64, e.batchSize),
		Terminated:   append([]bool(nil), e.terminated...),
		Truncated:    make([]bool, e.batchSize),
		Positions:    append([]int(nil), e.positions...),
		Deltas:       make([]float64, e.batchSize),
		JustFinished: make([]bool, e.batchSize),
		Coverage:     coverage,
		Number:       0,
	}
}

// Step applies one displacement per episode, given row-major as
// [batch, 2] (row delta, col delta). Positions wrap toroidally, the
// landed tiles are marked visited, and each episode's reward is its
// score increase normalized by its total target count. Termination is
// sticky; terminated episodes keep stepping with the batch but their
// rewards are masked out downstream. The returned bool reports
// whether every episode is now terminated or truncated.
func (e *Env) Step(moves []int) (timestep.Batch, bool) {
	if len(moves) != 2*e.batchSize {
		panic(fmt.Sprintf("step: move dimensions mismatched: want %d, "+
			"have %d", 2*e.batchSize, len(moves)))
	}

	prevScores := e.Scores()

	e.applyMovements(moves)
	e.markVisited()
	for b := 0; b < e.batchSize; b++ {
		e.steps[b]++
	}
	e.number++

	newScores := e.Scores()
	rewards := make([]float64, e.batchSize)
	deltas := make([]float64, e.batchSize)
	truncated := make([]bool, e.batchSize)
	justFinished := make([]bool, e.batchSize)
	coverage := make([]float64, e.batchSize)

	for b := 0; b < e.batchSize; b++ {
		delta := newScores[b] - prevScores[b]
		won := e.maxScores[b] > 0 && newScores[b] == e.maxScores[b]
		justFinished[b] = !e.terminated[b] && won && delta != 0
		e.terminated[b] = e.terminated[b] || won

		d := float64(divisor(e.maxScores[b]))
		deltas[b] = float64(delta)
		rewards[b] = float64(delta) / d
		coverage[b] = float64(newScores[b]) / d
		truncated[b] = e.steps[b] >= e.maxEpLen
	}

	step := timestep.Batch{
		Kind:         timestep.Mid,
		Patches:      e.Patches(),
		Rewards:      rewards,
		Terminated:   append([]bool(nil), e.terminated...),
		Truncated:    truncated,
		Positions:    append([]int(nil), e.positions...),
		Deltas:       deltas,
		JustFinished: justFinished,
		Coverage:     coverage,
		Number:       e.number,
	}
	return step, step.AllDone()
}

// applyMovements adds the displacements to the positions, wrapping
// modulo the grid dimensions so agents re-enter on the opposite side.
func (e *Env) applyMovements(moves []int) {
	for b := 0; b < e.batchSize; b++ {
		e.positions[2*b] = wrap(e.positions[2*b]+moves[2*b], e.rows)
		e.positions[2*b+1] = wrap(e.positions[2*b+1]+moves[2*b+1], e.cols)
	}
}

// markVisited sets the visited bit of each episode's current tile.
// Visited bits never clear within an episode.
func (e *Env) markVisited() {
	grid := e.rows * e.cols
	for b := 0; b < e.batchSize; b++ {
		tile := e.positions[2*b]*e.cols + e.positions[2*b+1]
		e.visited[b*grid+tile] = true
	}
}

// Patches gathers the patch under every episode's position from every
// glimpse level, returning a [batch, glimpseLevels, channels,
// patchSize, patchSize] tensor with values scaled to [0, 1].
//
// The gather works on the flattened glimpse backing with precomputed
// linear pixel indices plus a per-episode offset, so one pass services
// the whole batch. This is the hot path, called on every step.
func (e *Env) Patches() *tensor.Dense {
	data := e.images.Data().([]float64)
	plane := e.height * e.width
	patchArea := e.patchSize * e.patchSize

	out := make([]float64, e.batchSize*e.glimpseLevels*e.channels*patchArea)
	i := 0
	for b := 0; b < e.batchSize; b++ {
		offset := e.positions[2*b]*e.width*e.patchSize +
			e.positions[2*b+1]*e.patchSize
		for l := 0; l < e.glimpseLevels; l++ {
			for c := 0; c < e.channels; c++ {
				start := ((b*e.glimpseLevels+l)*e.channels+c)*plane + offset
				for r := 0; r < e.patchSize; r++ {
					row := data[start+e.pixelIdx[r*e.patchSize]:]
					for p := 0; p < e.patchSize; p++ {
						out[i] = row[p] / PixelMax
						i++
					}
				}
			}
		}
	}

	return tensor.New(
		tensor.WithShape(e.batchSize, e.glimpseLevels, e.channels,
			e.patchSize, e.patchSize),
		tensor.WithBacking(out),
	)
}

// Scores returns the per-episode count of target patches visited so
// far.
func (e *Env) Scores() []int {
	grid := e.rows * e.cols
	scores := make([]int, e.batchSize)
	for b := 0; b < e.batchSize; b++ {
		targets := e.targets[b*grid : (b+1)*grid]
		visited := e.visited[b*grid : (b+1)*grid]
		for i := range targets {
			if targets[i] && visited[i] {
				scores[b]++
			}
		}
	}
	return scores
}

// MaxScores returns the per-episode total count of target patches.
func (e *Env) MaxScores() []int {
	return append([]int(nil), e.maxScores...)
}

// Positions returns a copy of the row-major [batch, 2] positions.
func (e *Env) Positions() []int {
	return append([]int(nil), e.positions...)
}

// VisitedMask returns a copy of the row-major [batch, rows, cols]
// visited mask.
func (e *Env) VisitedMask() []bool {
	return append([]bool(nil), e.visited...)
}

// TargetMask returns a copy of the row-major [batch, rows, cols]
// target coverage mask.
func (e *Env) TargetMask() []bool {
	return append([]bool(nil), e.targets...)
}

// Glimpses returns the glimpse stack, shape [batch, glimpseLevels,
// channels, height, width]. Callers must not mutate it.
func (e *Env) Glimpses() *tensor.Dense {
	return e.images
}

// Boxes returns the bounding boxes of image b.
func (e *Env) Boxes(b int) []Box {
	return e.boxes[b]
}

func (e *Env) BatchSize() int { return e.batchSize }

func (e *Env) MaxEpLen() int { return e.maxEpLen }

// GridDims returns the patch grid dimensions (rows, cols).
func (e *Env) GridDims() (int, int) { return e.rows, e.cols }

func (e *Env) PatchSize() int { return e.patchSize }

func (e *Env) GlimpseLevels() int { return e.glimpseLevels }

func (e *Env) Channels() int { return e.channels }

// ObsDims returns the flattened length of one episode's observation.
func (e *Env) ObsDims() int {
	return e.glimpseLevels * e.channels * e.patchSize * e.patchSize
}

func (e *Env) String() string {
	return fmt.Sprintf("Needle | Batch: %d  |  Grid: (%d, %d)  |  "+
		"Patch: %d  |  Levels: %d", e.batchSize, e.rows, e.cols,
		e.patchSize, e.glimpseLevels)
}

// wrap reduces i modulo n into [0, n), treating negative values as
// wrapping around the far edge.
func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// divisor guards score normalization against images with no target
// patches, where rewards and coverage must compute to 0 rather than
// NaN.
func divisor(maxScore int) int {
	if maxScore == 0 {
		return 1
	}
	return maxScore
}
