// Package timestep implements timesteps of the agent-environment
// interaction. Environments in this module are batched, so a single
// timestep carries the observations, rewards, and episode flags of
// every episode in the batch.
package timestep

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Kind denotes the kind of step that a Batch can be, either the first
// step of an episode batch or any later step.
type Kind int

const (
	First Kind = iota
	Mid
)

func (k Kind) String() string {
	switch k {
	case First:
		return "First"
	default:
		return "Mid"
	}
}

// Batch packages together a single timestep of every episode in a
// batched environment. Slices are indexed by episode. Positions is
// stored row-major, so episode b is at Positions[2*b : 2*b+2] as
// (row, col) grid coordinates.
type Batch struct {
	Kind Kind

	// Patches holds the observation of every episode, with shape
	// [batch, glimpseLevels, channels, patchSize, patchSize] and
	// pixel values scaled to [0, 1].
	Patches *tensor.Dense

	Rewards    []float64
	Terminated []bool
	Truncated  []bool

	Positions    []int
	Deltas       []float64 // raw score change of the step
	JustFinished []bool
	Coverage     []float64 // fraction of target patches visited

	Number int
}

// BatchSize returns the number of episodes in the Batch.
func (b Batch) BatchSize() int {
	return len(b.Rewards)
}

// First returns whether the Batch is the first of its episode batch.
func (b Batch) First() bool {
	return b.Kind == First
}

// Position returns the (row, col) grid position of episode i.
func (b Batch) Position(i int) (int, int) {
	return b.Positions[2*i], b.Positions[2*i+1]
}

// Done returns whether episode i is terminated or truncated.
func (b Batch) Done(i int) bool {
	return b.Terminated[i] || b.Truncated[i]
}

// AllDone returns whether every episode in the batch is terminated or
// truncated.
func (b Batch) AllDone() bool {
	for i := range b.Terminated {
		if !b.Done(i) {
			return false
		}
	}
	return true
}

func (b Batch) String() string {
	str := "Batch | Kind: %v  |  Size: %d  |  Step Number: %d"
	return fmt.Sprintf(str, b.Kind, b.BatchSize(), b.Number)
}
