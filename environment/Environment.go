// Package environment outlines the interfaces needed to implement
// concrete batched environments
package environment

import (
	"sfneuman.com/needle/timestep"
)

// Starter samples starting grid positions for every episode in a
// batch. Implementations return a row-major [batch, 2] slice of
// (row, col) coordinates.
type Starter interface {
	Start(batch, rows, cols int) []int
}

// Environment implements a batched, synchronous environment. All
// episodes in a batch step in lockstep; an episode that finishes early
// keeps stepping until the whole batch is done, with its rewards
// masked out by the caller.
type Environment interface {
	// Reset starts a fresh episode batch and returns its first
	// timestep.
	Reset() timestep.Batch

	// Step applies one displacement per episode, given row-major as
	// [batch, 2] (row delta, col delta), and returns the resulting
	// timestep along with whether every episode is now terminated or
	// truncated.
	Step(moves []int) (timestep.Batch, bool)

	BatchSize() int

	// MaxEpLen returns the step horizon of each episode.
	MaxEpLen() int

	// ObsDims returns the flattened length of a single episode's
	// observation.
	ObsDims() int
}
