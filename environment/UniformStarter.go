package environment

import (
	"golang.org/x/exp/rand"
)

// UniformStarter samples starting grid positions uniformly over the
// grid, independently for each episode in a batch.
type UniformStarter struct {
	rng *rand.Rand
}

// NewUniformStarter returns a new UniformStarter seeded with seed.
func NewUniformStarter(seed uint64) *UniformStarter {
	source := rand.NewSource(seed)
	return &UniformStarter{rand.New(source)}
}

// Start samples a (row, col) starting position for each of batch
// episodes on a rows x cols grid, returned row-major as [batch, 2].
func (u *UniformStarter) Start(batch, rows, cols int) []int {
	positions := make([]int, 2*batch)
	for b := 0; b < batch; b++ {
		positions[2*b] = u.rng.Intn(rows)
		positions[2*b+1] = u.rng.Intn(cols)
	}
	return positions
}
