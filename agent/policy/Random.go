package policy

import (
	"fmt"

	"gorgonia.org/tensor"
	"sfneuman.com/needle/agent"
)

// Random implements a uniform random policy: its logits are all zero,
// so the implied categorical distribution is uniform over actions.
// Useful as a baseline and for exercising environments in tests.
type Random struct {
	numActions int
}

// NewRandom returns a new uniform random policy over numActions
// actions.
func NewRandom(numActions int) (*Random, error) {
	if numActions <= 0 {
		return nil, fmt.Errorf("newRandom: numActions must be positive, "+
			"got %d", numActions)
	}
	return &Random{numActions}, nil
}

// Logits implements agent.Policy.
func (r *Random) Logits(patches *tensor.Dense, prevActions []int,
	_ agent.Memory) ([]float64, agent.Memory, error) {
	batch := patches.Shape()[0]
	return make([]float64, batch*r.numActions), nil, nil
}

// NumActions implements agent.Policy.
func (r *Random) NumActions() int {
	return r.numActions
}
