// Package agent outlines the interfaces needed to implement concrete
// policies for batched environments
package agent

import (
	"gorgonia.org/tensor"
)

// Memory is the opaque recurrent state a Policy threads between
// steps. A nil Memory denotes the initial, no-history condition.
// Memoryless policies may return nil from every call.
type Memory interface{}

// Policy computes action preferences for a batch of observations. Any
// function with this signature is substitutable; the rollout engine
// treats the policy as a black box.
type Policy interface {
	// Logits returns the per-episode action logits for a batch of
	// patch observations with shape [batch, glimpseLevels, channels,
	// patchSize, patchSize], given the previous action index of each
	// episode and the policy's memory from the previous step. The
	// returned logits are row-major [batch, NumActions()], alongside
	// the updated memory.
	Logits(patches *tensor.Dense, prevActions []int,
		memory Memory) ([]float64, Memory, error)

	// NumActions returns the size of the policy's discrete action
	// space.
	NumActions() int
}
