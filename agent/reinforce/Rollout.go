package reinforce

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"sfneuman.com/needle/agent"
	"sfneuman.com/needle/environment"
	"sfneuman.com/needle/environment/needle"
	"sfneuman.com/needle/utils/floatutils"
)

// Trajectory holds the dense buffers of one episode-batch rollout.
// Per-step buffers are row-major [batch, horizon], indexed by episode
// then step; entries past an episode's termination are filled but
// masked out through Active. Observation and action buffers are laid
// out with one row per (episode, step) pair at index
// b*horizon + t, aligned with the flattened per-step buffers.
type Trajectory struct {
	BatchSize int
	Horizon   int
	ObsDims   int

	Rewards  []float64
	LogProbs []float64

	// Active[b*Horizon+t] records whether episode b was still
	// unterminated after step t; shift it with ShiftActive before
	// using it as a loss mask.
	Active []bool

	// Obs holds the observation each action was taken from, flattened
	// to [batch*horizon, obsDims].
	Obs         []float64
	PrevActions []int
	Actions     []int

	// Coverage is the final fraction of target patches visited per
	// episode.
	Coverage []float64

	// Steps is the number of lockstep iterations actually run before
	// the whole batch finished, at most Horizon.
	Steps int
}

// Rollout drives one episode batch to completion (or horizon) under
// the stochastic policy implied by pol's logits, sampling each
// episode's action from the categorical distribution of its softmaxed
// logits. The rollout stops early only once every episode in the
// batch is terminated or truncated.
func Rollout(env environment.Environment, pol agent.Policy,
	src rand.Source) (*Trajectory, error) {
	if pol.NumActions() != len(needle.Moves) {
		return nil, fmt.Errorf("rollout: policy has %d actions, "+
			"environment has %d moves", pol.NumActions(), len(needle.Moves))
	}

	batch := env.BatchSize()
	horizon := env.MaxEpLen()
	obsDims := env.ObsDims()
	numActions := pol.NumActions()

	traj := &Trajectory{
		BatchSize:   batch,
		Horizon:     horizon,
		ObsDims:     obsDims,
		Rewards:     make([]float64, batch*horizon),
		LogProbs:    make([]float64, batch*horizon),
		Active:      make([]bool, batch*horizon),
		Obs:         make([]float64, batch*horizon*obsDims),
		PrevActions: make([]int, batch*horizon),
		Actions:     make([]int, batch*horizon),
		Coverage:    make([]float64, batch),
	}

	var memory agent.Memory
	prevActions := make([]int, batch)
	actions := make([]int, batch)

	step := env.Reset()
	for t := 0; t < horizon; t++ {
		logits, nextMemory, err := pol.Logits(step.Patches, prevActions,
			memory)
		if err != nil {
			return nil, fmt.Errorf("rollout: step %d: %v", t, err)
		}
		memory = nextMemory

		obs := step.Patches.Data().([]float64)
		for b := 0; b < batch; b++ {
			row := logits[b*numActions : (b+1)*numActions]
			probs := floatutils.Softmax(row)
			dist := distuv.NewCategorical(probs, src)
			a := int(dist.Rand())

			i := b*horizon + t
			actions[b] = a
			traj.Actions[i] = a
			traj.PrevActions[i] = prevActions[b]
			traj.LogProbs[i] = row[a] - floatutils.LogSumExp(row)
			copy(traj.Obs[i*obsDims:(i+1)*obsDims],
				obs[b*obsDims:(b+1)*obsDims])
		}

		next, done := env.Step(needle.Displacements(actions))
		for b := 0; b < batch; b++ {
			i := b*horizon + t
			traj.Rewards[i] = next.Rewards[b]
			traj.Active[i] = !next.Terminated[b]
		}
		copy(traj.Coverage, next.Coverage)
		copy(prevActions, actions)

		traj.Steps = t + 1
		step = next
		if done {
			// All episodes finished; the remaining buffer entries
			// stay zero and inactive.
			break
		}
	}

	return traj, nil
}

// Evaluation holds the greedy trajectory of one episode batch,
// recorded for plotting. Positions is row-major
// [batch, horizon+1, 2]: the start position followed by the position
// after every step. Active marks which of those positions belong to
// the episode proper (before or at termination), already shifted so
// the terminating position is included.
type Evaluation struct {
	BatchSize int
	Horizon   int
	Positions []int
	Active    []bool
	Coverage  []float64
}

// Greedy drives one episode batch under the greedy policy, taking the
// highest-logit action at every step. Ties break toward the lowest
// action index. Used for evaluation and visualization; runs the full
// horizon so every episode's trajectory is recorded.
func Greedy(env environment.Environment, pol agent.Policy) (*Evaluation,
	error) {
	if pol.NumActions() != len(needle.Moves) {
		return nil, fmt.Errorf("greedy: policy has %d actions, "+
			"environment has %d moves", pol.NumActions(), len(needle.Moves))
	}

	batch := env.BatchSize()
	horizon := env.MaxEpLen()
	numActions := pol.NumActions()

	eval := &Evaluation{
		BatchSize: batch,
		Horizon:   horizon,
		Positions: make([]int, batch*(horizon+1)*2),
		Active:    make([]bool, batch*(horizon+1)),
		Coverage:  make([]float64, batch),
	}

	var memory agent.Memory
	prevActions := make([]int, batch)
	actions := make([]int, batch)

	step := env.Reset()
	for b := 0; b < batch; b++ {
		eval.Positions[b*(horizon+1)*2] = step.Positions[2*b]
		eval.Positions[b*(horizon+1)*2+1] = step.Positions[2*b+1]
		eval.Active[b*(horizon+1)] = true
	}

	for t := 0; t < horizon; t++ {
		logits, nextMemory, err := pol.Logits(step.Patches, prevActions,
			memory)
		if err != nil {
			return nil, fmt.Errorf("greedy: step %d: %v", t, err)
		}
		memory = nextMemory

		for b := 0; b < batch; b++ {
			row := logits[b*numActions : (b+1)*numActions]
			_, indices := floatutils.MaxSlice(row)
			actions[b] = indices[0]
		}

		next, _ := env.Step(needle.Displacements(actions))
		for b := 0; b < batch; b++ {
			i := b*(horizon+1) + t + 1
			eval.Positions[2*i] = next.Positions[2*b]
			eval.Positions[2*i+1] = next.Positions[2*b+1]
			eval.Active[i] = !next.Terminated[b]
		}
		copy(eval.Coverage, next.Coverage)
		copy(prevActions, actions)
		step = next
	}

	eval.Active = ShiftActive(eval.Active, batch, horizon+1)
	return eval, nil
}
