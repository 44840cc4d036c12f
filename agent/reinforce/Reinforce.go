// Package reinforce implements the REINFORCE algorithm over batched
// needle-search environments.
//
// Training follows the same two-network layout as other policy
// gradient implementations in this module's lineage: a behaviour
// policy (with its own virtual machine) samples rollouts one step at
// a time, while a train policy processes the whole flattened rollout
// in a single batch to compute the log probabilities the gradient
// flows through. After every solver step the behaviour policy's
// weights are synced from the train policy.
package reinforce

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/progressbar"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"sfneuman.com/needle/agent/policy"
	"sfneuman.com/needle/dataset"
	"sfneuman.com/needle/environment"
	"sfneuman.com/needle/environment/needle"
	"sfneuman.com/needle/experiment/trackers"
	"sfneuman.com/needle/plot"
	"sfneuman.com/needle/solver"
)

// plotCount bounds how many episodes of an evaluation batch are
// rendered per plotting round.
const plotCount int = 16

// Config holds the scalar parameters of a training run.
type Config struct {
	PatchSize     int
	MaxEpLen      int
	GlimpseLevels int

	Iterations int
	StepSize   float64

	// PlotEvery renders greedy trajectories on a test batch every
	// PlotEvery iterations into PlotDir. 0 disables plotting.
	PlotEvery int
	PlotDir   string

	Seed uint64
}

// Reinforce trains a categorical policy with REINFORCE. One
// environment is built per training iteration from a fresh image
// batch; its rollout is reduced to standardized advantages which
// weight the log probabilities recomputed by the train policy.
type Reinforce struct {
	config Config

	behaviour *policy.CategoricalMLP
	train     *policy.CategoricalMLP

	// weights is fed advantage * activeMask / activeCount per
	// flattened rollout step, so the graph loss is the masked,
	// count-normalized policy gradient surrogate.
	weights *G.Node
	lossVal G.Value
	vm      G.VM
	solver  G.Solver

	trainLoader dataset.Loader
	testLoader  dataset.Loader
	tracker     trackers.Tracker

	starter environment.Starter
	src     rand.Source
}

// New creates and returns a new Reinforce trainer for the given
// behaviour policy. The train policy is cloned from it with batch
// size batch*maxEpLen, and the policy-gradient loss and gradients are
// built on the clone's graph.
func New(behaviour *policy.CategoricalMLP, trainLoader,
	testLoader dataset.Loader, tracker trackers.Tracker,
	config Config) (*Reinforce, error) {
	if config.Iterations <= 0 {
		return nil, fmt.Errorf("new: iterations must be positive, got %d",
			config.Iterations)
	}
	if config.StepSize <= 0 {
		return nil, fmt.Errorf("new: step size must be positive, got %v",
			config.StepSize)
	}
	if config.MaxEpLen <= 0 {
		return nil, fmt.Errorf("new: max episode length must be positive, "+
			"got %d", config.MaxEpLen)
	}
	if behaviour.NumActions() != len(needle.Moves) {
		return nil, fmt.Errorf("new: policy has %d actions, environment "+
			"has %d moves", behaviour.NumActions(), len(needle.Moves))
	}
	if trainLoader == nil {
		return nil, fmt.Errorf("new: no train loader")
	}
	if tracker == nil {
		tracker = trackers.NoOp{}
	}
	if config.PlotEvery > 0 {
		if testLoader == nil {
			return nil, fmt.Errorf("new: plotting requires a test loader")
		}
		if err := os.MkdirAll(config.PlotDir, 0755); err != nil {
			return nil, fmt.Errorf("new: could not create plot dir: %v", err)
		}
	}

	batch := behaviour.BatchSize()
	steps := batch * config.MaxEpLen

	train, err := behaviour.CloneWithBatch(steps)
	if err != nil {
		return nil, fmt.Errorf("new: could not create train policy: %v", err)
	}

	weights := G.NewVector(
		train.Graph(),
		tensor.Float64,
		G.WithShape(steps),
		G.WithInit(G.Zeroes()),
		G.WithName("advantageWeights"),
	)

	loss := G.Must(G.HadamardProd(train.LogPdfNode(), weights))
	loss = G.Must(G.Sum(loss))
	loss = G.Must(G.Neg(loss))

	r := &Reinforce{
		config:      config,
		behaviour:   behaviour,
		train:       train,
		weights:     weights,
		trainLoader: trainLoader,
		testLoader:  testLoader,
		tracker:     tracker,
		starter:     environment.NewUniformStarter(config.Seed),
		src:         rand.NewSource(config.Seed + 1),
	}
	G.Read(loss, &r.lossVal)

	if _, err := G.Grad(loss, train.Network().Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not compute gradient: %v", err)
	}
	r.vm = G.NewTapeMachine(train.Graph(),
		G.BindDualValues(train.Network().Learnables()...))
	r.solver = solver.NewDefaultAdam(config.StepSize, 1)

	return r, nil
}

// Run trains for the configured number of iterations, tracking
// metrics each iteration and saving the tracker when done. A loader
// error aborts the run and propagates.
func (r *Reinforce) Run() error {
	pbar := progressbar.NewManual(40, r.config.Iterations)

	for i := 0; i < r.config.Iterations; i++ {
		if err := r.step(i); err != nil {
			return fmt.Errorf("run: iteration %d: %v", i, err)
		}

		if r.config.PlotEvery > 0 && i%r.config.PlotEvery == 0 {
			if err := r.plotPredictions(i); err != nil {
				return fmt.Errorf("run: iteration %d: %v", i, err)
			}
		}

		pbar.Increment()
		pbar.Display()
	}

	if err := r.tracker.Save(); err != nil {
		return fmt.Errorf("run: could not save metrics: %v", err)
	}
	return nil
}

// step performs one training iteration: fresh environment, stochastic
// rollout, advantage estimation, and one solver update.
func (r *Reinforce) step(iteration int) error {
	batch, err := r.trainLoader.Next()
	if err != nil {
		return err
	}

	env, err := needle.New(batch.Images, batch.Boxes, needle.Config{
		PatchSize:     r.config.PatchSize,
		MaxEpLen:      r.config.MaxEpLen,
		GlimpseLevels: r.config.GlimpseLevels,
		Starter:       r.starter,
	})
	if err != nil {
		return err
	}

	traj, err := Rollout(env, r.behaviour, r.src)
	if err != nil {
		return err
	}

	b, t := traj.BatchSize, traj.Horizon
	active := ShiftActive(traj.Active, b, t)
	returns := ReturnsToGo(traj.Rewards, active, b, t)
	advantages := Advantages(returns, b, t)
	count := activeCount(active)

	// Gradient step on the train policy.
	weights := make([]float64, b*t)
	for i := range weights {
		if active[i] {
			weights[i] = advantages[i] / float64(count)
		}
	}
	err = G.Let(r.weights, tensor.New(
		tensor.WithShape(b*t),
		tensor.WithBacking(weights),
	))
	if err != nil {
		return err
	}
	err = r.train.LogPdfOf(traj.Obs, traj.PrevActions, traj.Actions)
	if err != nil {
		return err
	}
	if err := r.vm.RunAll(); err != nil {
		return err
	}

	// Log probabilities the gradient actually flowed through, for the
	// tracked loss metric.
	logProbs := append([]float64(nil),
		r.train.LogPdfVal().Data().([]float64)...)

	if err := r.solver.Step(r.train.Network().Model()); err != nil {
		return err
	}
	r.vm.Reset()

	// Sync the behaviour policy with the updated weights.
	if err := r.behaviour.Set(r.train); err != nil {
		return err
	}

	r.tracker.Track(iteration, r.metrics(traj, active, returns, logProbs))
	return nil
}

// metrics reduces a rollout into the scalar metrics tracked per
// iteration. The log probabilities come from the train policy's graph
// run, so the tracked loss is the one the gradient step minimized.
func (r *Reinforce) metrics(traj *Trajectory, active []bool,
	returns, logProbs []float64) map[string]float64 {
	b, t := traj.BatchSize, traj.Horizon

	var meanReturn, meanLength, meanCoverage float64
	for ep := 0; ep < b; ep++ {
		for step := 0; step < t; step++ {
			i := ep*t + step
			if active[i] {
				meanReturn += traj.Rewards[i]
				meanLength++
			}
		}
		meanCoverage += traj.Coverage[ep]
	}
	meanReturn /= float64(b)
	meanLength /= float64(b)
	meanCoverage /= float64(b)

	advantages := Advantages(returns, b, t)
	return map[string]float64{
		"loss":           Loss(logProbs, advantages, active),
		"returns":        meanReturn,
		"coverage":       meanCoverage,
		"episode-length": meanLength,
	}
}

// plotPredictions renders greedy trajectories on a test batch.
func (r *Reinforce) plotPredictions(iteration int) error {
	batch, err := r.testLoader.Next()
	if err != nil {
		return err
	}

	env, err := needle.New(batch.Images, batch.Boxes, needle.Config{
		PatchSize:     r.config.PatchSize,
		MaxEpLen:      r.config.MaxEpLen,
		GlimpseLevels: r.config.GlimpseLevels,
		Starter:       r.starter,
	})
	if err != nil {
		return err
	}

	eval, err := Greedy(env, r.behaviour)
	if err != nil {
		return err
	}

	glimpses := env.Glimpses().Data().([]float64)
	channels := env.Channels()
	rows, cols := env.GridDims()
	height := rows * env.PatchSize()
	width := cols * env.PatchSize()
	plane := height * width

	n := eval.BatchSize
	if n > plotCount {
		n = plotCount
	}
	for b := 0; b < n; b++ {
		// Level 0 of episode b's glimpse stack is its original image,
		// stored as channels contiguous planes.
		start := b * env.GlimpseLevels() * channels * plane
		pixels := glimpses[start : start+channels*plane]

		positions := activePositions(eval, b)
		img, err := plot.Trajectory(pixels, channels, height, width,
			positions, env.PatchSize(), env.Boxes(b))
		if err != nil {
			return err
		}

		name := fmt.Sprintf("iter%05d_ep%02d.png", iteration, b)
		err = plot.SavePNG(filepath.Join(r.config.PlotDir, name), img)
		if err != nil {
			return err
		}
	}
	return nil
}

// activePositions returns episode b's positions filtered to its
// active steps, row-major [n, 2].
func activePositions(eval *Evaluation, b int) []int {
	steps := eval.Horizon + 1
	var positions []int
	for t := 0; t < steps; t++ {
		if eval.Active[b*steps+t] {
			positions = append(positions, eval.Positions[2*(b*steps+t)],
				eval.Positions[2*(b*steps+t)+1])
		}
	}
	return positions
}

// Close releases the trainer's and its policies' virtual machines.
func (r *Reinforce) Close() error {
	if err := r.vm.Close(); err != nil {
		return err
	}
	if err := r.behaviour.Close(); err != nil {
		return err
	}
	return r.train.Close()
}
