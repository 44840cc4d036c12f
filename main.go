package main

import (
	"fmt"
	"log"

	G "gorgonia.org/gorgonia"
	"sfneuman.com/needle/agent/policy"
	"sfneuman.com/needle/agent/reinforce"
	"sfneuman.com/needle/dataset"
	"sfneuman.com/needle/environment/needle"
	"sfneuman.com/needle/experiment/trackers"
	"sfneuman.com/needle/network"
)

func main() {
	var seed uint64 = 192382

	const (
		batchSize     = 32
		channels      = 3
		imageSize     = 64
		patchSize     = 16
		maxEpLen      = 20
		glimpseLevels = 3
		iterations    = 500
	)

	// Synthetic train and test streams
	trainLoader, err := dataset.NewSynthetic(dataset.SyntheticConfig{
		BatchSize:  batchSize,
		Channels:   channels,
		Height:     imageSize,
		Width:      imageSize,
		MinBoxes:   0,
		MaxBoxes:   3,
		MinBoxSide: 4,
		MaxBoxSide: 12,
		Seed:       seed,
	})
	if err != nil {
		log.Fatal(err)
	}
	testLoader, err := dataset.NewSynthetic(dataset.SyntheticConfig{
		BatchSize:  batchSize,
		Channels:   channels,
		Height:     imageSize,
		Width:      imageSize,
		MinBoxes:   1,
		MaxBoxes:   3,
		MinBoxSide: 4,
		MaxBoxSide: 12,
		Seed:       seed + 1,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Behaviour policy over flattened glimpse patches
	obsDims := glimpseLevels * channels * patchSize * patchSize
	behaviour, err := policy.NewCategoricalMLP(
		obsDims,
		batchSize,
		len(needle.Moves),
		[]int{128, 64},
		[]bool{true, true},
		[]network.Activation{network.ReLU(), network.ReLU()},
		G.GlorotN(1.0),
	)
	if err != nil {
		log.Fatal(err)
	}

	tracker := trackers.NewMetrics("./metrics.bin")
	r, err := reinforce.New(behaviour, trainLoader, testLoader, tracker,
		reinforce.Config{
			PatchSize:     patchSize,
			MaxEpLen:      maxEpLen,
			GlimpseLevels: glimpseLevels,
			Iterations:    iterations,
			StepSize:      3e-4,
			PlotEvery:     100,
			PlotDir:       "./trajectories",
			Seed:          seed,
		})
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	if err := r.Run(); err != nil {
		log.Fatal(err)
	}

	for _, name := range tracker.Names() {
		series := tracker.Series(name)
		fmt.Printf("%v: %v\n", name, series[len(series)-10:])
	}
}
