package reinforce

import (
	"gonum.org/v1/gonum/stat"
)

// stdOffset keeps advantage standardization finite when a timestep's
// returns have zero variance across the batch.
const stdOffset = 1e-8

// ShiftActive rolls each episode's active mask forward by one step,
// forcing the first step active. The raw mask records whether an
// episode was unterminated after each step, so the termination step
// itself would be excluded; shifting includes it, making each row a
// true prefix followed by a false suffix.
func ShiftActive(active []bool, batch, horizon int) []bool {
	shifted := make([]bool, len(active))
	for b := 0; b < batch; b++ {
		row := active[b*horizon : (b+1)*horizon]
		out := shifted[b*horizon : (b+1)*horizon]
		out[0] = true
		for t := 1; t < horizon; t++ {
			out[t] = row[t-1]
		}
	}
	return shifted
}

// ReturnsToGo computes the undiscounted cumulative return at every
// step: the sum of masked rewards from that step to the end of the
// episode. Implemented as a reverse cumulative sum over each row.
// Both rewards and the shifted active mask are row-major
// [batch, horizon].
func ReturnsToGo(rewards []float64, active []bool, batch,
	horizon int) []float64 {
	returns := make([]float64, len(rewards))
	for b := 0; b < batch; b++ {
		var sum float64
		for t := horizon - 1; t >= 0; t-- {
			i := b*horizon + t
			if active[i] {
				sum += rewards[i]
			}
			returns[i] = sum
		}
	}
	return returns
}

// Advantages standardizes the returns of each timestep across the
// batch dimension: per column, subtract the batch mean and divide by
// the batch standard deviation. This is a batch-relative baseline,
// not a learned value function.
func Advantages(returns []float64, batch, horizon int) []float64 {
	advantages := make([]float64, len(returns))
	column := make([]float64, batch)
	for t := 0; t < horizon; t++ {
		for b := 0; b < batch; b++ {
			column[b] = returns[b*horizon+t]
		}
		mean := stat.Mean(column, nil)
		std := stat.StdDev(column, nil) + stdOffset
		for b := 0; b < batch; b++ {
			advantages[b*horizon+t] = (column[b] - mean) / std
		}
	}
	return advantages
}

// Loss computes the REINFORCE loss: the negative sum of
// log-probability times advantage over active steps, normalized by
// the total count of active steps rather than by the buffer size.
func Loss(logProbs, advantages []float64, active []bool) float64 {
	var sum float64
	count := 0
	for i := range logProbs {
		if active[i] {
			sum += logProbs[i] * advantages[i]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return -sum / float64(count)
}

// activeCount returns the number of set entries in the mask.
func activeCount(active []bool) int {
	count := 0
	for _, a := range active {
		if a {
			count++
		}
	}
	return count
}
