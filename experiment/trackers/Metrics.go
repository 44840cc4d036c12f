package trackers

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// Metrics tracks every scalar metric reported during training and
// saves the per-metric series to disk with gob encoding. Iterations
// need not be contiguous; each series keeps the iteration numbers it
// was tracked at.
type Metrics struct {
	filename   string
	iterations map[string][]int
	series     map[string][]float64
}

// NewMetrics creates and returns a new *Metrics Tracker that saves to
// filename.
func NewMetrics(filename string) *Metrics {
	return &Metrics{
		filename:   filename,
		iterations: make(map[string][]int),
		series:     make(map[string][]float64),
	}
}

// Track caches the metrics reported for one training iteration.
func (m *Metrics) Track(iteration int, metrics map[string]float64) {
	for name, value := range metrics {
		m.iterations[name] = append(m.iterations[name], iteration)
		m.series[name] = append(m.series[name], value)
	}
}

// Series returns the values tracked so far for the named metric, in
// tracking order.
func (m *Metrics) Series(name string) []float64 {
	return append([]float64(nil), m.series[name]...)
}

// Names returns the sorted names of all tracked metrics.
func (m *Metrics) Names() []string {
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// savedMetrics is the on-disk layout of a Metrics tracker.
type savedMetrics struct {
	Iterations map[string][]int
	Series     map[string][]float64
}

// Save saves the tracked series to disk.
func (m *Metrics) Save() error {
	file, err := os.Create(m.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	err = en.Encode(savedMetrics{
		Iterations: m.iterations,
		Series:     m.series,
	})
	if err != nil {
		return fmt.Errorf("save: could not encode metric data: %v", err)
	}
	return nil
}

// LoadMetrics loads the metric series saved by a Metrics tracker.
func LoadMetrics(filename string) (map[string][]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadMetrics: could not open file: %v", err)
	}
	defer file.Close()

	var saved savedMetrics
	dec := gob.NewDecoder(file)
	if err := dec.Decode(&saved); err != nil {
		return nil, fmt.Errorf("loadMetrics: could not decode metric "+
			"data: %v", err)
	}
	return saved.Series, nil
}
