// Package trackers implements tracking and saving of training metrics
package trackers

// Tracker accepts a flat mapping of metric name to scalar once per
// training iteration and persists whatever it cached when Save is
// called. Tracking is fire-and-forget: implementations must not block
// the training loop.
type Tracker interface {
	Track(iteration int, metrics map[string]float64)
	Save() error
}

// NoOp is a Tracker that discards everything.
type NoOp struct{}

func (NoOp) Track(int, map[string]float64) {}

func (NoOp) Save() error { return nil }
