package trackers

import (
	"path/filepath"
	"testing"
)

func TestMetricsSaveAndLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "metrics.bin")
	m := NewMetrics(filename)

	m.Track(0, map[string]float64{"loss": 1.5, "returns": 0.1})
	m.Track(1, map[string]float64{"loss": 1.2, "returns": 0.3})
	m.Track(2, map[string]float64{"loss": 0.9})

	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadMetrics(filename)
	if err != nil {
		t.Fatal(err)
	}

	loss := loaded["loss"]
	wantLoss := []float64{1.5, 1.2, 0.9}
	if len(loss) != len(wantLoss) {
		t.Fatalf("loss series length %d, want %d", len(loss), len(wantLoss))
	}
	for i := range wantLoss {
		if loss[i] != wantLoss[i] {
			t.Errorf("loss[%d] = %v, want %v", i, loss[i], wantLoss[i])
		}
	}

	returns := loaded["returns"]
	if len(returns) != 2 || returns[0] != 0.1 || returns[1] != 0.3 {
		t.Errorf("returns series %v, want [0.1 0.3]", returns)
	}
}

func TestMetricsNamesSorted(t *testing.T) {
	m := NewMetrics("unused")
	m.Track(0, map[string]float64{"returns": 1, "coverage": 0.5, "loss": 2})

	names := m.Names()
	want := []string{"coverage", "loss", "returns"}
	if len(names) != len(want) {
		t.Fatalf("names %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names %v, want %v", names, want)
		}
	}
}

func TestMetricsSeriesIsCopy(t *testing.T) {
	m := NewMetrics("unused")
	m.Track(0, map[string]float64{"loss": 1})

	series := m.Series("loss")
	series[0] = 99
	if m.Series("loss")[0] != 1 {
		t.Error("Series should return a copy of the tracked values")
	}
}

func TestLoadMetricsMissingFile(t *testing.T) {
	_, err := LoadMetrics(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Error("expected error loading a missing file")
	}
}
