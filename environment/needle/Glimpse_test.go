package needle

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
	"sfneuman.com/needle/utils/tensorutils"
)

// randomImages builds a [batch, channels, height, width] image tensor
// with pixel values in [0, PixelMax].
func randomImages(batch, channels, height, width int,
	seed uint64) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, batch*channels*height*width)
	for i := range data {
		data[i] = rng.Float64() * PixelMax
	}
	return tensor.New(
		tensor.WithShape(batch, channels, height, width),
		tensor.WithBacking(data),
	)
}

func TestGlimpseStackShape(t *testing.T) {
	images := randomImages(3, 2, 8, 8, 1)
	stack, err := glimpseStack(images, 4, 2)
	if err != nil {
		t.Fatal(err)
	}

	want := []int{3, 4, 2, 8, 8}
	shape := stack.Shape()
	if len(shape) != len(want) {
		t.Fatalf("want shape %v, have %v", want, shape)
	}
	for i := range want {
		if shape[i] != want[i] {
			t.Fatalf("want shape %v, have %v", want, shape)
		}
	}
}

func TestGlimpseStackLevelZeroIdentity(t *testing.T) {
	batch, channels, height, width := 2, 1, 8, 8
	images := randomImages(batch, channels, height, width, 2)
	stack, err := glimpseStack(images, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	src := images.Data().([]float64)
	out := stack.Data().([]float64)
	plane := height * width
	levels := 3
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			srcStart := (b*channels + c) * plane
			outStart := ((b*levels)*channels + c) * plane
			for i := 0; i < plane; i++ {
				if src[srcStart+i] != out[outStart+i] {
					t.Fatalf("level 0 differs from input at episode %d, "+
						"channel %d, pixel %d", b, c, i)
				}
			}
		}
	}
}

func TestGlimpseStackConstantImage(t *testing.T) {
	// Reflect padding of a constant plane is constant, and area
	// resizing preserves constants, so every level must equal the
	// input everywhere.
	const value = 42.0
	plane := make([]float64, 8*8)
	for i := range plane {
		plane[i] = value
	}
	images := tensor.New(
		tensor.WithShape(1, 1, 8, 8),
		tensor.WithBacking(plane),
	)

	stack, err := glimpseStack(images, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range stack.Data().([]float64) {
		if math.Abs(v-value) > 1e-9 {
			t.Fatalf("entry %d: want %v, have %v", i, value, v)
		}
	}
}

func TestGlimpseStackSliceView(t *testing.T) {
	images := randomImages(3, 2, 8, 8, 5)
	stack, err := glimpseStack(images, 2, 2)
	if err != nil {
		t.Fatal(err)
	}

	// A view over a range of episodes keeps the trailing dimensions.
	view, err := stack.Slice(tensorutils.NewSlice(1, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	want := []int{2, 2, 2, 8, 8}
	shape := view.Shape()
	if len(shape) != len(want) {
		t.Fatalf("want view shape %v, have %v", want, shape)
	}
	for i := range want {
		if shape[i] != want[i] {
			t.Fatalf("want view shape %v, have %v", want, shape)
		}
	}
}

func TestGlimpseStackErrors(t *testing.T) {
	images := randomImages(1, 1, 4, 4, 3)

	if _, err := glimpseStack(images, 0, 2); err == nil {
		t.Error("expected error for non-positive levels")
	}

	flat := tensor.New(
		tensor.WithShape(4, 4),
		tensor.WithBacking(make([]float64, 16)),
	)
	if _, err := glimpseStack(flat, 2, 2); err == nil {
		t.Error("expected error for non-4D images")
	}
}

func TestReflectIndex(t *testing.T) {
	// Reflection over [0, 4) should fold without repeating the edge:
	// indices -3..8 map onto 3 2 1 0 1 2 3 2 1 0 1 2.
	n := 4
	want := []int{3, 2, 1, 0, 1, 2, 3, 2, 1, 0, 1, 2}
	for k, i := range []int{-3, -2, -1, 0, 1, 2, 3, 4, 5, 6, 7, 8} {
		if got := reflectIndex(i, n); got != want[k] {
			t.Errorf("reflectIndex(%d, %d) = %d, want %d", i, n, got, want[k])
		}
	}
}

func TestAreaSpansWeightsSumToOne(t *testing.T) {
	for _, dims := range [][2]int{{12, 8}, {16, 16}, {10, 3}} {
		for _, s := range areaSpans(dims[0], dims[1]) {
			var sum float64
			for _, w := range s.weights {
				sum += w
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("areaSpans(%d, %d): span weights sum to %v",
					dims[0], dims[1], sum)
			}
		}
	}
}
