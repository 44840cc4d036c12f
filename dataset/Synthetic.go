package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
	"sfneuman.com/needle/environment/needle"
)

// SyntheticConfig describes a Synthetic loader.
type SyntheticConfig struct {
	BatchSize int
	Channels  int
	Height    int
	Width     int

	// MinBoxes and MaxBoxes bound the number of target boxes per
	// image, inclusive. MinBoxes may be 0, producing images with no
	// targets at all.
	MinBoxes int
	MaxBoxes int

	// MinBoxSide and MaxBoxSide bound the side lengths of each box.
	MinBoxSide int
	MaxBoxSide int

	Seed uint64
}

// Synthetic is an endless Loader of generated needle images: dim
// background noise with a few bright rectangles as targets, each
// recorded as a bounding box. Useful for training smoke tests and
// demos without an image corpus on disk.
type Synthetic struct {
	config     SyntheticConfig
	rng        *rand.Rand
	background distuv.Uniform
	foreground distuv.Uniform
}

// NewSynthetic returns a new Synthetic loader.
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.BatchSize <= 0 || config.Channels <= 0 {
		return nil, fmt.Errorf("newSynthetic: batch size and channels "+
			"must be positive, got (%d, %d)", config.BatchSize,
			config.Channels)
	}
	if config.Height <= 0 || config.Width <= 0 {
		return nil, fmt.Errorf("newSynthetic: image dims must be positive, "+
			"got (%d, %d)", config.Height, config.Width)
	}
	if config.MinBoxes < 0 || config.MaxBoxes < config.MinBoxes {
		return nil, fmt.Errorf("newSynthetic: invalid box count bounds "+
			"[%d, %d]", config.MinBoxes, config.MaxBoxes)
	}
	if config.MinBoxSide <= 0 || config.MaxBoxSide < config.MinBoxSide {
		return nil, fmt.Errorf("newSynthetic: invalid box side bounds "+
			"[%d, %d]", config.MinBoxSide, config.MaxBoxSide)
	}
	if config.MaxBoxSide > config.Height || config.MaxBoxSide > config.Width {
		return nil, fmt.Errorf("newSynthetic: max box side %d exceeds "+
			"image dims (%d, %d)", config.MaxBoxSide, config.Height,
			config.Width)
	}

	source := rand.NewSource(config.Seed)
	rng := rand.New(source)

	return &Synthetic{
		config:     config,
		rng:        rng,
		background: distuv.Uniform{Min: 0, Max: 60, Src: rng},
		foreground: distuv.Uniform{Min: 200, Max: needle.PixelMax, Src: rng},
	}, nil
}

// Next generates a fresh batch. It never errors: the loader is an
// endless stream.
func (s *Synthetic) Next() (Batch, error) {
	c := s.config
	plane := c.Height * c.Width
	data := make([]float64, c.BatchSize*c.Channels*plane)
	for i := range data {
		data[i] = s.background.Rand()
	}

	boxes := make([][]needle.Box, c.BatchSize)
	for b := 0; b < c.BatchSize; b++ {
		n := c.MinBoxes
		if c.MaxBoxes > c.MinBoxes {
			n += s.rng.Intn(c.MaxBoxes - c.MinBoxes + 1)
		}
		boxes[b] = make([]needle.Box, n)
		for i := 0; i < n; i++ {
			boxes[b][i] = s.randomBox()
			s.fill(data[b*c.Channels*plane:(b+1)*c.Channels*plane],
				boxes[b][i])
		}
	}

	images := tensor.New(
		tensor.WithShape(c.BatchSize, c.Channels, c.Height, c.Width),
		tensor.WithBacking(data),
	)
	return Batch{Images: images, Boxes: boxes}, nil
}

// randomBox samples a box with uniform side lengths, placed uniformly
// within the image bounds.
func (s *Synthetic) randomBox() needle.Box {
	c := s.config
	w := c.MinBoxSide
	h := c.MinBoxSide
	if c.MaxBoxSide > c.MinBoxSide {
		w += s.rng.Intn(c.MaxBoxSide - c.MinBoxSide + 1)
		h += s.rng.Intn(c.MaxBoxSide - c.MinBoxSide + 1)
	}
	x := s.rng.Intn(c.Width - w + 1)
	y := s.rng.Intn(c.Height - h + 1)
	return needle.Box{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

// fill paints the box's pixels bright in every channel of one image's
// planes.
func (s *Synthetic) fill(image []float64, box needle.Box) {
	c := s.config
	plane := c.Height * c.Width
	for ch := 0; ch < c.Channels; ch++ {
		for y := box.Y1; y < box.Y2; y++ {
			row := image[ch*plane+y*c.Width : ch*plane+(y+1)*c.Width]
			for x := box.X1; x < box.X2; x++ {
				row[x] = s.foreground.Rand()
			}
		}
	}
}
