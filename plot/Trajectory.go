// Package plot renders agent trajectories over their search images
// for qualitative evaluation. Purely presentational: it consumes
// copies of environment state and never mutates it.
package plot

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"sfneuman.com/needle/environment/needle"
	"sfneuman.com/needle/utils/floatutils"
)

// Trajectory draws one episode's search path over its image. The
// pixels slice is a flattened [channels, height, width] image with
// values in [0, needle.PixelMax]; positions is a row-major [n, 2]
// list of (row, col) grid positions in patch units, already filtered
// to the episode's active steps. Bounding boxes are outlined, visited
// patches shaded, and the path drawn through patch centers with the
// start and end marked.
func Trajectory(pixels []float64, channels, height, width int,
	positions []int, patchSize int, boxes []needle.Box) (image.Image,
	error) {
	if len(pixels) != channels*height*width {
		return nil, fmt.Errorf("trajectory: invalid pixel count"+
			"\n\twant(%v)\n\thave(%v)", channels*height*width, len(pixels))
	}
	if len(positions)%2 != 0 {
		return nil, fmt.Errorf("trajectory: positions must be [n, 2], "+
			"got %d values", len(positions))
	}

	dc := gg.NewContext(width, height)

	// Base image, channel-averaged to grayscale.
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += pixels[c*plane+y*width+x]
			}
			shade := floatutils.Clip(sum/float64(channels)/needle.PixelMax,
				0, 1)
			dc.SetRGB(shade, shade, shade)
			dc.SetPixel(x, y)
		}
	}

	// Visited patches.
	dc.SetRGBA(1, 1, 0, 0.25)
	for i := 0; i < len(positions)/2; i++ {
		row, col := positions[2*i], positions[2*i+1]
		dc.DrawRectangle(float64(col*patchSize), float64(row*patchSize),
			float64(patchSize), float64(patchSize))
	}
	dc.Fill()

	// Bounding boxes.
	dc.ClearPath()
	dc.SetRGB(1, 0, 0)
	dc.SetLineWidth(1.0)
	for _, box := range boxes {
		dc.DrawRectangle(float64(box.X1), float64(box.Y1),
			float64(box.X2-box.X1), float64(box.Y2-box.Y1))
	}
	dc.Stroke()

	// Path through patch centers.
	dc.ClearPath()
	dc.SetRGB(0, 0.6, 1)
	dc.SetLineWidth(1.5)
	half := float64(patchSize) / 2
	for i := 0; i < len(positions)/2; i++ {
		x := float64(positions[2*i+1]*patchSize) + half
		y := float64(positions[2*i]*patchSize) + half
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	// Start and end markers.
	if n := len(positions) / 2; n > 0 {
		dc.SetRGB(0, 1, 0)
		dc.DrawCircle(float64(positions[1]*patchSize)+half,
			float64(positions[0]*patchSize)+half, half/2)
		dc.Fill()

		dc.SetRGB(0, 0, 1)
		dc.DrawCircle(float64(positions[2*(n-1)+1]*patchSize)+half,
			float64(positions[2*(n-1)]*patchSize)+half, half/2)
		dc.Fill()
	}

	return dc.Image(), nil
}

// SavePNG writes an image to disk as a PNG.
func SavePNG(path string, img image.Image) error {
	return gg.SavePNG(path, img)
}
