package needle

import (
	"fmt"
)

// Box is an axis-aligned bounding box in pixel coordinates. The box
// covers the half-open pixel ranges [X1, X2) horizontally and
// [Y1, Y2) vertically.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Empty returns whether the Box covers no pixels.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

func (b Box) String() string {
	return fmt.Sprintf("Box(%d, %d, %d, %d)", b.X1, b.Y1, b.X2, b.Y2)
}

// CoverageMask converts a set of bounding boxes into a per-patch
// coverage mask for an image of the given pixel dimensions. A patch is
// covered if any pixel of any box overlaps it.
//
// The boxes are first rendered into a per-pixel occupancy raster (the
// union over all boxes), which is then max-pooled over non-overlapping
// patchSize x patchSize windows. The returned mask is row-major with
// shape [height/patchSize, width/patchSize].
func CoverageMask(boxes []Box, height, width, patchSize int) ([]bool, error) {
	if height%patchSize != 0 || width%patchSize != 0 {
		return nil, fmt.Errorf("coverageMask: image dims (%d, %d) not "+
			"divisible by patch size %d", height, width, patchSize)
	}

	raster := make([]bool, height*width)
	for _, box := range boxes {
		if box.Empty() {
			continue
		}
		if box.X1 < 0 || box.Y1 < 0 || box.X2 > width || box.Y2 > height {
			return nil, fmt.Errorf("coverageMask: %v out of bounds for "+
				"(%d, %d) image", box, height, width)
		}
		for y := box.Y1; y < box.Y2; y++ {
			row := raster[y*width : (y+1)*width]
			for x := box.X1; x < box.X2; x++ {
				row[x] = true
			}
		}
	}

	rows := height / patchSize
	cols := width / patchSize
	mask := make([]bool, rows*cols)
	for y := 0; y < height; y++ {
		row := raster[y*width : (y+1)*width]
		maskRow := mask[(y/patchSize)*cols:]
		for x := 0; x < width; x++ {
			if row[x] {
				maskRow[x/patchSize] = true
			}
		}
	}
	return mask, nil
}

// countTrue returns the number of set entries in a boolean mask.
func countTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
