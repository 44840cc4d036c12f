package needle

import (
	"fmt"

	"gorgonia.org/tensor"
)

// glimpseStack builds the multi-resolution glimpse images from a batch
// of images with shape [batch, channels, height, width]. Level 0 is
// the original image; every following level is the previous one
// reflect-padded by patchSize pixels on all four sides and resized
// back down to the original dimensions with area interpolation, giving
// the same field of view with progressively more blur and context
// compression.
//
// The returned tensor has shape
// [batch, levels, channels, height, width] and is never mutated after
// construction.
func glimpseStack(images *tensor.Dense, levels, patchSize int) (*tensor.Dense,
	error) {
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("glimpseStack: images must be 4D, got shape %v",
			shape)
	}
	if levels <= 0 {
		return nil, fmt.Errorf("glimpseStack: levels must be positive, "+
			"got %d", levels)
	}

	batch, channels, height, width := shape[0], shape[1], shape[2], shape[3]
	data := images.Data().([]float64)

	plane := height * width
	out := make([]float64, batch*levels*channels*plane)

	current := make([]float64, len(data))
	copy(current, data)

	hResize := areaSpans(width+2*patchSize, width)
	vResize := areaSpans(height+2*patchSize, height)

	for level := 0; level < levels; level++ {
		// Interleave the current level into the [b, l, c] layout.
		for b := 0; b < batch; b++ {
			for c := 0; c < channels; c++ {
				src := current[(b*channels+c)*plane : (b*channels+c+1)*plane]
				start := ((b*levels+level)*channels + c) * plane
				copy(out[start:start+plane], src)
			}
		}

		if level == levels-1 {
			break
		}

		next := make([]float64, len(current))
		padded := make([]float64, (height+2*patchSize)*(width+2*patchSize))
		for p := 0; p < batch*channels; p++ {
			src := current[p*plane : (p+1)*plane]
			reflectPad(padded, src, height, width, patchSize)
			areaResize(next[p*plane:(p+1)*plane], padded,
				width+2*patchSize, hResize, vResize)
		}
		current = next
	}

	stacked := tensor.New(
		tensor.WithShape(batch, levels, channels, height, width),
		tensor.WithBacking(out),
	)
	return stacked, nil
}

// reflectPad fills dst with src padded by pad pixels on all four
// sides using edge reflection. src has shape [height, width] and dst
// must have length (height+2*pad)*(width+2*pad).
func reflectPad(dst, src []float64, height, width, pad int) {
	paddedWidth := width + 2*pad
	for y := 0; y < height+2*pad; y++ {
		srcY := reflectIndex(y-pad, height)
		srcRow := src[srcY*width : (srcY+1)*width]
		dstRow := dst[y*paddedWidth : (y+1)*paddedWidth]
		for x := 0; x < paddedWidth; x++ {
			dstRow[x] = srcRow[reflectIndex(x-pad, width)]
		}
	}
}

// reflectIndex mirrors an out-of-range index back into [0, n) without
// repeating the border element, folding as many times as needed.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// span holds the contribution of consecutive input cells to one
// output cell of an area resize along a single axis.
type span struct {
	start   int
	weights []float64
}

// areaSpans precomputes the input ranges and coverage weights mapping
// an axis of length in down to length out with area interpolation.
// Each output cell averages the input interval it covers, weighting
// partially-covered input cells by their overlap.
func areaSpans(in, out int) []span {
	scale := float64(in) / float64(out)
	spans := make([]span, out)
	for o := 0; o < out; o++ {
		lo := float64(o) * scale
		hi := float64(o+1) * scale

		start := int(lo)
		end := int(hi)
		if hi > float64(end) {
			end++
		}
		if end > in {
			end = in
		}

		weights := make([]float64, end-start)
		for i := start; i < end; i++ {
			cellLo := float64(i)
			cellHi := float64(i + 1)
			if cellLo < lo {
				cellLo = lo
			}
			if cellHi > hi {
				cellHi = hi
			}
			weights[i-start] = (cellHi - cellLo) / scale
		}
		spans[o] = span{start: start, weights: weights}
	}
	return spans
}

// areaResize downsamples a padded [len(vSpans) target] plane into dst
// using the precomputed horizontal and vertical spans. The resize is
// separable: rows are reduced first, then columns.
func areaResize(dst, padded []float64, paddedWidth int, hSpans,
	vSpans []span) {
	outWidth := len(hSpans)
	paddedHeight := len(padded) / paddedWidth

	// Reduce along the horizontal axis into a [paddedHeight, outWidth]
	// scratch plane.
	scratch := make([]float64, paddedHeight*outWidth)
	for y := 0; y < paddedHeight; y++ {
		row := padded[y*paddedWidth : (y+1)*paddedWidth]
		outRow := scratch[y*outWidth : (y+1)*outWidth]
		for x, s := range hSpans {
			var acc float64
			for k, w := range s.weights {
				acc += w * row[s.start+k]
			}
			outRow[x] = acc
		}
	}

	// Reduce along the vertical axis into dst.
	for y, s := range vSpans {
		outRow := dst[y*outWidth : (y+1)*outWidth]
		for x := 0; x < outWidth; x++ {
			var acc float64
			for k, w := range s.weights {
				acc += w * scratch[(s.start+k)*outWidth+x]
			}
			outRow[x] = acc
		}
	}
}
