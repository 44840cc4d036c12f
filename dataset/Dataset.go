// Package dataset supplies batches of images and bounding boxes to
// train on. The environment core only depends on the Loader
// interface; how batches are produced or stored is up to the
// implementation.
package dataset

import (
	"gorgonia.org/tensor"
	"sfneuman.com/needle/environment/needle"
)

// Batch is one batch of training images with their target bounding
// boxes. Images has shape [batch, channels, height, width] with pixel
// values in [0, needle.PixelMax], and image dimensions divisible by
// the patch size of the environment the batch is destined for.
type Batch struct {
	Images *tensor.Dense
	Boxes  [][]needle.Box
}

// Loader produces successive training batches. Next returns an error
// when the underlying source is exhausted or fails; callers do not
// retry.
type Loader interface {
	Next() (Batch, error)
}
