// Package tensorutils provides small helpers for working with tensors
package tensorutils

// Slice implements a struct that can be used for slicing tensors.
//
// Given a tensor T and a Slice S, T.Slice(..., S, ...) is equivalent
// to T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// Start returns the start index for the tensor slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index for the tensor slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step for the tensor slice
func (s Slice) Step() int {
	return s.step
}

// Index returns the flattened linear index of coords into a row-major
// tensor of the given shape. It panics if the lengths differ.
func Index(coords, shape []int) int {
	if len(coords) != len(shape) {
		panic("index: coords and shape lengths differ")
	}
	idx := 0
	for i, c := range coords {
		idx = idx*shape[i] + c
	}
	return idx
}
