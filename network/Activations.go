package network

import (
	G "gorgonia.org/gorgonia"
)

// Activation represents an activation function type
type Activation func(x *G.Node) (*G.Node, error)

// ReLU returns a rectified linear unit Activation
func ReLU() Activation {
	return func(x *G.Node) (*G.Node, error) {
		return G.Rectify(x)
	}
}

// TanH returns a hyperbolic tangent Activation
func TanH() Activation {
	return func(x *G.Node) (*G.Node, error) {
		return G.Tanh(x)
	}
}

// Identity returns an identity Activation
func Identity() Activation {
	return func(x *G.Node) (*G.Node, error) {
		return x, nil
	}
}
