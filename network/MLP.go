// Package network implements the neural networks backing trainable
// policies
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP implements a multi-layered perceptron over batches of flattened
// feature vectors. Its prediction node holds one output row per batch
// sample.
type MLP struct {
	g      *G.ExprGraph
	layers []*fcLayer

	input      *G.Node
	prediction *G.Node
	predVal    G.Value

	numInputs  int
	numOutputs int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []Activation
	init        G.InitWFn

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewMLP creates and returns a new multi-layered perceptron mapping
// features inputs to outputs outputs, operating on batches of batch
// rows at a time. The graph g is populated with the network.
//
// The network has len(hiddenSizes) hidden layers plus a final linear
// layer of size outputs with a bias unit and no activation. For index
// i, hiddenSizes[i] is the number of nodes in hidden layer i,
// biases[i] is whether that layer has a bias unit, and activations[i]
// is its activation. The parameter init determines the weight
// initialization scheme.
func NewMLP(features, batch, outputs int, g *G.ExprGraph, hiddenSizes []int,
	biases []bool, activations []Activation, init G.InitWFn) (*MLP, error) {
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newMLP: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newMLP: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}
	if features <= 0 || batch <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("newMLP: features, batch, and outputs must "+
			"be positive, got (%d, %d, %d)", features, batch, outputs)
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	// Final linear layer so that the network always predicts outputs
	// values per row.
	sizes := append(append([]int{}, hiddenSizes...), outputs)
	layerBiases := append(append([]bool{}, biases...), true)
	acts := append(append([]Activation{}, activations...), Identity())

	layers := make([]*fcLayer, len(sizes))
	in := features
	for i, size := range sizes {
		layers[i] = newFCLayer(g, in, size, layerBiases[i], acts[i], init,
			fmt.Sprintf("L%d", i))
		in = size
	}

	net := &MLP{
		g:           g,
		layers:      layers,
		input:       input,
		numInputs:   features,
		numOutputs:  outputs,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
		init:        init,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newMLP: could not compute forward pass: %v",
			err)
	}
	return net, nil
}

// fwd performs the forward pass of the MLP on the input node
func (m *MLP) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range m.layers {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"layer %v: %v", i, err)
		}
	}

	m.prediction = pred
	G.Read(m.prediction, &m.predVal)
	return nil
}

// CloneWithBatch clones the MLP and its current weights onto a fresh
// graph with a new input batch size.
func (m *MLP) CloneWithBatch(batch int) (*MLP, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("cloneWithBatch: batch must be positive, "+
			"got %d", batch)
	}

	graph := G.NewGraph()
	input := G.NewMatrix(graph, tensor.Float64,
		G.WithShape(batch, m.numInputs), G.WithName("input"),
		G.WithInit(G.Zeroes()))

	layers := make([]*fcLayer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].cloneTo(graph)
	}

	net := &MLP{
		g:           graph,
		layers:      layers,
		input:       input,
		numInputs:   m.numInputs,
		numOutputs:  m.numOutputs,
		batchSize:   batch,
		hiddenSizes: m.hiddenSizes,
		biases:      m.biases,
		activations: m.activations,
		init:        m.init,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not clone: %v", err)
	}
	return net, nil
}

// SetInput sets the value of the input node before running the
// forward pass. The input is row-major [batch, features].
func (m *MLP) SetInput(input []float64) error {
	if len(input) != m.numInputs*m.batchSize {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", m.numInputs*m.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(m.input.Shape()...),
	)
	return G.Let(m.input, inputTensor)
}

// Set sets the weights of the MLP to be equal to the weights of
// another MLP of the same architecture.
func (m *MLP) Set(source *MLP) error {
	sourceNodes := source.Learnables()
	nodes := m.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("set: architectures differ\n\twant(%d learnables)"+
			"\n\thave(%d)", len(nodes), len(sourceNodes))
	}
	for i, dest := range nodes {
		source := sourceNodes[i].Clone()
		err := G.Let(dest, source.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the computational graph of the MLP.
func (m *MLP) Graph() *G.ExprGraph {
	return m.g
}

// Prediction returns the node of the computational graph that stores
// the output of the MLP.
func (m *MLP) Prediction() *G.Node {
	return m.prediction
}

// Output returns the value of the prediction node after the last
// forward pass.
func (m *MLP) Output() G.Value {
	return m.predVal
}

// Learnables returns the learnable nodes of the MLP
func (m *MLP) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(m.layers))
		for i := range m.layers {
			learnables = append(learnables, m.layers[i].weights)
			if bias := m.layers[i].bias; bias != nil {
				learnables = append(learnables, bias)
			}
		}
		m.learnables = G.Nodes(learnables)
	}
	return m.learnables
}

// Model returns the learnable nodes with their gradients.
func (m *MLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		m.model = make([]G.ValueGrad, 0, len(m.Learnables()))
		for _, node := range m.Learnables() {
			m.model = append(m.model, node)
		}
	}
	return m.model
}

// BatchSize returns the batch size of inputs to the network
func (m *MLP) BatchSize() int {
	return m.batchSize
}

// Features returns the number of features in a single input row.
func (m *MLP) Features() int {
	return m.numInputs
}

// Outputs returns the number of outputs per input row.
func (m *MLP) Outputs() int {
	return m.numOutputs
}
