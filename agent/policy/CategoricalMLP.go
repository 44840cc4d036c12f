// Package policy implements concrete policies over the discrete
// action space of batched environments
package policy

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"sfneuman.com/needle/agent"
	"sfneuman.com/needle/network"
)

// CategoricalMLP implements a categorical policy whose action logits
// are predicted by an MLP over the flattened glimpse patches of each
// episode, concatenated with a one-hot encoding of the episode's
// previous action.
//
// A CategoricalMLP is memoryless: the Memory it returns is always
// nil. Recurrent context is limited to the previous-action input.
//
// The same struct serves both sides of REINFORCE training: the
// behaviour instance runs forward passes through Logits, while a
// CloneWithBatch instance exposes LogPdfOf and LogPdfNode so that a
// trainer can build a policy-gradient loss on its graph.
type CategoricalMLP struct {
	net *network.MLP
	vm  G.VM

	obsDims    int
	numActions int
	batch      int

	// actionIndices holds a one-hot row per sample selecting which
	// action's log probability logPdf computes.
	actionIndices *G.Node
	logPdf        *G.Node
	logPdfVal     G.Value
}

// NewCategoricalMLP returns a new CategoricalMLP for observations of
// flattened length obsDims and numActions discrete actions, processing
// batch episodes per forward pass. The network has hidden layers of
// the given sizes with the given biases and activations, plus a final
// linear layer predicting one logit per action.
func NewCategoricalMLP(obsDims, batch, numActions int, hiddenSizes []int,
	biases []bool, activations []network.Activation,
	init G.InitWFn) (*CategoricalMLP, error) {
	if numActions <= 0 {
		return nil, fmt.Errorf("newCategoricalMLP: numActions must be "+
			"positive, got %d", numActions)
	}

	g := G.NewGraph()
	features := obsDims + numActions
	net, err := network.NewMLP(features, batch, numActions, g, hiddenSizes,
		biases, activations, init)
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: could not create policy "+
			"network: %v", err)
	}

	pol := &CategoricalMLP{
		net:        net,
		obsDims:    obsDims,
		numActions: numActions,
		batch:      batch,
	}
	pol.addLogPdf()
	return pol, nil
}

// addLogPdf adds the log-probability nodes for externally chosen
// actions to the network's graph.
func (c *CategoricalMLP) addLogPdf() {
	logits := c.net.Prediction()

	c.actionIndices = G.NewMatrix(
		c.net.Graph(),
		tensor.Float64,
		G.WithShape(logits.Shape()...),
		G.WithInit(G.Zeroes()),
		G.WithName("actionIndices"),
	)

	chosenLogits := G.Must(G.HadamardProd(c.actionIndices, logits))
	chosenLogits = G.Must(G.Sum(chosenLogits, 1))

	c.logPdf = G.Must(G.Sub(chosenLogits, logSumExp(logits, 1)))
	G.Read(c.logPdf, &c.logPdfVal)
}

// logSumExp computes log(sum(exp(logits))) along the given axis,
// subtracting the per-row max first for numerical stability.
func logSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// Logits implements agent.Policy. The patches tensor must hold batch
// rows of obsDims values; prevActions holds each episode's previous
// action index. The returned logits are row-major
// [batch, numActions].
func (c *CategoricalMLP) Logits(patches *tensor.Dense, prevActions []int,
	_ agent.Memory) ([]float64, agent.Memory, error) {
	obs := patches.Data().([]float64)
	if len(obs) != c.batch*c.obsDims {
		return nil, nil, fmt.Errorf("logits: invalid observation size"+
			"\n\twant(%v)\n\thave(%v)", c.batch*c.obsDims, len(obs))
	}
	if len(prevActions) != c.batch {
		return nil, nil, fmt.Errorf("logits: invalid previous action count"+
			"\n\twant(%v)\n\thave(%v)", c.batch, len(prevActions))
	}

	if err := c.net.SetInput(c.concatInput(obs, prevActions)); err != nil {
		return nil, nil, fmt.Errorf("logits: %v", err)
	}

	// Lazy VM construction: the behaviour instance's graph is final
	// once the first forward pass is requested.
	if c.vm == nil {
		c.vm = G.NewTapeMachine(c.net.Graph())
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("logits: %v", err)
	}
	out := c.net.Output().Data().([]float64)
	logits := append([]float64(nil), out...)
	c.vm.Reset()

	return logits, nil, nil
}

// concatInput builds the network input rows: flattened observation
// followed by the one-hot previous action.
func (c *CategoricalMLP) concatInput(obs []float64,
	prevActions []int) []float64 {
	features := c.obsDims + c.numActions
	input := make([]float64, c.batch*features)
	for b := 0; b < c.batch; b++ {
		row := input[b*features : (b+1)*features]
		copy(row, obs[b*c.obsDims:(b+1)*c.obsDims])
		row[c.obsDims+prevActions[b]] = 1
	}
	return input
}

// LogPdfOf sets the network inputs so that the next run of the graph
// computes the log probability of the given actions at the given
// observations. The obs slice is row-major [batch, obsDims],
// prevActions and actions hold one index per row.
func (c *CategoricalMLP) LogPdfOf(obs []float64, prevActions,
	actions []int) error {
	if len(actions) != c.batch {
		return fmt.Errorf("logPdfOf: invalid action count\n\twant(%v)"+
			"\n\thave(%v)", c.batch, len(actions))
	}

	if err := c.net.SetInput(c.concatInput(obs, prevActions)); err != nil {
		return fmt.Errorf("logPdfOf: %v", err)
	}

	oneHot := make([]float64, c.batch*c.numActions)
	for b, a := range actions {
		if a < 0 || a >= c.numActions {
			return fmt.Errorf("logPdfOf: action %d out of range [0, %d)", a,
				c.numActions)
		}
		oneHot[b*c.numActions+a] = 1
	}
	indices := tensor.New(
		tensor.WithShape(c.batch, c.numActions),
		tensor.WithBacking(oneHot),
	)
	return G.Let(c.actionIndices, indices)
}

// LogPdfNode returns the graph node holding the per-sample log
// probabilities computed by LogPdfOf.
func (c *CategoricalMLP) LogPdfNode() *G.Node {
	return c.logPdf
}

// LogPdfVal returns the value of the log-probability node after the
// last graph run.
func (c *CategoricalMLP) LogPdfVal() G.Value {
	return c.logPdfVal
}

// CloneWithBatch clones the policy and its weights into a fresh graph
// with a new batch size.
func (c *CategoricalMLP) CloneWithBatch(batch int) (*CategoricalMLP, error) {
	net, err := c.net.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %v", err)
	}

	pol := &CategoricalMLP{
		net:        net,
		obsDims:    c.obsDims,
		numActions: c.numActions,
		batch:      batch,
	}
	pol.addLogPdf()
	return pol, nil
}

// Set copies the weights of source into the policy's network.
func (c *CategoricalMLP) Set(source *CategoricalMLP) error {
	return c.net.Set(source.net)
}

// Network returns the policy's underlying network.
func (c *CategoricalMLP) Network() *network.MLP {
	return c.net
}

// Graph returns the computational graph the policy is built on.
func (c *CategoricalMLP) Graph() *G.ExprGraph {
	return c.net.Graph()
}

// NumActions implements agent.Policy.
func (c *CategoricalMLP) NumActions() int {
	return c.numActions
}

// BatchSize returns the number of episodes per forward pass.
func (c *CategoricalMLP) BatchSize() int {
	return c.batch
}

// Close releases the policy's virtual machine, if one was created.
func (c *CategoricalMLP) Close() error {
	if c.vm == nil {
		return nil
	}
	return c.vm.Close()
}
