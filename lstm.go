package sgcl

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

const cellRememberBias = 1

func init() {
	var g CellGate
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeCellGate)
	var l LSTMCell
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTMCell)
}

// An LSTMCell is a functional long short-term memory cell.
//
// Unlike a recurrent block, a cell does not own its state:
// the caller passes the previous hidden and cell states to
// Step and receives the next ones, which makes it possible
// to truncate the state batch between timesteps.
type LSTMCell struct {
	InValue  *CellGate
	In       *CellGate
	Remember *CellGate
	Output   *CellGate
}

// NewLSTMCell creates a randomized LSTMCell.
//
// The remember gate is initially biased to remember.
func NewLSTMCell(c anyvec.Creator, in, state int) *LSTMCell {
	res := &LSTMCell{
		InValue:  NewCellGate(c, in, state, anynet.Tanh),
		In:       NewCellGate(c, in, state, anynet.Sigmoid),
		Remember: NewCellGate(c, in, state, anynet.Sigmoid),
		Output:   NewCellGate(c, in, state, anynet.Sigmoid),
	}
	res.Remember.Biases.Vector.AddScalar(c.MakeNumeric(cellRememberBias))
	return res
}

// DeserializeLSTMCell deserializes an LSTMCell.
func DeserializeLSTMCell(d []byte) (*LSTMCell, error) {
	var res LSTMCell
	err := serializer.DeserializeAny(d, &res.InValue, &res.In, &res.Remember,
		&res.Output)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Step applies the cell for one timestep to a batch of n
// inputs and states, returning the new hidden and cell
// state batches.
func (l *LSTMCell) Step(in, h, c anydiff.Res, n int) (anydiff.Res, anydiff.Res) {
	value := l.InValue.Apply(in, h, n)
	input := l.In.Apply(in, h, n)
	remember := l.Remember.Apply(in, h, n)
	output := l.Output.Apply(in, h, n)
	newC := anydiff.Add(anydiff.Mul(remember, c), anydiff.Mul(input, value))
	newH := anydiff.Mul(output, anydiff.Tanh(newC))
	return newH, newC
}

// Parameters returns the parameters of all four gates.
func (l *LSTMCell) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, g := range []*CellGate{l.InValue, l.In, l.Remember, l.Output} {
		res = append(res, g.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTMCell with the serializer package.
func (l *LSTMCell) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.LSTMCell"
}

// Serialize serializes the LSTMCell.
func (l *LSTMCell) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.InValue, l.In, l.Remember, l.Output)
}

// A CellGate computes a gate value from the cell input and
// the previous hidden state.
type CellGate struct {
	InputWeights *anydiff.Var
	StateWeights *anydiff.Var
	Biases       *anydiff.Var
	Activation   anynet.Activation
}

// NewCellGate creates a randomized gate.
func NewCellGate(c anyvec.Creator, in, state int, activation anynet.Activation) *CellGate {
	inWeights := anynet.NewFC(c, in, state).Weights
	stateWeights := anynet.NewFC(c, state, state).Weights
	return &CellGate{
		InputWeights: inWeights,
		StateWeights: stateWeights,
		Biases:       anydiff.NewVar(c.MakeVector(state)),
		Activation:   activation,
	}
}

// DeserializeCellGate deserializes a CellGate.
func DeserializeCellGate(d []byte) (*CellGate, error) {
	var iw, sw, b *anyvecsave.S
	var act anynet.Activation
	if err := serializer.DeserializeAny(d, &iw, &sw, &b, &act); err != nil {
		return nil, err
	}
	return &CellGate{
		InputWeights: anydiff.NewVar(iw.Vector),
		StateWeights: anydiff.NewVar(sw.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   act,
	}, nil
}

// StateSize returns the gate's output size.
func (c *CellGate) StateSize() int {
	return c.Biases.Vector.Len()
}

// InSize returns the gate's input size.
func (c *CellGate) InSize() int {
	return c.InputWeights.Vector.Len() / c.StateSize()
}

// Apply computes the gate for a batch of n inputs and
// previous hidden states.
func (c *CellGate) Apply(in, state anydiff.Res, n int) anydiff.Res {
	inSize := c.InSize()
	stateSize := c.StateSize()
	if in.Output().Len() != n*inSize {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			n*inSize, in.Output().Len()))
	}
	if state.Output().Len() != n*stateSize {
		panic(fmt.Sprintf("state length should be %d, but got %d",
			n*stateSize, state.Output().Len()))
	}
	inMat := &anydiff.Matrix{Data: in, Rows: n, Cols: inSize}
	inWeights := &anydiff.Matrix{Data: c.InputWeights, Rows: stateSize, Cols: inSize}
	stateMat := &anydiff.Matrix{Data: state, Rows: n, Cols: stateSize}
	stateWeights := &anydiff.Matrix{Data: c.StateWeights, Rows: stateSize, Cols: stateSize}
	sum := anydiff.Add(
		anydiff.MatMul(false, true, inMat, inWeights).Data,
		anydiff.MatMul(false, true, stateMat, stateWeights).Data,
	)
	return c.Activation.Apply(anydiff.AddRepeated(sum, c.Biases), n)
}

// Parameters returns the gate's parameters.
func (c *CellGate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{c.InputWeights, c.StateWeights, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a CellGate with the serializer package.
func (c *CellGate) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.CellGate"
}

// Serialize serializes the gate.
func (c *CellGate) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: c.InputWeights.Vector},
		&anyvecsave.S{Vector: c.StateWeights.Vector},
		&anyvecsave.S{Vector: c.Biases.Vector},
		c.Activation,
	)
}
