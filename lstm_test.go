package sgcl

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestLSTMCellOutput(t *testing.T) {
	gate := func(wIn, wState, bias float64, act anynet.Activation) *CellGate {
		return &CellGate{
			InputWeights: anydiff.NewVar(anyvec32.MakeVectorData([]float32{float32(wIn)})),
			StateWeights: anydiff.NewVar(anyvec32.MakeVectorData([]float32{float32(wState)})),
			Biases:       anydiff.NewVar(anyvec32.MakeVectorData([]float32{float32(bias)})),
			Activation:   act,
		}
	}
	cell := &LSTMCell{
		InValue:  gate(0.5, -0.25, 0.1, anynet.Tanh),
		In:       gate(1, 0.5, 0, anynet.Sigmoid),
		Remember: gate(-0.5, 1, 0.2, anynet.Sigmoid),
		Output:   gate(0.3, -1, 0, anynet.Sigmoid),
	}
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1}))
	h := anydiff.NewConst(anyvec32.MakeVectorData([]float32{0.5}))
	c := anydiff.NewConst(anyvec32.MakeVectorData([]float32{-0.3}))
	newH, newC := cell.Step(in, h, c, 1)

	sigmoid := func(x float64) float64 {
		return 1 / (1 + math.Exp(-x))
	}
	value := math.Tanh(0.5*1 - 0.25*0.5 + 0.1)
	input := sigmoid(1*1 + 0.5*0.5)
	remember := sigmoid(-0.5*1 + 1*0.5 + 0.2)
	output := sigmoid(0.3*1 - 1*0.5)
	expectedC := remember*(-0.3) + input*value
	expectedH := output * math.Tanh(expectedC)

	assertClose(t, newC.Output().Data().([]float32), []float32{float32(expectedC)})
	assertClose(t, newH.Output().Data().([]float32), []float32{float32(expectedH)})
}

func TestLSTMCellShapeCheck(t *testing.T) {
	cell := NewLSTMCell(anyvec32.CurrentCreator(), 3, 2)
	in := anydiff.NewConst(anyvec32.MakeVector(5))
	h := anydiff.NewConst(anyvec32.MakeVector(4))
	c := anydiff.NewConst(anyvec32.MakeVector(4))
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a bad input size")
		}
	}()
	cell.Step(in, h, c, 2)
}

func TestLSTMCellGrad(t *testing.T) {
	cell := NewLSTMCell(anyvec32.CurrentCreator(), 3, 2)
	in := anydiff.NewVar(anyvec32.MakeVector(6))
	h := anydiff.NewVar(anyvec32.MakeVector(4))
	c := anydiff.NewVar(anyvec32.MakeVector(4))
	randomize(in.Vector)
	randomize(h.Vector)
	randomize(c.Vector)
	ch := anydifftest.ResChecker{
		F: func() anydiff.Res {
			newH, newC := cell.Step(in, h, c, 2)
			return anydiff.Concat(newH, newC)
		},
		V: append([]*anydiff.Var{in, h, c}, cell.Parameters()...),
	}
	ch.FullCheck(t)
}
