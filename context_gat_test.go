package sgcl

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestContextGATNoInfo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when neither message type is enabled")
		}
	}()
	NewContextGAT(anyvec32.CurrentCreator(), 2, 2, false, false, 1, false)
}

func TestContextGATPassThrough(t *testing.T) {
	c := anyvec32.CurrentCreator()
	g := NewContextGAT(c, 2, 2, true, true, 1, true)
	graphs := []*Graph{
		{
			NumNodes: 2,
			Nodes: anydiff.NewVar(anyvec32.MakeVectorData([]float32{
				1, -2,
				3, 4,
			})),
		},
		{
			NumNodes: 1,
			Nodes:    anydiff.NewVar(anyvec32.MakeVectorData([]float32{5, 6})),
		},
	}
	context := anydiff.NewVar(anyvec32.MakeVector(4))
	out, mask := g.Apply(context, graphs)
	expected := []float32{1, -2, 3, 4, 5, 6, 0, 0}
	actual := out.Output().Data().([]float32)
	for i, x := range expected {
		if actual[i] != x {
			t.Errorf("component %d should be exactly %f but got %f", i, x, actual[i])
		}
	}
	expectedMask := []bool{true, true, true, false}
	for i, m := range expectedMask {
		if mask[i] != m {
			t.Errorf("mask entry %d should be %v", i, m)
		}
	}
}

func TestContextGATSingleMessage(t *testing.T) {
	fc := func(in, out int, weights []float32) *anynet.FC {
		return &anynet.FC{
			InCount:  in,
			OutCount: out,
			Weights:  anydiff.NewVar(anyvec32.MakeVectorData(weights)),
			Biases:   anydiff.NewVar(anyvec32.MakeVector(out)),
		}
	}
	g := &ContextGAT{
		UseObjInfo: true,
		KSteps:     1,

		InputProj:   fc(1, 1, []float32{0.5}),
		ObjectScore: fc(2, 1, []float32{1, -1}),
		PhiNode:     fc(2, 1, []float32{2, 3}),
	}
	graphs := []*Graph{{
		NumNodes: 2,
		Nodes:    anydiff.NewVar(anyvec32.MakeVectorData([]float32{0.5, -0.25})),
		NumEdges: 1,
		Edges:    anydiff.NewVar(anyvec32.MakeVectorData([]float32{9})),
		Src:      []int{0},
		Dst:      []int{1},
	}}
	context := anydiff.NewVar(anyvec32.MakeVectorData([]float32{0.7}))
	out, mask := g.Apply(context, graphs)

	// Node 1's only message carries node 0's feature with a
	// softmax weight of one, so its new state is
	// relu(2*0.5 + 3*(-0.25)).
	// Node 0 receives nothing and is zeroed.
	assertClose(t, out.Output().Data().([]float32), []float32{0, 0.25})
	if mask[0] || !mask[1] {
		t.Errorf("mask should be [false true] but got %v", mask)
	}
}

func TestContextGATGrad(t *testing.T) {
	c := anyvec64.CurrentCreator()
	g := NewContextGAT(c, 3, 2, true, true, 2, true)
	objects := anydiff.NewVar(c.MakeVector(12))
	relations := anydiff.NewVar(c.MakeVector(8))
	randomize(objects.Vector)
	randomize(relations.Vector)
	objectMask := []bool{true, true, true, true, true, false}
	relationMask := []bool{true, true, true, false}
	pairs := [][2]int{{0, 1}, {2, 1}, {1, 0}, {0, 0}}
	context := anydiff.NewVar(c.MakeVector(6))
	randomize(context.Vector)

	ch := anydifftest.ResChecker{
		F: func() anydiff.Res {
			graphs := BuildGraphs(objects, objectMask, relations, relationMask,
				pairs, 2)
			out, _ := g.Apply(context, graphs)
			return out
		},
		V: append([]*anydiff.Var{objects, relations, context}, g.Parameters()...),
	}
	ch.FullCheck(t)
}
