package sgcl

import (
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestDecoderSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	d := NewDecoder(c, testDecoderConfig())
	data, err := serializer.SerializeAny(d)
	if err != nil {
		t.Fatal(err)
	}
	var d1 *Decoder
	if err := serializer.DeserializeAny(data, &d1); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Config, d1.Config) {
		t.Fatal("round trip changed the configuration")
	}

	b, _ := testCaptionBatch(c)
	out := d.Apply(b).Predictions.Output().Data().([]float32)
	out1 := d1.Apply(b).Predictions.Output().Data().([]float32)
	if !reflect.DeepEqual(out, out1) {
		t.Error("round trip changed the decoder's output")
	}
}

func TestContextGATSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	g := NewContextGAT(c, 3, 2, true, false, 2, false)
	data, err := serializer.SerializeAny(g)
	if err != nil {
		t.Fatal(err)
	}
	var g1 *ContextGAT
	if err := serializer.DeserializeAny(data, &g1); err != nil {
		t.Fatal(err)
	}
	if !g1.UseObjInfo || g1.UseRelInfo || g1.UpdateRelations || g1.KSteps != 2 {
		t.Error("round trip changed the flags")
	}
	if g1.RelationScore != nil || g1.PhiEdge != nil {
		t.Error("disabled projections should stay nil")
	}
	w := g.PhiNode.Weights.Vector.Data().([]float32)
	w1 := g1.PhiNode.Weights.Vector.Data().([]float32)
	if !reflect.DeepEqual(w, w1) {
		t.Error("round trip changed the weights")
	}
}

func TestLSTMCellSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cell := NewLSTMCell(c, 3, 2)
	data, err := serializer.SerializeAny(cell)
	if err != nil {
		t.Fatal(err)
	}
	var cell1 *LSTMCell
	if err := serializer.DeserializeAny(data, &cell1); err != nil {
		t.Fatal(err)
	}
	w := cell.Remember.Biases.Vector.Data().([]float32)
	w1 := cell1.Remember.Biases.Vector.Data().([]float32)
	if !reflect.DeepEqual(w, w1) {
		t.Error("round trip changed the biases")
	}
}

func TestAttentionSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	a := NewAttention(c, 3, 2, 4, 0.5)
	data, err := serializer.SerializeAny(a)
	if err != nil {
		t.Fatal(err)
	}
	var a1 *Attention
	if err := serializer.DeserializeAny(data, &a1); err != nil {
		t.Fatal(err)
	}
	if a1.Dropout.KeepProb != a.Dropout.KeepProb {
		t.Error("round trip changed the dropout")
	}
	w := a.Scores.Weights.Vector.Data().([]float32)
	w1 := a1.Scores.Weights.Vector.Data().([]float32)
	if !reflect.DeepEqual(w, w1) {
		t.Error("round trip changed the weights")
	}
}
