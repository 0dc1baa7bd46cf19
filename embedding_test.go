package sgcl

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestEmbeddingApply(t *testing.T) {
	e := &Embedding{
		VocabSize: 3,
		EmbedSize: 2,
		Weights: anydiff.NewVar(anyvec32.MakeVectorData([]float32{
			1, 2,
			3, 4,
			5, 6,
		})),
	}
	out := e.Apply([]int{2, 0, 2})
	assertClose(t, out.Output().Data().([]float32), []float32{5, 6, 1, 2, 5, 6})
}

func TestEmbeddingRange(t *testing.T) {
	e := NewEmbedding(anyvec32.CurrentCreator(), 3, 2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an out-of-range id")
		}
	}()
	e.Apply([]int{0, 3})
}

func TestEmbeddingGrad(t *testing.T) {
	e := NewEmbedding(anyvec32.CurrentCreator(), 4, 3)
	ch := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return e.Apply([]int{1, 3, 1, 0})
		},
		V: e.Parameters(),
	}
	ch.FullCheck(t)
}
