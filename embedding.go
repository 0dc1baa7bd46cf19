package sgcl

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

const embeddingInitScale = 0.1

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding maps token IDs to learned vectors.
type Embedding struct {
	VocabSize int
	EmbedSize int

	// Weights is a VocabSize by EmbedSize matrix with one
	// row per token.
	Weights *anydiff.Var
}

// NewEmbedding creates a randomized Embedding.
func NewEmbedding(c anyvec.Creator, vocab, dim int) *Embedding {
	weights := c.MakeVector(vocab * dim)
	anyvec.Rand(weights, anyvec.Uniform, nil)
	weights.Scale(c.MakeNumeric(2 * embeddingInitScale))
	weights.AddScalar(c.MakeNumeric(-embeddingInitScale))
	return &Embedding{
		VocabSize: vocab,
		EmbedSize: dim,
		Weights:   anydiff.NewVar(weights),
	}
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var vocab, dim serializer.Int
	var weights *anyvecsave.S
	if err := serializer.DeserializeAny(d, &vocab, &dim, &weights); err != nil {
		return nil, err
	}
	return &Embedding{
		VocabSize: int(vocab),
		EmbedSize: int(dim),
		Weights:   anydiff.NewVar(weights.Vector),
	}, nil
}

// Apply looks up the embedding rows for a batch of token
// IDs.
//
// It panics if an ID is out of range.
func (e *Embedding) Apply(ids []int) anydiff.Res {
	for _, id := range ids {
		if id < 0 || id >= e.VocabSize {
			panic("token ID out of range")
		}
	}
	return gatherRows(e.Weights, ids, e.EmbedSize)
}

// Parameters returns a slice containing the embedding
// matrix.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Weights}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.Embedding"
}

// Serialize serializes the Embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(e.VocabSize),
		serializer.Int(e.EmbedSize),
		&anyvecsave.S{Vector: e.Weights.Vector},
	)
}
