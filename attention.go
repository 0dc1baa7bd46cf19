package sgcl

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// maskedOutScore is added to the scores of masked-out keys
// before the softmax, driving their weights to exactly zero
// after exponentiation.
const maskedOutScore = -1e30

func init() {
	var a Attention
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttention)
}

// Attention is an additive attention module.
//
// Keys and a query are projected into a shared attention
// space, scored, and softmax-normalized; the output is the
// score-weighted sum of the raw key features.
type Attention struct {
	// Features projects key features into attention space.
	Features *anynet.FC

	// Query projects the query into attention space.
	Query *anynet.FC

	// Scores reduces an attention-space vector to a scalar.
	Scores *anynet.FC

	// Dropout is applied to the activations before scoring.
	Dropout *anynet.Dropout
}

// NewAttention creates a randomized Attention.
//
// The dropout argument is the drop probability used during
// training; dropout starts out disabled.
func NewAttention(c anyvec.Creator, featureDim, queryDim, attentionDim int,
	dropout float64) *Attention {
	return &Attention{
		Features: anynet.NewFC(c, featureDim, attentionDim),
		Query:    anynet.NewFC(c, queryDim, attentionDim),
		Scores:   anynet.NewFC(c, attentionDim, 1),
		Dropout:  &anynet.Dropout{KeepProb: 1 - dropout},
	}
}

// DeserializeAttention deserializes an Attention.
func DeserializeAttention(d []byte) (*Attention, error) {
	var res Attention
	err := serializer.DeserializeAny(d, &res.Features, &res.Query, &res.Scores,
		&res.Dropout)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Attention", err)
	}
	return &res, nil
}

// Apply attends over numKeys keys per sample.
//
// The keys are a row-major n*numKeys-by-featureDim matrix
// and the query is n rows of query features.
// If mask is non-nil it marks which keys are valid; every
// sample must have at least one valid key or Apply panics.
//
// The result is n rows of weighted key sums.
func (a *Attention) Apply(keys, query anydiff.Res, n, numKeys int,
	mask []bool) anydiff.Res {
	keyDim := keys.Output().Len() / (n * numKeys)
	if mask != nil {
		if len(mask) != n*numKeys {
			panic(fmt.Sprintf("sgcl: mask size %d should be %d", len(mask), n*numKeys))
		}
		for i := 0; i < n; i++ {
			if countTrue(mask[i*numKeys:(i+1)*numKeys]) == 0 {
				panic(fmt.Sprintf("sgcl: sample %d has no valid attention keys", i))
			}
		}
	}
	return anydiff.Pool(keys, func(keys anydiff.Res) anydiff.Res {
		attDim := a.Features.OutCount
		keyProj := a.Features.Apply(keys, n*numKeys)
		queryRows := make([]int, n*numKeys)
		for i := range queryRows {
			queryRows[i] = i / numKeys
		}
		queryProj := gatherRows(a.Query.Apply(query, n), queryRows, attDim)
		act := anynet.ReLU.Apply(anydiff.Add(keyProj, queryProj), n*numKeys)
		act = a.Dropout.Apply(act, n*numKeys)
		scores := a.Scores.Apply(act, n*numKeys)
		if mask != nil {
			fill := make([]float64, n*numKeys)
			for i, ok := range mask {
				if !ok {
					fill[i] = maskedOutScore
				}
			}
			scores = anydiff.Add(scores, constVec(scores.Output().Creator(), fill))
		}
		weights := anydiff.Exp(anydiff.LogSoftmax(scores, numKeys))
		weighted := anydiff.Mul(keys, expandCols(weights, keyDim))
		return scatterSumRows(weighted, queryRows, n, keyDim)
	})
}

// Parameters returns the parameters of the projections.
func (a *Attention) Parameters() []*anydiff.Var {
	return anynet.AllParameters(a.Features, a.Query, a.Scores)
}

// SerializerType returns the unique ID used to serialize
// an Attention with the serializer package.
func (a *Attention) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.Attention"
}

// Serialize serializes the Attention.
func (a *Attention) Serialize() ([]byte, error) {
	return serializer.SerializeAny(a.Features, a.Query, a.Scores, a.Dropout)
}
