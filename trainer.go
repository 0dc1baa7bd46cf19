package sgcl

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Sample is one training example: an image's region
// features, its scene graph, and an encoded caption.
//
// All samples in a list must agree on the per-sample region
// and slot counts and feature sizes.
type Sample struct {
	Image anyvec.Vector

	Objects    anyvec.Vector
	ObjectMask []bool

	Relations    anyvec.Vector
	RelationMask []bool

	Pairs [][2]int

	// Caption holds the encoded caption and Length the
	// number of meaningful tokens in it, including the
	// start and end tokens.
	Caption []int
	Length  int
}

// A SampleList is an anysgd.SampleList that produces
// captioning samples.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
	Creator() anyvec.Creator
}

// A Trainer creates batches, computes gradients, and adds
// up costs for a Decoder.
type Trainer struct {
	Decoder *Decoder
	Cost    anynet.Cost
	Params  []*anydiff.Var

	// Average indicates whether or not the total cost should
	// be averaged before computing gradients.
	// This affects gradients, LastCost, and the output of
	// TotalCost().
	Average bool

	// After every gradient computation, LastCost is set to
	// the cost from the batch.
	LastCost anyvec.Numeric
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList.
// The batch may not be empty.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	l := s.(SampleList)
	b := &Batch{}
	var images, objects, relations []anyvec.Vector
	for i := 0; i < l.Len(); i++ {
		sample, err := l.GetSample(i)
		if err != nil {
			return nil, essentials.AddCtx("fetch batch", err)
		}
		images = append(images, sample.Image)
		objects = append(objects, sample.Objects)
		relations = append(relations, sample.Relations)
		b.ObjectMask = append(b.ObjectMask, sample.ObjectMask...)
		b.RelationMask = append(b.RelationMask, sample.RelationMask...)
		b.Pairs = append(b.Pairs, sample.Pairs...)
		b.Captions = append(b.Captions, sample.Caption)
		b.Lengths = append(b.Lengths, sample.Length)
	}
	c := l.Creator()
	b.Images = anydiff.NewConst(c.Concat(images...))
	b.Objects = anydiff.NewConst(c.Concat(objects...))
	b.Relations = anydiff.NewConst(c.Concat(relations...))
	b.check()
	return b, nil
}

// TotalCost computes the total cost for the batch.
//
// Both prediction heads contribute to the cost; the cost of
// a timestep is the sum of the two heads' costs for the
// next ground truth word.
func (t *Trainer) TotalCost(b *Batch) anydiff.Res {
	res := t.Decoder.Apply(b)
	vocab := t.Decoder.Config.VocabSize
	maxSteps := res.DecodeLengths[0]
	c := res.Predictions.Output().Creator()

	var rows []int
	var desired []float64
	for i, l := range res.DecodeLengths {
		for step := 0; step < l; step++ {
			rows = append(rows, i*maxSteps+step)
			oneHot := make([]float64, vocab)
			oneHot[res.Captions[i][step+1]] = 1
			desired = append(desired, oneHot...)
		}
	}
	target := constVec(c, desired)

	mainCost := t.headCost(target, res.Predictions, rows, vocab)
	auxCost := t.headCost(target, res.AuxPredictions, rows, vocab)
	sum := anydiff.Sum(anydiff.Add(mainCost, auxCost))
	if t.Average {
		scaler := c.MakeNumeric(1 / float64(len(rows)))
		return anydiff.Scale(sum, scaler)
	} else {
		return sum
	}
}

// headCost computes the per-timestep costs of one
// prediction head against the packed targets.
func (t *Trainer) headCost(target, preds anydiff.Res, rows []int,
	vocab int) anydiff.Res {
	packed := gatherRows(preds, rows, vocab)
	logProbs := anydiff.LogSoftmax(packed, vocab)
	return t.Cost.Cost(target, logProbs, len(rows))
}

// Gradient computes the gradient for the batch's cost.
// It also sets t.LastCost to the numerical value of the
// total cost.
//
// The b argument must be a *Batch.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	res := anydiff.NewGrad(t.Params...)

	cost := t.TotalCost(b.(*Batch))
	t.LastCost = anyvec.Sum(cost.Output())

	c := cost.Output().Creator()
	data := c.MakeNumericList([]float64{1})
	upstream := c.MakeVectorData(data)
	cost.Propagate(upstream, res)

	return res
}
