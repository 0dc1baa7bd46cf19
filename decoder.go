package sgcl

import (
	"fmt"
	"sort"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Decoder
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDecoder)
}

// A Policy selects how the decoder feeds itself the
// previous word at each timestep.
type Policy int

const (
	// PolicyTeacherForced feeds the ground truth caption.
	PolicyTeacherForced Policy = iota

	// PolicyFreeRunning feeds the decoder's own argmax
	// prediction from the previous step.
	PolicyFreeRunning

	// PolicyScheduledSampling mixes the two by drawing a
	// branch per timestep.
	// The draw is currently hardwired to the ground truth
	// branch, so the outputs match PolicyTeacherForced.
	PolicyScheduledSampling
)

// A DecoderConfig describes the shape and behavior of a
// Decoder.
type DecoderConfig struct {
	FeaturesDim      int
	GraphFeaturesDim int
	AttentionDim     int
	EmbedDim         int
	DecoderDim       int
	VocabSize        int
	Dropout          float64

	CGATObjInfo   bool
	CGATRelInfo   bool
	CGATKSteps    int
	CGATUpdateRel bool

	Augmentation Augmentation
	EdgeDropProb float64
	NodeDropProb float64
	AttrDropProb float64

	Policy     Policy
	StartToken int
}

// A Decoder generates captions from image features and
// scene graphs with a two-cell cascade.
//
// The top-down cell consumes the previous word and global
// context and drives a ContextGAT pass plus two attention
// cascades; the language cell consumes the attended
// features and produces the word scores.
type Decoder struct {
	Config DecoderConfig

	CGAT           *ContextGAT
	GraphAttention *Attention
	ImageAttention *Attention
	Embedding      *Embedding
	TopDown        *LSTMCell
	Language       *LSTMCell
	AuxOut         *anynet.FC
	Out            *anynet.FC
	Dropout        *anynet.Dropout

	// Training toggles graph augmentation and dropout.
	// It is not serialized.
	Training bool
}

// NewDecoder creates a randomized Decoder.
func NewDecoder(c anyvec.Creator, cfg DecoderConfig) *Decoder {
	fd, gd, dd, ed := cfg.FeaturesDim, cfg.GraphFeaturesDim, cfg.DecoderDim,
		cfg.EmbedDim
	res := &Decoder{
		Config: cfg,

		CGAT: NewContextGAT(c, dd, gd, cfg.CGATObjInfo, cfg.CGATRelInfo,
			cfg.CGATKSteps, cfg.CGATUpdateRel),
		GraphAttention: NewAttention(c, gd, dd, cfg.AttentionDim, cfg.Dropout),
		ImageAttention: NewAttention(c, fd, dd+gd, cfg.AttentionDim, cfg.Dropout),
		Embedding:      NewEmbedding(c, cfg.VocabSize, ed),
		TopDown:        NewLSTMCell(c, dd+fd+gd+ed, dd),
		Language:       NewLSTMCell(c, gd+fd+dd, dd),
		AuxOut:         anynet.NewFC(c, dd, cfg.VocabSize),
		Out:            anynet.NewFC(c, dd, cfg.VocabSize),
		Dropout:        &anynet.Dropout{KeepProb: 1 - cfg.Dropout},
	}
	initOutWeights(res.Out)
	return res
}

// initOutWeights re-initializes an output layer's weights
// uniformly in [-0.1, 0.1].
func initOutWeights(fc *anynet.FC) {
	c := fc.Weights.Vector.Creator()
	anyvec.Rand(fc.Weights.Vector, anyvec.Uniform, nil)
	fc.Weights.Vector.Scale(c.MakeNumeric(2 * embeddingInitScale))
	fc.Weights.Vector.AddScalar(c.MakeNumeric(-embeddingInitScale))
}

// DeserializeDecoder deserializes a Decoder.
func DeserializeDecoder(d []byte) (*Decoder, error) {
	var fd, gd, ad, ed, dd, vocab serializer.Int
	var dropout serializer.Float64
	var objInfo, relInfo, kSteps, updateRel serializer.Int
	var aug serializer.Int
	var edgeDrop, nodeDrop, attrDrop serializer.Float64
	var policy, start serializer.Int
	var res Decoder
	err := serializer.DeserializeAny(d, &fd, &gd, &ad, &ed, &dd, &vocab,
		&dropout, &objInfo, &relInfo, &kSteps, &updateRel, &aug,
		&edgeDrop, &nodeDrop, &attrDrop, &policy, &start,
		&res.CGAT, &res.GraphAttention, &res.ImageAttention, &res.Embedding,
		&res.TopDown, &res.Language, &res.AuxOut, &res.Out, &res.Dropout)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Decoder", err)
	}
	res.Config = DecoderConfig{
		FeaturesDim:      int(fd),
		GraphFeaturesDim: int(gd),
		AttentionDim:     int(ad),
		EmbedDim:         int(ed),
		DecoderDim:       int(dd),
		VocabSize:        int(vocab),
		Dropout:          float64(dropout),

		CGATObjInfo:   objInfo != 0,
		CGATRelInfo:   relInfo != 0,
		CGATKSteps:    int(kSteps),
		CGATUpdateRel: updateRel != 0,

		Augmentation: Augmentation(aug),
		EdgeDropProb: float64(edgeDrop),
		NodeDropProb: float64(nodeDrop),
		AttrDropProb: float64(attrDrop),

		Policy:     Policy(policy),
		StartToken: int(start),
	}
	return &res, nil
}

// A Result holds the outputs of a decoding pass.
//
// Samples are sorted by decreasing caption length; Perm
// maps each sorted position to the original batch index.
type Result struct {
	// Predictions and AuxPredictions are batchSize by
	// maxSteps by vocabSize tensors of word scores.
	// Rows past a sample's decode length are zero.
	Predictions    anydiff.Res
	AuxPredictions anydiff.Res

	// Captions holds the sorted ground truth captions.
	Captions [][]int

	// DecodeLengths holds the number of decode steps per
	// sorted sample, one less than the caption length.
	DecodeLengths []int

	Perm []int
}

// Apply runs a decoding pass over a batch.
//
// During training the configured augmentation is applied
// to the graphs; otherwise the graphs are built as-is.
func (d *Decoder) Apply(b *Batch) *Result {
	b.check()
	n := b.Size()
	cfg := &d.Config
	fd, gd, dd, ed := cfg.FeaturesDim, cfg.GraphFeaturesDim, cfg.DecoderDim,
		cfg.EmbedDim
	c := b.Images.Output().Creator()
	maxObj := len(b.ObjectMask) / n
	maxRel := len(b.RelationMask) / n
	numPixels := b.Images.Output().Len() / (n * fd)
	d.Dropout.Enabled = d.Training

	// Sort samples by decreasing caption length so that the
	// active batch at each timestep is a prefix.
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return b.Lengths[perm[i]] > b.Lengths[perm[j]]
	})

	images := gatherRows(b.Images, spreadRows(perm, numPixels), fd)
	objects := gatherRows(b.Objects, spreadRows(perm, maxObj), gd)
	relations := gatherRows(b.Relations, spreadRows(perm, maxRel), gd)
	objectMask := permuteMask(b.ObjectMask, perm, maxObj)
	relationMask := permuteMask(b.RelationMask, perm, maxRel)
	pairs := make([][2]int, 0, n*maxRel)
	captions := make([][]int, n)
	decLen := make([]int, n)
	for i, p := range perm {
		pairs = append(pairs, b.Pairs[p*maxRel:(p+1)*maxRel]...)
		captions[i] = b.Captions[p]
		decLen[i] = b.Lengths[p] - 1
	}

	imgMean := meanRows(images, n, numPixels, fd)
	graphMean := maskedMean(objects, objectMask, relations, relationMask, n, gd)

	aug := AugNone
	if d.Training {
		aug = cfg.Augmentation
	}
	graphs, objects, objectMask := BuildGraphsAugmented(objects, objectMask,
		relations, relationMask, pairs, n, aug,
		cfg.EdgeDropProb, cfg.NodeDropProb, cfg.AttrDropProb)

	maxSteps := decLen[0]
	var h1, c1, h2, c2 anydiff.Res
	h1 = anydiff.NewConst(c.MakeVector(n * dd))
	c1 = anydiff.NewConst(c.MakeVector(n * dd))
	h2 = anydiff.NewConst(c.MakeVector(n * dd))
	c2 = anydiff.NewConst(c.MakeVector(n * dd))

	prevIDs := make([]int, n)
	var predParts, auxParts []anydiff.Res
	var predRows []int

	for t := 0; t < maxSteps; t++ {
		bt := 0
		for _, l := range decLen {
			if l > t {
				bt++
			}
		}
		ids := d.stepInputs(captions, prevIDs, bt, t)
		emb := d.Embedding.Apply(ids)
		h1b := anydiff.Slice(h1, 0, bt*dd)
		c1b := anydiff.Slice(c1, 0, bt*dd)
		h2b := anydiff.Slice(h2, 0, bt*dd)
		c2b := anydiff.Slice(c2, 0, bt*dd)

		x1 := rowsConcat(bt, []anydiff.Res{
			h2b,
			anydiff.Slice(imgMean, 0, bt*fd),
			anydiff.Slice(graphMean, 0, bt*gd),
			emb,
		}, []int{dd, fd, gd, ed})
		h1, c1 = d.TopDown.Step(x1, h1b, c1b, bt)

		cgatOut, cgatMask := d.CGAT.Apply(h1, graphs[:bt])
		of := anydiff.Slice(objects, 0, bt*maxObj*gd)
		om := objectMask[:bt*maxObj]
		cgatObj := reconcileUpdates(cgatOut, cgatMask, of, om, bt, maxObj, gd)

		graphEnc := d.GraphAttention.Apply(cgatObj, h1, bt, maxObj, om)
		imgQuery := rowsConcat(bt, []anydiff.Res{h1, graphEnc}, []int{dd, gd})
		imgEnc := d.ImageAttention.Apply(anydiff.Slice(images, 0, bt*numPixels*fd),
			imgQuery, bt, numPixels, nil)
		aux := d.AuxOut.Apply(d.Dropout.Apply(h1, bt), bt)

		x2 := rowsConcat(bt, []anydiff.Res{graphEnc, imgEnc, h1},
			[]int{gd, fd, dd})
		h2, c2 = d.Language.Step(x2, h2b, c2b, bt)
		pred := d.Out.Apply(d.Dropout.Apply(h2, bt), bt)

		predParts = append(predParts, pred)
		auxParts = append(auxParts, aux)
		for i := 0; i < bt; i++ {
			predRows = append(predRows, i*maxSteps+t)
		}
		if d.Policy() == PolicyFreeRunning {
			for i := 0; i < bt; i++ {
				row := pred.Output().Slice(i*cfg.VocabSize, (i+1)*cfg.VocabSize)
				prevIDs[i] = anyvec.MaxIndex(row)
			}
		}
	}

	return &Result{
		Predictions: scatterSumRows(anydiff.Concat(predParts...), predRows,
			n*maxSteps, cfg.VocabSize),
		AuxPredictions: scatterSumRows(anydiff.Concat(auxParts...), predRows,
			n*maxSteps, cfg.VocabSize),
		Captions:      captions,
		DecodeLengths: decLen,
		Perm:          perm,
	}
}

// Policy returns the decoder's feeding policy.
func (d *Decoder) Policy() Policy {
	return d.Config.Policy
}

// stepInputs picks the word IDs fed at step t for the bt
// active samples.
func (d *Decoder) stepInputs(captions [][]int, prevIDs []int, bt, t int) []int {
	ids := make([]int, bt)
	switch d.Policy() {
	case PolicyTeacherForced, PolicyScheduledSampling:
		// The scheduled sampler never draws the model
		// branch, so both policies feed the ground truth.
		for i := range ids {
			ids[i] = captions[i][t]
		}
	case PolicyFreeRunning:
		if t == 0 {
			for i := range ids {
				ids[i] = d.Config.StartToken
			}
		} else {
			copy(ids, prevIDs[:bt])
		}
	default:
		panic(fmt.Sprintf("sgcl: invalid policy: %d", d.Policy()))
	}
	return ids
}

// reconcileUpdates merges a ContextGAT output back into the
// full object slot layout.
//
// Updated node rows take the ContextGAT value; valid slots
// the ContextGAT did not update keep their original
// features unchanged; invalid slots stay zero.
func reconcileUpdates(cgatOut anydiff.Res, cgatMask []bool, of anydiff.Res,
	om []bool, n, maxObj, dim int) anydiff.Res {
	maxNodes := len(cgatMask) / n
	rows := make([]int, 0, n*maxNodes)
	for i := 0; i < n; i++ {
		for j := 0; j < maxNodes; j++ {
			rows = append(rows, i*maxObj+j)
		}
	}
	embedded := scatterSumRows(cgatOut, rows, n*maxObj, dim)
	keep := make([]float64, n*maxObj*dim)
	for i := 0; i < n; i++ {
		for s := 0; s < maxObj; s++ {
			slot := i*maxObj + s
			updated := s < maxNodes && cgatMask[i*maxNodes+s]
			if om[slot] && !updated {
				for k := 0; k < dim; k++ {
					keep[slot*dim+k] = 1
				}
			}
		}
	}
	c := of.Output().Creator()
	return anydiff.Add(embedded, anydiff.Mul(of, constVec(c, keep)))
}

// maskedMean averages the valid object and relation rows of
// each sample into a single vector.
func maskedMean(objects anydiff.Res, objectMask []bool, relations anydiff.Res,
	relationMask []bool, n, dim int) anydiff.Res {
	maxObj := len(objectMask) / n
	maxRel := len(relationMask) / n
	objRows := make([]int, n*maxObj)
	for i := range objRows {
		objRows[i] = i / maxObj
	}
	relRows := make([]int, n*maxRel)
	for i := range relRows {
		relRows[i] = i / maxRel
	}
	sum := anydiff.Add(
		scatterSumRows(objects, objRows, n, dim),
		scatterSumRows(relations, relRows, n, dim),
	)
	recip := make([]float64, n*dim)
	for i := 0; i < n; i++ {
		count := countTrue(objectMask[i*maxObj:(i+1)*maxObj]) +
			countTrue(relationMask[i*maxRel:(i+1)*maxRel])
		for k := 0; k < dim; k++ {
			recip[i*dim+k] = 1 / float64(count)
		}
	}
	return anydiff.Mul(sum, constVec(sum.Output().Creator(), recip))
}

// spreadRows expands a sample permutation into row indices
// for per-sample groups of the given size.
func spreadRows(perm []int, perSample int) []int {
	rows := make([]int, 0, len(perm)*perSample)
	for _, p := range perm {
		for j := 0; j < perSample; j++ {
			rows = append(rows, p*perSample+j)
		}
	}
	return rows
}

// permuteMask reorders a packed per-sample mask.
func permuteMask(mask []bool, perm []int, perSample int) []bool {
	out := make([]bool, 0, len(mask))
	for _, p := range perm {
		out = append(out, mask[p*perSample:(p+1)*perSample]...)
	}
	return out
}

// Parameters returns the parameters of every sub-module.
func (d *Decoder) Parameters() []*anydiff.Var {
	return anynet.AllParameters(d.CGAT, d.GraphAttention, d.ImageAttention,
		d.Embedding, d.TopDown, d.Language, d.AuxOut, d.Out)
}

// SerializerType returns the unique ID used to serialize
// a Decoder with the serializer package.
func (d *Decoder) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.Decoder"
}

// Serialize serializes the Decoder.
func (d *Decoder) Serialize() ([]byte, error) {
	boolInt := func(b bool) serializer.Int {
		if b {
			return 1
		}
		return 0
	}
	cfg := &d.Config
	return serializer.SerializeAny(
		serializer.Int(cfg.FeaturesDim),
		serializer.Int(cfg.GraphFeaturesDim),
		serializer.Int(cfg.AttentionDim),
		serializer.Int(cfg.EmbedDim),
		serializer.Int(cfg.DecoderDim),
		serializer.Int(cfg.VocabSize),
		serializer.Float64(cfg.Dropout),
		boolInt(cfg.CGATObjInfo),
		boolInt(cfg.CGATRelInfo),
		serializer.Int(cfg.CGATKSteps),
		boolInt(cfg.CGATUpdateRel),
		serializer.Int(cfg.Augmentation),
		serializer.Float64(cfg.EdgeDropProb),
		serializer.Float64(cfg.NodeDropProb),
		serializer.Float64(cfg.AttrDropProb),
		serializer.Int(cfg.Policy),
		serializer.Int(cfg.StartToken),
		d.CGAT, d.GraphAttention, d.ImageAttention, d.Embedding,
		d.TopDown, d.Language, d.AuxOut, d.Out, d.Dropout,
	)
}
