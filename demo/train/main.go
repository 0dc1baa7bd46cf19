// Command train fits a captioning decoder on a dataset of
// precomputed image and scene-graph features.
//
// The dataset is a JSON file holding the vocabulary and one
// entry per image with its region features, object and
// relation features with masks, relation pair indices, and
// a tokenized caption.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/aragakiyuiii/SGCL"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
	"github.com/unixpickle/serializer"
)

func main() {
	var dataPath string
	var outPath string
	var batchSize int
	var stepSize float64
	var attentionDim int
	var embedDim int
	var decoderDim int
	var augmentation int

	flag.StringVar(&dataPath, "data", "dataset.json", "path to the dataset")
	flag.StringVar(&outPath, "out", "decoder_out", "path to the output model")
	flag.IntVar(&batchSize, "batch", 32, "SGD batch size")
	flag.Float64Var(&stepSize, "step", 0.0004, "SGD step size")
	flag.IntVar(&attentionDim, "attention", 512, "attention layer size")
	flag.IntVar(&embedDim, "embed", 512, "word embedding size")
	flag.IntVar(&decoderDim, "decoder", 1024, "LSTM state size")
	flag.IntVar(&augmentation, "augmentation", 0, "graph augmentation code")
	flag.Parse()

	creator := anyvec32.CurrentCreator()

	log.Println("Loading dataset...")
	samples, wordMap, dims, err := loadDataset(creator, dataPath)
	if err != nil {
		essentials.Die(err)
	}

	decoder := &sgcl.Decoder{}
	if err := serializer.LoadAny(outPath, &decoder); err != nil {
		log.Println("Creating new decoder...")
		decoder = sgcl.NewDecoder(creator, sgcl.DecoderConfig{
			FeaturesDim:      dims.featuresDim,
			GraphFeaturesDim: dims.graphDim,
			AttentionDim:     attentionDim,
			EmbedDim:         embedDim,
			DecoderDim:       decoderDim,
			VocabSize:        wordMap.Len(),
			Dropout:          0.5,

			CGATObjInfo:   true,
			CGATRelInfo:   true,
			CGATKSteps:    1,
			CGATUpdateRel: true,

			Augmentation: sgcl.Augmentation(augmentation),
			EdgeDropProb: 0.2,
			NodeDropProb: 0.2,
			AttrDropProb: 0.2,

			Policy:     sgcl.PolicyTeacherForced,
			StartToken: wordMap.Start(),
		})
	} else {
		log.Println("Resuming existing decoder...")
	}
	decoder.Training = true

	t := &sgcl.Trainer{
		Decoder: decoder,
		Cost:    anynet.DotCost{},
		Params:  decoder.Parameters(),
		Average: true,
	}

	var iterNum int
	s := &anysgd.SGD{
		Fetcher:     t,
		Gradienter:  t,
		Transformer: &anysgd.Adam{},
		Samples:     samples,
		Rater:       anysgd.ConstRater(stepSize),
		StatusFunc: func(b anysgd.Batch) {
			log.Printf("iter %d: cost=%v", iterNum, t.LastCost)
			iterNum++
		},
		BatchSize: batchSize,
	}

	log.Println("Press ctrl+c once to stop...")
	s.Run(rip.NewRIP().Chan())

	decoder.Training = false
	if err := serializer.SaveAny(outPath, decoder); err != nil {
		essentials.Die(err)
	}
}

type datasetDims struct {
	featuresDim int
	graphDim    int
}

type datasetFile struct {
	Words       []string `json:"words"`
	FeaturesDim int      `json:"features_dim"`
	GraphDim    int      `json:"graph_dim"`
	MaxCaption  int      `json:"max_caption"`

	Samples []struct {
		Image        []float64 `json:"image"`
		Objects      []float64 `json:"objects"`
		ObjectMask   []bool    `json:"object_mask"`
		Relations    []float64 `json:"relations"`
		RelationMask []bool    `json:"relation_mask"`
		Pairs        [][2]int  `json:"pairs"`
		Caption      []string  `json:"caption"`
	} `json:"samples"`
}

func loadDataset(c anyvec.Creator, path string) (*sampleList, *sgcl.WordMap,
	datasetDims, error) {
	var dims datasetDims
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, dims, essentials.AddCtx("load dataset", err)
	}
	var parsed datasetFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, nil, dims, essentials.AddCtx("load dataset", err)
	}
	wordMap := sgcl.NewWordMap(parsed.Words)
	list := &sampleList{creator: c}
	for _, s := range parsed.Samples {
		ids, length := wordMap.Encode(s.Caption, parsed.MaxCaption)
		list.samples = append(list.samples, &sgcl.Sample{
			Image:        c.MakeVectorData(c.MakeNumericList(s.Image)),
			Objects:      c.MakeVectorData(c.MakeNumericList(s.Objects)),
			ObjectMask:   s.ObjectMask,
			Relations:    c.MakeVectorData(c.MakeNumericList(s.Relations)),
			RelationMask: s.RelationMask,
			Pairs:        s.Pairs,
			Caption:      ids,
			Length:       length,
		})
	}
	dims.featuresDim = parsed.FeaturesDim
	dims.graphDim = parsed.GraphDim
	return list, wordMap, dims, nil
}

type sampleList struct {
	samples []*sgcl.Sample
	creator anyvec.Creator
}

func (s *sampleList) Len() int {
	return len(s.samples)
}

func (s *sampleList) Swap(i, j int) {
	s.samples[i], s.samples[j] = s.samples[j], s.samples[i]
}

func (s *sampleList) Slice(i, j int) anysgd.SampleList {
	return &sampleList{
		samples: append([]*sgcl.Sample{}, s.samples[i:j]...),
		creator: s.creator,
	}
}

func (s *sampleList) GetSample(idx int) (*sgcl.Sample, error) {
	return s.samples[idx], nil
}

func (s *sampleList) Creator() anyvec.Creator {
	return s.creator
}
