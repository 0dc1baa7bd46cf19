// Package sgcl implements an image captioning decoder that
// fuses bottom-up region features with scene-graph structure
// through a context graph-attention layer and a two-stage
// attention cascade.
//
// The model consumes, per image, a fixed set of region
// feature vectors plus object and relation feature sets with
// validity masks and pair indices describing the scene graph.
// Captions are decoded token by token by a pair of LSTM
// cells; at every timestep the current hidden state drives
// message passing over the scene graph, and the result feeds
// a graph-then-image attention cascade.
package sgcl

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// A Batch is one batch of captioning inputs in packed,
// sample-major form.
//
// Feature tensors are flattened row-major: Images holds
// batchSize*numRegions rows of featuresDim components,
// Objects and Relations hold batchSize*maxSlots rows of
// graph feature components.
// Masks and Pairs are indexed the same way, one entry per
// row.
type Batch struct {
	// Images holds the region features.
	// Every region row is considered valid.
	Images anydiff.Res

	// Objects holds the object features and ObjectMask
	// marks the rows that contain a real detection.
	Objects    anydiff.Res
	ObjectMask []bool

	// Relations and RelationMask are analogous to Objects
	// and ObjectMask.
	Relations    anydiff.Res
	RelationMask []bool

	// Pairs gives, for each relation slot, the source and
	// destination object slots of the relation.
	// Entries for masked-out relation slots are ignored.
	Pairs [][2]int

	// Captions holds one encoded caption per sample,
	// starting with the start token and ending with the end
	// token followed by padding.
	Captions [][]int

	// Lengths holds the number of meaningful tokens in each
	// caption, including the start and end tokens.
	Lengths []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Lengths)
}

// check verifies that the packed tensors agree on the batch
// size and per-sample slot counts.
func (b *Batch) check() {
	n := b.Size()
	if n == 0 {
		panic("sgcl: empty batch")
	}
	if len(b.Captions) != n {
		panic(fmt.Sprintf("sgcl: got %d captions for %d samples", len(b.Captions), n))
	}
	if len(b.ObjectMask)%n != 0 || len(b.RelationMask)%n != 0 {
		panic("sgcl: mask size not divisible by batch size")
	}
	if len(b.Pairs) != len(b.RelationMask) {
		panic("sgcl: pair count does not match relation slots")
	}
	for i, l := range b.Lengths {
		if l < 2 || l > len(b.Captions[i]) {
			panic(fmt.Sprintf("sgcl: bad caption length %d for sample %d", l, i))
		}
	}
}
