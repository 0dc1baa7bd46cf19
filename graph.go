package sgcl

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
)

// An Augmentation selects a structural or feature
// augmentation applied while building graphs.
type Augmentation int

// Supported augmentations.
const (
	// AugNone builds the graphs exactly as described by the
	// masks and pair indices.
	AugNone Augmentation = iota

	// AugEdgeDrop removes each edge independently with
	// probability edgeDrop, keeping all nodes.
	AugEdgeDrop

	// AugSubgraph removes nodes (and their incident edges)
	// with probability nodeDrop, then removes surviving
	// edges with probability edgeDrop.
	AugSubgraph

	// AugNodeDrop removes nodes (and their incident edges)
	// with probability nodeDrop.
	AugNodeDrop

	// AugAttrMask zeroes feature channels of the object
	// features, one channel mask per sample, each channel
	// dropped with probability attrDrop.
	AugAttrMask

	// AugGlobalNode inserts one synthetic node per sample
	// holding the mean of the real node features, connected
	// bidirectionally to every real node by edges holding
	// the mean relation feature.
	// Samples already at full slot capacity are left alone.
	AugGlobalNode
)

// A Graph is one sample's scene graph: a directed
// multigraph whose nodes hold object features and whose
// edges hold relation features.
//
// Node and edge features are row-major matrices with one
// row per node or edge.
// Nodes and Edges are nil when the respective count is
// zero.
// Graphs are rebuilt for every forward pass and never
// persisted.
type Graph struct {
	NumNodes int
	Nodes    anydiff.Res

	NumEdges int
	Edges    anydiff.Res

	// Src and Dst give each edge's endpoint node indices.
	Src []int
	Dst []int
}

// BuildGraphs builds one graph per sample from packed
// object/relation features, masks, and pair indices.
//
// Graph i has one node per true entry of the i-th sample's
// object mask and one edge per true entry of its relation
// mask.
// A masked-in relation whose pair references a masked-out
// object slot is a caller error and panics.
func BuildGraphs(objects anydiff.Res, objectMask []bool, relations anydiff.Res,
	relationMask []bool, pairs [][2]int, n int) []*Graph {
	maxObj := len(objectMask) / n
	maxRel := len(relationMask) / n
	objDim := objects.Output().Len() / len(objectMask)
	relDim := relations.Output().Len() / len(relationMask)

	graphs := make([]*Graph, n)
	for i := range graphs {
		slotToNode := make(map[int]int, maxObj)
		var nodeRows []int
		for slot := 0; slot < maxObj; slot++ {
			if objectMask[i*maxObj+slot] {
				slotToNode[slot] = len(nodeRows)
				nodeRows = append(nodeRows, i*maxObj+slot)
			}
		}
		g := &Graph{NumNodes: len(nodeRows)}
		if g.NumNodes > 0 {
			g.Nodes = gatherRows(objects, nodeRows, objDim)
		}
		var edgeRows []int
		for slot := 0; slot < maxRel; slot++ {
			if !relationMask[i*maxRel+slot] {
				continue
			}
			pair := pairs[i*maxRel+slot]
			src, ok1 := slotToNode[pair[0]]
			dst, ok2 := slotToNode[pair[1]]
			if !ok1 || !ok2 {
				panic(fmt.Sprintf("sgcl: sample %d relation %d references a "+
					"masked-out object slot", i, slot))
			}
			g.Src = append(g.Src, src)
			g.Dst = append(g.Dst, dst)
			edgeRows = append(edgeRows, i*maxRel+slot)
		}
		g.NumEdges = len(edgeRows)
		if g.NumEdges > 0 {
			g.Edges = gatherRows(relations, edgeRows, relDim)
		}
		graphs[i] = g
	}
	return graphs
}

// BuildGraphsAugmented is like BuildGraphs with an
// augmentation applied.
//
// For AugAttrMask and AugGlobalNode the object features and
// mask themselves change; the possibly-updated tensors are
// returned so downstream consumers stay aligned with the
// graphs.
// An out-of-range augmentation code panics.
func BuildGraphsAugmented(objects anydiff.Res, objectMask []bool, relations anydiff.Res,
	relationMask []bool, pairs [][2]int, n int, aug Augmentation,
	edgeDrop, nodeDrop, attrDrop float64) ([]*Graph, anydiff.Res, []bool) {
	switch aug {
	case AugNone:
		return BuildGraphs(objects, objectMask, relations, relationMask, pairs, n),
			objects, objectMask
	case AugEdgeDrop:
		graphs := BuildGraphs(objects, objectMask, relations, relationMask, pairs, n)
		for i, g := range graphs {
			graphs[i] = dropGraphEdges(g, edgeDrop)
		}
		return graphs, objects, objectMask
	case AugSubgraph:
		graphs := BuildGraphs(objects, objectMask, relations, relationMask, pairs, n)
		for i, g := range graphs {
			graphs[i] = dropGraphEdges(dropGraphNodes(g, nodeDrop), edgeDrop)
		}
		return graphs, objects, objectMask
	case AugNodeDrop:
		graphs := BuildGraphs(objects, objectMask, relations, relationMask, pairs, n)
		for i, g := range graphs {
			graphs[i] = dropGraphNodes(g, nodeDrop)
		}
		return graphs, objects, objectMask
	case AugAttrMask:
		masked := maskObjectChannels(objects, objectMask, n, attrDrop)
		return BuildGraphs(masked, objectMask, relations, relationMask, pairs, n),
			masked, objectMask
	case AugGlobalNode:
		return addGlobalNodes(objects, objectMask, relations, relationMask, pairs, n)
	default:
		panic(fmt.Sprintf("sgcl: invalid augmentation code: %d", aug))
	}
}

// dropGraphEdges removes each edge with probability p.
func dropGraphEdges(g *Graph, p float64) *Graph {
	if g.NumEdges == 0 {
		return g
	}
	relDim := g.Edges.Output().Len() / g.NumEdges
	var kept []int
	for i := 0; i < g.NumEdges; i++ {
		if rand.Float64() >= p {
			kept = append(kept, i)
		}
	}
	res := &Graph{
		NumNodes: g.NumNodes,
		Nodes:    g.Nodes,
		NumEdges: len(kept),
	}
	if len(kept) == 0 {
		return res
	}
	res.Edges = gatherRows(g.Edges, kept, relDim)
	for _, i := range kept {
		res.Src = append(res.Src, g.Src[i])
		res.Dst = append(res.Dst, g.Dst[i])
	}
	return res
}

// dropGraphNodes removes each node with probability p,
// relabeling the survivors and keeping only edges whose
// endpoints both survive.
func dropGraphNodes(g *Graph, p float64) *Graph {
	if g.NumNodes == 0 {
		return g
	}
	objDim := g.Nodes.Output().Len() / g.NumNodes
	relabel := make([]int, g.NumNodes)
	var kept []int
	for i := 0; i < g.NumNodes; i++ {
		if rand.Float64() >= p {
			relabel[i] = len(kept)
			kept = append(kept, i)
		} else {
			relabel[i] = -1
		}
	}
	res := &Graph{NumNodes: len(kept)}
	if len(kept) == 0 {
		return res
	}
	res.Nodes = gatherRows(g.Nodes, kept, objDim)
	var keptEdges []int
	for i := 0; i < g.NumEdges; i++ {
		src, dst := relabel[g.Src[i]], relabel[g.Dst[i]]
		if src < 0 || dst < 0 {
			continue
		}
		res.Src = append(res.Src, src)
		res.Dst = append(res.Dst, dst)
		keptEdges = append(keptEdges, i)
	}
	res.NumEdges = len(keptEdges)
	if res.NumEdges > 0 {
		relDim := g.Edges.Output().Len() / g.NumEdges
		res.Edges = gatherRows(g.Edges, keptEdges, relDim)
	}
	return res
}

// maskObjectChannels zeroes a per-sample random subset of
// feature channels across every masked-in object row.
func maskObjectChannels(objects anydiff.Res, objectMask []bool, n int,
	p float64) anydiff.Res {
	maxObj := len(objectMask) / n
	objDim := objects.Output().Len() / len(objectMask)
	mult := make([]float64, objects.Output().Len())
	for i := range mult {
		mult[i] = 1
	}
	for i := 0; i < n; i++ {
		dropped := make([]bool, objDim)
		for c := range dropped {
			dropped[c] = rand.Float64() < p
		}
		for slot := 0; slot < maxObj; slot++ {
			if !objectMask[i*maxObj+slot] {
				continue
			}
			base := (i*maxObj + slot) * objDim
			for c, d := range dropped {
				if d {
					mult[base+c] = 0
				}
			}
		}
	}
	return anydiff.Mul(objects, constVec(objects.Output().Creator(), mult))
}

// addGlobalNodes implements AugGlobalNode.
//
// The synthetic node is written into the sample's first
// unused object slot, which the data pipeline guarantees is
// zero-padded, so the updated object tensor stays aligned
// with the graph's node order.
func addGlobalNodes(objects anydiff.Res, objectMask []bool, relations anydiff.Res,
	relationMask []bool, pairs [][2]int, n int) ([]*Graph, anydiff.Res, []bool) {
	maxObj := len(objectMask) / n
	maxRel := len(relationMask) / n
	objDim := objects.Output().Len() / len(objectMask)
	relDim := relations.Output().Len() / len(relationMask)
	c := objects.Output().Creator()

	newMask := make([]bool, len(objectMask))
	copy(newMask, objectMask)

	var meanParts []anydiff.Res
	for i := 0; i < n; i++ {
		var nodeRows []int
		for slot := 0; slot < maxObj; slot++ {
			if objectMask[i*maxObj+slot] {
				nodeRows = append(nodeRows, i*maxObj+slot)
			}
		}
		if len(nodeRows) == 0 || len(nodeRows) == maxObj {
			continue
		}
		globalSlot := i*maxObj + len(nodeRows)
		newMask[globalSlot] = true
		sum := scatterSumRows(gatherRows(objects, nodeRows, objDim),
			make([]int, len(nodeRows)), 1, objDim)
		mean := anydiff.Scale(sum, c.MakeNumeric(1/float64(len(nodeRows))))
		meanParts = append(meanParts,
			scatterSumRows(mean, []int{globalSlot}, len(objectMask), objDim))
	}
	newObjects := objects
	for _, part := range meanParts {
		newObjects = anydiff.Add(newObjects, part)
	}

	graphs := BuildGraphs(newObjects, newMask, relations, relationMask, pairs, n)
	for i, g := range graphs {
		origCount := countTrue(objectMask[i*maxObj : (i+1)*maxObj])
		if origCount == 0 || origCount == maxObj {
			continue
		}
		global := g.NumNodes - 1
		var relRows []int
		for slot := 0; slot < maxRel; slot++ {
			if relationMask[i*maxRel+slot] {
				relRows = append(relRows, i*maxRel+slot)
			}
		}
		var meanRel anydiff.Res
		if len(relRows) > 0 {
			sum := scatterSumRows(gatherRows(relations, relRows, relDim),
				make([]int, len(relRows)), 1, relDim)
			meanRel = anydiff.Scale(sum, c.MakeNumeric(1/float64(len(relRows))))
		} else {
			meanRel = anydiff.NewConst(c.MakeVector(relDim))
		}
		extra := 2 * global
		globalEdges := gatherRows(meanRel, make([]int, extra), relDim)
		if g.Edges != nil {
			g.Edges = anydiff.Concat(g.Edges, globalEdges)
		} else {
			g.Edges = globalEdges
		}
		for node := 0; node < global; node++ {
			g.Src = append(g.Src, node)
			g.Dst = append(g.Dst, global)
		}
		for node := 0; node < global; node++ {
			g.Src = append(g.Src, global)
			g.Dst = append(g.Dst, node)
		}
		g.NumEdges += extra
	}
	return graphs, newObjects, newMask
}

func countTrue(mask []bool) int {
	var n int
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
