package sgcl

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c ContextGAT
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeContextGAT)
}

// ContextGAT is a context-conditioned graph attention
// layer.
//
// Given a per-sample context vector and a batch of scene
// graphs, it runs K rounds of attention-weighted message
// passing over each graph and returns the updated node
// features, padded to the largest graph in the batch.
//
// Messages travel along directed edges.
// Depending on the configuration, a node's mailbox collects
// the scored features of its in-neighbours, its incoming
// relations, or both.
type ContextGAT struct {
	// UseObjInfo puts in-neighbour node features into the
	// mailbox.
	UseObjInfo bool

	// UseRelInfo puts incoming relation features into the
	// mailbox.
	UseRelInfo bool

	// UpdateRelations re-computes relation features after
	// every round using the edge's endpoint nodes.
	UpdateRelations bool

	// KSteps is the number of message passing rounds.
	KSteps int

	// InputProj projects the context vector into the
	// feature space.
	InputProj *anynet.FC

	// ObjectScore scores a node given the projected context
	// and the node's current features.
	ObjectScore *anynet.FC

	// RelationScore is like ObjectScore for relations.
	// It is nil unless UseRelInfo or UpdateRelations is
	// set.
	RelationScore *anynet.FC

	// PhiNode combines a node's aggregated mailbox with its
	// current features.
	PhiNode *anynet.FC

	// PhiEdge combines a relation's attended endpoints with
	// its current features.
	// It is nil unless UpdateRelations is set.
	PhiEdge *anynet.FC
}

// NewContextGAT creates a randomized ContextGAT.
//
// It panics unless at least one of useObjInfo and
// useRelInfo is set, since otherwise the mailboxes would
// always be empty.
func NewContextGAT(c anyvec.Creator, contextDim, featureDim int,
	useObjInfo, useRelInfo bool, kSteps int, updateRelations bool) *ContextGAT {
	if !useObjInfo && !useRelInfo {
		panic("sgcl: ContextGAT needs object info, relation info, or both")
	}
	res := &ContextGAT{
		UseObjInfo:      useObjInfo,
		UseRelInfo:      useRelInfo,
		UpdateRelations: updateRelations,
		KSteps:          kSteps,

		InputProj:   anynet.NewFC(c, contextDim, featureDim),
		ObjectScore: anynet.NewFC(c, featureDim*2, 1),
		PhiNode:     anynet.NewFC(c, featureDim*2, featureDim),
	}
	if useRelInfo || updateRelations {
		res.RelationScore = anynet.NewFC(c, featureDim*2, 1)
	}
	if updateRelations {
		res.PhiEdge = anynet.NewFC(c, featureDim*2, featureDim)
	}
	return res
}

// DeserializeContextGAT deserializes a ContextGAT.
func DeserializeContextGAT(d []byte) (*ContextGAT, error) {
	var useObj, useRel, updateRel, kSteps serializer.Int
	var inputProj, objectScore, phiNode *anynet.FC
	var optional anynet.Net
	err := serializer.DeserializeAny(d, &useObj, &useRel, &updateRel, &kSteps,
		&inputProj, &objectScore, &phiNode, &optional)
	if err != nil {
		return nil, essentials.AddCtx("deserialize ContextGAT", err)
	}
	res := &ContextGAT{
		UseObjInfo:      useObj != 0,
		UseRelInfo:      useRel != 0,
		UpdateRelations: updateRel != 0,
		KSteps:          int(kSteps),

		InputProj:   inputProj,
		ObjectScore: objectScore,
		PhiNode:     phiNode,
	}
	if res.UseRelInfo || res.UpdateRelations {
		res.RelationScore = optional[0].(*anynet.FC)
		optional = optional[1:]
	}
	if res.UpdateRelations {
		res.PhiEdge = optional[0].(*anynet.FC)
	}
	return res, nil
}

// Apply runs the message passing rounds for a batch of n
// graphs conditioned on n context vectors.
//
// The result is an n-by-maxNodes-by-featureDim tensor,
// where maxNodes is the node count of the largest graph,
// and a mask marking the rows that hold an updated node.
// Rows of nodes that received no messages are zero and
// masked out; padding rows are zero and masked out.
//
// When the batch contains no edges at all there is nothing
// to update, so the raw node features are passed through
// and every real node row is masked in.
func (g *ContextGAT) Apply(context anydiff.Res, graphs []*Graph) (anydiff.Res, []bool) {
	n := len(graphs)
	featureDim := g.PhiNode.OutCount

	var maxNodes, totalNodes, totalEdges int
	for _, gr := range graphs {
		maxNodes = essentials.MaxInt(maxNodes, gr.NumNodes)
		totalNodes += gr.NumNodes
		totalEdges += gr.NumEdges
	}
	if maxNodes == 0 {
		panic("sgcl: no nodes in graph batch")
	}

	// Pack per-graph nodes and edges into shared arenas.
	outRows := make([]int, 0, totalNodes)
	sampleOfNode := make([]int, 0, totalNodes)
	sampleOfEdge := make([]int, 0, totalEdges)
	src := make([]int, 0, totalEdges)
	dst := make([]int, 0, totalEdges)
	nodeParts := make([]anydiff.Res, 0, n)
	edgeParts := make([]anydiff.Res, 0, n)
	var nodeBase int
	for i, gr := range graphs {
		for j := 0; j < gr.NumNodes; j++ {
			outRows = append(outRows, i*maxNodes+j)
			sampleOfNode = append(sampleOfNode, i)
		}
		if gr.NumNodes > 0 {
			nodeParts = append(nodeParts, gr.Nodes)
		}
		for e := 0; e < gr.NumEdges; e++ {
			sampleOfEdge = append(sampleOfEdge, i)
			src = append(src, nodeBase+gr.Src[e])
			dst = append(dst, nodeBase+gr.Dst[e])
		}
		if gr.NumEdges > 0 {
			edgeParts = append(edgeParts, gr.Edges)
		}
		nodeBase += gr.NumNodes
	}
	nodes := anydiff.Concat(nodeParts...)

	mask := make([]bool, n*maxNodes)
	if totalEdges == 0 {
		for _, r := range outRows {
			mask[r] = true
		}
		return scatterSumRows(nodes, outRows, n*maxNodes, featureDim), mask
	}

	inDeg := make([]int, totalNodes)
	for _, d := range dst {
		inDeg[d]++
	}
	for i, r := range outRows {
		mask[r] = inDeg[i] > 0
	}

	out := anydiff.Pool(context, func(context anydiff.Res) anydiff.Res {
		h := g.InputProj.Apply(context, n)
		hNode := gatherRows(h, sampleOfNode, featureDim)
		hEdge := gatherRows(h, sampleOfEdge, featureDim)

		state := anydiff.Fuse(nodes, anydiff.Concat(edgeParts...))
		for i := 0; i < g.KSteps; i++ {
			state = g.step(hNode, hEdge, state, src, dst, inDeg, featureDim)
		}
		return scatterSumRows(firstOutput(state), outRows, n*maxNodes, featureDim)
	})
	return out, mask
}

// step runs one message passing round on the fused node
// and edge states, returning the fused new states.
func (g *ContextGAT) step(hNode, hEdge anydiff.Res, state anydiff.MultiRes,
	src, dst []int, inDeg []int, featureDim int) anydiff.MultiRes {
	totalNodes := len(inDeg)
	totalEdges := len(src)
	c := state.Outputs()[0].Creator()

	return anydiff.PoolMulti(state,
		func(reses []anydiff.Res) anydiff.MultiRes {
			nodeState, edgeState := reses[0], reses[1]

			sN := g.ObjectScore.Apply(
				rowsConcat(totalNodes, []anydiff.Res{hNode, nodeState},
					[]int{featureDim, featureDim}), totalNodes)
			var sE anydiff.Res
			if g.UseRelInfo || g.UpdateRelations {
				sE = g.RelationScore.Apply(
					rowsConcat(totalEdges, []anydiff.Res{hEdge, edgeState},
						[]int{featureDim, featureDim}), totalEdges)
			}

			// Deliver the enabled message types to each
			// destination node's mailbox.
			var msgScores, msgFeats []anydiff.Res
			var msgDst []int
			if g.UseObjInfo {
				msgScores = append(msgScores, gatherRows(sN, src, 1))
				msgFeats = append(msgFeats, gatherRows(nodeState, src, featureDim))
				msgDst = append(msgDst, dst...)
			}
			if g.UseRelInfo {
				msgScores = append(msgScores, sE)
				msgFeats = append(msgFeats, edgeState)
				msgDst = append(msgDst, dst...)
			}

			var mbWidth int
			msgCount := make([]int, totalNodes)
			for _, d := range msgDst {
				msgCount[d]++
				mbWidth = essentials.MaxInt(mbWidth, msgCount[d])
			}
			mbRow := make([]int, 0, len(msgDst))
			nextSlot := make([]int, totalNodes)
			for _, d := range msgDst {
				mbRow = append(mbRow, d*mbWidth+nextSlot[d])
				nextSlot[d]++
			}

			// Unused mailbox slots get a score low enough that
			// the softmax drives their weights to zero.
			pad := make([]float64, totalNodes*mbWidth)
			for v, count := range msgCount {
				for s := count; s < mbWidth; s++ {
					pad[v*mbWidth+s] = maskedOutScore
				}
			}
			mbScores := anydiff.Add(
				scatterSumRows(anydiff.Concat(msgScores...), mbRow, totalNodes*mbWidth, 1),
				constVec(c, pad))
			mbFeats := scatterSumRows(anydiff.Concat(msgFeats...), mbRow,
				totalNodes*mbWidth, featureDim)

			weights := anydiff.Exp(anydiff.LogSoftmax(mbScores, mbWidth))
			weighted := anydiff.Mul(mbFeats, expandCols(weights, featureDim))
			slotOf := make([]int, totalNodes*mbWidth)
			for i := range slotOf {
				slotOf[i] = i / mbWidth
			}
			agg := scatterSumRows(weighted, slotOf, totalNodes, featureDim)

			newNode := anynet.ReLU.Apply(g.PhiNode.Apply(
				rowsConcat(totalNodes, []anydiff.Res{agg, nodeState},
					[]int{featureDim, featureDim}), totalNodes), totalNodes)

			// Nodes without messages are not updated; zeroing
			// them matches masking them out downstream.
			deg := make([]float64, totalNodes*featureDim)
			for v, count := range msgCount {
				if count > 0 {
					for i := 0; i < featureDim; i++ {
						deg[v*featureDim+i] = 1
					}
				}
			}
			newNode = anydiff.Mul(newNode, constVec(c, deg))

			newEdge := edgeState
			if g.UpdateRelations {
				newEdge = g.updateEdges(sN, nodeState, edgeState, src, dst,
					totalEdges, featureDim)
			}
			return anydiff.Fuse(newNode, newEdge)
		})
}

// updateEdges attends over each edge's endpoints and mixes
// the result into the edge state.
func (g *ContextGAT) updateEdges(sN, nodeState, edgeState anydiff.Res,
	src, dst []int, totalEdges, featureDim int) anydiff.Res {
	pairScores := rowsConcat(totalEdges,
		[]anydiff.Res{gatherRows(sN, src, 1), gatherRows(sN, dst, 1)},
		[]int{1, 1})
	alpha := anydiff.Exp(anydiff.LogSoftmax(pairScores, 2))
	evens := make([]int, totalEdges)
	odds := make([]int, totalEdges)
	for i := range evens {
		evens[i] = 2 * i
		odds[i] = 2*i + 1
	}
	applied := anydiff.Add(
		anydiff.Mul(gatherRows(nodeState, src, featureDim),
			expandCols(gatherElems(alpha, evens), featureDim)),
		anydiff.Mul(gatherRows(nodeState, dst, featureDim),
			expandCols(gatherElems(alpha, odds), featureDim)),
	)
	return anynet.ReLU.Apply(g.PhiEdge.Apply(
		rowsConcat(totalEdges, []anydiff.Res{applied, edgeState},
			[]int{featureDim, featureDim}), totalEdges), totalEdges)
}

// Parameters returns the parameters of all projections.
func (g *ContextGAT) Parameters() []*anydiff.Var {
	layers := []interface{}{g.InputProj, g.ObjectScore, g.PhiNode}
	if g.RelationScore != nil {
		layers = append(layers, g.RelationScore)
	}
	if g.PhiEdge != nil {
		layers = append(layers, g.PhiEdge)
	}
	return anynet.AllParameters(layers...)
}

// SerializerType returns the unique ID used to serialize
// a ContextGAT with the serializer package.
func (g *ContextGAT) SerializerType() string {
	return "github.com/aragakiyuiii/SGCL.ContextGAT"
}

// Serialize serializes the ContextGAT.
func (g *ContextGAT) Serialize() ([]byte, error) {
	boolInt := func(b bool) serializer.Int {
		if b {
			return 1
		}
		return 0
	}
	var optional anynet.Net
	if g.RelationScore != nil {
		optional = append(optional, g.RelationScore)
	}
	if g.PhiEdge != nil {
		optional = append(optional, g.PhiEdge)
	}
	return serializer.SerializeAny(
		boolInt(g.UseObjInfo),
		boolInt(g.UseRelInfo),
		boolInt(g.UpdateRelations),
		serializer.Int(g.KSteps),
		g.InputProj,
		g.ObjectScore,
		g.PhiNode,
		optional,
	)
}
