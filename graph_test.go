package sgcl

import (
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
)

func testGraphBatch() (objects anydiff.Res, objectMask []bool,
	relations anydiff.Res, relationMask []bool, pairs [][2]int) {
	objects = anydiff.NewVar(anyvec32.MakeVectorData([]float32{
		1, 1,
		2, 2,
		0, 0,

		3, 3,
		4, 4,
		5, 5,
	}))
	objectMask = []bool{true, true, false, true, true, true}
	relations = anydiff.NewVar(anyvec32.MakeVectorData([]float32{
		10, 10,
		0, 0,

		20, 20,
		30, 30,
	}))
	relationMask = []bool{true, false, true, true}
	pairs = [][2]int{{0, 1}, {0, 0}, {0, 2}, {2, 1}}
	return
}

func TestBuildGraphs(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	graphs := BuildGraphs(objects, objectMask, relations, relationMask, pairs, 2)
	if len(graphs) != 2 {
		t.Fatalf("expected 2 graphs but got %d", len(graphs))
	}
	g0, g1 := graphs[0], graphs[1]
	if g0.NumNodes != 2 || g0.NumEdges != 1 {
		t.Errorf("graph 0 should be 2 nodes, 1 edge but got %d, %d",
			g0.NumNodes, g0.NumEdges)
	}
	if g1.NumNodes != 3 || g1.NumEdges != 2 {
		t.Errorf("graph 1 should be 3 nodes, 2 edges but got %d, %d",
			g1.NumNodes, g1.NumEdges)
	}
	if !reflect.DeepEqual(g1.Src, []int{0, 2}) || !reflect.DeepEqual(g1.Dst, []int{2, 1}) {
		t.Errorf("unexpected endpoints: %v -> %v", g1.Src, g1.Dst)
	}
	assertClose(t, g0.Nodes.Output().Data().([]float32), []float32{1, 1, 2, 2})
	assertClose(t, g0.Edges.Output().Data().([]float32), []float32{10, 10})
	assertClose(t, g1.Edges.Output().Data().([]float32), []float32{20, 20, 30, 30})
}

func TestBuildGraphsBadPair(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	pairs[0] = [2]int{0, 2}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a pair into a masked-out slot")
		}
	}()
	BuildGraphs(objects, objectMask, relations, relationMask, pairs, 2)
}

func TestBuildGraphsInvalidAugmentation(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an invalid augmentation code")
		}
	}()
	BuildGraphsAugmented(objects, objectMask, relations, relationMask, pairs, 2,
		Augmentation(17), 0, 0, 0)
}

func TestEdgeDrop(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	graphs, _, _ := BuildGraphsAugmented(objects, objectMask, relations,
		relationMask, pairs, 2, AugEdgeDrop, 1, 0, 0)
	for i, g := range graphs {
		if g.NumEdges != 0 {
			t.Errorf("graph %d should have no edges but has %d", i, g.NumEdges)
		}
		if g.NumNodes == 0 {
			t.Errorf("graph %d should keep its nodes", i)
		}
	}
	graphs, _, _ = BuildGraphsAugmented(objects, objectMask, relations,
		relationMask, pairs, 2, AugEdgeDrop, 0, 0, 0)
	if graphs[0].NumEdges != 1 || graphs[1].NumEdges != 2 {
		t.Error("a zero drop probability should keep every edge")
	}
}

func TestNodeDrop(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	graphs, _, _ := BuildGraphsAugmented(objects, objectMask, relations,
		relationMask, pairs, 2, AugNodeDrop, 0, 1, 0)
	for i, g := range graphs {
		if g.NumNodes != 0 || g.NumEdges != 0 {
			t.Errorf("graph %d should be empty but is %d nodes, %d edges",
				i, g.NumNodes, g.NumEdges)
		}
	}
	graphs, _, _ = BuildGraphsAugmented(objects, objectMask, relations,
		relationMask, pairs, 2, AugSubgraph, 0, 0, 0)
	if graphs[1].NumNodes != 3 || graphs[1].NumEdges != 2 {
		t.Error("a zero drop probability should keep the graph intact")
	}
}

func TestAttrMask(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	graphs, masked, mask := BuildGraphsAugmented(objects, objectMask, relations,
		relationMask, pairs, 2, AugAttrMask, 0, 0, 1)
	if !reflect.DeepEqual(mask, objectMask) {
		t.Error("attribute masking should not change the object mask")
	}
	data := masked.Output().Data().([]float32)
	for i, m := range objectMask {
		for k := 0; k < 2; k++ {
			if m && data[i*2+k] != 0 {
				t.Errorf("valid row %d should be zeroed", i)
			}
		}
	}
	if graphs[0].NumNodes != 2 {
		t.Error("attribute masking should not change the structure")
	}
}

func TestGlobalNode(t *testing.T) {
	objects, objectMask, relations, relationMask, pairs := testGraphBatch()
	graphs, newObjects, newMask := BuildGraphsAugmented(objects, objectMask,
		relations, relationMask, pairs, 2, AugGlobalNode, 0, 0, 0)

	// Sample 0 has a free slot, so it gains a global node.
	g0 := graphs[0]
	if g0.NumNodes != 3 {
		t.Fatalf("graph 0 should have 3 nodes but has %d", g0.NumNodes)
	}
	if g0.NumEdges != 1+4 {
		t.Errorf("graph 0 should have 5 edges but has %d", g0.NumEdges)
	}
	if !newMask[2] {
		t.Error("the global node's slot should be masked in")
	}
	data := newObjects.Output().Data().([]float32)
	assertClose(t, data[4:6], []float32{1.5, 1.5})

	// Sample 1 is at capacity and stays untouched.
	g1 := graphs[1]
	if g1.NumNodes != 3 || g1.NumEdges != 2 {
		t.Errorf("graph 1 should be unchanged but is %d nodes, %d edges",
			g1.NumNodes, g1.NumEdges)
	}
}
