package kde

import (
	"math"
	"testing"
)

type treeBuilder func(data []float64, n, dims int, metric DistanceMetric, leafSize int) SpatialTree

var treeBuilders = map[string]treeBuilder{
	"kdtree": func(data []float64, n, dims int, metric DistanceMetric, leafSize int) SpatialTree {
		return NewKDTree(data, n, dims, metric, leafSize)
	},
	"balltree": func(data []float64, n, dims int, metric DistanceMetric, leafSize int) SpatialTree {
		return NewBallTree(data, n, dims, metric, leafSize)
	},
}

var (
	_ SpatialTree = (*KDTree)(nil)
	_ SpatialTree = (*BallTree)(nil)
)

// --- Construction tests ---

func TestTrees_Construction_BasicProperties(t *testing.T) {
	data := []float64{
		0, 0,
		1, 0,
		2, 0,
		0, 3,
		1, 3,
		2, 3,
	}
	n, dims := 6, 2
	for name, build := range treeBuilders {
		tree := build(data, n, dims, EuclideanMetric{}, 2)

		if tree.NumPoints() != n {
			t.Errorf("%s: NumPoints() = %d, want %d", name, tree.NumPoints(), n)
		}
		if tree.NumFeatures() != dims {
			t.Errorf("%s: NumFeatures() = %d, want %d", name, tree.NumFeatures(), dims)
		}
		if len(tree.NodeDataArray()) != tree.NumNodes() {
			t.Errorf("%s: NodeDataArray has %d nodes, NumNodes() = %d", name, len(tree.NodeDataArray()), tree.NumNodes())
		}
		root := tree.NodeDataArray()[0]
		if root.Count() != n {
			t.Errorf("%s: root Count() = %d, want %d", name, root.Count(), n)
		}

		// IdxArray should be a permutation of 0..n-1.
		seen := make(map[int]bool)
		for _, v := range tree.IdxArray() {
			if v < 0 || v >= n || seen[v] {
				t.Errorf("%s: IdxArray has bad or duplicate index %d", name, v)
			}
			seen[v] = true
		}

		// Point returns rows in original order regardless of the permutation.
		for i := 0; i < n; i++ {
			p := tree.Point(i)
			if p[0] != data[i*dims] || p[1] != data[i*dims+1] {
				t.Errorf("%s: Point(%d) = %v, want %v", name, i, p, data[i*dims:(i+1)*dims])
			}
		}
	}
}

func TestTrees_Construction_LeafSizes(t *testing.T) {
	data := []float64{0, 0, 1, 1, 2, 2, 3, 3}
	for name, build := range treeBuilders {
		tree := build(data, 4, 2, EuclideanMetric{}, 1)
		for _, nd := range tree.NodeDataArray() {
			if nd.IsLeaf && nd.Count() != 1 {
				t.Errorf("%s: leaf has %d points, want 1", name, nd.Count())
			}
		}

		tree = build(data, 4, 2, EuclideanMetric{}, 100)
		if tree.NumNodes() != 1 || !tree.NodeDataArray()[0].IsLeaf {
			t.Errorf("%s: expected a single leaf root for leafSize > n", name)
		}

		// leafSize < 1 is clamped.
		tree = build(data, 4, 2, EuclideanMetric{}, 0)
		if tree.NumNodes() != 7 {
			t.Errorf("%s: NumNodes() = %d with clamped leaf size, want 7", name, tree.NumNodes())
		}
	}
}

func TestTrees_UnevenSplitKeepsDeepNodes(t *testing.T) {
	// 5 points with leaf size 1: the right subtree is one level deeper, so
	// its leaves sit past a run of unused slots.
	data := []float64{0, 1, 2, 3, 4}
	for name, build := range treeBuilders {
		tree := build(data, 5, 1, EuclideanMetric{}, 1)
		nodes := tree.NodeDataArray()
		if tree.NumNodes() != 15 || len(nodes) != 15 {
			t.Fatalf("%s: NumNodes() = %d, want 15", name, tree.NumNodes())
		}
		leaves := 0
		var walk func(node int)
		walk = func(node int) {
			if nodes[node].IsLeaf {
				leaves++
				return
			}
			l, r := tree.ChildNodes(node)
			walk(l)
			walk(r)
		}
		walk(0)
		if leaves != 5 {
			t.Errorf("%s: reached %d leaves from the root, want 5", name, leaves)
		}
	}
}

func TestTrees_EmptyData(t *testing.T) {
	for name, build := range treeBuilders {
		tree := build(nil, 0, 2, EuclideanMetric{}, 10)
		if tree.NumPoints() != 0 || tree.NumNodes() != 0 || len(tree.NodeDataArray()) != 0 {
			t.Errorf("%s: empty tree has %d points, %d nodes", name, tree.NumPoints(), tree.NumNodes())
		}
	}
}

func TestTrees_LeafPointsCoverAll(t *testing.T) {
	n, dims := 20, 3
	data := make([]float64, n*dims)
	for i := range data {
		data[i] = float64(i)
	}
	for name, build := range treeBuilders {
		tree := build(data, n, dims, EuclideanMetric{}, 4)
		covered := make([]bool, n)
		for _, nd := range tree.NodeDataArray() {
			if !nd.IsLeaf {
				continue
			}
			for i := nd.IdxStart; i < nd.IdxEnd; i++ {
				orig := tree.IdxArray()[i]
				if covered[orig] {
					t.Errorf("%s: point %d appears in multiple leaves", name, orig)
				}
				covered[orig] = true
			}
		}
		for i, c := range covered {
			if !c {
				t.Errorf("%s: point %d not covered by any leaf", name, i)
			}
		}
	}
}

func TestTrees_ChildNodes(t *testing.T) {
	data := generateFlatData(30, 2)
	for name, build := range treeBuilders {
		tree := build(data, 30, 2, EuclideanMetric{}, 4)
		nodes := tree.NodeDataArray()
		for i, nd := range nodes {
			if nd.IsLeaf || nd.Count() == 0 {
				continue
			}
			l, r := tree.ChildNodes(i)
			if l != 2*i+1 || r != 2*i+2 {
				t.Errorf("%s: ChildNodes(%d) = (%d, %d)", name, i, l, r)
			}
			if nodes[l].IdxStart != nd.IdxStart || nodes[r].IdxEnd != nd.IdxEnd || nodes[l].IdxEnd != nodes[r].IdxStart {
				t.Errorf("%s: children of node %d do not partition its range", name, i)
			}
		}
	}
}

// --- Distance bound tests ---

// bruteNodeRange returns the exact min and max distance between point and
// the points of node.
func bruteNodeRange(tree SpatialTree, node int, point []float64, metric DistanceMetric) (lo, hi float64) {
	nd := tree.NodeDataArray()[node]
	lo = math.Inf(1)
	for i := nd.IdxStart; i < nd.IdxEnd; i++ {
		d := metric.Distance(point, tree.Point(tree.IdxArray()[i]))
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

func boundMetrics() map[string]DistanceMetric {
	return map[string]DistanceMetric{
		"euclidean":  EuclideanMetric{},
		"manhattan":  ManhattanMetric{},
		"chebyshev":  ChebyshevMetric{},
		"minkowski3": MinkowskiMetric{P: 3},
	}
}

func TestTrees_DistanceBoundsPoint_ContainTrueRange(t *testing.T) {
	n, dims := 60, 3
	data := generateFlatData(n, dims)
	queries := generateFlatData(10, dims)
	for i := range queries {
		queries[i] = queries[i]*1.5 - 25 // some inside, some outside the data
	}

	for tname, build := range treeBuilders {
		for mname, metric := range boundMetrics() {
			tree := build(data, n, dims, metric, 5)
			for q := 0; q < 10; q++ {
				point := queries[q*dims : (q+1)*dims]
				for node := 0; node < tree.NumNodes(); node++ {
					if tree.NodeDataArray()[node].Count() == 0 {
						continue
					}
					lo, hi := tree.DistanceBoundsPoint(node, point)
					bLo, bHi := bruteNodeRange(tree, node, point, metric)
					if lo > bLo+1e-9 || hi < bHi-1e-9 || lo > hi {
						t.Errorf("%s/%s: node %d bounds [%v, %v] do not contain [%v, %v]",
							tname, mname, node, lo, hi, bLo, bHi)
					}
				}
			}
		}
	}
}

func TestTrees_DistanceBoundsDual_ContainTrueRange(t *testing.T) {
	dims := 2
	refData := generateFlatData(40, dims)
	queryData := make([]float64, 30*dims)
	for i := range queryData {
		queryData[i] = float64(i%17)*7 - 20
	}

	for tname, build := range treeBuilders {
		for mname, metric := range boundMetrics() {
			ref := build(refData, 40, dims, metric, 4)
			query := build(queryData, 30, dims, metric, 4)
			for qn := 0; qn < query.NumNodes(); qn++ {
				qnd := query.NodeDataArray()[qn]
				if qnd.Count() == 0 {
					continue
				}
				for rn := 0; rn < ref.NumNodes(); rn++ {
					if ref.NodeDataArray()[rn].Count() == 0 {
						continue
					}
					lo, hi := query.DistanceBoundsDual(qn, ref, rn)
					bLo, bHi := math.Inf(1), 0.0
					for i := qnd.IdxStart; i < qnd.IdxEnd; i++ {
						pLo, pHi := bruteNodeRange(ref, rn, query.Point(query.IdxArray()[i]), metric)
						bLo = math.Min(bLo, pLo)
						bHi = math.Max(bHi, pHi)
					}
					if lo > bLo+1e-9 || hi < bHi-1e-9 || lo > hi {
						t.Errorf("%s/%s: pair (%d, %d) bounds [%v, %v] do not contain [%v, %v]",
							tname, mname, qn, rn, lo, hi, bLo, bHi)
					}
				}
			}
		}
	}
}

func TestTrees_DistanceBounds_Unboundable(t *testing.T) {
	data := []float64{1, 0, 0, 1, 1, 1}
	for name, build := range treeBuilders {
		tree := build(data, 3, 2, CosineMetric{}, 1)
		lo, hi := tree.DistanceBoundsPoint(0, []float64{2, 2})
		if lo != 0 || !math.IsInf(hi, 1) {
			t.Errorf("%s: cosine point bounds = [%v, %v], want [0, +Inf)", name, lo, hi)
		}
		lo, hi = tree.DistanceBoundsDual(0, tree, 0)
		if lo != 0 || !math.IsInf(hi, 1) {
			t.Errorf("%s: cosine dual bounds = [%v, %v], want [0, +Inf)", name, lo, hi)
		}
	}

	kd := NewKDTree(data, 3, 2, EuclideanMetric{}, 1)
	ball := NewBallTree(data, 3, 2, EuclideanMetric{}, 1)
	if lo, hi := kd.DistanceBoundsDual(0, ball, 0); lo != 0 || !math.IsInf(hi, 1) {
		t.Errorf("mixed tree bounds = [%v, %v], want [0, +Inf)", lo, hi)
	}
	if lo, hi := ball.DistanceBoundsDual(0, kd, 0); lo != 0 || !math.IsInf(hi, 1) {
		t.Errorf("mixed tree bounds = [%v, %v], want [0, +Inf)", lo, hi)
	}
}

// --- KD-tree specifics ---

func TestKDTree_DistanceBoundsPoint_HandComputed(t *testing.T) {
	data := []float64{0, 0, 2, 0, 0, 2, 2, 2}
	tree := NewKDTree(data, 4, 2, EuclideanMetric{}, 4)

	// Outside the [0,2]x[0,2] box: gap (3, 0), span (5, 2).
	lo, hi := tree.DistanceBoundsPoint(0, []float64{5, 0})
	if !almostEqual(lo, 3, floatTol) || !almostEqual(hi, math.Sqrt(29), floatTol) {
		t.Errorf("bounds = [%v, %v], want [3, %v]", lo, hi, math.Sqrt(29))
	}

	// Inside the box.
	lo, hi = tree.DistanceBoundsPoint(0, []float64{1, 1})
	if lo != 0 || !almostEqual(hi, math.Sqrt(2), floatTol) {
		t.Errorf("bounds = [%v, %v], want [0, %v]", lo, hi, math.Sqrt(2))
	}

	cheb := NewKDTree(data, 4, 2, ChebyshevMetric{}, 4)
	lo, hi = cheb.DistanceBoundsPoint(0, []float64{5, 0})
	if lo != 3 || hi != 5 {
		t.Errorf("chebyshev bounds = [%v, %v], want [3, 5]", lo, hi)
	}
}

func TestKDTree_DistanceBoundsDual_SameNode(t *testing.T) {
	data := []float64{0, 0, 3, 4}
	tree := NewKDTree(data, 2, 2, EuclideanMetric{}, 2)
	lo, hi := tree.DistanceBoundsDual(0, tree, 0)
	if lo != 0 || !almostEqual(hi, 5, floatTol) {
		t.Errorf("bounds = [%v, %v], want [0, 5]", lo, hi)
	}
}

func TestKDTree_NoNaNInf(t *testing.T) {
	tree := NewKDTree(generateFlatData(50, 4), 50, 4, EuclideanMetric{}, 5)
	for node := 0; node < tree.NumNodes(); node++ {
		if tree.NodeDataArray()[node].Count() == 0 {
			continue
		}
		lo, hi := tree.DistanceBoundsDual(node, tree, 0)
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(hi, 0) {
			t.Errorf("node %d: bounds [%v, %v]", node, lo, hi)
		}
	}
}
