package kde

import (
	"math"
	"sort"
)

// KDTree is a KD-tree spatial index whose nodes carry axis-aligned bounding
// boxes, from which the traversal rules derive distance bounds. Points are
// stored in a flat row-major array and reordered internally via an index
// permutation array.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - node bounds are stored as min/max per dimension per node
type KDTree struct {
	data     []float64 // flat row-major point data (n * dims)
	n        int       // number of points
	dims     int       // dimensionality
	leafSize int
	metric   DistanceMetric
	idxArray []int      // permutation: tree-order position → original index
	nodes    []NodeData // one entry per tree node
	// nodeBoundsMin[node*dims + j] = min value of feature j in node
	nodeBoundsMin []float64
	// nodeBoundsMax[node*dims + j] = max value of feature j in node
	nodeBoundsMax []float64
	numNodes      int
	boundable     bool // metric decomposes along axes
}

// NewKDTree builds a KD-tree from flat row-major data with n points of
// dimensionality dims. leafSize controls the max points per leaf node.
func NewKDTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *KDTree {
	if leafSize < 1 {
		leafSize = 1
	}

	// Copy data and build identity index array.
	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := kdMaxNodes(n, leafSize)

	t := &KDTree{
		data:          dataCopy,
		n:             n,
		dims:          dims,
		leafSize:      leafSize,
		metric:        metric,
		idxArray:      idxArray,
		nodes:         make([]NodeData, maxNodes),
		nodeBoundsMin: make([]float64, maxNodes*dims),
		nodeBoundsMax: make([]float64, maxNodes*dims),
		boundable:     KDTreeValidMetric(metric),
	}

	if n > 0 {
		t.buildNode(0, 0, n)
		t.numNodes = countNodes(t.nodes, 0, len(t.nodes))
	}

	return t
}

// kdMaxNodes returns an upper bound on the number of nodes needed for a
// binary tree with n points and the given leaf size.
func kdMaxNodes(n, leafSize int) int {
	if n == 0 {
		return 1
	}
	// Depth of tree: ceil(log2(ceil(n/leafSize))) + 1.
	// Number of nodes in a complete binary tree of depth d = 2^(d+1) - 1.
	leaves := (n + leafSize - 1) / leafSize
	depth := 0
	v := 1
	for v < leaves {
		v *= 2
		depth++
	}
	return (1 << (depth + 1)) - 1 + 2 // +2 for safety margin
}

// countNodes returns one past the highest node index written by the build.
// Children live at 2i+1 and 2i+2, so an uneven split leaves unused slots
// below that index; those slots have a zero Count and are never reached
// from the root. Shared by both tree types since they use the same layout.
func countNodes(nodes []NodeData, nodeID, maxNodes int) int {
	if nodeID >= maxNodes {
		return 0
	}
	if nodes[nodeID].IdxStart == 0 && nodes[nodeID].IdxEnd == 0 && nodeID != 0 {
		return 0
	}
	used := nodeID + 1
	if !nodes[nodeID].IsLeaf {
		used = max(used, countNodes(nodes, 2*nodeID+1, maxNodes))
		used = max(used, countNodes(nodes, 2*nodeID+2, maxNodes))
	}
	return used
}

// buildNode recursively builds the tree for points in idxArray[start:end].
func (t *KDTree) buildNode(nodeID, start, end int) {
	// Grow arrays if needed (shouldn't happen with good upper bound).
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, NodeData{})
		t.nodeBoundsMin = append(t.nodeBoundsMin, make([]float64, t.dims)...)
		t.nodeBoundsMax = append(t.nodeBoundsMax, make([]float64, t.dims)...)
	}

	t.computeNodeBounds(nodeID, start, end)

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = NodeData{IdxStart: start, IdxEnd: end, IsLeaf: true}
		return
	}

	// Find dimension with greatest spread.
	splitDim := 0
	maxSpread := -1.0
	for d := 0; d < t.dims; d++ {
		spread := t.nodeBoundsMax[nodeID*t.dims+d] - t.nodeBoundsMin[nodeID*t.dims+d]
		if spread > maxSpread {
			maxSpread = spread
			splitDim = d
		}
	}

	// Sort by the split dimension and split at the median.
	t.sortByDimension(start, end, splitDim)
	mid := start + count/2

	t.nodes[nodeID] = NodeData{IdxStart: start, IdxEnd: end, IsLeaf: false}

	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeNodeBounds computes min/max per dimension for points idxArray[start:end].
func (t *KDTree) computeNodeBounds(nodeID, start, end int) {
	base := nodeID * t.dims
	for d := 0; d < t.dims; d++ {
		t.nodeBoundsMin[base+d] = math.Inf(1)
		t.nodeBoundsMax[base+d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			v := t.data[ptIdx*t.dims+d]
			if v < t.nodeBoundsMin[base+d] {
				t.nodeBoundsMin[base+d] = v
			}
			if v > t.nodeBoundsMax[base+d] {
				t.nodeBoundsMax[base+d] = v
			}
		}
	}
}

// sortByDimension sorts idxArray[start:end] by the given dimension.
func (t *KDTree) sortByDimension(start, end, dim int) {
	sub := t.idxArray[start:end]
	dims := t.dims
	data := t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+dim] < data[sub[j]*dims+dim]
	})
}

// --- SpatialTree interface ---

func (t *KDTree) Data() []float64           { return t.data }
func (t *KDTree) NumPoints() int            { return t.n }
func (t *KDTree) NumFeatures() int          { return t.dims }
func (t *KDTree) IdxArray() []int           { return t.idxArray }
func (t *KDTree) NodeDataArray() []NodeData { return t.nodes[:t.numNodes] }
func (t *KDTree) NumNodes() int             { return t.numNodes }

func (t *KDTree) Point(i int) []float64 {
	return t.data[i*t.dims : (i+1)*t.dims]
}

func (t *KDTree) ChildNodes(node int) (left, right int) {
	return 2*node + 1, 2*node + 2
}

// DistanceBoundsPoint returns the distance range between a point and the
// bounding box of node. The minimum uses the per-dimension gap to the box,
// the maximum the per-dimension span to the far face.
func (t *KDTree) DistanceBoundsPoint(node int, point []float64) (lo, hi float64) {
	if !t.boundable {
		return 0, math.Inf(1)
	}
	base := node * t.dims
	acc := newBoxAccumulator(t.metric)
	for j := 0; j < t.dims; j++ {
		bmin := t.nodeBoundsMin[base+j]
		bmax := t.nodeBoundsMax[base+j]
		var gap float64
		if point[j] < bmin {
			gap = bmin - point[j]
		} else if point[j] > bmax {
			gap = point[j] - bmax
		}
		span := math.Max(math.Abs(point[j]-bmin), math.Abs(point[j]-bmax))
		acc.add(gap, span)
	}
	return acc.result(t.metric)
}

// DistanceBoundsDual returns the distance range between the boxes of node
// and otherNode. other must be a *KDTree built with an axis-decomposable
// metric; anything else gets the trivial range [0, +Inf).
func (t *KDTree) DistanceBoundsDual(node int, other SpatialTree, otherNode int) (lo, hi float64) {
	o, ok := other.(*KDTree)
	if !ok || !t.boundable || o.dims != t.dims {
		return 0, math.Inf(1)
	}
	base1 := node * t.dims
	base2 := otherNode * t.dims
	acc := newBoxAccumulator(t.metric)
	for j := 0; j < t.dims; j++ {
		min1, max1 := t.nodeBoundsMin[base1+j], t.nodeBoundsMax[base1+j]
		min2, max2 := o.nodeBoundsMin[base2+j], o.nodeBoundsMax[base2+j]
		// Gap between boxes along dimension j.
		gap := math.Max(min1-max2, math.Max(min2-max1, 0))
		span := math.Max(max1-min2, max2-min1)
		acc.add(gap, span)
	}
	return acc.result(t.metric)
}

// boxAccumulator folds per-dimension gaps and spans into reduced distances
// according to the metric, then converts the totals to true distances.
type boxAccumulator struct {
	p      float64
	lo, hi float64
}

func newBoxAccumulator(m DistanceMetric) boxAccumulator {
	return boxAccumulator{p: metricP(m)}
}

func (a *boxAccumulator) add(gap, span float64) {
	switch {
	case math.IsInf(a.p, 1):
		a.lo = math.Max(a.lo, gap)
		a.hi = math.Max(a.hi, span)
	case a.p == 2:
		a.lo += gap * gap
		a.hi += span * span
	case a.p == 1:
		a.lo += gap
		a.hi += span
	default:
		a.lo += math.Pow(gap, a.p)
		a.hi += math.Pow(span, a.p)
	}
}

func (a *boxAccumulator) result(m DistanceMetric) (lo, hi float64) {
	return m.RdistToDist(a.lo), m.RdistToDist(a.hi)
}

// metricP returns the Minkowski exponent for the metric, defaulting to
// 2 for Euclidean and 1 for Manhattan.
func metricP(m DistanceMetric) float64 {
	switch v := m.(type) {
	case EuclideanMetric:
		return 2.0
	case ManhattanMetric:
		return 1.0
	case MinkowskiMetric:
		return v.P
	case ChebyshevMetric:
		return math.Inf(1)
	default:
		return 2.0 // fallback; Euclidean-like
	}
}
