package kde

import (
	"math"
	"sort"
)

// BallTree is a ball tree spatial index. Each node stores a centroid and
// radius defining an enclosing ball for its points; distance bounds follow
// from the triangle inequality.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
type BallTree struct {
	data     []float64 // flat row-major point data (n * dims)
	n        int       // number of points
	dims     int       // dimensionality
	leafSize int
	metric   DistanceMetric
	idxArray []int      // permutation: tree-order position → original index
	nodes    []NodeData // one entry per tree node; Radius is used
	// centroids[node*dims .. (node+1)*dims) = centroid of node
	centroids []float64
	numNodes  int
	boundable bool // metric satisfies the triangle inequality
}

// NewBallTree builds a ball tree from flat row-major data with n points
// of dimensionality dims. leafSize controls the max points per leaf node.
func NewBallTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *BallTree {
	if leafSize < 1 {
		leafSize = 1
	}

	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := kdMaxNodes(n, leafSize) // reuse the same upper bound
	t := &BallTree{
		data:      dataCopy,
		n:         n,
		dims:      dims,
		leafSize:  leafSize,
		metric:    metric,
		idxArray:  idxArray,
		nodes:     make([]NodeData, maxNodes),
		centroids: make([]float64, maxNodes*dims),
		boundable: BallTreeValidMetric(metric),
	}

	if n > 0 {
		t.buildNode(0, 0, n)
		t.numNodes = countNodes(t.nodes, 0, len(t.nodes))
	}

	return t
}

// buildNode recursively builds the ball tree for points in idxArray[start:end].
func (t *BallTree) buildNode(nodeID, start, end int) {
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, NodeData{})
		t.centroids = append(t.centroids, make([]float64, t.dims)...)
	}

	t.computeCentroid(nodeID, start, end)

	// Radius: max distance from centroid to any point in this node.
	centroid := t.centroid(nodeID)
	var radius float64
	for i := start; i < end; i++ {
		d := t.metric.Distance(centroid, t.Point(t.idxArray[i]))
		if d > radius {
			radius = d
		}
	}

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = NodeData{IdxStart: start, IdxEnd: end, IsLeaf: true, Radius: radius}
		return
	}

	t.nodes[nodeID] = NodeData{IdxStart: start, IdxEnd: end, IsLeaf: false, Radius: radius}

	// Split at the median of the dimension with greatest spread.
	splitDim := t.findSpreadDim(start, end)
	t.sortByDim(start, end, splitDim)
	mid := start + count/2

	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeCentroid computes the mean of points idxArray[start:end] and stores
// it in the centroids array.
func (t *BallTree) computeCentroid(nodeID, start, end int) {
	base := nodeID * t.dims
	count := float64(end - start)
	for d := 0; d < t.dims; d++ {
		t.centroids[base+d] = 0
	}
	for i := start; i < end; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			t.centroids[base+d] += t.data[ptIdx*t.dims+d]
		}
	}
	for d := 0; d < t.dims; d++ {
		t.centroids[base+d] /= count
	}
}

func (t *BallTree) centroid(node int) []float64 {
	return t.centroids[node*t.dims : (node+1)*t.dims]
}

// findSpreadDim returns the dimension with the greatest spread among
// points in idxArray[start:end].
func (t *BallTree) findSpreadDim(start, end int) int {
	bestDim := 0
	bestSpread := -1.0
	for d := 0; d < t.dims; d++ {
		minVal := math.Inf(1)
		maxVal := math.Inf(-1)
		for i := start; i < end; i++ {
			v := t.data[t.idxArray[i]*t.dims+d]
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
		if spread := maxVal - minVal; spread > bestSpread {
			bestSpread = spread
			bestDim = d
		}
	}
	return bestDim
}

// sortByDim sorts idxArray[start:end] by the given dimension.
func (t *BallTree) sortByDim(start, end, dim int) {
	sub := t.idxArray[start:end]
	dims := t.dims
	data := t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+dim] < data[sub[j]*dims+dim]
	})
}

// --- SpatialTree interface ---

func (t *BallTree) Data() []float64           { return t.data }
func (t *BallTree) NumPoints() int            { return t.n }
func (t *BallTree) NumFeatures() int          { return t.dims }
func (t *BallTree) IdxArray() []int           { return t.idxArray }
func (t *BallTree) NodeDataArray() []NodeData { return t.nodes[:t.numNodes] }
func (t *BallTree) NumNodes() int             { return t.numNodes }

func (t *BallTree) Point(i int) []float64 {
	return t.data[i*t.dims : (i+1)*t.dims]
}

func (t *BallTree) ChildNodes(node int) (left, right int) {
	return 2*node + 1, 2*node + 2
}

// DistanceBoundsPoint returns [max(0, c-r), c+r] where c is the distance
// from point to the node centroid and r the node radius.
func (t *BallTree) DistanceBoundsPoint(node int, point []float64) (lo, hi float64) {
	if !t.boundable {
		return 0, math.Inf(1)
	}
	c := t.metric.Distance(point, t.centroid(node))
	r := t.nodes[node].Radius
	return math.Max(0, c-r), c + r
}

// DistanceBoundsDual returns [max(0, c-r1-r2), c+r1+r2] for the centroid
// distance c. other must be a *BallTree; anything else gets [0, +Inf).
func (t *BallTree) DistanceBoundsDual(node int, other SpatialTree, otherNode int) (lo, hi float64) {
	o, ok := other.(*BallTree)
	if !ok || !t.boundable || o.dims != t.dims {
		return 0, math.Inf(1)
	}
	c := t.metric.Distance(t.centroid(node), o.centroid(otherNode))
	r := t.nodes[node].Radius + o.nodes[otherNode].Radius
	return math.Max(0, c-r), c + r
}
