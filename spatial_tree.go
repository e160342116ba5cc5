package kde

// NodeData describes a single node in a spatial tree.
type NodeData struct {
	IdxStart, IdxEnd int
	IsLeaf           bool
	Radius           float64 // ball tree radius; 0 for KD-tree
}

// Count returns the number of points held by the node and its descendants.
func (nd NodeData) Count() int { return nd.IdxEnd - nd.IdxStart }

// SpatialTree is the read interface the traversal rules need from a
// space-partitioning tree. KDTree and BallTree implement it; any other tree
// exposing the same contract can be dropped in.
type SpatialTree interface {
	// Data returns the flat row-major point data owned by the tree, in the
	// caller's original row order.
	Data() []float64

	// NumPoints returns the number of points in the tree.
	NumPoints() int

	// NumFeatures returns the dimensionality of each point.
	NumFeatures() int

	// Point returns the row of original point i.
	Point(i int) []float64

	// IdxArray returns the permutation array mapping tree-order positions
	// back to original point indices.
	IdxArray() []int

	// NodeDataArray returns the metadata for every node slot in the tree.
	// Slots not reachable from the root have a zero Count.
	NodeDataArray() []NodeData

	// NumNodes returns the length of NodeDataArray; 0 for an empty tree.
	NumNodes() int

	// ChildNodes returns the left and right child node indices.
	// Behavior is undefined for leaf nodes.
	ChildNodes(node int) (left, right int)

	// DistanceBoundsPoint returns the minimum and maximum true distance
	// between point and any point in node.
	DistanceBoundsPoint(node int, point []float64) (lo, hi float64)

	// DistanceBoundsDual returns the minimum and maximum true distance
	// between any point in node and any point in otherNode of other.
	DistanceBoundsDual(node int, other SpatialTree, otherNode int) (lo, hi float64)
}
