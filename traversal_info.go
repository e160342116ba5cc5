package kde

// TraversalInfo records what the rules saw last. The index pair doubles as a
// one-slot memo: a BaseCase call repeating the last (query, reference) pair
// returns LastBaseCase without accumulating again. Node fields are -1 until
// the first Score call.
type TraversalInfo struct {
	LastQueryIndex     int
	LastReferenceIndex int
	LastBaseCase       float64

	LastQueryNode     int
	LastReferenceNode int
	LastScore         float64
}

func newTraversalInfo() TraversalInfo {
	return TraversalInfo{
		LastQueryIndex:     -1,
		LastReferenceIndex: -1,
		LastQueryNode:      -1,
		LastReferenceNode:  -1,
	}
}
