package kde

import "container/heap"

// SingleTreeTraverser walks the reference tree depth-first for one query
// point at a time, visiting the nearer child first.
type SingleTreeTraverser struct {
	rules *Rules
}

// NewSingleTreeTraverser returns a traverser driving rules.
func NewSingleTreeTraverser(rules *Rules) *SingleTreeTraverser {
	return &SingleTreeTraverser{rules: rules}
}

// Traverse resolves the whole reference tree for one query point.
func (t *SingleTreeTraverser) Traverse(queryIndex int) {
	if t.rules.reference.NumNodes() == 0 {
		return
	}
	if IsPruned(t.rules.Score(queryIndex, 0)) {
		return
	}
	t.traverse(queryIndex, 0)
}

func (t *SingleTreeTraverser) traverse(queryIndex, node int) {
	tree := t.rules.reference
	nd := tree.NodeDataArray()[node]

	if nd.IsLeaf {
		idx := tree.IdxArray()
		for i := nd.IdxStart; i < nd.IdxEnd; i++ {
			t.rules.BaseCase(queryIndex, idx[i])
		}
		return
	}

	left, right := tree.ChildNodes(node)
	leftScore := t.rules.Score(queryIndex, left)
	rightScore := t.rules.Score(queryIndex, right)
	if rightScore < leftScore {
		left, right = right, left
		leftScore, rightScore = rightScore, leftScore
	}
	if !IsPruned(leftScore) {
		t.traverse(queryIndex, left)
	}
	if !IsPruned(rightScore) {
		t.traverse(queryIndex, right)
	}
}

// DualTreeTraverser walks the query tree and the reference tree together,
// depth-first over node pairs.
type DualTreeTraverser struct {
	rules *Rules
}

// NewDualTreeTraverser returns a traverser driving rules, which must have
// been built with a QueryTree.
func NewDualTreeTraverser(rules *Rules) *DualTreeTraverser {
	return &DualTreeTraverser{rules: rules}
}

// Traverse resolves every query point against every reference point.
func (t *DualTreeTraverser) Traverse() {
	if t.rules.queryTree.NumNodes() == 0 || t.rules.reference.NumNodes() == 0 {
		return
	}
	if IsPruned(t.rules.ScoreDual(0, 0)) {
		return
	}
	t.traverse(0, 0)
}

func (t *DualTreeTraverser) traverse(queryNode, referenceNode int) {
	qTree := t.rules.queryTree
	rTree := t.rules.reference
	qInfo := qTree.NodeDataArray()[queryNode]
	rInfo := rTree.NodeDataArray()[referenceNode]

	// Case 1: both leaves.
	if qInfo.IsLeaf && rInfo.IsLeaf {
		qIdx := qTree.IdxArray()
		rIdx := rTree.IdxArray()
		for i := qInfo.IdxStart; i < qInfo.IdxEnd; i++ {
			for j := rInfo.IdxStart; j < rInfo.IdxEnd; j++ {
				t.rules.BaseCase(qIdx[i], rIdx[j])
			}
		}
		return
	}

	// Case 2a: query is a leaf, or reference is larger → descend into reference.
	if qInfo.IsLeaf || (!rInfo.IsLeaf && rInfo.Count() > qInfo.Count()) {
		left, right := rTree.ChildNodes(referenceNode)
		leftScore := t.rules.ScoreDual(queryNode, left)
		rightScore := t.rules.ScoreDual(queryNode, right)
		if rightScore < leftScore {
			left, right = right, left
			leftScore, rightScore = rightScore, leftScore
		}
		if !IsPruned(leftScore) {
			t.traverse(queryNode, left)
		}
		if !IsPruned(rightScore) {
			t.traverse(queryNode, right)
		}
		return
	}

	// Case 2b: descend into query.
	left, right := qTree.ChildNodes(queryNode)
	for _, child := range [2]int{left, right} {
		if !IsPruned(t.rules.ScoreDual(child, referenceNode)) {
			t.traverse(child, referenceNode)
		}
	}
}

// BestFirstTraverser expands reference nodes for one query point in order of
// increasing score. Queued nodes are rescored before expansion, so budget
// banked by base cases in the meantime can still prune them. The rules should
// be built with RetainBounds.
type BestFirstTraverser struct {
	rules *Rules
	queue nodeQueue
}

// NewBestFirstTraverser returns a traverser driving rules.
func NewBestFirstTraverser(rules *Rules) *BestFirstTraverser {
	return &BestFirstTraverser{rules: rules}
}

// Traverse resolves the whole reference tree for one query point.
func (t *BestFirstTraverser) Traverse(queryIndex int) {
	tree := t.rules.reference
	if tree.NumNodes() == 0 {
		return
	}
	score := t.rules.Score(queryIndex, 0)
	if IsPruned(score) {
		return
	}

	nodes := tree.NodeDataArray()
	idx := tree.IdxArray()
	t.queue = t.queue[:0]
	heap.Push(&t.queue, queueItem{node: 0, score: score})

	for t.queue.Len() > 0 {
		item := heap.Pop(&t.queue).(queueItem)
		if IsPruned(t.rules.Rescore(queryIndex, item.node, item.score)) {
			continue
		}

		nd := nodes[item.node]
		if nd.IsLeaf {
			for i := nd.IdxStart; i < nd.IdxEnd; i++ {
				t.rules.BaseCase(queryIndex, idx[i])
			}
			continue
		}

		left, right := tree.ChildNodes(item.node)
		for _, child := range [2]int{left, right} {
			if s := t.rules.Score(queryIndex, child); !IsPruned(s) {
				heap.Push(&t.queue, queueItem{node: child, score: s})
			}
		}
	}
}

// --- min-heap for best-first traversal ---

type queueItem struct {
	node  int
	score float64
}

// nodeQueue is a min-heap of queueItem (smallest score on top).
type nodeQueue []queueItem

func (h nodeQueue) Len() int            { return len(h) }
func (h nodeQueue) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h nodeQueue) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeQueue) Push(x interface{}) { *h = append(*h, x.(queueItem)) }
func (h *nodeQueue) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
