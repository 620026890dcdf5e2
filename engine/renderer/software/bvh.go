package software

import (
	"github.com/spaghettifunk/prism/engine/math"
)

const (
	// The builder will not evaluate split candidates along an axis whose
	// centroid spread is below this threshold.
	minSideLength float32 = 1e-6
	// Number of candidate split planes evaluated per axis.
	splitBins = 16
	// Work lists of this size or smaller always become leaves.
	maxLeafItems = 4
	// Depth at which every remaining work list becomes a leaf.
	maxDepth = 48
)

// bvhNode is a node of a flattened bounding volume hierarchy. Children are
// always stored after their parent, so a reverse walk visits children first.
type bvhNode struct {
	bounds math.Extents3D
	// Interior nodes only.
	left, right int32
	// Leaf nodes reference refs[first : first+count].
	first, count uint32
}

func (n *bvhNode) isLeaf() bool {
	return n.count > 0
}

type bvh struct {
	nodes []bvhNode
	refs  []uint32
}

type bvhSplitCandidate struct {
	axis                  int
	splitPoint            float32
	leftCount, rightCount int
	score                 float32
}

type bvhBuilder struct {
	bounds    []math.Extents3D
	centroids []math.Vec3
	tree      *bvh
}

// buildBVH builds a SAH hierarchy over the given primitive bounds. Scores
// follow score = item count * node surface area.
func buildBVH(bounds []math.Extents3D) *bvh {
	b := &bvhBuilder{
		bounds:    bounds,
		centroids: make([]math.Vec3, len(bounds)),
		tree:      &bvh{},
	}
	if len(bounds) == 0 {
		return b.tree
	}

	items := make([]uint32, len(bounds))
	for i := range bounds {
		items[i] = uint32(i)
		b.centroids[i] = bounds[i].Center()
	}
	b.partition(items, 0)
	return b.tree
}

// Partition the work list and return the node index.
func (b *bvhBuilder) partition(items []uint32, depth int) int32 {
	node := bvhNode{bounds: math.NewExtents3DEmpty(), left: -1, right: -1}
	centroidBounds := math.NewExtents3DEmpty()
	for _, item := range items {
		node.bounds = node.bounds.Union(b.bounds[item])
		centroidBounds = centroidBounds.Grow(b.centroids[item])
	}

	if len(items) <= maxLeafItems || depth >= maxDepth {
		return b.createLeaf(node, items)
	}

	bestScore := float32(len(items)) * node.bounds.SurfaceArea()
	var bestSplit *bvhSplitCandidate

	for axis := 0; axis < 3; axis++ {
		low := centroidBounds.Min.Axis(axis)
		side := centroidBounds.Max.Axis(axis) - low
		if side < minSideLength {
			continue
		}
		for bin := 1; bin < splitBins; bin++ {
			candidate := bvhSplitCandidate{
				axis:       axis,
				splitPoint: low + side*float32(bin)/splitBins,
			}
			b.score(&candidate, items)
			if candidate.score < bestScore {
				bestScore = candidate.score
				c := candidate
				bestSplit = &c
			}
		}
	}

	// No split improves on the current node.
	if bestSplit == nil {
		return b.createLeaf(node, items)
	}

	left := make([]uint32, 0, bestSplit.leftCount)
	right := make([]uint32, 0, bestSplit.rightCount)
	for _, item := range items {
		if b.centroids[item].Axis(bestSplit.axis) < bestSplit.splitPoint {
			left = append(left, item)
		} else {
			right = append(right, item)
		}
	}

	index := int32(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, node)
	l := b.partition(left, depth+1)
	r := b.partition(right, depth+1)
	b.tree.nodes[index].left = l
	b.tree.nodes[index].right = r
	return index
}

func (b *bvhBuilder) score(c *bvhSplitCandidate, items []uint32) {
	lb := math.NewExtents3DEmpty()
	rb := math.NewExtents3DEmpty()
	for _, item := range items {
		if b.centroids[item].Axis(c.axis) < c.splitPoint {
			c.leftCount++
			lb = lb.Union(b.bounds[item])
		} else {
			c.rightCount++
			rb = rb.Union(b.bounds[item])
		}
	}
	if c.leftCount == 0 || c.rightCount == 0 {
		c.score = math.K_INFINITY
		return
	}
	c.score = float32(c.leftCount)*lb.SurfaceArea() + float32(c.rightCount)*rb.SurfaceArea()
}

func (b *bvhBuilder) createLeaf(node bvhNode, items []uint32) int32 {
	node.first = uint32(len(b.tree.refs))
	node.count = uint32(len(items))
	b.tree.refs = append(b.tree.refs, items...)

	index := int32(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, node)
	return index
}

// refit returns a copy of the hierarchy with node bounds recomputed from new
// primitive bounds. The topology is unchanged.
func (h *bvh) refit(bounds []math.Extents3D) *bvh {
	out := &bvh{
		nodes: make([]bvhNode, len(h.nodes)),
		refs:  h.refs,
	}
	copy(out.nodes, h.nodes)
	for i := len(out.nodes) - 1; i >= 0; i-- {
		n := &out.nodes[i]
		n.bounds = math.NewExtents3DEmpty()
		if n.isLeaf() {
			for _, ref := range out.refs[n.first : n.first+n.count] {
				n.bounds = n.bounds.Union(bounds[ref])
			}
			continue
		}
		n.bounds = out.nodes[n.left].bounds.Union(out.nodes[n.right].bounds)
	}
	return out
}

func (h *bvh) root() math.Extents3D {
	if len(h.nodes) == 0 {
		return math.NewExtents3DEmpty()
	}
	return h.nodes[0].bounds
}

// traverse visits every leaf primitive whose node overlaps the ray within
// [ray.TMin, tMax]. visit returns the new closest distance when it
// recorded a hit.
func (h *bvh) traverse(ray math.Ray, tMax float32, visit func(ref uint32, tMax float32) (float32, bool)) float32 {
	if len(h.nodes) == 0 {
		return tMax
	}
	invDir := ray.InverseDirection()
	stack := make([]int32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		index := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &h.nodes[index]
		if node.bounds.IsEmpty() {
			continue
		}
		if _, ok := node.bounds.IntersectRay(ray, invDir, tMax); !ok {
			continue
		}
		if node.isLeaf() {
			for _, ref := range h.refs[node.first : node.first+node.count] {
				if t, hit := visit(ref, tMax); hit {
					tMax = t
				}
			}
			continue
		}
		stack = append(stack, node.right, node.left)
	}
	return tMax
}
