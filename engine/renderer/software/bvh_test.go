package software

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBoxes(n int, seed uint64) []math.Extents3D {
	r := rand.New(rand.NewSource(seed))
	boxes := make([]math.Extents3D, n)
	for i := range boxes {
		min := math.NewVec3(r.Float32()*100, r.Float32()*100, r.Float32()*100)
		boxes[i] = math.Extents3D{Min: min, Max: min.Add(math.NewVec3(r.Float32(), r.Float32(), r.Float32()))}
	}
	return boxes
}

func contains(outer, inner math.Extents3D) bool {
	return outer.Min.X <= inner.Min.X && outer.Min.Y <= inner.Min.Y && outer.Min.Z <= inner.Min.Z &&
		outer.Max.X >= inner.Max.X && outer.Max.Y >= inner.Max.Y && outer.Max.Z >= inner.Max.Z
}

func checkTree(t *testing.T, tree *bvh, boxes []math.Extents3D) {
	t.Helper()
	seen := make([]int, len(boxes))
	for i := range tree.nodes {
		n := &tree.nodes[i]
		if n.isLeaf() {
			for _, ref := range tree.refs[n.first : n.first+n.count] {
				seen[ref]++
				assert.True(t, contains(n.bounds, boxes[ref]), "leaf %d does not contain primitive %d", i, ref)
			}
			continue
		}
		require.Greater(t, n.left, int32(i), "children follow their parent")
		require.Greater(t, n.right, int32(i))
		assert.True(t, contains(n.bounds, tree.nodes[n.left].bounds))
		assert.True(t, contains(n.bounds, tree.nodes[n.right].bounds))
	}
	for ref, count := range seen {
		assert.Equal(t, 1, count, "primitive %d referenced %d times", ref, count)
	}
	assert.LessOrEqual(t, len(tree.nodes), 2*len(boxes))
}

func TestBuildBVH(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		tree := buildBVH(nil)
		assert.Empty(t, tree.nodes)
		assert.True(t, tree.root().IsEmpty())
	})
	t.Run("single", func(t *testing.T) {
		boxes := randomBoxes(1, 1)
		tree := buildBVH(boxes)
		require.Len(t, tree.nodes, 1)
		checkTree(t, tree, boxes)
	})
	t.Run("many", func(t *testing.T) {
		boxes := randomBoxes(1000, 2)
		tree := buildBVH(boxes)
		checkTree(t, tree, boxes)
		assert.Greater(t, len(tree.nodes), 1)
	})
	t.Run("coincident", func(t *testing.T) {
		boxes := make([]math.Extents3D, 20)
		for i := range boxes {
			boxes[i] = math.Extents3D{Max: math.NewVec3One()}
		}
		tree := buildBVH(boxes)
		checkTree(t, tree, boxes)
	})
}

func TestRefitBVH(t *testing.T) {
	boxes := randomBoxes(200, 3)
	tree := buildBVH(boxes)

	offset := math.NewVec3(0, 50, 0)
	moved := make([]math.Extents3D, len(boxes))
	for i, b := range boxes {
		moved[i] = math.Extents3D{Min: b.Min.Add(offset), Max: b.Max.Add(offset)}
	}
	refit := tree.refit(moved)
	require.Len(t, refit.nodes, len(tree.nodes))
	checkTree(t, refit, moved)
	assert.InDelta(t, tree.root().Min.Y+50, refit.root().Min.Y, 1e-3)
	// The source is left untouched.
	checkTree(t, tree, boxes)
}

func TestTraverseFindsClosest(t *testing.T) {
	boxes := []math.Extents3D{
		{Min: math.NewVec3(-1, -1, 10), Max: math.NewVec3(1, 1, 11)},
		{Min: math.NewVec3(-1, -1, 2), Max: math.NewVec3(1, 1, 3)},
		{Min: math.NewVec3(5, 5, 0), Max: math.NewVec3(6, 6, 1)},
	}
	tree := buildBVH(boxes)
	ray := math.Ray{Direction: math.NewVec3(0, 0, 1), TMax: 100}

	closest := int64(-1)
	invDir := ray.InverseDirection()
	tree.traverse(ray, ray.TMax, func(ref uint32, tMax float32) (float32, bool) {
		d, ok := boxes[ref].IntersectRay(ray, invDir, tMax)
		if !ok {
			return tMax, false
		}
		closest = int64(ref)
		return d, true
	})
	assert.Equal(t, int64(1), closest)
}
