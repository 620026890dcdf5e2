package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		size, alignment, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{64, 16, 64},
		{65, 16, 80},
		{7, 0, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.size, tt.alignment), "AlignUp(%d, %d)", tt.size, tt.alignment)
	}
	assert.True(t, IsAligned(uint64(512), 256))
	assert.False(t, IsAligned(uint64(520), 256))
}

func TestMat3x4Layout(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3))
	m3 := m.To3x4()

	require.Equal(t, [4]float32{1, 0, 0, 1}, m3.Rows[0])
	require.Equal(t, [4]float32{0, 1, 0, 2}, m3.Rows[1])
	require.Equal(t, [4]float32{0, 0, 1, 3}, m3.Rows[2])

	p := NewVec3(4, 5, 6)
	assert.True(t, m3.TransformPoint(p).Compare(p.Transform(m), 1e-6))
	assert.Equal(t, m, m3.ToMat4())
}

func TestMat3x4MatchesMat4Transform(t *testing.T) {
	world := NewMat4Scale(NewVec3(2, 2, 2)).
		Mul(NewMat4EulerXYZ(0.3, 0.5, -0.2)).
		Mul(NewMat4Translation(NewVec3(-1, 4, 2)))
	m3 := world.To3x4()

	for _, p := range []Vec3{{0, 0, 0}, {1, 0, 0}, {0.5, -2, 3}} {
		assert.True(t, m3.TransformPoint(p).Compare(p.Transform(world), 1e-5))
	}

	inv := m3.Inverse()
	p := NewVec3(3, -1, 0.25)
	assert.True(t, inv.TransformPoint(m3.TransformPoint(p)).Compare(p, 1e-4))
}

func TestTransformWorld(t *testing.T) {
	parent := TransformFromPosition(NewVec3(0, 10, 0))
	child := TransformFromPosition(NewVec3(1, 0, 0))
	child.Parent = parent

	origin := NewVec3Zero().Transform(child.GetWorld())
	assert.True(t, origin.Compare(NewVec3(1, 10, 0), 1e-6))

	child.SetScale(NewVec3(2, 2, 2))
	p := NewVec3(1, 1, 1).Transform(child.GetWorld())
	assert.True(t, p.Compare(NewVec3(3, 12, 2), 1e-6))
}

func TestExtentsIntersectRay(t *testing.T) {
	box := Extents3D{Min: NewVec3(-1, -1, -1), Max: NewVec3(1, 1, 1)}

	ray := Ray{Origin: NewVec3(0, 0, -5), Direction: NewVec3(0, 0, 1), TMax: 100}
	tHit, ok := box.IntersectRay(ray, ray.InverseDirection(), ray.TMax)
	require.True(t, ok)
	assert.InDelta(t, 4.0, tHit, 1e-6)

	miss := Ray{Origin: NewVec3(3, 0, -5), Direction: NewVec3(0, 0, 1), TMax: 100}
	_, ok = box.IntersectRay(miss, miss.InverseDirection(), miss.TMax)
	assert.False(t, ok)

	assert.True(t, NewExtents3DEmpty().IsEmpty())
	assert.Equal(t, float32(12), box.SurfaceArea())
}

func TestIntersectTriangle(t *testing.T) {
	v0, v1, v2 := NewVec3(-1, -1, 0), NewVec3(1, -1, 0), NewVec3(0, 1, 0)

	hit := Ray{Origin: NewVec3(0, 0, -2), Direction: NewVec3(0, 0, 1), TMax: 10}
	tHit, _, _, ok := hit.IntersectTriangle(v0, v1, v2, hit.TMax)
	require.True(t, ok)
	assert.InDelta(t, 2.0, tHit, 1e-6)

	outside := Ray{Origin: NewVec3(2, 2, -2), Direction: NewVec3(0, 0, 1), TMax: 10}
	_, _, _, ok = outside.IntersectTriangle(v0, v1, v2, outside.TMax)
	assert.False(t, ok)

	short := Ray{Origin: NewVec3(0, 0, -2), Direction: NewVec3(0, 0, 1), TMax: 1}
	_, _, _, ok = short.IntersectTriangle(v0, v1, v2, short.TMax)
	assert.False(t, ok)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 1, 3))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	assert.Equal(t, uint32(2), Clamp(uint32(0), 2, 3))
}
