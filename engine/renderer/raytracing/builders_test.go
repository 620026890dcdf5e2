package raytracing

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryDescriptor(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	vertices := h.upload("vertices", make([]byte, 16+4*24))
	indices := h.upload("indices", make([]byte, 8+6*2))
	transform := h.upload("transform", metadata.EncodeTransform(math.NewMat3x4Identity()))

	desc := NewGeometryDescriptor(TriangleBatch{
		VertexBuffer:    vertices,
		VertexOffset:    16,
		VertexStride:    24,
		VertexCount:     4,
		IndexBuffer:     indices,
		IndexOffset:     8,
		IndexFormat:     metadata.INDEX_FORMAT_UINT16,
		IndexCount:      6,
		TransformBuffer: transform,
	})
	assert.Equal(t, vertices.Address()+16, desc.VertexBuffer)
	assert.Equal(t, indices.Address()+8, desc.IndexBuffer)
	assert.Equal(t, transform.Address(), desc.Transform3x4)
	assert.Equal(t, uint32(2), desc.TriangleCount())
	assert.Equal(t, metadata.VERTEX_FORMAT_R32G32B32_FLOAT, desc.VertexFormat)

	assert.Panics(t, func() {
		NewGeometryDescriptor(TriangleBatch{
			VertexBuffer: vertices,
			VertexOffset: 32,
			VertexStride: 24,
			VertexCount:  4,
			IndexBuffer:  indices,
			IndexFormat:  metadata.INDEX_FORMAT_UINT16,
			IndexCount:   6,
		})
	}, "vertex range overflows the buffer")
	assert.Panics(t, func() {
		NewGeometryDescriptor(TriangleBatch{VertexBuffer: vertices, VertexStride: 8, IndexBuffer: indices})
	}, "stride smaller than a position")
}

func TestSameTopology(t *testing.T) {
	a := []metadata.GeometryDesc{{VertexCount: 4, IndexCount: 6, VertexBuffer: 1}}
	moved := []metadata.GeometryDesc{{VertexCount: 4, IndexCount: 6, VertexBuffer: 2}}
	grown := []metadata.GeometryDesc{{VertexCount: 5, IndexCount: 9}}

	assert.True(t, sameTopology(a, moved))
	assert.False(t, sameTopology(a, grown))
	assert.False(t, sameTopology(a, append(moved, moved...)))
}

func TestTopLevelBuilder(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	builder := NewTopLevelBuilder(metadata.BUILD_FLAG_PREFER_FAST_TRACE)

	assert.Panics(t, func() { builder.AddInstance(0, math.NewMat4Identity(), 1, 0) }, "null address")
	assert.Panics(t, func() {
		builder.AddInstance(0x10000, math.NewMat4Identity(), metadata.RAYTRACING_MAX_INSTANCE_ID+1, 0)
	}, "instance ID wider than 24 bits")

	builder.AddInstance(0x10000, math.NewMat4Translation(math.NewVec3(1, 2, 3)), 5, 6)
	builder.AddInstanceWithMask(0x20000, math.NewMat4Identity(), 7, 8, 0x0F, metadata.INSTANCE_FLAG_FORCE_OPAQUE)
	require.Equal(t, uint32(2), builder.InstanceCount())
	assert.Equal(t, INSTANCE_MASK_ALL, builder.Instances()[0].InstanceMask)
	assert.Equal(t, float32(3), builder.Instances()[0].Transform.Rows[2][3])
	assert.Equal(t, uint8(0x0F), builder.Instances()[1].InstanceMask)

	_, _, descs := builder.ComputeBufferSizes(h.device)
	assert.Equal(t, uint64(128), descs)
	assert.Zero(t, builder.UpdateScratchSize())

	builder.Reset()
	assert.Zero(t, builder.InstanceCount())
	_, _, descs = builder.ComputeBufferSizes(h.device)
	assert.Zero(t, descs)
}
