package raytracing

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// TriangleBatch names the buffers of one drawable primitive batch.
type TriangleBatch struct {
	VertexBuffer renderer.Buffer
	// Byte offset of the first position inside VertexBuffer.
	VertexOffset uint64
	VertexStride uint64
	VertexCount  uint32
	IndexBuffer  renderer.Buffer
	IndexOffset  uint64
	IndexFormat  metadata.IndexFormat
	IndexCount   uint32
	// Optional buffer holding a row-major 3x4 transform at TransformOffset.
	TransformBuffer renderer.Buffer
	TransformOffset uint64
	Flags           metadata.GeometryFlags
}

// NewGeometryDescriptor validates batch and returns the record a
// bottom-level build consumes.
func NewGeometryDescriptor(batch TriangleBatch) metadata.GeometryDesc {
	core.Assert(batch.VertexBuffer != nil, "geometry requires a vertex buffer")
	core.Assert(batch.IndexBuffer != nil, "geometry requires an index buffer")
	core.Assert(batch.IndexCount%3 == 0, "index count %d is not a multiple of 3", batch.IndexCount)
	core.Assert(batch.VertexStride >= metadata.VERTEX_FORMAT_R32G32B32_FLOAT.Size(),
		"vertex stride %d is smaller than a position", batch.VertexStride)
	if batch.IndexFormat == metadata.INDEX_FORMAT_UINT16 {
		core.Assert(batch.IndexCount <= metadata.MAX_INDEX_COUNT_UINT16,
			"16-bit index buffer holds %d indices, max is %d", batch.IndexCount, metadata.MAX_INDEX_COUNT_UINT16)
	}

	if batch.VertexCount > 0 {
		vertexBytes := batch.VertexOffset + uint64(batch.VertexCount-1)*batch.VertexStride + metadata.VERTEX_FORMAT_R32G32B32_FLOAT.Size()
		core.Assert(vertexBytes <= batch.VertexBuffer.Size(),
			"vertex range of %d bytes overflows `%s` (%d bytes)", vertexBytes, batch.VertexBuffer.Name(), batch.VertexBuffer.Size())
	}
	indexBytes := batch.IndexOffset + uint64(batch.IndexCount)*batch.IndexFormat.Size()
	core.Assert(indexBytes <= batch.IndexBuffer.Size(),
		"index range of %d bytes overflows `%s` (%d bytes)", indexBytes, batch.IndexBuffer.Name(), batch.IndexBuffer.Size())

	desc := metadata.GeometryDesc{
		Type:         metadata.GEOMETRY_TYPE_TRIANGLES,
		Flags:        batch.Flags,
		VertexBuffer: batch.VertexBuffer.Address() + batch.VertexOffset,
		VertexStride: batch.VertexStride,
		VertexCount:  batch.VertexCount,
		VertexFormat: metadata.VERTEX_FORMAT_R32G32B32_FLOAT,
		IndexBuffer:  batch.IndexBuffer.Address() + batch.IndexOffset,
		IndexFormat:  batch.IndexFormat,
		IndexCount:   batch.IndexCount,
	}
	if batch.TransformBuffer != nil {
		core.Assert(batch.TransformOffset+48 <= batch.TransformBuffer.Size(), "transform overflows `%s`", batch.TransformBuffer.Name())
		desc.Transform3x4 = batch.TransformBuffer.Address() + batch.TransformOffset
	}
	return desc
}

// sameTopology reports whether b can refit a structure built from a:
// same geometry count with matching vertex and index counts.
func sameTopology(a, b []metadata.GeometryDesc) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].VertexCount != b[i].VertexCount || a[i].IndexCount != b[i].IndexCount || a[i].IndexFormat != b[i].IndexFormat {
			return false
		}
	}
	return true
}
