package metadata

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/math"
)

/** @brief The kind of primitive a geometry describes. Only triangles are supported. */
type GeometryType uint32

const (
	GEOMETRY_TYPE_TRIANGLES GeometryType = 0
)

type GeometryFlags uint32

const (
	GEOMETRY_FLAG_NONE GeometryFlags = 0x0
	/** @brief Any-hit shaders are never invoked for this geometry. */
	GEOMETRY_FLAG_OPAQUE GeometryFlags = 0x1
	/** @brief The any-hit shader runs at most once per primitive. */
	GEOMETRY_FLAG_NO_DUPLICATE_ANYHIT_INVOCATION GeometryFlags = 0x2
)

type VertexFormat uint32

const (
	/** @brief Three 32-bit floats per position. */
	VERTEX_FORMAT_R32G32B32_FLOAT VertexFormat = 0
)

/** @brief Size in bytes of one position of the given format. */
func (f VertexFormat) Size() uint64 {
	return 12
}

type IndexFormat uint32

const (
	INDEX_FORMAT_UINT16 IndexFormat = iota
	INDEX_FORMAT_UINT32
)

/** @brief Size in bytes of one index of the given format. */
func (f IndexFormat) Size() uint64 {
	if f == INDEX_FORMAT_UINT16 {
		return 2
	}
	return 4
}

/** @brief The largest index count a 16-bit index buffer may carry. */
const MAX_INDEX_COUNT_UINT16 uint32 = 65535

/**
 * @brief Describes one indexed triangle batch for a bottom-level build.
 * Buffers are referenced by GPU virtual address. The record is immutable
 * once constructed.
 */
type GeometryDesc struct {
	Type  GeometryType
	Flags GeometryFlags
	/** @brief Address of the first vertex position. */
	VertexBuffer uint64
	/** @brief Distance in bytes between consecutive positions. */
	VertexStride uint64
	VertexCount  uint32
	VertexFormat VertexFormat
	/** @brief Address of the first index. */
	IndexBuffer uint64
	IndexFormat IndexFormat
	IndexCount  uint32
	/** @brief Optional address of a row-major 3x4 transform (48 bytes). Zero means identity. */
	Transform3x4 uint64
}

/** @brief Number of triangles the descriptor contributes. */
func (g GeometryDesc) TriangleCount() uint32 {
	return g.IndexCount / 3
}

/** @brief Packs positions as VERTEX_FORMAT_R32G32B32_FLOAT with a 12-byte stride. */
func EncodePositions(positions []math.Vec3) []byte {
	out := make([]byte, len(positions)*12)
	for i, p := range positions {
		binary.LittleEndian.PutUint32(out[i*12:], stdmath.Float32bits(p.X))
		binary.LittleEndian.PutUint32(out[i*12+4:], stdmath.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(out[i*12+8:], stdmath.Float32bits(p.Z))
	}
	return out
}

/** @brief Packs indices in the given format. 16-bit indices are truncated. */
func EncodeIndices(format IndexFormat, indices []uint32) []byte {
	size := int(format.Size())
	out := make([]byte, len(indices)*size)
	for i, index := range indices {
		if format == INDEX_FORMAT_UINT16 {
			binary.LittleEndian.PutUint16(out[i*size:], uint16(index))
		} else {
			binary.LittleEndian.PutUint32(out[i*size:], index)
		}
	}
	return out
}

/** @brief Packs a geometry transform the way GeometryDesc.Transform3x4 expects it. */
func EncodeTransform(m math.Mat3x4) []byte {
	out := make([]byte, 48)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(out[(r*4+c)*4:], stdmath.Float32bits(m.Rows[r][c]))
		}
	}
	return out
}
