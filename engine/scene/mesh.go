package scene

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
)

// Deformer writes the positions of a deforming mesh at time t.
type Deformer func(rest []math.Vec3, out []math.Vec3, t float64)

type meshSlot struct {
	vertices   renderer.Buffer
	geometries []metadata.GeometryDesc
}

// Mesh is indexed triangle geometry plus the device buffers serving it.
// Rigid meshes keep one vertex buffer, deforming meshes one per frame slot.
type Mesh struct {
	id     string
	name   string
	policy raytracing.BuildPolicy

	positions []math.Vec3
	indices   []uint32
	format    metadata.IndexFormat
	deform    Deformer
	// Scratch copy the deformer writes into.
	deformed []math.Vec3

	// Description the mesh was built from, nil for meshes built in code.
	desc *MeshDesc

	generation uint64
	indexBuf   renderer.Buffer
	slots      []meshSlot
}

func newMesh(name string, positions []math.Vec3, indices []uint32, policy raytracing.BuildPolicy) *Mesh {
	core.Assert(len(indices)%3 == 0, "mesh `%s` has %d indices, not a multiple of 3", name, len(indices))
	for _, index := range indices {
		core.Assert(int(index) < len(positions), "mesh `%s` indexes vertex %d of %d", name, index, len(positions))
	}
	format := metadata.INDEX_FORMAT_UINT32
	if len(indices) <= int(metadata.MAX_INDEX_COUNT_UINT16) && len(positions) <= 1<<16 {
		format = metadata.INDEX_FORMAT_UINT16
	}
	return &Mesh{
		id:        fmt.Sprintf("%s-%s", name, uuid.NewString()),
		name:      name,
		policy:    policy,
		positions: positions,
		indices:   indices,
		format:    format,
	}
}

// NewMesh creates rigid geometry. Static meshes are compacted after their
// first build when compact is set.
func NewMesh(name string, positions []math.Vec3, indices []uint32, compact bool) *Mesh {
	return newMesh(name, positions, indices, raytracing.BuildPolicy{Compaction: compact})
}

// NewDeformingMesh creates geometry whose positions deform computes every frame.
func NewDeformingMesh(name string, positions []math.Vec3, indices []uint32, deform Deformer) *Mesh {
	core.Assert(deform != nil, "deforming mesh `%s` without a deformer", name)
	m := newMesh(name, positions, indices, raytracing.DeformingPolicy())
	m.deform = deform
	m.deformed = make([]math.Vec3, len(positions))
	return m
}

func (m *Mesh) MeshID() string {
	return m.id
}

func (m *Mesh) Name() string {
	return m.name
}

func (m *Mesh) BuildPolicy() raytracing.BuildPolicy {
	return m.policy
}

func (m *Mesh) Generation() uint64 {
	return m.generation
}

func (m *Mesh) IsDeforming() bool {
	return m.deform != nil
}

func (m *Mesh) VertexCount() int {
	return len(m.positions)
}

func (m *Mesh) TriangleCount() int {
	return len(m.indices) / 3
}

func (m *Mesh) IndexFormat() metadata.IndexFormat {
	return m.format
}

func (m *Mesh) IsUploaded() bool {
	return m.indexBuf != nil
}

// Geometries returns the descriptors of the vertex buffer serving slot.
func (m *Mesh) Geometries(slot uint32) []metadata.GeometryDesc {
	core.Assert(m.IsUploaded(), "mesh `%s` used before upload", m.name)
	return m.slots[int(slot)%len(m.slots)].geometries
}

// Upload creates the device buffers of the mesh. Deforming meshes get one
// vertex buffer per frame slot, all starting from the rest positions.
func (m *Mesh) Upload(alloc *raytracing.BufferAllocator, framesInFlight uint32) error {
	core.Assert(!m.IsUploaded(), "mesh `%s` uploaded twice", m.name)

	indexData := metadata.EncodeIndices(m.format, m.indices)
	// Keep a valid buffer for empty meshes; the descriptor reads zero indices.
	if len(indexData) < 4 {
		indexData = append(indexData, make([]byte, 4-len(indexData))...)
	}
	indexBuf, err := alloc.CreateUploadBuffer(m.name+".indices", indexData)
	if err != nil {
		return err
	}

	slotCount := uint32(1)
	if m.IsDeforming() {
		slotCount = framesInFlight
	}
	vertexData := metadata.EncodePositions(m.positions)
	if len(vertexData) == 0 {
		vertexData = make([]byte, metadata.VERTEX_FORMAT_R32G32B32_FLOAT.Size())
	}
	slots := make([]meshSlot, 0, slotCount)
	for i := uint32(0); i < slotCount; i++ {
		vertices, err := alloc.CreateUploadBuffer(fmt.Sprintf("%s.vertices[%d]", m.name, i), vertexData)
		if err != nil {
			for _, s := range slots {
				alloc.Free(s.vertices)
			}
			alloc.Free(indexBuf)
			return err
		}
		slots = append(slots, meshSlot{
			vertices: vertices,
			geometries: []metadata.GeometryDesc{raytracing.NewGeometryDescriptor(raytracing.TriangleBatch{
				VertexBuffer: vertices,
				VertexStride: metadata.VERTEX_FORMAT_R32G32B32_FLOAT.Size(),
				VertexCount:  uint32(len(m.positions)),
				IndexBuffer:  indexBuf,
				IndexFormat:  m.format,
				IndexCount:   uint32(len(m.indices)),
				Flags:        metadata.GEOMETRY_FLAG_OPAQUE,
			})},
		})
	}
	m.indexBuf = indexBuf
	m.slots = slots
	core.LogDebug("uploaded mesh `%s` (%d vertices, %d triangles, %d slots)", m.name, len(m.positions), m.TriangleCount(), slotCount)
	return nil
}

// Deform rewrites the vertex buffer of slot with the positions at time t.
// The slot must not be in use by the GPU, which holds right after
// BeginFrame opened it.
func (m *Mesh) Deform(alloc *raytracing.BufferAllocator, slot uint32, t float64) error {
	if !m.IsDeforming() {
		return nil
	}
	core.Assert(m.IsUploaded(), "mesh `%s` deformed before upload", m.name)
	m.deform(m.positions, m.deformed, t)
	s := m.slots[int(slot)%len(m.slots)]
	if err := alloc.Upload(s.vertices, metadata.EncodePositions(m.deformed)); err != nil {
		return fmt.Errorf("deform `%s`: %w", m.name, err)
	}
	return nil
}

// retire hands every buffer to release, then forgets them.
func (m *Mesh) retire(release func(renderer.Buffer)) {
	if !m.IsUploaded() {
		return
	}
	for _, s := range m.slots {
		release(s.vertices)
	}
	release(m.indexBuf)
	m.slots = nil
	m.indexBuf = nil
}

// drop forgets the buffers of a lost device and invalidates every
// structure built from them.
func (m *Mesh) drop() {
	m.slots = nil
	m.indexBuf = nil
	m.generation++
}
