package raytracing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/software"
	"github.com/stretchr/testify/require"
)

// testMesh serves one geometry list per frame slot.
type testMesh struct {
	id         string
	policy     BuildPolicy
	generation uint64
	slots      [][]metadata.GeometryDesc
}

func (m *testMesh) MeshID() string {
	return m.id
}

func (m *testMesh) Geometries(slot uint32) []metadata.GeometryDesc {
	return m.slots[int(slot)%len(m.slots)]
}

func (m *testMesh) Generation() uint64 {
	return m.generation
}

func (m *testMesh) BuildPolicy() BuildPolicy {
	return m.policy
}

type harness struct {
	t       *testing.T
	device  *software.Device
	gpu     *renderer.GPUContext
	alloc   *BufferAllocator
	manager *Manager
}

func newDevice(t *testing.T) *software.Device {
	t.Helper()
	device, err := software.NewDevice(software.DefaultDeviceConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Destroy() })
	return device
}

func newHarness(t *testing.T, options Options) *harness {
	t.Helper()
	device := newDevice(t)
	gpu, err := renderer.NewGPUContext(device, 2)
	require.NoError(t, err)
	return &harness{
		t:       t,
		device:  device,
		gpu:     gpu,
		alloc:   NewBufferAllocator(device),
		manager: NewManager(gpu, options),
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// frame runs one BeginFrame/BuildOrUpdate/EndFrame cycle.
func (h *harness) frame(objects ...Object) TopLevelHandle {
	h.t.Helper()
	ctx := testContext(h.t)
	_, err := h.gpu.BeginFrame(ctx)
	require.NoError(h.t, err)
	handle, err := h.manager.BuildOrUpdate(ctx, objects)
	require.NoError(h.t, err)
	_, err = h.gpu.EndFrame()
	require.NoError(h.t, err)
	return handle
}

func (h *harness) idle() {
	h.t.Helper()
	require.NoError(h.t, h.gpu.WaitIdle(testContext(h.t)))
}

// settle runs frames with a drained queue until every entry left the
// transient states.
func (h *harness) settle(objects ...Object) TopLevelHandle {
	h.t.Helper()
	var handle TopLevelHandle
	for i := 0; i < 4; i++ {
		handle = h.frame(objects...)
		h.idle()
	}
	return handle
}

func (h *harness) trace(handle TopLevelHandle, rays ...metadata.RayDesc) []metadata.RayHit {
	h.t.Helper()
	hits, err := h.device.TraceRays(handle.Address, rays)
	require.NoError(h.t, err)
	return hits
}

func (h *harness) upload(name string, data []byte) renderer.Buffer {
	h.t.Helper()
	buf, err := h.alloc.CreateUploadBuffer(name, data)
	require.NoError(h.t, err)
	return buf
}

// geometry uploads one indexed triangle batch.
func (h *harness) geometry(positions []math.Vec3, format metadata.IndexFormat, indices []uint32) metadata.GeometryDesc {
	h.t.Helper()
	vertices := h.upload("vertices", metadata.EncodePositions(positions))
	indexData := metadata.EncodeIndices(format, indices)
	if len(indexData) == 0 {
		indexData = make([]byte, 4)
	}
	return NewGeometryDescriptor(TriangleBatch{
		VertexBuffer: vertices,
		VertexStride: 12,
		VertexCount:  uint32(len(positions)),
		IndexBuffer:  h.upload("indices", indexData),
		IndexFormat:  format,
		IndexCount:   uint32(len(indices)),
		Flags:        metadata.GEOMETRY_FLAG_OPAQUE,
	})
}

// quadPositions is the 2x2 square centered on the origin at height z.
func quadPositions(z float32) []math.Vec3 {
	return []math.Vec3{{X: -1, Y: -1, Z: z}, {X: 1, Y: -1, Z: z}, {X: 1, Y: 1, Z: z}, {X: -1, Y: 1, Z: z}}
}

var quadIndices = []uint32{0, 1, 2, 0, 2, 3}

func (h *harness) quadMesh(id string, policy BuildPolicy) *testMesh {
	return &testMesh{
		id:     id,
		policy: policy,
		slots:  [][]metadata.GeometryDesc{{h.geometry(quadPositions(0), metadata.INDEX_FORMAT_UINT32, quadIndices)}},
	}
}

// deformingQuad moves the quad to a different height in every slot.
func (h *harness) deformingQuad(id string, heights ...float32) *testMesh {
	m := &testMesh{id: id, policy: DeformingPolicy()}
	for _, z := range heights {
		m.slots = append(m.slots, []metadata.GeometryDesc{h.geometry(quadPositions(z), metadata.INDEX_FORMAT_UINT32, quadIndices)})
	}
	return m
}

func objectAt(mesh Mesh, x float32, id uint32) Object {
	return NewObject(mesh, math.NewMat4Translation(math.NewVec3(x, 0, 0)), id, 0)
}

func downRay(x, y float32) metadata.RayDesc {
	return metadata.RayDesc{
		Ray:  math.Ray{Origin: math.NewVec3(x, y, 5), Direction: math.NewVec3(0, 0, -1), TMax: 100},
		Mask: INSTANCE_MASK_ALL,
	}
}

func (h *harness) requireValid() {
	h.t.Helper()
	messages := h.device.Validator().Messages()
	require.Empty(h.t, messages, fmt.Sprintf("validation messages: %v", messages))
}
