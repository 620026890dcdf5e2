package raytracing

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMeshCompactionLifecycle(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mesh := h.quadMesh("quad", StaticPolicy())
	obj := objectAt(mesh, 0, 7)
	h.manager.OnObjectAdded(obj)
	rays := []metadata.RayDesc{downRay(0, 0), downRay(0.9, -0.9), downRay(3, 0)}

	h.frame(obj)
	e, ok := h.manager.Entry("quad")
	require.True(t, ok)
	assert.Equal(t, COMPACTION_STATE_BUILDING, e.State())
	built := e.Address()
	require.NotZero(t, built)
	h.idle()

	handle := h.frame(obj)
	assert.Equal(t, COMPACTION_STATE_COMPACTING, e.State())
	assert.Equal(t, built, e.Address(), "instances keep the original until the copy retired")
	assert.True(t, handle.Refit, "unchanged instance set refits the previous top level")
	h.idle()
	before := h.trace(handle, rays...)
	assert.Equal(t, uint32(7), before[0].InstanceID)
	assert.InDelta(t, 5, before[0].T, 1e-4)
	assert.False(t, before[1].IsMiss())
	assert.True(t, before[2].IsMiss())

	handle = h.frame(obj)
	assert.Equal(t, COMPACTION_STATE_COMPACTED, e.State())
	assert.NotEqual(t, built, e.Address())
	assert.False(t, handle.Refit, "a swapped address forces a rebuild")
	h.idle()
	assert.Equal(t, before, h.trace(handle, rays...))

	stats := h.manager.Stats()
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, 1, stats.Entries[0].Builds)
	assert.Less(t, stats.Entries[0].ResultSize, stats.Entries[0].BuildSize)
	assert.Equal(t, stats.Entries[0].BuildSize-stats.Entries[0].ResultSize, stats.Entries[0].Savings())
	assert.Equal(t, stats.Entries[0].Savings(), stats.SavedBytes)

	// The next frame releases the original structure.
	h.frame(obj)
	h.idle()
	assert.Zero(t, h.manager.retire.Len())
	h.requireValid()
}

func TestCompactionDisabled(t *testing.T) {
	t.Run("by options", func(t *testing.T) {
		options := DefaultOptions()
		options.Compaction = false
		h := newHarness(t, options)
		obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)

		h.settle(obj)
		e, _ := h.manager.Entry("quad")
		assert.Equal(t, COMPACTION_STATE_STATIC, e.State())
		assert.False(t, e.flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION))
		h.requireValid()
	})
	t.Run("by policy", func(t *testing.T) {
		h := newHarness(t, DefaultOptions())
		obj := objectAt(h.quadMesh("quad", BuildPolicy{}), 0, 1)

		h.settle(obj)
		e, _ := h.manager.Entry("quad")
		assert.Equal(t, COMPACTION_STATE_STATIC, e.State())
		assert.Zero(t, h.manager.Stats().SavedBytes)
	})
}

func TestMaxCompactionsPerFrame(t *testing.T) {
	options := DefaultOptions()
	options.MaxCompactionsPerFrame = 1
	h := newHarness(t, options)
	objects := []Object{
		objectAt(h.quadMesh("a", StaticPolicy()), -4, 1),
		objectAt(h.quadMesh("b", StaticPolicy()), 0, 2),
		objectAt(h.quadMesh("c", StaticPolicy()), 4, 3),
	}

	h.frame(objects...)
	h.idle()
	h.frame(objects...)
	stats := h.manager.Stats()
	assert.Equal(t, 1, stats.CountByState(COMPACTION_STATE_COMPACTING))
	assert.Equal(t, 2, stats.CountByState(COMPACTION_STATE_PENDING_COMPACTION))
	assert.Equal(t, 2, stats.CompactionsQueued)
	h.idle()

	h.frame(objects...)
	stats = h.manager.Stats()
	assert.Equal(t, 1, stats.CountByState(COMPACTION_STATE_COMPACTED))
	assert.Equal(t, 1, stats.CountByState(COMPACTION_STATE_COMPACTING))
	assert.Equal(t, 1, stats.CountByState(COMPACTION_STATE_PENDING_COMPACTION))
	h.idle()

	h.settle(objects...)
	assert.Equal(t, 3, h.manager.Stats().CountByState(COMPACTION_STATE_COMPACTED))
	h.requireValid()
}

func TestBuildOrUpdateIsIdempotent(t *testing.T) {
	options := DefaultOptions()
	options.Compaction = false
	h := newHarness(t, options)
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)

	first := h.frame(obj)
	h.idle()
	firstHits := h.trace(first, downRay(0, 0))

	second := h.frame(obj)
	h.idle()
	assert.True(t, second.Refit)
	assert.NotEqual(t, first.Slot, second.Slot)
	assert.Equal(t, first.InstanceCount, second.InstanceCount)
	assert.Equal(t, firstHits, h.trace(second, downRay(0, 0)))

	e, _ := h.manager.Entry("quad")
	assert.Equal(t, 1, e.builds)
	assert.Zero(t, e.refits)
}

func TestInstanceOrder(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	shared := h.quadMesh("shared", StaticPolicy())
	other := h.quadMesh("other", StaticPolicy())
	objects := []Object{
		objectAt(shared, -4, 100),
		objectAt(other, 0, 200),
		objectAt(shared, 4, 300),
	}

	handle := h.frame(objects...)
	h.idle()
	assert.Equal(t, uint32(3), handle.InstanceCount)
	assert.Len(t, h.manager.Stats().Entries, 2, "objects sharing a mesh share its entry")

	hits := h.trace(handle, downRay(-4, 0), downRay(0, 0), downRay(4, 0))
	for i, hit := range hits {
		assert.Equal(t, int32(i), hit.InstanceIndex)
		assert.Equal(t, objects[i].InstanceID, hit.InstanceID)
	}
	h.requireValid()
}

func TestInstanceMask(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)
	obj.Mask = 0x02

	handle := h.frame(obj)
	h.idle()

	reflection := downRay(0, 0)
	reflection.Mask = 0x01
	shadow := downRay(0, 0)
	shadow.Mask = 0x02
	hits := h.trace(handle, reflection, shadow)
	assert.True(t, hits[0].IsMiss())
	assert.False(t, hits[1].IsMiss())
}

func TestEmptyScene(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	handle := h.frame()
	h.idle()
	assert.Zero(t, handle.InstanceCount)
	assert.NotZero(t, handle.Address)
	assert.False(t, handle.Refit)
	assert.True(t, h.trace(handle, downRay(0, 0))[0].IsMiss())

	// The empty slot resources are reused once objects show up.
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)
	handle = h.frame(obj)
	h.idle()
	assert.False(t, h.trace(handle, downRay(0, 0))[0].IsMiss())
	h.requireValid()
}

func TestEmptyGeometry(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mesh := &testMesh{
		id:     "empty",
		policy: StaticPolicy(),
		slots:  [][]metadata.GeometryDesc{{h.geometry(quadPositions(0), metadata.INDEX_FORMAT_UINT32, nil)}},
	}

	handle := h.settle(objectAt(mesh, 0, 1))
	assert.True(t, h.trace(handle, downRay(0, 0))[0].IsMiss())
	e, _ := h.manager.Entry("empty")
	assert.Equal(t, COMPACTION_STATE_COMPACTED, e.State())
	h.requireValid()
}

func TestLargestUint16Geometry(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	const columns = 148
	count := int(metadata.MAX_INDEX_COUNT_UINT16) / 3
	positions := make([]math.Vec3, 0, count*3)
	indices := make([]uint32, 0, count*3)
	for i := 0; i < count; i++ {
		x, y := float32(i%columns), float32(i/columns)
		positions = append(positions, math.NewVec3(x, y, 0), math.NewVec3(x+0.9, y, 0), math.NewVec3(x, y+0.9, 0))
		indices = append(indices, uint32(3*i), uint32(3*i+1), uint32(3*i+2))
	}
	require.Len(t, indices, int(metadata.MAX_INDEX_COUNT_UINT16))

	mesh := &testMesh{
		id:     "grid",
		policy: StaticPolicy(),
		slots:  [][]metadata.GeometryDesc{{h.geometry(positions, metadata.INDEX_FORMAT_UINT16, indices)}},
	}
	handle := h.settle(objectAt(mesh, 0, 1))

	last := count - 1
	hits := h.trace(handle,
		downRay(0.2, 0.2),
		downRay(float32(last%columns)+0.2, float32(last/columns)+0.2),
		downRay(0.8, 0.8),
	)
	assert.Equal(t, uint32(0), hits[0].PrimitiveIndex)
	assert.Equal(t, uint32(last), hits[1].PrimitiveIndex)
	assert.True(t, hits[2].IsMiss(), "outside the triangle half of the cell")
	h.requireValid()
}

func TestUint16IndexLimit(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	vertices := h.upload("vertices", metadata.EncodePositions(quadPositions(0)))
	indices := h.upload("indices", make([]byte, 2*65538))

	assert.Panics(t, func() {
		NewGeometryDescriptor(TriangleBatch{
			VertexBuffer: vertices,
			VertexStride: 12,
			VertexCount:  4,
			IndexBuffer:  indices,
			IndexFormat:  metadata.INDEX_FORMAT_UINT16,
			IndexCount:   65538,
		})
	})
	assert.Panics(t, func() {
		NewGeometryDescriptor(TriangleBatch{
			VertexBuffer: vertices,
			VertexStride: 12,
			VertexCount:  4,
			IndexBuffer:  indices,
			IndexFormat:  metadata.INDEX_FORMAT_UINT32,
			IndexCount:   4,
		})
	}, "index count must be a multiple of 3")
}

func TestDeformingMeshRefitsInPlace(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mesh := h.deformingQuad("cloth", 0, 1)
	obj := objectAt(mesh, 0, 1)

	h.frame(obj)
	h.idle()
	e, _ := h.manager.Entry("cloth")
	address := e.Address()

	handle := h.frame(obj)
	h.idle()
	assert.Equal(t, address, e.Address(), "refits keep the address")
	assert.Equal(t, 1, e.refits)
	assert.Equal(t, 1, e.builds)
	assert.Equal(t, COMPACTION_STATE_STATIC, e.State())
	assert.True(t, handle.Refit)
	assert.InDelta(t, 4, h.trace(handle, downRay(0, 0))[0].T, 1e-4)

	handle = h.frame(obj)
	h.idle()
	assert.Equal(t, 2, e.refits)
	assert.InDelta(t, 5, h.trace(handle, downRay(0, 0))[0].T, 1e-4)

	// A new generation rebuilds from scratch.
	mesh.generation++
	h.frame(obj)
	h.idle()
	assert.Equal(t, 2, e.builds)
	assert.Equal(t, COMPACTION_STATE_BUILDING, e.State())
	assert.NotEqual(t, address, e.Address())
	h.requireValid()
}

func TestDeformingMeshWithoutUpdateRebuilds(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mesh := h.deformingQuad("sim", 0, 1)
	mesh.policy = BuildPolicy{Deforming: true}
	obj := objectAt(mesh, 0, 1)

	h.settle(obj)
	e, _ := h.manager.Entry("sim")
	assert.Equal(t, 4, e.builds)
	assert.Zero(t, e.refits)
	h.requireValid()
}

func TestBottomLevelBuilderContracts(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	geometry := h.geometry(quadPositions(0), metadata.INDEX_FORMAT_UINT32, quadIndices)
	cl, err := h.device.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, cl.Reset())

	assert.Panics(t, func() { NewBottomLevelBuilder(metadata.BUILD_FLAG_PERFORM_UPDATE) })

	builder := NewBottomLevelBuilder(metadata.BUILD_FLAG_PREFER_FAST_TRACE)
	builder.AddGeometry(geometry)
	assert.Panics(t, func() { builder.Generate(cl, nil, nil, nil) }, "sizes not computed")

	scratchSize, resultSize := builder.ComputeBufferSizes(h.device)
	assert.Zero(t, scratchSize%metadata.RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT)
	assert.Zero(t, resultSize%metadata.RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT)
	assert.Zero(t, builder.UpdateScratchSize())

	scratch, err := h.alloc.CreateScratchBuffer("scratch", scratchSize)
	require.NoError(t, err)
	result, err := h.alloc.CreateResultBuffer("result", resultSize)
	require.NoError(t, err)
	small, err := h.alloc.CreateResultBuffer("small", resultSize-256)
	require.NoError(t, err)

	assert.Panics(t, func() { builder.Generate(cl, scratch, result, result) }, "refit without allow-update")
	assert.Panics(t, func() { builder.Generate(cl, scratch, small, nil) }, "undersized result")
	assert.Panics(t, func() { builder.EmitCompactedSizeTo(0x1000) }, "compaction not allowed")
	assert.NotPanics(t, func() { builder.Generate(cl, scratch, result, nil) })
}

func TestRemoveObjectWhileInFlight(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("doomed", StaticPolicy()), 0, 1)
	h.manager.OnObjectAdded(obj)

	h.device.Pause()
	h.frame(obj)
	e, _ := h.manager.Entry("doomed")
	result := e.result

	h.manager.OnObjectRemoved(obj)
	handle := h.frame()
	assert.Zero(t, handle.InstanceCount)
	_, ok := h.manager.Entry("doomed")
	assert.False(t, ok)
	assert.True(t, h.manager.retire.IsPending(result), "still referenced by the queued frame")
	assert.False(t, result.IsReleased())

	h.device.Resume()
	h.idle()
	h.frame()
	h.idle()
	assert.True(t, result.IsReleased())
	h.requireValid()
}

func TestObjectAddedAfterSettle(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	first := objectAt(h.quadMesh("first", StaticPolicy()), -4, 1)
	h.settle(first)

	second := objectAt(h.quadMesh("second", StaticPolicy()), 4, 2)
	h.manager.OnObjectAdded(second)
	handle := h.frame(first, second)
	h.idle()

	stats := h.manager.Stats()
	assert.Equal(t, COMPACTION_STATE_COMPACTED, stats.Entries[0].State)
	assert.Equal(t, COMPACTION_STATE_BUILDING, stats.Entries[1].State)
	hits := h.trace(handle, downRay(-4, 0), downRay(4, 0))
	assert.Equal(t, uint32(1), hits[0].InstanceID)
	assert.Equal(t, uint32(2), hits[1].InstanceID)

	h.settle(first, second)
	assert.Equal(t, 2, h.manager.Stats().CountByState(COMPACTION_STATE_COMPACTED))
	h.requireValid()
}

func TestDeviceLostDuringFrame(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)
	h.settle(obj)

	ctx := testContext(t)
	_, err := h.gpu.BeginFrame(ctx)
	require.NoError(t, err)
	h.device.InjectDeviceRemoved("hang")

	_, err = h.manager.BuildOrUpdate(ctx, []Object{obj})
	assert.ErrorIs(t, err, renderer.ErrDeviceLost)
	assert.True(t, h.manager.IsDeviceLost())
	assert.True(t, h.manager.Stats().DeviceLost)
	_, err = h.gpu.EndFrame()
	assert.Error(t, err)

	_, err = h.manager.BuildOrUpdate(ctx, []Object{obj})
	assert.ErrorIs(t, err, renderer.ErrDeviceLost)
}

func TestRecreateAfterDeviceLost(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	mesh := h.quadMesh("quad", StaticPolicy())
	obj := objectAt(mesh, 0, 9)
	h.manager.OnObjectAdded(obj)
	h.settle(obj)

	h.device.InjectDeviceRemoved("driver reset")
	ctx := testContext(t)
	_, err := h.gpu.BeginFrame(ctx)
	require.ErrorIs(t, err, renderer.ErrDeviceLost)

	bus := core.NewEventBus()
	h.manager.RegisterEvents(bus)
	bus.Fire(core.EVENT_CODE_DEVICE_LOST, nil, nil)
	require.True(t, h.manager.IsDeviceLost())

	device := newDevice(t)
	gpu, err := renderer.NewGPUContext(device, 2)
	require.NoError(t, err)
	h.device, h.gpu, h.alloc = device, gpu, NewBufferAllocator(device)
	mesh.slots = [][]metadata.GeometryDesc{{h.geometry(quadPositions(0), metadata.INDEX_FORMAT_UINT32, quadIndices)}}

	require.NoError(t, h.manager.RecreateAll(ctx, gpu))
	assert.False(t, h.manager.IsDeviceLost())
	e, ok := h.manager.Entry("quad")
	require.True(t, ok)
	assert.Equal(t, COMPACTION_STATE_BUILDING, e.State())
	assert.Equal(t, 2, e.builds)
	assert.Equal(t, 1, e.refCount, "registrations survive the reset")

	handle := h.settle(obj)
	assert.Equal(t, COMPACTION_STATE_COMPACTED, e.State())
	assert.Equal(t, uint32(9), h.trace(handle, downRay(0, 0))[0].InstanceID)
	h.requireValid()
}

func TestRecreateOnHealthyDevice(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)
	h.manager.OnObjectAdded(obj)
	h.frame(obj)

	// Same device: the queue is drained and everything is rebuilt.
	require.NoError(t, h.manager.RecreateAll(testContext(t), h.gpu))
	e, _ := h.manager.Entry("quad")
	assert.Equal(t, 2, e.builds)

	handle := h.settle(obj)
	assert.False(t, h.trace(handle, downRay(0, 0))[0].IsMiss())
	h.requireValid()
}

func TestShutdownReleasesEverything(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)
	h.manager.OnObjectAdded(obj)
	h.frame(obj)
	h.frame(obj)

	require.NoError(t, h.manager.Shutdown(testContext(t)))
	assert.Zero(t, h.manager.alloc.Allocated())
	_, ok := h.manager.Entry("quad")
	assert.False(t, ok)
	h.requireValid()
}

func TestObjectEvents(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	bus := core.NewEventBus()
	h.manager.RegisterEvents(bus)
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)

	assert.False(t, bus.Fire(core.EVENT_CODE_OBJECT_ADDED, nil, obj))
	e, ok := h.manager.Entry("quad")
	require.True(t, ok)
	assert.Equal(t, 1, e.refCount)

	bus.Fire(core.EVENT_CODE_OBJECT_REMOVED, nil, obj)
	assert.Zero(t, e.refCount)

	h.manager.UnregisterEvents(bus)
	bus.Fire(core.EVENT_CODE_OBJECT_ADDED, nil, obj)
	assert.Zero(t, e.refCount)

	assert.Panics(t, func() { h.manager.OnObjectRemoved(obj) }, "removed more often than added")
}

func TestBuildInFlightIsNotCompacted(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obj := objectAt(h.quadMesh("quad", StaticPolicy()), 0, 1)

	h.device.Pause()
	h.frame(obj)
	h.frame(obj)
	e, _ := h.manager.Entry("quad")
	assert.Equal(t, COMPACTION_STATE_BUILDING, e.State(), "the build has not retired")
	assert.Nil(t, e.compacted)
	stats := h.manager.Stats()
	assert.Zero(t, stats.CountByState(COMPACTION_STATE_COMPACTING))
	assert.Zero(t, stats.CompactionsQueued)

	h.device.Resume()
	h.idle()
	h.settle(obj)
	assert.Equal(t, COMPACTION_STATE_COMPACTED, e.State())
	assert.Equal(t, 1, e.builds)
	h.requireValid()
}

func TestRebuildDuringCompaction(t *testing.T) {
	tests := []struct {
		name string
		// drive runs frames until the target entry reaches state, leaving
		// the device paused.
		drive  func(h *harness, objects []Object)
		target string
		state  CompactionState
	}{
		{
			name: "pending compaction",
			drive: func(h *harness, objects []Object) {
				h.frame(objects...)
				h.idle()
				h.frame(objects...)
				h.idle()
				h.device.Pause()
			},
			target: "second",
			state:  COMPACTION_STATE_PENDING_COMPACTION,
		},
		{
			name: "compacting",
			drive: func(h *harness, objects []Object) {
				h.frame(objects...)
				h.idle()
				h.device.Pause()
				h.frame(objects...)
			},
			target: "first",
			state:  COMPACTION_STATE_COMPACTING,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := DefaultOptions()
			options.MaxCompactionsPerFrame = 1
			h := newHarness(t, options)
			meshes := map[string]*testMesh{
				"first":  h.quadMesh("first", StaticPolicy()),
				"second": h.quadMesh("second", StaticPolicy()),
			}
			objects := []Object{objectAt(meshes["first"], -4, 1), objectAt(meshes["second"], 4, 2)}

			tt.drive(h, objects)
			target, ok := h.manager.Entry(tt.target)
			require.True(t, ok)
			require.Equal(t, tt.state, target.State())
			compacted := target.compacted

			meshes[tt.target].generation++
			h.frame(objects...)
			assert.Equal(t, COMPACTION_STATE_BUILDING, target.State())
			assert.Equal(t, 2, target.builds)
			assert.Nil(t, target.compacted)
			if compacted != nil {
				assert.True(t, h.manager.retire.IsPending(compacted), "the copy may still be running")
			}

			h.device.Resume()
			h.idle()
			h.settle(objects...)
			assert.Equal(t, COMPACTION_STATE_COMPACTED, target.State())
			assert.Equal(t, 2, target.builds)
			assert.Equal(t, 2, h.manager.Stats().CountByState(COMPACTION_STATE_COMPACTED))
			assert.Zero(t, h.manager.retire.Len())
			h.requireValid()
		})
	}
}

func TestScratchBurstIsTrimmed(t *testing.T) {
	options := DefaultOptions()
	options.Compaction = false
	h := newHarness(t, options)
	objects := []Object{
		objectAt(h.quadMesh("a", StaticPolicy()), -4, 1),
		objectAt(h.quadMesh("b", StaticPolicy()), 0, 2),
		objectAt(h.quadMesh("c", StaticPolicy()), 4, 3),
	}

	h.frame(objects...)
	h.idle()
	h.frame(objects...)
	h.idle()
	assert.Equal(t, 3, h.manager.Stats().ScratchFree)
	allocated := h.manager.alloc.Allocated()

	for i := 0; i < SCRATCH_MAX_IDLE_FRAMES-1; i++ {
		h.frame(objects...)
		h.idle()
	}
	assert.Equal(t, 3, h.manager.Stats().ScratchFree)

	h.frame(objects...)
	h.idle()
	assert.Zero(t, h.manager.Stats().ScratchFree)
	assert.Less(t, h.manager.alloc.Allocated(), allocated)
	h.requireValid()
}
