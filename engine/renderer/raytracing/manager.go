package raytracing

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Free scratch buffers left unused for this many frames are released.
const SCRATCH_MAX_IDLE_FRAMES = 8

type Options struct {
	// Upper bound of compacting copies recorded per frame. Zero means no bound.
	MaxCompactionsPerFrame int
	// Compact static meshes whose policy asks for it.
	Compaction bool
	// Refit the top-level structure when the instance set is unchanged.
	TopLevelRefit bool
	// Prefer trace speed over build speed for static and top-level builds.
	PreferFastTrace bool
}

func DefaultOptions() Options {
	return Options{
		MaxCompactionsPerFrame: 4,
		Compaction:             true,
		TopLevelRefit:          true,
		PreferFastTrace:        true,
	}
}

// NewObject returns an instance of mesh visible to every ray.
func NewObject(mesh Mesh, transform math.Mat4, instanceID, hitGroupIndex uint32) Object {
	return Object{
		Mesh:          mesh,
		Transform:     transform,
		InstanceID:    instanceID,
		HitGroupIndex: hitGroupIndex,
		Mask:          INSTANCE_MASK_ALL,
	}
}

// Manager owns every acceleration structure of a scene: one bottom-level
// entry per mesh and one top-level structure per frame in flight. It is
// driven by a single thread.
type Manager struct {
	gpu     *renderer.GPUContext
	options Options

	alloc   *BufferAllocator
	retire  *RetireList
	scratch *ScratchPool

	entries map[string]*BottomLevelEntry
	// Entries in registration order.
	order       []*BottomLevelEntry
	compactions *containers.RingQueue[compactionRequest]

	tlas   *TopLevelBuilder
	frames []*frameResources

	// BuildOrUpdate calls so far.
	frame      uint64
	savedBytes uint64
	deviceLost bool
}

func NewManager(gpu *renderer.GPUContext, options Options) *Manager {
	core.Assert(gpu != nil, "manager requires a gpu context")
	core.Assert(options.MaxCompactionsPerFrame >= 0, "negative compaction budget")

	tlasFlags := metadata.BUILD_FLAG_PREFER_FAST_BUILD
	if options.PreferFastTrace {
		tlasFlags = metadata.BUILD_FLAG_PREFER_FAST_TRACE
	}
	if options.TopLevelRefit {
		tlasFlags |= metadata.BUILD_FLAG_ALLOW_UPDATE
	}

	m := &Manager{
		options:     options,
		entries:     make(map[string]*BottomLevelEntry),
		compactions: containers.NewRingQueue[compactionRequest](16),
		tlas:        NewTopLevelBuilder(tlasFlags),
	}
	m.bind(gpu)
	return m
}

func (m *Manager) bind(gpu *renderer.GPUContext) {
	m.gpu = gpu
	m.alloc = NewBufferAllocator(gpu.Device)
	m.retire = NewRetireList(m.alloc)
	m.scratch = NewScratchPool(m.alloc)
	m.frames = newFrameResources(gpu.FramesInFlight())
}

// OnObjectAdded registers an object of mesh. Its entry is built by the
// next BuildOrUpdate.
func (m *Manager) OnObjectAdded(obj Object) {
	core.Assert(obj.Mesh != nil, "object added without a mesh")
	e := m.entryFor(obj.Mesh)
	e.refCount++
}

// OnObjectRemoved drops one reference. An entry without references that
// is absent from the object list is released after its last use retires.
func (m *Manager) OnObjectRemoved(obj Object) {
	core.Assert(obj.Mesh != nil, "object removed without a mesh")
	e, ok := m.entries[obj.Mesh.MeshID()]
	if !ok {
		core.LogWarn("removed object references unknown mesh `%s`", obj.Mesh.MeshID())
		return
	}
	core.Assert(e.refCount > 0, "mesh `%s` removed more often than added", obj.Mesh.MeshID())
	e.refCount--
}

func (m *Manager) entryFor(mesh Mesh) *BottomLevelEntry {
	if e, ok := m.entries[mesh.MeshID()]; ok {
		return e
	}
	e := newBottomLevelEntry(mesh)
	m.entries[mesh.MeshID()] = e
	m.order = append(m.order, e)
	e.logger.Debug("entry registered")
	return e
}

// Entry returns the bottom-level entry of meshID, if any.
func (m *Manager) Entry(meshID string) (*BottomLevelEntry, bool) {
	e, ok := m.entries[meshID]
	return e, ok
}

/**
 * @brief Brings every bottom-level structure up to date, advances
 * compaction and records this frame's top-level build into the frame's
 * command list. Must run between GPUContext.BeginFrame and EndFrame.
 * Instance N of the result is objects[N].
 */
func (m *Manager) BuildOrUpdate(ctx context.Context, objects []Object) (TopLevelHandle, error) {
	if m.deviceLost {
		return TopLevelHandle{}, fmt.Errorf("build or update: %w", renderer.ErrDeviceLost)
	}
	if err := m.gpu.Device.RemovedReason(); err != nil {
		m.NotifyDeviceLost()
		return TopLevelHandle{}, fmt.Errorf("build or update: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return TopLevelHandle{}, err
	}
	core.Assert(m.gpu.IsRecording(), "BuildOrUpdate called outside BeginFrame/EndFrame")

	cl := m.gpu.CommandList()
	completed := m.gpu.CompletedFenceValue()
	fence := m.gpu.CurrentFenceValue()
	slot := m.gpu.FrameSlot()
	m.frame++

	m.retire.Collect(completed)
	m.scratch.Reclaim(completed, m.frame)
	m.scratch.TrimIdle(m.frame, SCRATCH_MAX_IDLE_FRAMES)
	m.completeCompactions(completed)
	m.promoteCompletedBuilds(completed)

	m.tlas.Reset()
	for i, obj := range objects {
		core.Assert(obj.Mesh != nil, "object %d has no mesh", i)
		e := m.entryFor(obj.Mesh)
		if e.lastSeenFrame != m.frame {
			e.lastSeenFrame = m.frame
			if err := m.updateEntry(cl, e, slot, fence); err != nil {
				return TopLevelHandle{}, err
			}
		}
		e.lastUse = fence
		m.tlas.AddInstanceWithMask(e.Address(), obj.Transform, obj.InstanceID, obj.HitGroupIndex, obj.Mask, obj.Flags)
	}

	if err := m.scheduleCompactions(cl, fence); err != nil {
		return TopLevelHandle{}, err
	}
	m.collectGarbage()

	return m.buildTopLevel(m.frames[slot], fence)
}

// updateEntry builds, rebuilds or refits e as its mesh requires.
func (m *Manager) updateEntry(cl renderer.CommandList, e *BottomLevelEntry, slot uint32, fence uint64) error {
	policy := e.mesh.BuildPolicy()
	generation := e.mesh.Generation()

	switch {
	case !e.isBuilt() || generation != e.generation:
		return m.build(cl, e, e.mesh.Geometries(slot), fence)
	case policy.Deforming:
		geometries := e.mesh.Geometries(slot)
		if e.flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE) && sameTopology(e.geometries, geometries) {
			return m.refit(cl, e, geometries, fence)
		}
		return m.build(cl, e, geometries, fence)
	}
	return nil
}

func (m *Manager) build(cl renderer.CommandList, e *BottomLevelEntry, geometries []metadata.GeometryDesc, fence uint64) error {
	flags := buildFlags(e.mesh.BuildPolicy(), m.options)
	builder := NewBottomLevelBuilder(flags)
	for _, g := range geometries {
		builder.AddGeometry(g)
	}
	scratchSize, resultSize := builder.ComputeBufferSizes(m.gpu.Device)

	scratch, err := m.scratch.Acquire(scratchSize)
	if err != nil {
		return err
	}
	result, err := m.alloc.CreateResultBuffer(fmt.Sprintf("blas/%s", e.mesh.MeshID()), resultSize)
	if err != nil {
		m.scratch.Release(scratch, 0)
		return err
	}
	var postbuild renderer.Buffer
	if flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION) {
		postbuild, err = m.alloc.CreateReadbackBuffer(fmt.Sprintf("blas/%s/postbuild", e.mesh.MeshID()), metadata.RAYTRACING_POSTBUILD_INFO_SIZE)
		if err != nil {
			m.scratch.Release(scratch, 0)
			m.alloc.Free(result)
			return err
		}
		builder.EmitCompactedSizeTo(postbuild.Address())
	}

	builder.Generate(cl, scratch, result, nil)
	m.scratch.Release(scratch, fence)

	if e.isBuilt() {
		e.logger.Info("rebuilding", "generation", e.mesh.Generation(), "previous", e.generation)
		m.releaseEntryBuffers(e, m.retire.Retire)
	}
	e.transition(COMPACTION_STATE_BUILDING)
	e.flags = flags
	e.geometries = geometries
	e.generation = e.mesh.Generation()
	e.result = result
	e.resultSize = resultSize
	e.buildSize = result.Size()
	e.updateScratchSize = builder.UpdateScratchSize()
	e.postbuild = postbuild
	e.buildFence = fence
	e.builds++
	e.logger.Debug("build recorded", "result", resultSize, "scratch", scratchSize, "fence", fence)
	return nil
}

// refit updates e in place: the result buffer is both source and destination.
func (m *Manager) refit(cl renderer.CommandList, e *BottomLevelEntry, geometries []metadata.GeometryDesc, fence uint64) error {
	builder := NewBottomLevelBuilder(e.flags)
	for _, g := range geometries {
		builder.AddGeometry(g)
	}
	_, resultSize := builder.ComputeBufferSizes(m.gpu.Device)
	if resultSize > e.result.Size() {
		return m.build(cl, e, geometries, fence)
	}

	scratch, err := m.scratch.Acquire(builder.UpdateScratchSize())
	if err != nil {
		return err
	}
	builder.Generate(cl, scratch, e.result, e.result)
	m.scratch.Release(scratch, fence)

	// lastUse covers the refit; buildFence keeps tracking the full build.
	e.geometries = geometries
	e.refits++
	return nil
}

// releaseEntryBuffers hands every buffer of e to release, tagged with the
// last fence value that may still touch it.
func (m *Manager) releaseEntryBuffers(e *BottomLevelEntry, release func(renderer.Buffer, uint64)) {
	lastUse := max(e.lastUse, e.buildFence, e.compactFence)
	if e.result != nil {
		release(e.result, lastUse)
	}
	if e.compacted != nil {
		release(e.compacted, e.compactFence)
	}
	if e.postbuild != nil {
		release(e.postbuild, e.buildFence)
	}
	e.result = nil
	e.compacted = nil
	e.postbuild = nil
}

// collectGarbage drops entries without objects that were not part of this
// frame. Their buffers wait on the retire list for their last use.
func (m *Manager) collectGarbage() {
	kept := m.order[:0]
	for _, e := range m.order {
		if e.refCount > 0 || e.lastSeenFrame == m.frame {
			kept = append(kept, e)
			continue
		}
		e.logger.Debug("entry released", "lastUse", e.lastUse)
		m.releaseEntryBuffers(e, m.retire.Retire)
		delete(m.entries, e.mesh.MeshID())
	}
	for i := len(kept); i < len(m.order); i++ {
		m.order[i] = nil
	}
	m.order = kept
}

// NotifyDeviceLost drops every GPU resource without waiting for the queue.
// Entries survive so RecreateAll can rebuild them.
func (m *Manager) NotifyDeviceLost() {
	if m.deviceLost {
		return
	}
	m.deviceLost = true
	core.LogError("device lost: dropping %d bottom-level structures", len(m.order))

	drop := func(buf renderer.Buffer, _ uint64) { buf.Release() }
	for _, e := range m.order {
		m.releaseEntryBuffers(e, drop)
	}
	m.retire.Drop()
	m.scratch.Drop()
	m.releaseFrames(func(buf renderer.Buffer) { buf.Release() })
	m.compactions.Clear()
}

func (m *Manager) IsDeviceLost() bool {
	return m.deviceLost
}

/**
 * @brief Rebinds the manager to gpu and records a fresh build of every
 * registered entry. A healthy previous device is drained first. Meshes
 * must already serve geometry uploaded to the new device. Must run outside
 * BeginFrame/EndFrame; the builds are submitted right away.
 */
func (m *Manager) RecreateAll(ctx context.Context, gpu *renderer.GPUContext) error {
	core.Assert(gpu != nil, "RecreateAll requires a gpu context")
	if !m.deviceLost {
		if m.gpu.Device.RemovedReason() == nil {
			if err := m.gpu.WaitIdle(ctx); err != nil {
				core.LogWarn("drain before recreate failed: %s", err.Error())
			}
		}
		m.NotifyDeviceLost()
	}

	m.bind(gpu)
	m.deviceLost = false
	m.savedBytes = 0

	if len(m.order) == 0 {
		return nil
	}
	cl, err := gpu.Device.CreateCommandList()
	if err != nil {
		return fmt.Errorf("recreate: %w", err)
	}
	if err := cl.Reset(); err != nil {
		return fmt.Errorf("recreate: %w", err)
	}

	fence := gpu.CurrentFenceValue()
	slot := gpu.FrameSlot()
	for _, e := range m.order {
		// Full reconstruction: the entry starts over regardless of its old state.
		e.state = COMPACTION_STATE_BUILDING
		e.lastUse, e.buildFence, e.compactFence = 0, 0, 0
		if err := m.build(cl, e, e.mesh.Geometries(slot), fence); err != nil {
			return fmt.Errorf("recreate %s: %w", e.mesh.MeshID(), err)
		}
	}
	signaled, err := gpu.Execute(cl)
	if err != nil {
		return fmt.Errorf("recreate: %w", err)
	}
	core.Assert(signaled == fence, "recreate builds tagged with fence %d but signaled %d", fence, signaled)
	core.LogInfo("recreated %d bottom-level structures", len(m.order))
	return nil
}

// Shutdown drains the queue and releases every buffer.
func (m *Manager) Shutdown(ctx context.Context) error {
	var drainErr error
	if !m.deviceLost {
		if drainErr = m.gpu.WaitIdle(ctx); drainErr != nil {
			core.LogError("shutdown drain failed: %s", drainErr.Error())
		}
	}
	if drainErr != nil || m.deviceLost {
		// Nothing can be waited on; drop without accounting.
		m.NotifyDeviceLost()
	} else {
		free := func(buf renderer.Buffer, _ uint64) { m.alloc.Free(buf) }
		for _, e := range m.order {
			m.releaseEntryBuffers(e, free)
		}
		m.retire.Flush()
		m.scratch.Flush()
		m.releaseFrames(m.alloc.Free)
	}
	m.entries = make(map[string]*BottomLevelEntry)
	m.order = nil
	m.compactions.Clear()
	return drainErr
}
