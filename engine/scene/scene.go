package scene

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
)

// Scene owns meshes and the ordered object list. Object order is instance
// order in the top-level structure. Adds and removes are announced on the
// event bus so the acceleration-structure manager can track references.
// A Scene is driven by the frame loop thread.
type Scene struct {
	bus *core.EventBus

	meshes  map[string]*Mesh
	objects []*Object
	byName  map[string]*Object

	gpu    *renderer.GPUContext
	alloc  *raytracing.BufferAllocator
	retire *raytracing.RetireList

	// Seconds of animation time.
	time float64
}

func New(bus *core.EventBus) *Scene {
	core.Assert(bus != nil, "scene requires an event bus")
	return &Scene{
		bus:    bus,
		meshes: make(map[string]*Mesh),
		byName: make(map[string]*Object),
	}
}

/**
 * @brief Binds the scene to gpu and uploads every mesh. Called once at
 * startup and again after a device loss, once the new device exists.
 */
func (s *Scene) Bind(gpu *renderer.GPUContext) error {
	core.Assert(gpu != nil, "scene bound to a nil gpu context")
	s.gpu = gpu
	s.alloc = raytracing.NewBufferAllocator(gpu.Device)
	s.retire = raytracing.NewRetireList(s.alloc)
	for _, m := range s.meshes {
		if err := m.Upload(s.alloc, gpu.FramesInFlight()); err != nil {
			return fmt.Errorf("bind scene: %w", err)
		}
	}
	return nil
}

func (s *Scene) isBound() bool {
	return s.gpu != nil
}

// AddMesh registers m under its name and uploads it when the scene is bound.
func (s *Scene) AddMesh(m *Mesh) error {
	if _, ok := s.meshes[m.Name()]; ok {
		return fmt.Errorf("mesh `%s` already exists", m.Name())
	}
	if s.isBound() {
		if err := m.Upload(s.alloc, s.gpu.FramesInFlight()); err != nil {
			return err
		}
	}
	s.meshes[m.Name()] = m
	return nil
}

func (s *Scene) Mesh(name string) (*Mesh, bool) {
	m, ok := s.meshes[name]
	return m, ok
}

// RemoveMesh releases a mesh no object uses anymore. Its buffers live until
// the frame being recorded retires.
func (s *Scene) RemoveMesh(name string) error {
	m, ok := s.meshes[name]
	if !ok {
		return fmt.Errorf("mesh `%s` not found", name)
	}
	for _, o := range s.objects {
		core.Assert(o.Mesh != m, "mesh `%s` removed while object `%s` uses it", name, o.Name)
	}
	delete(s.meshes, name)
	if s.isBound() {
		fence := s.gpu.CurrentFenceValue()
		m.retire(func(buf renderer.Buffer) { s.retire.Retire(buf, fence) })
	}
	return nil
}

// AddObject appends o, making it the last instance.
func (s *Scene) AddObject(o *Object) error {
	if _, ok := s.byName[o.Name]; ok {
		return fmt.Errorf("object `%s` already exists", o.Name)
	}
	if o.Mesh == nil || s.meshes[o.Mesh.Name()] != o.Mesh {
		return fmt.Errorf("object `%s` references a mesh outside the scene", o.Name)
	}
	s.objects = append(s.objects, o)
	s.byName[o.Name] = o
	s.bus.Fire(core.EVENT_CODE_OBJECT_ADDED, s, o.Instance())
	return nil
}

func (s *Scene) RemoveObject(name string) bool {
	o, ok := s.byName[name]
	if !ok {
		return false
	}
	delete(s.byName, name)
	for i, other := range s.objects {
		if other == o {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	s.bus.Fire(core.EVENT_CODE_OBJECT_REMOVED, s, o.Instance())
	return true
}

func (s *Scene) Object(name string) (*Object, bool) {
	o, ok := s.byName[name]
	return o, ok
}

func (s *Scene) ObjectCount() int {
	return len(s.objects)
}

func (s *Scene) MeshCount() int {
	return len(s.meshes)
}

// Instances returns the objects in instance order.
func (s *Scene) Instances() []raytracing.Object {
	instances := make([]raytracing.Object, len(s.objects))
	for i, o := range s.objects {
		instances[i] = o.Instance()
	}
	return instances
}

// InstanceName returns the name of the object at instance index i.
func (s *Scene) InstanceName(i int) string {
	if i < 0 || i >= len(s.objects) {
		return ""
	}
	return s.objects[i].Name
}

/**
 * @brief Advances animation by delta seconds. Deforming meshes write the
 * vertex buffer of the frame slot being recorded, so this must run between
 * BeginFrame and the acceleration-structure update.
 */
func (s *Scene) Update(delta float64) error {
	core.Assert(s.isBound(), "scene updated before Bind")
	core.Assert(s.gpu.IsRecording(), "scene updated outside BeginFrame/EndFrame")

	s.retire.Collect(s.gpu.CompletedFenceValue())

	s.time += delta
	for _, o := range s.objects {
		o.update(delta)
	}
	slot := s.gpu.FrameSlot()
	for _, m := range s.meshes {
		if err := m.Deform(s.alloc, slot, s.time); err != nil {
			return err
		}
	}
	return nil
}

// DeviceLost forgets every device buffer. Bind uploads them again.
func (s *Scene) DeviceLost() {
	for _, m := range s.meshes {
		m.drop()
	}
	if s.retire != nil {
		s.retire.Drop()
	}
	s.gpu = nil
	s.alloc = nil
	s.retire = nil
}

// Shutdown releases every mesh buffer. The queue must be idle.
func (s *Scene) Shutdown() {
	if !s.isBound() {
		return
	}
	for _, m := range s.meshes {
		m.retire(s.alloc.Free)
	}
	s.retire.Flush()
}

// AllocatedBytes returns the device memory held by mesh buffers.
func (s *Scene) AllocatedBytes() uint64 {
	if s.alloc == nil {
		return 0
	}
	return s.alloc.Allocated()
}
