package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type DeviceConfig struct {
	Name string
	// Bytes the device may commit at once. Zero means unlimited.
	MemoryBudget uint64
	// Validation enables the debug layer.
	Validation bool
	// Number of queued submissions before Submit blocks.
	QueueDepth int
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Name:       "prism software device",
		Validation: true,
		QueueDepth: 64,
	}
}

// Device is a CPU implementation of the raytracing device. Command lists run
// asynchronously on a single queue worker, so fences behave like they do on
// hardware.
type Device struct {
	config DeviceConfig

	// Guards everything below. The queue worker holds it while it executes
	// a command list.
	mu         sync.Mutex
	memory     *addressSpace
	structures map[uint64]*accelerationStructure
	fences     []*Fence
	removed    error
	destroyed  bool

	queue     *Queue
	validator *Validator
}

func NewDevice(config DeviceConfig) (*Device, error) {
	if config.Name == "" {
		config.Name = DefaultDeviceConfig().Name
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultDeviceConfig().QueueDepth
	}

	d := &Device{
		config:     config,
		memory:     newAddressSpace(config.MemoryBudget),
		structures: make(map[uint64]*accelerationStructure),
		validator:  newValidator(config.Validation),
	}
	queue, err := newQueue(d, config.QueueDepth)
	if err != nil {
		return nil, err
	}
	d.queue = queue

	core.LogInfo("created device `%s` (budget %d bytes, validation %t)", config.Name, config.MemoryBudget, config.Validation)
	return d, nil
}

func (d *Device) Name() string {
	return d.config.Name
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (renderer.Buffer, error) {
	core.Assert(desc.Size > 0, "buffer `%s` has zero size", desc.Name)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed != nil {
		return nil, fmt.Errorf("create buffer `%s`: %w", desc.Name, d.removed)
	}
	address, err := d.memory.allocate(desc.Size)
	if err != nil {
		return nil, fmt.Errorf("create buffer `%s`: %w", desc.Name, err)
	}

	b := &Buffer{
		device:  d,
		name:    desc.Name,
		address: address,
		size:    desc.Size,
		heap:    desc.Heap,
		state:   desc.InitialState,
		flags:   desc.Flags,
		data:    make([]byte, desc.Size),
	}
	d.memory.insert(b)
	return b, nil
}

func (d *Device) CreateCommandList() (renderer.CommandList, error) {
	if err := d.RemovedReason(); err != nil {
		return nil, fmt.Errorf("create command list: %w", err)
	}
	return &CommandList{device: d}, nil
}

func (d *Device) CreateFence(initialValue uint64) (renderer.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed != nil {
		return nil, fmt.Errorf("create fence: %w", d.removed)
	}
	f := &Fence{device: d, value: initialValue, changed: make(chan struct{})}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *Device) Queue() renderer.Queue {
	return d.queue
}

func (d *Device) GetAccelerationStructurePrebuildInfo(inputs *metadata.BuildInputs) metadata.PrebuildInfo {
	core.Assert(inputs != nil, "prebuild info requested for nil inputs")
	return prebuildInfo(inputs)
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// Destroy drains the queue and releases every buffer still alive.
func (d *Device) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.mu.Unlock()

	if err := d.queue.shutdown(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	live := append([]*Buffer(nil), d.memory.live...)
	if len(live) > 0 {
		core.LogDebug("device `%s` destroyed with %d live buffers", d.config.Name, len(live))
	}
	for _, b := range live {
		d.releaseLocked(b)
	}
	return nil
}

// InjectDeviceRemoved simulates a device reset. Pending work is dropped,
// waiters wake up with ErrDeviceLost and every later call fails.
func (d *Device) InjectDeviceRemoved(reason string) {
	d.mu.Lock()
	if d.removed != nil {
		d.mu.Unlock()
		return
	}
	d.removed = fmt.Errorf("%s: %w", reason, renderer.ErrDeviceLost)
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()

	core.LogWarn("device `%s` removed: %s", d.config.Name, reason)
	for _, f := range fences {
		f.wake()
	}
	d.queue.wake()
}

// Pause holds the queue before its next command list. Used to keep work in
// flight deterministically.
func (d *Device) Pause() {
	d.queue.pause()
}

func (d *Device) Resume() {
	d.queue.resume()
}

func (d *Device) Validator() *Validator {
	return d.validator
}

func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.memory.live)
}

func (d *Device) LiveBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memory.used
}

// TraceRays runs a ray query against the top-level structure at tlas right
// away, outside any command list. Callers make sure the build completed.
func (d *Device) TraceRays(tlas uint64, rays []metadata.RayDesc) ([]metadata.RayHit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed != nil {
		return nil, fmt.Errorf("trace rays: %w", d.removed)
	}
	out := make([]metadata.RayHit, len(rays))
	x := newExecutor(d)
	if !x.dispatch(tlas, rays, out) {
		return out, fmt.Errorf("trace rays: no top-level acceleration structure at 0x%x", tlas)
	}
	return out, nil
}

// Bounds returns the world bounds of the structure at address.
func (d *Device) Bounds(address uint64) (math.Extents3D, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	as, ok := d.structures[address]
	if !ok {
		return math.Extents3D{}, false
	}
	return as.bounds(), true
}

func (d *Device) releaseLocked(b *Buffer) {
	if b.released {
		return
	}
	b.released = true
	b.mapped = false
	d.memory.remove(b)
	for address := range d.structures {
		if address >= b.address && address < b.address+b.size {
			delete(d.structures, address)
		}
	}
	b.data = nil
}

// execute runs a submitted command list on the queue worker.
func (d *Device) execute(commands []command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed != nil {
		return
	}
	x := newExecutor(d)
	for _, c := range commands {
		c(x)
	}
}
