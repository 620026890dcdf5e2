package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
)

const (
	MIN_FRAMES_IN_FLIGHT uint32 = 2
	MAX_FRAMES_IN_FLIGHT uint32 = 3
)

type frameSlot struct {
	commandList CommandList
	// Fence value signaled after the slot's last submission.
	fenceValue uint64
}

// GPUContext threads the device, its queue and the frame fence through the
// renderer. It owns one command list per frame in flight and paces the CPU
// so it never records into a slot the GPU is still executing.
type GPUContext struct {
	Device Device
	Queue  Queue
	Fence  Fence

	framesInFlight uint32
	slots          []frameSlot
	// Total frames begun so far.
	frameNumber uint64
	// Last value handed to Queue.Signal.
	lastSignaled uint64
	recording    bool
}

func NewGPUContext(device Device, framesInFlight uint32) (*GPUContext, error) {
	core.Assert(device != nil, "gpu context requires a device")
	core.Assert(framesInFlight >= MIN_FRAMES_IN_FLIGHT && framesInFlight <= MAX_FRAMES_IN_FLIGHT,
		"frames in flight must be in [%d, %d], got %d", MIN_FRAMES_IN_FLIGHT, MAX_FRAMES_IN_FLIGHT, framesInFlight)

	fence, err := device.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame fence: %w", err)
	}
	c := &GPUContext{
		Device:         device,
		Queue:          device.Queue(),
		Fence:          fence,
		framesInFlight: framesInFlight,
		slots:          make([]frameSlot, framesInFlight),
	}
	for i := range c.slots {
		cl, err := device.CreateCommandList()
		if err != nil {
			return nil, fmt.Errorf("failed to create command list for frame slot %d: %w", i, err)
		}
		c.slots[i].commandList = cl
	}
	return c, nil
}

func (c *GPUContext) FramesInFlight() uint32 {
	return c.framesInFlight
}

// FrameSlot is the index of the slot the current (or next) frame records into.
func (c *GPUContext) FrameSlot() uint32 {
	return uint32(c.frameNumber % uint64(c.framesInFlight))
}

// PreviousFrameSlot is the slot recorded by the frame before the current one.
func (c *GPUContext) PreviousFrameSlot() uint32 {
	return (c.FrameSlot() + c.framesInFlight - 1) % c.framesInFlight
}

func (c *GPUContext) FrameNumber() uint64 {
	return c.frameNumber
}

// CommandList returns the list of the frame being recorded.
func (c *GPUContext) CommandList() CommandList {
	core.Assert(c.recording, "command list requested outside BeginFrame/EndFrame")
	return c.slots[c.FrameSlot()].commandList
}

func (c *GPUContext) IsRecording() bool {
	return c.recording
}

// CurrentFenceValue is the value the frame being recorded signals on
// completion. Anything the frame references stays alive until it retires.
func (c *GPUContext) CurrentFenceValue() uint64 {
	return c.lastSignaled + 1
}

func (c *GPUContext) CompletedFenceValue() uint64 {
	return c.Fence.CompletedValue()
}

// BeginFrame waits until the GPU released the next slot, then opens its
// command list.
func (c *GPUContext) BeginFrame(ctx context.Context) (CommandList, error) {
	core.Assert(!c.recording, "BeginFrame called twice without EndFrame")

	if err := c.Device.RemovedReason(); err != nil {
		return nil, err
	}
	slot := &c.slots[c.FrameSlot()]
	if slot.fenceValue > 0 {
		if err := c.Fence.Wait(ctx, slot.fenceValue); err != nil {
			return nil, fmt.Errorf("frame pacing wait for fence %d: %w", slot.fenceValue, err)
		}
	}
	if err := slot.commandList.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset command list: %w", err)
	}
	c.recording = true
	return slot.commandList, nil
}

// EndFrame closes and submits the current command list and signals the
// frame fence. It returns the signaled value.
func (c *GPUContext) EndFrame() (uint64, error) {
	core.Assert(c.recording, "EndFrame called without BeginFrame")
	c.recording = false

	slot := &c.slots[c.FrameSlot()]
	if err := slot.commandList.Close(); err != nil {
		return 0, fmt.Errorf("failed to close command list: %w", err)
	}
	if err := c.Queue.Submit(slot.commandList); err != nil {
		return 0, fmt.Errorf("failed to submit frame %d: %w", c.frameNumber, err)
	}
	value, err := c.signal()
	if err != nil {
		return 0, err
	}
	slot.fenceValue = value
	c.frameNumber++
	return value, nil
}

// Execute submits a one-off command list outside the frame loop and
// returns the fence value tagging it.
func (c *GPUContext) Execute(cl CommandList) (uint64, error) {
	core.Assert(!c.recording, "one-off submission while a frame is being recorded")
	if err := cl.Close(); err != nil {
		return 0, fmt.Errorf("failed to close command list: %w", err)
	}
	if err := c.Queue.Submit(cl); err != nil {
		return 0, fmt.Errorf("failed to submit command list: %w", err)
	}
	return c.signal()
}

// WaitIdle drains the queue.
func (c *GPUContext) WaitIdle(ctx context.Context) error {
	core.Assert(!c.recording, "wait idle while a frame is being recorded")
	value, err := c.signal()
	if err != nil {
		return err
	}
	if err := c.Fence.Wait(ctx, value); err != nil {
		return fmt.Errorf("wait idle for fence %d: %w", value, err)
	}
	return nil
}

func (c *GPUContext) signal() (uint64, error) {
	value := c.lastSignaled + 1
	if err := c.Queue.Signal(c.Fence, value); err != nil {
		return 0, fmt.Errorf("failed to signal fence %d: %w", value, err)
	}
	c.lastSignaled = value
	return value, nil
}
