package software

import (
	"context"
	"fmt"
	"sync"
)

// Fence is advanced by the queue worker when it reaches a Signal.
type Fence struct {
	device *Device

	mu    sync.Mutex
	value uint64
	// Closed and replaced on every change.
	changed chan struct{}
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	for {
		f.mu.Lock()
		if f.value >= value {
			f.mu.Unlock()
			return nil
		}
		if err := f.device.RemovedReason(); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("wait for fence value %d: %w", value, err)
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value > f.value {
		f.value = value
	}
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fence) wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.changed)
	f.changed = make(chan struct{})
}
