package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/systems"
)

// Queue hands submissions to a single job worker, so command lists and
// signals complete in submission order.
type Queue struct {
	device *Device
	jobs   *systems.JobSystem

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newQueue(device *Device, depth int) (*Queue, error) {
	jobs, err := systems.NewJobSystem(1, depth)
	if err != nil {
		return nil, err
	}
	q := &Queue{device: device, jobs: jobs}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

func (q *Queue) Submit(lists ...renderer.CommandList) error {
	if err := q.device.RemovedReason(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		core.Assert(ok && cl.device == q.device, "command list was not created by device `%s`", q.device.Name())
		commands := cl.submission()
		q.jobs.Submit(systems.JobTask{
			Name:        "execute command list",
			InputParams: commands,
			OnStart: func(params interface{}) error {
				q.waitWhilePaused()
				q.device.execute(params.([]command))
				return nil
			},
		})
	}
	return nil
}

func (q *Queue) Signal(fence renderer.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	core.Assert(ok && f.device == q.device, "fence was not created by device `%s`", q.device.Name())
	if err := q.device.RemovedReason(); err != nil {
		return fmt.Errorf("signal %d: %w", value, err)
	}
	q.jobs.Submit(systems.JobTask{
		Name: "signal fence",
		OnStart: func(_ interface{}) error {
			q.waitWhilePaused()
			// A removed device never completes outstanding work.
			if q.device.RemovedReason() != nil {
				return nil
			}
			f.signal(value)
			return nil
		},
	})
	return nil
}

func (q *Queue) waitWhilePaused() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.paused && q.device.RemovedReason() == nil {
		q.cond.Wait()
	}
}

func (q *Queue) pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

func (q *Queue) resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.cond.Broadcast()
}

func (q *Queue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) shutdown() error {
	q.resume()
	return q.jobs.Shutdown()
}
