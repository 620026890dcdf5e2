package core

import "sync"

const AVG_COUNT uint8 = 30

type MetricsState struct {
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	// Acceleration-structure memory, as reported by the frame loop.
	ASBytesAllocated    uint64
	ASBytesSaved        uint64
	ASBuffersRetiring   int
	ASCompactionsQueued int
}

var metricsMu sync.Mutex
var metricsState = &MetricsState{}

// MetricsInitialize resets every counter.
func MetricsInitialize() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsState = &MetricsState{}
	return nil
}

func MetricsUpdate(frame_elapsed_time float64) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	// Calculate frame ms average
	frame_ms := (frame_elapsed_time * 1000.0)
	metricsState.MStimes[metricsState.FrameAVGCounter] = frame_ms
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += metricsState.MStimes[i]
		}
		metricsState.MSavg = sum / float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frame_ms
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

// MetricsAccelerationStructures records the acceleration-structure memory counters.
func MetricsAccelerationStructures(allocated, saved uint64, retiring, queued int) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsState.ASBytesAllocated = allocated
	metricsState.ASBytesSaved = saved
	metricsState.ASBuffersRetiring = retiring
	metricsState.ASCompactionsQueued = queued
}

func MetricsFPS() float64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.MSavg
}

func MetricsFrame() (float64, float64) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsState.FPS, metricsState.MSavg
}

// MetricsSnapshot returns a copy of the current counters.
func MetricsSnapshot() MetricsState {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return *metricsState
}
