package core

import "time"

const frameAverageCount = 30

// FrameMetrics keeps a rolling frame time average and a frames per second
// counter. It is not safe for concurrent use.
type FrameMetrics struct {
	counter     int
	samples     [frameAverageCount]time.Duration
	average     time.Duration
	frames      int
	accumulated time.Duration
	fps         float64
	total       uint64
}

func (m *FrameMetrics) Update(frameTime time.Duration) {
	m.samples[m.counter] = frameTime
	if m.counter == frameAverageCount-1 {
		var sum time.Duration
		for _, s := range m.samples {
			sum += s
		}
		m.average = sum / frameAverageCount
	}
	m.counter = (m.counter + 1) % frameAverageCount

	m.accumulated += frameTime
	m.frames++
	if m.accumulated >= time.Second {
		m.fps = float64(m.frames)
		m.accumulated -= time.Second
		m.frames = 0
	}
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// AverageFrameTime is refreshed once every frameAverageCount frames.
func (m *FrameMetrics) AverageFrameTime() time.Duration {
	return m.average
}

// Frames returns the number of frames recorded since creation.
func (m *FrameMetrics) Frames() uint64 {
	return m.total
}
