package ui

import "time"

// FPSMeter averages the frame rate over windows of at least one second
type FPSMeter struct {
	start  time.Time
	frames int
	fps    float64
}

func NewFPSMeter(now time.Time) *FPSMeter {
	return &FPSMeter{start: now}
}

// Tick records a frame shown at now and returns the current rate
func (m *FPSMeter) Tick(now time.Time) float64 {
	m.frames++
	if elapsed := now.Sub(m.start); elapsed >= time.Second {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.start = now
	}
	return m.fps
}

// FPS returns the rate of the last completed window
func (m *FPSMeter) FPS() float64 {
	return m.fps
}
