package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

// Window shows annotated frames with a detection status line
type Window struct {
	window *gocv.Window
	name   string
	meter  *FPSMeter
}

// NewWindow creates a new preview window
func NewWindow(name string) *Window {
	return &Window{
		window: gocv.NewWindow(name),
		name:   name,
		meter:  NewFPSMeter(time.Now()),
	}
}

// Show overlays the frame rate, face count and detection latency, then
// displays the frame
func (w *Window) Show(frame *gocv.Mat, faces int, detection time.Duration) {
	fps := w.meter.Tick(time.Now())

	status := fmt.Sprintf("FPS: %.1f  faces: %d  det: %.1fms", fps, faces,
		float64(detection.Microseconds())/1000)
	gocv.PutText(frame, status, image.Pt(10, 30),
		gocv.FontHersheyPlain, 1.5, color.RGBA{R: 0, G: 255, B: 0, A: 255}, 2)

	w.window.IMShow(*frame)
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.meter.FPS()
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}

// IsQuit reports whether key asks to leave the preview loop
func IsQuit(key int) bool {
	switch key & 0xFF {
	case 'q', 'Q', 27:
		return true
	}
	return false
}
