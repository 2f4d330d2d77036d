package camera

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Capture reads frames from a webcam or a video file
type Capture struct {
	source string
	video  *gocv.VideoCapture
	width  int
	height int
	frames int
	mu     sync.Mutex
}

// Open opens a capture source. A numeric source is a device ID, anything
// else a file path or stream URL. Zero width or height keeps the device
// default resolution.
func Open(source string, width, height int) (*Capture, error) {
	var (
		video *gocv.VideoCapture
		err   error
	)
	if id, convErr := strconv.Atoi(source); convErr == nil {
		video, err = gocv.OpenVideoCapture(id)
	} else {
		video, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %q: %w", source, err)
	}

	if width > 0 && height > 0 {
		video.Set(gocv.VideoCaptureFrameWidth, float64(width))
		video.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	// camera may not support requested resolution
	return &Capture{
		source: source,
		video:  video,
		width:  int(video.Get(gocv.VideoCaptureFrameWidth)),
		height: int(video.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// Read captures the next frame into frame. It returns false at the end of
// a file or when the device stops delivering.
func (c *Capture) Read(frame *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.video == nil {
		return false
	}
	if !c.video.Read(frame) || frame.Empty() {
		return false
	}
	c.frames++
	return true
}

// Frames returns the number of frames read so far
func (c *Capture) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Source returns the device index or path the capture was opened from
func (c *Capture) Source() string {
	return c.source
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Close releases the capture
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.video != nil {
		err := c.video.Close()
		c.video = nil
		return err
	}
	return nil
}
