// Package vision captures the monitored screen region and locates the
// rendered chessboard inside it.
package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// ErrCaptureUnavailable reports that the target display or region can no
// longer be read. Unlike a failed board detection this is not retryable.
var ErrCaptureUnavailable = errors.New("screen capture unavailable")

// Capturer grabs bitmaps of the monitored screen region on demand.
type Capturer struct {
	display       int
	region        *image.Rectangle
	diffThreshold float64

	mu       sync.Mutex
	lastGray *gocv.Mat
}

// NewCapturer creates a capturer for the given display. A non-nil region
// pins the captured rectangle; otherwise the whole display is grabbed.
func NewCapturer(display int, region *image.Rectangle, diffThreshold float64) *Capturer {
	return &Capturer{
		display:       display,
		region:        region,
		diffThreshold: diffThreshold,
	}
}

// CaptureBounds returns the screen rectangle the capturer reads.
func (c *Capturer) CaptureBounds() (image.Rectangle, error) {
	if c.region != nil {
		return *c.region, nil
	}

	n := screenshot.NumActiveDisplays()
	if n == 0 || c.display >= n {
		return image.Rectangle{}, fmt.Errorf("%w: display %d not present (%d active)",
			ErrCaptureUnavailable, c.display, n)
	}

	return screenshot.GetDisplayBounds(c.display), nil
}

// CaptureFrame reads the current screen contents.
func (c *Capturer) CaptureFrame() (*Frame, error) {
	bounds, err := c.CaptureBounds()
	if err != nil {
		return nil, err
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	return &Frame{
		Img:        img,
		Bounds:     bounds,
		CapturedAt: time.Now(),
	}, nil
}

// DetectChange checks if the frame has changed significantly from the last
// one. The first frame always counts as changed.
func (c *Capturer) DetectChange(frame *Frame) (bool, float64, error) {
	gray, err := frame.GrayMat()
	if err != nil {
		return false, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastGray == nil {
		c.lastGray = &gray
		return true, 100.0, nil
	}

	// Compute absolute difference
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(*c.lastGray, gray, &diff)

	mean := diff.Mean()
	meanVal := mean.Val1

	changed := meanVal > c.diffThreshold
	if changed {
		c.lastGray.Close()
		c.lastGray = &gray
	} else {
		gray.Close()
	}

	return changed, meanVal, nil
}

// Close releases resources.
func (c *Capturer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastGray != nil {
		c.lastGray.Close()
		c.lastGray = nil
	}
}

// VisualizeBoard renders a grid of intensities as ASCII art for debug output.
func VisualizeBoard(grid []float64, size int) string {
	if len(grid) != size*size {
		return "Invalid grid size"
	}

	result := "\n"
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			val := grid[i*size+j]
			if val < 0.3 {
				result += "█ "
			} else if val < 0.7 {
				result += "▒ "
			} else {
				result += "░ "
			}
		}
		result += "\n"
	}
	return result
}
