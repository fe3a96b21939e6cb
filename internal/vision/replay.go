package vision

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"time"

	"gocv.io/x/gocv"
)

// FrameSource yields frames for the visor loop. Live capture, recorded
// video and single stills all satisfy it, so the pipeline downstream of
// capture never knows which one it is running against.
type FrameSource interface {
	// ReadFrame returns the next frame, or io.EOF when the source is
	// exhausted.
	ReadFrame() (*Frame, error)
	Close() error
}

// LiveSource adapts a Capturer to the FrameSource interface.
type LiveSource struct {
	capturer *Capturer
}

// NewLiveSource wraps a screen capturer.
func NewLiveSource(capturer *Capturer) *LiveSource {
	return &LiveSource{capturer: capturer}
}

// ReadFrame captures the screen region.
func (s *LiveSource) ReadFrame() (*Frame, error) {
	return s.capturer.CaptureFrame()
}

// Close releases the capturer.
func (s *LiveSource) Close() error {
	s.capturer.Close()
	return nil
}

// VideoSource replays a recorded session from a video file.
type VideoSource struct {
	capture    *gocv.VideoCapture
	path       string
	fps        float64
	frameCount int
	current    int
}

// NewVideoSource opens a video file for frame-by-frame replay.
func NewVideoSource(path string) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video %s could not be opened", path)
	}

	return &VideoSource{
		capture:    capture,
		path:       path,
		fps:        capture.Get(gocv.VideoCaptureFPS),
		frameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// ReadFrame decodes the next frame, returning io.EOF at the end of the
// file.
func (s *VideoSource) ReadFrame() (*Frame, error) {
	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return nil, io.EOF
	}
	s.current++

	return frameFromMat(mat)
}

// FPS returns the recording's frame rate.
func (s *VideoSource) FPS() float64 {
	return s.fps
}

// FrameCount returns the total number of frames in the recording.
func (s *VideoSource) FrameCount() int {
	return s.frameCount
}

// Progress returns replay progress in [0, 1].
func (s *VideoSource) Progress() float64 {
	if s.frameCount <= 0 {
		return 0
	}
	return float64(s.current) / float64(s.frameCount)
}

// Seek jumps to the given frame index.
func (s *VideoSource) Seek(frame int) error {
	if frame < 0 || (s.frameCount > 0 && frame >= s.frameCount) {
		return fmt.Errorf("frame %d out of range [0, %d)", frame, s.frameCount)
	}
	s.capture.Set(gocv.VideoCapturePosFrames, float64(frame))
	s.current = frame
	return nil
}

// Reset rewinds to the first frame.
func (s *VideoSource) Reset() error {
	return s.Seek(0)
}

// Close releases the underlying video handle.
func (s *VideoSource) Close() error {
	return s.capture.Close()
}

// ImageSource serves a single still image once, then reports io.EOF. Reset
// rearms it.
type ImageSource struct {
	frame  *Frame
	served bool
}

// NewImageSource loads a still image from disk.
func NewImageSource(path string) (*ImageSource, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image %s", path)
	}

	frame, err := frameFromMat(mat)
	if err != nil {
		return nil, err
	}
	return &ImageSource{frame: frame}, nil
}

// ReadFrame serves the still on the first call and io.EOF afterwards.
func (s *ImageSource) ReadFrame() (*Frame, error) {
	if s.served {
		return nil, io.EOF
	}
	s.served = true
	return s.frame, nil
}

// Reset rearms the source to serve the still again.
func (s *ImageSource) Reset() {
	s.served = false
}

// Close is a no-op for stills.
func (s *ImageSource) Close() error {
	return nil
}

// frameFromMat converts a decoded BGR mat into a Frame.
func frameFromMat(mat gocv.Mat) (*Frame, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return &Frame{
		Img:        rgba,
		Bounds:     rgba.Bounds(),
		CapturedAt: time.Now(),
	}, nil
}
