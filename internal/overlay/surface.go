package overlay

import (
	"image"
	"sync"
)

// Surface is the externally owned screen layer annotations are drawn
// onto. The always-on-top click-through window itself lives outside this
// process; implementations only move pixels. Present replaces the whole
// visible frame at once, so a viewer never sees a partial update.
type Surface interface {
	Bounds() image.Rectangle
	Present(frame *image.RGBA) error
	Clear() error
}

// ImageSurface holds the last presented frame in memory. Debug tools and
// tests use it in place of a real overlay window.
type ImageSurface struct {
	mu       sync.Mutex
	bounds   image.Rectangle
	last     *image.RGBA
	presents int
}

func NewImageSurface(bounds image.Rectangle) *ImageSurface {
	return &ImageSurface{bounds: bounds}
}

func (s *ImageSurface) Bounds() image.Rectangle { return s.bounds }

// Present takes ownership of the frame.
func (s *ImageSurface) Present(frame *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = frame
	s.presents++
	return nil
}

func (s *ImageSurface) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	return nil
}

// Last returns the most recently presented frame, or nil after a clear.
func (s *ImageSurface) Last() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// PresentCount reports how many frames have been presented.
func (s *ImageSurface) PresentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}
