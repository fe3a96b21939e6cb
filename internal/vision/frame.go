package vision

import (
	"errors"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured bitmap of the monitored screen region. Frames are
// immutable once produced and safe to share across goroutines.
type Frame struct {
	Img        *image.RGBA
	Bounds     image.Rectangle // screen coordinates the pixels were read from
	CapturedAt time.Time
}

// Mat converts the frame to a BGRA mat for OpenCV processing. The caller
// owns the returned mat and must Close it.
func (f *Frame) Mat() (gocv.Mat, error) {
	if f == nil || f.Img == nil {
		return gocv.Mat{}, errors.New("empty frame")
	}

	bounds := f.Img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC4)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := f.Img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			r := f.Img.Pix[i]
			g := f.Img.Pix[i+1]
			b := f.Img.Pix[i+2]
			a := f.Img.Pix[i+3]
			mat.SetUCharAt(y, x*4+0, b)
			mat.SetUCharAt(y, x*4+1, g)
			mat.SetUCharAt(y, x*4+2, r)
			mat.SetUCharAt(y, x*4+3, a)
		}
	}

	return mat, nil
}

// GrayMat converts the frame to a single-channel 8-bit grayscale mat.
func (f *Frame) GrayMat() (gocv.Mat, error) {
	mat, err := f.Mat()
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray)
	return gray, nil
}
