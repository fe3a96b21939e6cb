package vision

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/thyrook/visor/internal/obslog"
)

// ErrBoardNotFound reports that no chessboard was located in the frame.
// Transient; the caller retries on the next cycle.
var ErrBoardNotFound = errors.New("no chessboard found")

const (
	// Endpoint distance below which two detected lines are the same line.
	lineSimilarityTolerance = 6.0

	// Hough transform tuning. Board edges are long uninterrupted lines, so
	// a high vote count with a small gap keeps piece edges out.
	houghVotes  = 80
	houghMaxGap = 8

	// A transform that lights up more lines than this is reading texture,
	// not a board; its bound pair is not worth remembering.
	maxUsefulLines = 128
)

// BoardRegion is the located chessboard in frame coordinates.
type BoardRegion struct {
	Rect       image.Rectangle
	Confidence float64
}

// TileSpan returns the pixel size of one square.
func (r BoardRegion) TileSpan() (w, h float64) {
	return float64(r.Rect.Dx()) / 8, float64(r.Rect.Dy()) / 8
}

// TileRect returns the pixel bounds of the square at the given grid cell,
// row 0 at the top of the on-screen board.
func (r BoardRegion) TileRect(row, col int) image.Rectangle {
	w, h := r.TileSpan()
	left := r.Rect.Min.X + int(w*float64(col))
	top := r.Rect.Min.Y + int(h*float64(row))
	return image.Rect(left, top, left+int(w), top+int(h))
}

// TileCenter returns the pixel center of the square at the given grid cell.
func (r BoardRegion) TileCenter(row, col int) (x, y float64) {
	w, h := r.TileSpan()
	x = float64(r.Rect.Min.X) + w*float64(col) + w/2
	y = float64(r.Rect.Min.Y) + h*float64(row) + h/2
	return x, y
}

// vline is a merged near-vertical line in frame coordinates.
type vline struct {
	x, top, bottom float64
}

func (v vline) height() float64 {
	return v.bottom - v.top
}

func squaredDistance(ax, ay, bx, by float64) float64 {
	dx := bx - ax
	dy := by - ay
	return dx*dx + dy*dy
}

func vlinesSimilar(a, b vline) bool {
	tol2 := lineSimilarityTolerance * lineSimilarityTolerance
	if squaredDistance(a.x, a.top, b.x, b.top) > tol2 {
		return false
	}
	return squaredDistance(a.x, a.bottom, b.x, b.bottom) <= tol2
}

// mergeSimilarLines groups lines whose endpoints nearly coincide and
// replaces each group with its average, sorted left to right.
func mergeSimilarLines(lines []vline) []vline {
	var groups [][]vline

	for _, line := range lines {
		matched := false
		for i, group := range groups {
			for _, member := range group {
				if vlinesSimilar(line, member) {
					groups[i] = append(groups[i], line)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			groups = append(groups, []vline{line})
		}
	}

	merged := make([]vline, len(groups))
	for i, group := range groups {
		var sx, st, sb float64
		for _, member := range group {
			sx += member.x
			st += member.top
			sb += member.bottom
		}
		n := float64(len(group))
		merged[i] = vline{x: sx / n, top: st / n, bottom: sb / n}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].x < merged[j].x })
	return merged
}

// findBoardSquare looks for a pair of equal-length vertical lines exactly
// one line-height apart: the left and right edges of a square board. The
// confidence is the squareness of the resulting rectangle.
func findBoardSquare(merged []vline, minSize int) (image.Rectangle, float64, bool) {
	for i, left := range merged {
		h := left.height()
		if h < float64(minSize) {
			continue
		}

		projected := vline{x: left.x + h, top: left.top, bottom: left.bottom}

		// Scan right to left; candidates left of the projection cannot match.
		for j := len(merged) - 1; j > i; j-- {
			candidate := merged[j]
			if vlinesSimilar(candidate, projected) {
				rect := image.Rect(
					int(math.Round(left.x)),
					int(math.Round(left.top)),
					int(math.Round(candidate.x)),
					int(math.Round(left.bottom)),
				)
				w, hh := float64(rect.Dx()), float64(rect.Dy())
				if w <= 0 || hh <= 0 {
					continue
				}
				confidence := math.Min(w, hh) / math.Max(w, hh)
				return rect, confidence, true
			}
			if candidate.x < projected.x-lineSimilarityTolerance {
				break
			}
		}
	}

	return image.Rectangle{}, 0, false
}

// defaultBoundSpace enumerates (dark, light) contrast bound pairs in a
// deterministic shuffled order so the search revisits them identically
// across runs.
func defaultBoundSpace() [][2]float64 {
	levels := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	space := make([][2]float64, 0, len(levels)*len(levels))
	for _, dark := range levels {
		for _, light := range levels {
			space = append(space, [2]float64{dark, light})
		}
	}

	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(space), func(i, j int) {
		space[i], space[j] = space[j], space[i]
	})
	return space
}

func shiftToFront(space [][2]float64, i int) {
	if i <= 0 || i >= len(space) {
		return
	}
	item := space[i]
	copy(space[1:i+1], space[0:i])
	space[0] = item
}

// Locator finds the chessboard inside captured frames. Board themes vary,
// so it searches a space of contrast bound pairs, remembering the pair
// that produced the cleanest detection and retrying the space when
// downstream stages keep rejecting its output.
type Locator struct {
	minBoardSize  int
	confidenceMin float64
	log           *zap.Logger

	boundSpace   [][2]float64
	boundIndex   int
	darkBound    float64
	lightBound   float64
	optimalIndex int
	optimalLines int
	priorFail    bool
}

// NewLocator creates a locator. minBoardSize is the smallest board edge in
// pixels worth detecting; confidenceMin rejects non-square candidates.
func NewLocator(minBoardSize int, confidenceMin float64) *Locator {
	l := &Locator{
		minBoardSize:  minBoardSize,
		confidenceMin: confidenceMin,
		log:           obslog.L().Named("locator"),
		boundSpace:    defaultBoundSpace(),
	}
	l.setDefaultBounds()
	return l
}

func (l *Locator) setDefaultBounds() {
	l.boundIndex = 0
	l.darkBound = l.boundSpace[0][0]
	l.lightBound = l.boundSpace[0][1]
	l.optimalIndex = 0
	l.optimalLines = math.MaxInt
}

func (l *Locator) resetSearch() {
	if l.boundIndex >= len(l.boundSpace) {
		if l.optimalLines != math.MaxInt {
			shiftToFront(l.boundSpace, l.optimalIndex)
		}
		l.setDefaultBounds()
		l.priorFail = false
	} else {
		l.optimalLines = math.MaxInt
	}
}

// SetConfidence feeds back whether downstream stages accepted the last
// detection. Two consecutive rejections restart the contrast bound search.
func (l *Locator) SetConfidence(confident bool) {
	if confident {
		l.priorFail = false
		return
	}
	if l.priorFail {
		l.resetSearch()
	} else {
		l.priorFail = true
	}
}

// Locate finds the board in the frame using the current contrast bounds,
// and advances the background bound search by one candidate.
func (l *Locator) Locate(frame *Frame) (*BoardRegion, error) {
	grayF, err := grayFloatMat(frame)
	if err != nil {
		return nil, err
	}
	defer grayF.Close()

	lines := l.findVerticalLines(grayF, l.darkBound, l.lightBound)
	rect, confidence, found := findBoardSquare(mergeSimilarLines(lines), l.minBoardSize)

	l.searchBounds(grayF)

	if !found || confidence < l.confidenceMin {
		return nil, ErrBoardNotFound
	}

	return &BoardRegion{Rect: rect, Confidence: confidence}, nil
}

// searchBounds probes the next candidate bound pair against the same frame
// and adopts it when it finds a board with fewer spurious lines than the
// current best.
func (l *Locator) searchBounds(grayF gocv.Mat) {
	if l.boundIndex >= len(l.boundSpace) {
		return
	}

	dark := l.boundSpace[l.boundIndex][0]
	light := l.boundSpace[l.boundIndex][1]

	lines := l.findVerticalLines(grayF, dark, light)
	if len(lines) < maxUsefulLines {
		_, confidence, found := findBoardSquare(mergeSimilarLines(lines), l.minBoardSize)
		if found && confidence >= l.confidenceMin && len(lines) < l.optimalLines {
			l.optimalIndex = l.boundIndex
			l.optimalLines = len(lines)
			l.darkBound = dark
			l.lightBound = light
			l.log.Debug("adopted contrast bounds",
				zap.Float64("dark", dark),
				zap.Float64("light", light),
				zap.Int("lines", len(lines)))
		}
	}

	l.boundIndex++
}

func (l *Locator) findVerticalLines(grayF gocv.Mat, dark, light float64) []vline {
	edges := contrastTransform(grayF, dark, light)
	defer edges.Close()
	return houghVerticalSegments(edges, l.minBoardSize)
}

// grayFloatMat converts a frame to single-channel float32 with values in
// [0, 1].
func grayFloatMat(frame *Frame) (gocv.Mat, error) {
	gray, err := frame.GrayMat()
	if err != nil {
		return gocv.Mat{}, err
	}
	defer gray.Close()

	grayF := gocv.NewMat()
	gray.ConvertTo(&grayF, gocv.MatTypeCV32F)
	grayF.DivideFloat(255.0)
	return grayF, nil
}

// contrastTransform stretches the dark band, subtracts the stretched light
// band and binarizes the edge response. Board grid lines survive the
// subtraction across color themes; most other content cancels out.
func contrastTransform(grayF gocv.Mat, dark, light float64) gocv.Mat {
	darkImg := gocv.NewMat()
	grayF.CopyTo(&darkImg)
	darkImg.SubtractFloat(float32(dark))
	if dark < 1 {
		darkImg.DivideFloat(float32(1 - dark))
	}
	clamp01(&darkImg)

	lightImg := gocv.NewMat()
	grayF.CopyTo(&lightImg)
	if light > 0 {
		lightImg.DivideFloat(float32(light))
	}
	clamp01(&lightImg)

	diff := gocv.NewMat()
	gocv.Subtract(darkImg, lightImg, &diff)
	darkImg.Close()
	lightImg.Close()

	gx := gocv.NewMat()
	gy := gocv.NewMat()
	gocv.Sobel(diff, &gx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(diff, &gy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	diff.Close()

	zeros := gocv.Zeros(gx.Rows(), gx.Cols(), gocv.MatTypeCV32F)
	absX := gocv.NewMat()
	absY := gocv.NewMat()
	gocv.AbsDiff(gx, zeros, &absX)
	gocv.AbsDiff(gy, zeros, &absY)
	gx.Close()
	gy.Close()
	zeros.Close()

	magnitude := gocv.NewMat()
	gocv.Add(absX, absY, &magnitude)
	absX.Close()
	absY.Close()

	_, maxVal, _, _ := gocv.MinMaxLoc(magnitude)
	if maxVal > 0 {
		magnitude.DivideFloat(maxVal)
	}

	binary := gocv.NewMat()
	gocv.Threshold(magnitude, &binary, 0.1, 255, gocv.ThresholdBinary)
	magnitude.Close()

	edges := gocv.NewMat()
	binary.ConvertTo(&edges, gocv.MatTypeCV8U)
	binary.Close()
	return edges
}

// clamp01 clips a float mat to [0, 1] in place.
func clamp01(m *gocv.Mat) {
	clipped := gocv.NewMat()
	gocv.Threshold(*m, &clipped, 0, 0, gocv.ThresholdToZero)

	trimmed := gocv.NewMat()
	gocv.Threshold(clipped, &trimmed, 1, 0, gocv.ThresholdTrunc)
	clipped.Close()

	m.Close()
	*m = trimmed
}

// houghVerticalSegments extracts near-vertical line segments at least
// minLen pixels long from a binary edge image.
func houghVerticalSegments(edges gocv.Mat, minLen int) []vline {
	lines := gocv.NewMat()
	defer lines.Close()

	gocv.HoughLinesPWithParams(edges, &lines,
		1, math.Pi/180, houghVotes, float32(minLen), houghMaxGap)

	segments := make([]vline, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		x0, y0 := float64(v[0]), float64(v[1])
		x1, y1 := float64(v[2]), float64(v[3])

		if math.Abs(x1-x0) > 2 {
			continue
		}

		segments = append(segments, vline{
			x:      (x0 + x1) / 2,
			top:    math.Min(y0, y1),
			bottom: math.Max(y0, y1),
		})
	}
	return segments
}
