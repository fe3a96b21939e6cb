// Package overlay composes move annotations into screen-space frames and
// presents them on an externally owned always-on-top surface.
package overlay

import (
	"image"
	"image/color"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/thyrook/visor/internal/obslog"
)

var (
	inkDark  = color.RGBA{R: 48, G: 48, B: 48, A: 255}
	inkGray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	inkWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Two strokes closer than this are treated as overlapping.
const strokeCollideDistance = 4.0

type strokeLine struct {
	from   pointF
	to     pointF
	white  bool
	curved bool
}

type circleMark struct {
	at    pointF
	white bool
}

type labelMark struct {
	at    pointF
	text  string
	white bool
}

type placement struct {
	lines   []strokeLine
	circles []circleMark
	labels  []labelMark
}

// Renderer turns move marks anchored to a board rectangle into a fresh
// frame per update. Board coordinates arrive in physical capture pixels;
// scale maps them onto the surface's logical coordinate system.
type Renderer struct {
	surface   Surface
	scale     float64
	lineWidth int
	face      font.Face
	log       *zap.Logger
}

func NewRenderer(surface Surface, scale float64, lineWidth int) *Renderer {
	if scale <= 0 {
		scale = 1
	}
	if lineWidth <= 0 {
		lineWidth = 3
	}
	return &Renderer{
		surface:   surface,
		scale:     scale,
		lineWidth: lineWidth,
		face:      basicfont.Face7x13,
		log:       obslog.L().Named("overlay"),
	}
}

// Render composes the marks into a new transparent frame and swaps it in
// whole. Mover-colored strokes ride on a gray halo one pixel wider so
// they stay visible over both light and dark board themes.
func (r *Renderer) Render(boardRect image.Rectangle, marks []MoveMark) error {
	frame := image.NewRGBA(r.surface.Bounds())
	p := r.layout(boardRect, marks)

	halo := float64(r.lineWidth) + 1
	core := float64(r.lineWidth)
	for _, ln := range p.lines {
		r.stroke(frame, ln, halo, inkGray)
	}
	for _, ln := range p.lines {
		r.stroke(frame, ln, core, moverInk(ln.white))
	}
	for _, c := range p.circles {
		drawDisc(frame, c.at, 6, inkGray)
		drawDisc(frame, c.at, 5, moverInk(c.white))
	}
	for _, lb := range p.labels {
		r.drawLabel(frame, lb)
	}

	r.log.Debug("overlay presented",
		zap.Int("marks", len(marks)),
		zap.Int("lines", len(p.lines)),
		zap.Int("labels", len(p.labels)))
	return r.surface.Present(frame)
}

// Clear removes all annotations from the surface.
func (r *Renderer) Clear() error {
	return r.surface.Clear()
}

// layout maps marks onto pixel positions: one circle per origin square,
// one label per distinct (destination, text, color), and a line per mark.
// Labels crowding the same destination are spread on a small ellipse, and
// a line that would be hidden under an earlier one is curved aside.
func (r *Renderer) layout(boardRect image.Rectangle, marks []MoveMark) placement {
	var p placement
	if boardRect.Dx() <= 0 || boardRect.Dy() <= 0 || len(marks) == 0 {
		return p
	}

	tileW := float64(boardRect.Dx()) / 8
	tileH := float64(boardRect.Dy()) / 8
	center := func(row, col int) pointF {
		x := (float64(boardRect.Min.X) + (float64(col)+0.5)*tileW) * r.scale
		y := (float64(boardRect.Min.Y) + (float64(row)+0.5)*tileH) * r.scale
		return pointF{X: x, Y: y}
	}

	type cell [2]int
	type labelKey struct {
		at    cell
		text  string
		white bool
	}

	fromCells := make(map[cell]bool)
	overlaps := make(map[cell]int)
	seen := make(map[labelKey]bool)
	for _, m := range marks {
		k := labelKey{cell{m.ToRow, m.ToCol}, m.Label, m.White}
		if !seen[k] {
			seen[k] = true
			overlaps[k.at]++
		}
		fc := cell{m.FromRow, m.FromCol}
		if !fromCells[fc] {
			fromCells[fc] = true
			p.circles = append(p.circles, circleMark{center(fc[0], fc[1]), m.White})
		}
	}

	angleIndex := make(map[cell]int)
	positioned := make(map[labelKey]pointF)
	for _, m := range marks {
		from := center(m.FromRow, m.FromCol)
		dest := cell{m.ToRow, m.ToCol}
		k := labelKey{dest, m.Label, m.White}

		to, ok := positioned[k]
		if !ok {
			to = center(dest[0], dest[1])
			n := overlaps[dest]
			if fromCells[dest] {
				n++
			}
			if n > 1 {
				i := angleIndex[dest]
				angleIndex[dest]++
				angle := -math.Pi/4 - 2*math.Pi*float64(i)/float64(n)
				to.X += 26 * math.Cos(angle)
				to.Y += 30 * math.Sin(angle)
			}
			positioned[k] = to
			p.labels = append(p.labels, labelMark{to, m.Label, m.White})
		}

		line := strokeLine{from: from, to: to, white: m.White}
		for _, prev := range p.lines {
			if prev.curved {
				continue
			}
			if linesCollide(line, prev) && shouldCurve(line, prev) {
				line.curved = true
				break
			}
		}
		p.lines = append(p.lines, line)
	}
	return p
}

func (r *Renderer) stroke(img *image.RGBA, ln strokeLine, width float64, clr color.RGBA) {
	if ln.curved {
		strokeCurved(img, ln.from, ln.to, width, clr)
		return
	}
	strokeStraight(img, ln.from, ln.to, width, clr)
}

func (r *Renderer) drawLabel(frame *image.RGBA, lb labelMark) {
	d := &font.Drawer{Dst: frame, Face: r.face}
	textW := d.MeasureString(lb.text).Round()
	metrics := r.face.Metrics()
	textH := metrics.Height.Ceil()

	boxW := textW + 6
	boxH := textH + 2
	x0 := int(math.Round(lb.at.X - float64(boxW)/2))
	y0 := int(math.Round(lb.at.Y - float64(boxH)/2))
	box := image.Rect(x0, y0, x0+boxW, y0+boxH)

	boxFill, textInk := inkWhite, inkDark
	if !lb.white {
		boxFill, textInk = inkDark, inkWhite
	}

	fillRect(frame, box, boxFill)
	strokeRect(frame, box, inkGray)

	baseline := box.Min.Y + (box.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	d.Src = image.NewUniform(textInk)
	d.Dot = fixed.P(int(math.Round(lb.at.X))-textW/2, baseline)
	d.DrawString(lb.text)
}

func moverInk(white bool) color.RGBA {
	if white {
		return inkWhite
	}
	return inkDark
}

// lineAngle is the segment direction in degrees, y axis flipped to the
// usual mathematical orientation, normalized to [0,360).
func lineAngle(l strokeLine) float64 {
	deg := math.Atan2(-(l.to.Y - l.from.Y), l.to.X-l.from.X) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// shouldCurve reports whether this line runs the same way as a previous
// one, or straight back at it from a different origin. Drawn straight it
// would hide under the earlier stroke.
func shouldCurve(line, prev strokeLine) bool {
	rel := math.Mod(lineAngle(prev)-lineAngle(line)+360, 360)
	if rel < 3 || rel > 357 {
		return true
	}
	return math.Abs(180-rel) < 3 && line.from != prev.from
}

func linesCollide(a, b strokeLine) bool {
	return segmentDistance(a.from, a.to, b.from, b.to) < strokeCollideDistance
}

func segmentDistance(a0, a1, b0, b1 pointF) float64 {
	if segmentsIntersect(a0, a1, b0, b1) {
		return 0
	}
	d := pointSegmentDistance(a0, b0, b1)
	if v := pointSegmentDistance(a1, b0, b1); v < d {
		d = v
	}
	if v := pointSegmentDistance(b0, a0, a1); v < d {
		d = v
	}
	if v := pointSegmentDistance(b1, a0, a1); v < d {
		d = v
	}
	return d
}

func segmentsIntersect(a0, a1, b0, b1 pointF) bool {
	d1 := crossAt(b0, b1, a0)
	d2 := crossAt(b0, b1, a1)
	d3 := crossAt(a0, a1, b0)
	d4 := crossAt(a0, a1, b1)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(b0, b1, a0)) ||
		(d2 == 0 && onSegment(b0, b1, a1)) ||
		(d3 == 0 && onSegment(a0, a1, b0)) ||
		(d4 == 0 && onSegment(a0, a1, b1))
}

func crossAt(o, a, b pointF) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(s0, s1, p pointF) bool {
	return math.Min(s0.X, s1.X) <= p.X && p.X <= math.Max(s0.X, s1.X) &&
		math.Min(s0.Y, s1.Y) <= p.Y && p.Y <= math.Max(s0.Y, s1.Y)
}

func pointSegmentDistance(p, s0, s1 pointF) float64 {
	dx := s1.X - s0.X
	dy := s1.Y - s0.Y
	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return math.Hypot(p.X-s0.X, p.Y-s0.Y)
	}
	t := ((p.X-s0.X)*dx + (p.Y-s0.Y)*dy) / lengthSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p.X-(s0.X+t*dx), p.Y-(s0.Y+t*dy))
}

// curveControl places the control point 24px to the side of the
// segment's second half, bowing the curve away from the straight path.
func curveControl(from, to pointF) pointF {
	mid := pointF{X: (from.X + to.X) / 2, Y: (from.Y + to.Y) / 2}
	dx := to.X - mid.X
	dy := to.Y - mid.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return mid
	}
	return pointF{X: mid.X + 24*dy/length, Y: mid.Y - 24*dx/length}
}

func quadBezierPoint(from, ctrl, to pointF, t float64) pointF {
	u := 1 - t
	return pointF{
		X: u*u*from.X + 2*u*t*ctrl.X + t*t*to.X,
		Y: u*u*from.Y + 2*u*t*ctrl.Y + t*t*to.Y,
	}
}

func strokeCurved(img *image.RGBA, from, to pointF, width float64, clr color.RGBA) {
	ctrl := curveControl(from, to)
	const steps = 24
	prev := from
	for i := 1; i <= steps; i++ {
		next := quadBezierPoint(from, ctrl, to, float64(i)/steps)
		strokeStraight(img, prev, next, width, clr)
		if i < steps {
			drawDisc(img, next, width/2, clr)
		}
		prev = next
	}
}

func strokeStraight(img *image.RGBA, from, to pointF, width float64, clr color.RGBA) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		drawDisc(img, from, width/2, clr)
		return
	}
	px := -dy / length * width / 2
	py := dx / length * width / 2
	fillQuad(img,
		pointF{X: from.X - px, Y: from.Y - py},
		pointF{X: from.X + px, Y: from.Y + py},
		pointF{X: to.X + px, Y: to.Y + py},
		pointF{X: to.X - px, Y: to.Y - py},
		clr)
}

func drawDisc(img *image.RGBA, center pointF, radius float64, clr color.RGBA) {
	minX := int(math.Floor(center.X - radius))
	maxX := int(math.Ceil(center.X + radius))
	minY := int(math.Floor(center.Y - radius))
	maxY := int(math.Ceil(center.Y + radius))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			fx := float64(x) + 0.5 - center.X
			fy := float64(y) + 0.5 - center.Y
			if fx*fx+fy*fy <= radius*radius {
				setPixel(img, x, y, clr)
			}
		}
	}
}

func fillQuad(img *image.RGBA, p0, p1, p2, p3 pointF, clr color.RGBA) {
	fillTriangle(img, p0, p1, p2, clr)
	fillTriangle(img, p0, p2, p3, clr)
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.RGBA) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if pointInTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				setPixel(img, x, y, clr)
			}
		}
	}
}

func pointInTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	gamma := 1 - alpha - beta
	return alpha >= 0 && beta >= 0 && gamma >= 0
}

func fillRect(img *image.RGBA, rect image.Rectangle, clr color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, clr)
		}
	}
}

func strokeRect(img *image.RGBA, rect image.Rectangle, clr color.RGBA) {
	for x := rect.Min.X; x < rect.Max.X; x++ {
		setPixel(img, x, rect.Min.Y, clr)
		setPixel(img, x, rect.Max.Y-1, clr)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		setPixel(img, rect.Min.X, y, clr)
		setPixel(img, rect.Max.X-1, y, clr)
	}
}

func setPixel(img *image.RGBA, x, y int, clr color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, clr)
	}
}

type pointF struct {
	X float64
	Y float64
}
