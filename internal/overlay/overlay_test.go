package overlay

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMergeMarks(t *testing.T) {
	t.Run("promotion variants merge", func(t *testing.T) {
		marks := []MoveMark{
			{FromRow: 1, FromCol: 0, ToRow: 0, ToCol: 0, Label: "a8q", White: true, Rank: 1},
			{FromRow: 1, FromCol: 0, ToRow: 0, ToCol: 0, Label: "a8n", White: true, Rank: 3},
		}
		got := MergeMarks(marks)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Label != "a8q/a8n" {
			t.Errorf("label = %q, want a8q/a8n", got[0].Label)
		}
		if got[0].Rank != 1 {
			t.Errorf("rank = %d, want 1", got[0].Rank)
		}
	})

	t.Run("exact duplicates collapse", func(t *testing.T) {
		marks := []MoveMark{
			{FromRow: 6, FromCol: 4, ToRow: 4, ToCol: 4, Label: "e4", White: true, Rank: 1},
			{FromRow: 6, FromCol: 4, ToRow: 4, ToCol: 4, Label: "e4", White: true, Rank: 2},
		}
		got := MergeMarks(marks)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Label != "e4" {
			t.Errorf("label = %q, want e4", got[0].Label)
		}
	})

	t.Run("distinct moves preserved in rank order", func(t *testing.T) {
		marks := []MoveMark{
			{FromRow: 7, FromCol: 6, ToRow: 5, ToCol: 5, Label: "f3", White: true, Rank: 2},
			{FromRow: 6, FromCol: 4, ToRow: 4, ToCol: 4, Label: "e4", White: true, Rank: 1},
		}
		got := MergeMarks(marks)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Label != "e4" || got[1].Label != "f3" {
			t.Errorf("order = %q, %q; want e4, f3", got[0].Label, got[1].Label)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := MergeMarks(nil); got != nil {
			t.Errorf("MergeMarks(nil) = %v, want nil", got)
		}
	})
}

func testRenderer(scale float64) (*Renderer, *ImageSurface) {
	surface := NewImageSurface(image.Rect(0, 0, 600, 600))
	return NewRenderer(surface, scale, 3), surface
}

func TestLayoutCenters(t *testing.T) {
	r, _ := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
	})

	if len(p.lines) != 1 || len(p.circles) != 1 || len(p.labels) != 1 {
		t.Fatalf("placement sizes = %d lines, %d circles, %d labels",
			len(p.lines), len(p.circles), len(p.labels))
	}
	from := p.lines[0].from
	if !almostEqual(from.X, 325) || !almostEqual(from.Y, 425) {
		t.Errorf("from = (%v,%v), want (325,425)", from.X, from.Y)
	}
	to := p.lines[0].to
	if !almostEqual(to.X, 325) || !almostEqual(to.Y, 325) {
		t.Errorf("to = (%v,%v), want (325,325)", to.X, to.Y)
	}
	if p.circles[0].at != from {
		t.Errorf("circle at %v, want %v", p.circles[0].at, from)
	}
	if p.labels[0].at != to {
		t.Errorf("label at %v, want %v", p.labels[0].at, to)
	}
	if p.lines[0].curved {
		t.Error("single line should be straight")
	}
}

func TestLayoutAppliesScale(t *testing.T) {
	r, _ := testRenderer(0.5)
	boardRect := image.Rect(100, 50, 500, 450)

	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
	})

	from := p.lines[0].from
	if !almostEqual(from.X, 162.5) || !almostEqual(from.Y, 212.5) {
		t.Errorf("from = (%v,%v), want (162.5,212.5)", from.X, from.Y)
	}
}

func TestLayoutSpreadsLabelOffOccupiedSquare(t *testing.T) {
	r, _ := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	// The first move's destination is the second move's origin, so the
	// first label shares its square with a circle and gets pushed aside.
	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
		{FromRow: 5, FromCol: 4, ToRow: 3, ToCol: 4, Label: "e6", White: true},
	})

	if len(p.labels) != 2 {
		t.Fatalf("labels = %d, want 2", len(p.labels))
	}

	first := p.labels[0].at
	wantX := 325 + 26*math.Cos(-math.Pi/4)
	wantY := 325 + 30*math.Sin(-math.Pi/4)
	if !almostEqual(first.X, wantX) || !almostEqual(first.Y, wantY) {
		t.Errorf("spread label at (%v,%v), want (%v,%v)", first.X, first.Y, wantX, wantY)
	}

	second := p.labels[1].at
	if !almostEqual(second.X, 325) || !almostEqual(second.Y, 225) {
		t.Errorf("uncrowded label at (%v,%v), want (325,225)", second.X, second.Y)
	}
}

func TestLayoutSpreadsCompetingLabels(t *testing.T) {
	r, _ := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 2, ToRow: 5, ToCol: 4, Label: "e4", White: true},
		{FromRow: 7, FromCol: 6, ToRow: 5, ToCol: 4, Label: "e4x", White: true},
	})

	if len(p.labels) != 2 {
		t.Fatalf("labels = %d, want 2", len(p.labels))
	}
	a, b := p.labels[0].at, p.labels[1].at
	if almostEqual(a.X, b.X) && almostEqual(a.Y, b.Y) {
		t.Error("competing labels were not spread apart")
	}
	dest := pointF{X: 325, Y: 325}
	if a == dest || b == dest {
		t.Error("crowded labels should both leave the square center")
	}
}

func TestLayoutSharedLabelPlacedOnce(t *testing.T) {
	r, _ := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	// Two origins, same destination and text: one label, two lines.
	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 2, ToRow: 5, ToCol: 4, Label: "e4", White: true},
		{FromRow: 7, FromCol: 6, ToRow: 5, ToCol: 4, Label: "e4", White: true},
	})

	if len(p.labels) != 1 {
		t.Fatalf("labels = %d, want 1", len(p.labels))
	}
	if len(p.lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(p.lines))
	}
	if p.lines[0].to != p.lines[1].to {
		t.Error("both lines should aim at the shared label")
	}
}

func TestLayoutCurvesHiddenLine(t *testing.T) {
	r, _ := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	// Both lines run straight up the e file with overlapping spans; the
	// second would disappear under the first.
	p := r.layout(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
		{FromRow: 6, FromCol: 4, ToRow: 4, ToCol: 4, Label: "e5", White: true},
	})

	if len(p.lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(p.lines))
	}
	if p.lines[0].curved {
		t.Error("first line should stay straight")
	}
	if !p.lines[1].curved {
		t.Error("second line should curve around the first")
	}
}

func TestShouldCurve(t *testing.T) {
	base := strokeLine{from: pointF{0, 0}, to: pointF{100, 0}}

	tests := []struct {
		name string
		line strokeLine
		want bool
	}{
		{
			name: "same direction",
			line: strokeLine{from: pointF{0, 2}, to: pointF{100, 2}},
			want: true,
		},
		{
			name: "opposing from another origin",
			line: strokeLine{from: pointF{100, 1}, to: pointF{0, 1}},
			want: true,
		},
		{
			name: "opposing from the same origin",
			line: strokeLine{from: pointF{0, 0}, to: pointF{-100, 0}},
			want: false,
		},
		{
			name: "perpendicular",
			line: strokeLine{from: pointF{50, -50}, to: pointF{50, 50}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldCurve(tt.line, base); got != tt.want {
				t.Errorf("shouldCurve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSegmentDistance(t *testing.T) {
	if d := segmentDistance(pointF{0, 0}, pointF{10, 10}, pointF{0, 10}, pointF{10, 0}); d != 0 {
		t.Errorf("crossing segments distance = %v, want 0", d)
	}
	if d := segmentDistance(pointF{0, 0}, pointF{100, 0}, pointF{0, 10}, pointF{100, 10}); !almostEqual(d, 10) {
		t.Errorf("parallel segments distance = %v, want 10", d)
	}
	if d := segmentDistance(pointF{0, 0}, pointF{50, 0}, pointF{50, 0}, pointF{100, 0}); d != 0 {
		t.Errorf("touching segments distance = %v, want 0", d)
	}
}

func TestRendererDrawsWhiteMark(t *testing.T) {
	r, surface := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	err := r.Render(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	frame := surface.Last()
	if frame == nil {
		t.Fatal("no frame presented")
	}
	if got := frame.RGBAAt(325, 425); got != inkWhite {
		t.Errorf("origin circle pixel = %v, want %v", got, inkWhite)
	}
	if got := frame.RGBAAt(325, 375); got != inkWhite {
		t.Errorf("line core pixel = %v, want %v", got, inkWhite)
	}
	if got := frame.RGBAAt(317, 321); got != inkWhite {
		t.Errorf("label box pixel = %v, want %v", got, inkWhite)
	}
	if got := frame.RGBAAt(10, 10); got != (color.RGBA{}) {
		t.Errorf("background pixel = %v, want transparent", got)
	}
}

func TestRendererDrawsBlackMark(t *testing.T) {
	r, surface := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	err := r.Render(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e5", White: false},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	frame := surface.Last()
	if got := frame.RGBAAt(325, 425); got != inkDark {
		t.Errorf("origin circle pixel = %v, want %v", got, inkDark)
	}
	if got := frame.RGBAAt(325, 375); got != inkDark {
		t.Errorf("line core pixel = %v, want %v", got, inkDark)
	}
	if got := frame.RGBAAt(317, 321); got != inkDark {
		t.Errorf("label box pixel = %v, want %v", got, inkDark)
	}
}

func TestRendererClear(t *testing.T) {
	r, surface := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)

	if err := r.Render(boardRect, []MoveMark{
		{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true},
	}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if surface.Last() == nil {
		t.Fatal("expected a presented frame")
	}

	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if surface.Last() != nil {
		t.Error("surface still holds a frame after Clear")
	}
}

func TestRendererPresentsWholeFrames(t *testing.T) {
	r, surface := testRenderer(1)
	boardRect := image.Rect(100, 50, 500, 450)
	mark := MoveMark{FromRow: 7, FromCol: 4, ToRow: 5, ToCol: 4, Label: "e4", White: true}

	if err := r.Render(boardRect, []MoveMark{mark}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if err := r.Render(boardRect, []MoveMark{mark}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := surface.PresentCount(); got != 2 {
		t.Errorf("presents = %d, want 2", got)
	}
}
