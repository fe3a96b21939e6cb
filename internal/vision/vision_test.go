package vision

import (
	"image"
	"math"
	"reflect"
	"testing"
)

func TestVlinesSimilar(t *testing.T) {
	base := vline{x: 100, top: 50, bottom: 450}

	tests := []struct {
		name  string
		other vline
		want  bool
	}{
		{
			name:  "Identical lines",
			other: vline{x: 100, top: 50, bottom: 450},
			want:  true,
		},
		{
			name:  "Within tolerance",
			other: vline{x: 104, top: 53, bottom: 447},
			want:  true,
		},
		{
			name:  "Exactly at tolerance",
			other: vline{x: 100, top: 56, bottom: 450},
			want:  true,
		},
		{
			name:  "Top endpoint too far",
			other: vline{x: 100, top: 60, bottom: 450},
			want:  false,
		},
		{
			name:  "Bottom endpoint too far",
			other: vline{x: 100, top: 50, bottom: 460},
			want:  false,
		},
		{
			name:  "Horizontally distant",
			other: vline{x: 120, top: 50, bottom: 450},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vlinesSimilar(base, tt.other); got != tt.want {
				t.Errorf("vlinesSimilar(%v, %v) = %v, want %v", base, tt.other, got, tt.want)
			}
		})
	}
}

func TestMergeSimilarLines(t *testing.T) {
	lines := []vline{
		{x: 500, top: 50, bottom: 450},
		{x: 100, top: 50, bottom: 450},
		{x: 102, top: 52, bottom: 448},
	}

	merged := mergeSimilarLines(lines)
	if len(merged) != 2 {
		t.Fatalf("merged %d lines, want 2", len(merged))
	}

	// Output is sorted left to right; the near-duplicates average out.
	if merged[0].x != 101 {
		t.Errorf("merged[0].x = %v, want 101", merged[0].x)
	}
	if merged[0].top != 51 {
		t.Errorf("merged[0].top = %v, want 51", merged[0].top)
	}
	if merged[1].x != 500 {
		t.Errorf("merged[1].x = %v, want 500", merged[1].x)
	}
}

func TestMergeSimilarLinesEmpty(t *testing.T) {
	if merged := mergeSimilarLines(nil); len(merged) != 0 {
		t.Errorf("merged %d lines from empty input", len(merged))
	}
}

func TestFindBoardSquare(t *testing.T) {
	tests := []struct {
		name      string
		lines     []vline
		minSize   int
		wantRect  image.Rectangle
		wantFound bool
	}{
		{
			name: "Matching edge pair",
			lines: []vline{
				{x: 100, top: 50, bottom: 450},
				{x: 250, top: 100, bottom: 300},
				{x: 500, top: 50, bottom: 450},
			},
			minSize:   256,
			wantRect:  image.Rect(100, 50, 500, 450),
			wantFound: true,
		},
		{
			name: "Right edge at wrong distance",
			lines: []vline{
				{x: 100, top: 50, bottom: 450},
				{x: 300, top: 50, bottom: 450},
			},
			minSize:   256,
			wantFound: false,
		},
		{
			name: "Pair below minimum size",
			lines: []vline{
				{x: 100, top: 50, bottom: 150},
				{x: 200, top: 50, bottom: 150},
			},
			minSize:   256,
			wantFound: false,
		},
		{
			name: "Right edge slightly off but within tolerance",
			lines: []vline{
				{x: 100, top: 50, bottom: 450},
				{x: 503, top: 52, bottom: 452},
			},
			minSize:   256,
			wantRect:  image.Rect(100, 50, 503, 450),
			wantFound: true,
		},
		{
			name:      "No lines",
			lines:     nil,
			minSize:   256,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rect, confidence, found := findBoardSquare(tt.lines, tt.minSize)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if !found {
				return
			}
			if rect != tt.wantRect {
				t.Errorf("rect = %v, want %v", rect, tt.wantRect)
			}
			if confidence < 0.98 || confidence > 1.0 {
				t.Errorf("confidence = %v, want near 1 for a square", confidence)
			}
		})
	}
}

func TestBoardRegionGeometry(t *testing.T) {
	region := BoardRegion{Rect: image.Rect(100, 50, 500, 450), Confidence: 1.0}

	w, h := region.TileSpan()
	if w != 50 || h != 50 {
		t.Fatalf("TileSpan = (%v, %v), want (50, 50)", w, h)
	}

	if got := region.TileRect(0, 0); got != image.Rect(100, 50, 150, 100) {
		t.Errorf("TileRect(0,0) = %v", got)
	}
	if got := region.TileRect(7, 7); got != image.Rect(450, 400, 500, 450) {
		t.Errorf("TileRect(7,7) = %v", got)
	}

	x, y := region.TileCenter(0, 0)
	if x != 125 || y != 75 {
		t.Errorf("TileCenter(0,0) = (%v, %v), want (125, 75)", x, y)
	}
	x, y = region.TileCenter(7, 0)
	if x != 125 || y != 425 {
		t.Errorf("TileCenter(7,0) = (%v, %v), want (125, 425)", x, y)
	}
}

func TestDefaultBoundSpace(t *testing.T) {
	space := defaultBoundSpace()
	if len(space) != 25 {
		t.Fatalf("bound space has %d pairs, want 25", len(space))
	}

	// The shuffle is seeded, so every run enumerates identically.
	if !reflect.DeepEqual(space, defaultBoundSpace()) {
		t.Error("bound space order is not deterministic")
	}

	seen := make(map[[2]float64]bool, len(space))
	levels := map[float64]bool{0.1: true, 0.3: true, 0.5: true, 0.7: true, 0.9: true}
	for _, pair := range space {
		if seen[pair] {
			t.Errorf("duplicate bound pair %v", pair)
		}
		seen[pair] = true
		if !levels[pair[0]] || !levels[pair[1]] {
			t.Errorf("bound pair %v outside level set", pair)
		}
	}
}

func TestShiftToFront(t *testing.T) {
	space := [][2]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}}

	shiftToFront(space, 2)
	want := [][2]float64{{3, 3}, {1, 1}, {2, 2}, {4, 4}}
	if !reflect.DeepEqual(space, want) {
		t.Errorf("shiftToFront = %v, want %v", space, want)
	}

	shiftToFront(space, 0)
	if !reflect.DeepEqual(space, want) {
		t.Errorf("shiftToFront(0) moved elements: %v", space)
	}

	shiftToFront(space, 99)
	if !reflect.DeepEqual(space, want) {
		t.Errorf("shiftToFront out of range moved elements: %v", space)
	}
}

func TestLocatorInitialBounds(t *testing.T) {
	l := NewLocator(256, 0.8)

	if l.darkBound != l.boundSpace[0][0] || l.lightBound != l.boundSpace[0][1] {
		t.Errorf("initial bounds (%v, %v) do not match front of search space %v",
			l.darkBound, l.lightBound, l.boundSpace[0])
	}
	if l.optimalLines != math.MaxInt {
		t.Errorf("optimalLines = %d, want sentinel", l.optimalLines)
	}
}

func TestLocatorSetConfidence(t *testing.T) {
	l := NewLocator(256, 0.8)
	l.optimalLines = 42

	// A single rejection is tolerated.
	l.SetConfidence(false)
	if !l.priorFail {
		t.Fatal("first rejection should set priorFail")
	}
	if l.optimalLines != 42 {
		t.Fatal("single rejection should not reset the search")
	}

	// A success clears the strike.
	l.SetConfidence(true)
	if l.priorFail {
		t.Fatal("success should clear priorFail")
	}

	// Two consecutive rejections mid-search discard the remembered best.
	l.SetConfidence(false)
	l.SetConfidence(false)
	if l.optimalLines != math.MaxInt {
		t.Errorf("optimalLines = %d, want sentinel after double rejection", l.optimalLines)
	}
}

func TestLocatorSearchRestart(t *testing.T) {
	l := NewLocator(256, 0.8)
	best := l.boundSpace[5]

	// Exhausted search with a remembered best pair.
	l.boundIndex = len(l.boundSpace)
	l.optimalIndex = 5
	l.optimalLines = 42

	l.SetConfidence(false)
	l.SetConfidence(false)

	if l.boundSpace[0] != best {
		t.Errorf("best pair %v not shifted to front, got %v", best, l.boundSpace[0])
	}
	if l.boundIndex != 0 {
		t.Errorf("boundIndex = %d, want 0 after restart", l.boundIndex)
	}
	if l.darkBound != best[0] || l.lightBound != best[1] {
		t.Errorf("active bounds (%v, %v), want remembered best %v",
			l.darkBound, l.lightBound, best)
	}
	if l.priorFail {
		t.Error("restart should clear priorFail")
	}
}
