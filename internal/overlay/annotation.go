package overlay

import (
	"sort"
	"strings"
)

// MoveMark is one candidate move expressed in screen-grid cells, row 0 at
// the top edge of the detected board. The label lands on the destination
// square; White is the color of the side making the move.
type MoveMark struct {
	FromRow int
	FromCol int
	ToRow   int
	ToCol   int
	Label   string
	White   bool
	Rank    int
}

// MergeMarks collapses duplicate marks and joins the labels of marks that
// share both endpoints, "e8q/e8n" style. Promotion variants are the usual
// source. Output order follows engine rank.
func MergeMarks(marks []MoveMark) []MoveMark {
	if len(marks) == 0 {
		return nil
	}

	sorted := append([]MoveMark(nil), marks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	type coords struct {
		fromRow, fromCol int
		toRow, toCol     int
		white            bool
	}
	index := make(map[coords]int)

	out := make([]MoveMark, 0, len(sorted))
	for _, m := range sorted {
		k := coords{m.FromRow, m.FromCol, m.ToRow, m.ToCol, m.White}
		if i, ok := index[k]; ok {
			if !containsLabel(out[i].Label, m.Label) {
				out[i].Label += "/" + m.Label
			}
			continue
		}
		index[k] = len(out)
		out = append(out, m)
	}
	return out
}

func containsLabel(joined, label string) bool {
	for _, part := range strings.Split(joined, "/") {
		if part == label {
			return true
		}
	}
	return false
}
