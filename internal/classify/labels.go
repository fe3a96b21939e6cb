// Package classify identifies the piece on each board tile with a small
// convolutional network.
package classify

// Label identifies the content of one board tile, in network output
// order: empty first, then black pieces, then white.
type Label int8

const (
	EmptyTile Label = iota
	BlackPawn
	BlackKnight
	BlackBishop
	BlackRook
	BlackQueen
	BlackKing
	WhitePawn
	WhiteKnight
	WhiteBishop
	WhiteRook
	WhiteQueen
	WhiteKing
)

// NumLabels is the size of the network's output layer.
const NumLabels = 13

var fenChars = [NumLabels]byte{' ', 'p', 'n', 'b', 'r', 'q', 'k', 'P', 'N', 'B', 'R', 'Q', 'K'}

// FENChar returns the FEN piece letter, or ' ' for an empty tile.
func (l Label) FENChar() byte {
	if l < 0 || int(l) >= NumLabels {
		return '?'
	}
	return fenChars[l]
}

// IsEmpty reports whether the tile holds no piece.
func (l Label) IsEmpty() bool { return l == EmptyTile }

// IsWhite reports whether the label is a white piece.
func (l Label) IsWhite() bool { return l >= WhitePawn && l <= WhiteKing }

// IsBlack reports whether the label is a black piece.
func (l Label) IsBlack() bool { return l >= BlackPawn && l <= BlackKing }

func (l Label) String() string {
	if l == EmptyTile {
		return "·"
	}
	return string(l.FENChar())
}

// LabelFromFEN maps a FEN piece letter back to its label.
func LabelFromFEN(c byte) (Label, bool) {
	for i, fc := range fenChars {
		if fc == c {
			return Label(i), true
		}
	}
	return EmptyTile, false
}
