package assemble

import (
	"fmt"
	"strconv"
	"strings"

	chesslib "github.com/corentings/chess/v2"

	"github.com/thyrook/visor/internal/classify"
)

// Orientation is which color sits at the bottom of the on-screen board.
type Orientation int

const (
	WhiteBottom Orientation = iota
	BlackBottom
)

func (o Orientation) String() string {
	if o == BlackBottom {
		return "black-bottom"
	}
	return "white-bottom"
}

// Flipped returns the opposite orientation.
func (o Orientation) Flipped() Orientation {
	if o == WhiteBottom {
		return BlackBottom
	}
	return WhiteBottom
}

// SquareAt maps an on-screen grid cell (row 0 at the top) to the board
// square it shows under this orientation.
func (o Orientation) SquareAt(row, col int) chesslib.Square {
	if o == WhiteBottom {
		return chesslib.NewSquare(chesslib.File(col), chesslib.Rank(7-row))
	}
	return chesslib.NewSquare(chesslib.File(7-col), chesslib.Rank(row))
}

// CellOf maps a board square to its on-screen grid cell under this
// orientation.
func (o Orientation) CellOf(sq chesslib.Square) (row, col int) {
	file := int(sq.File())
	rank := int(sq.Rank())
	if o == WhiteBottom {
		return 7 - rank, file
	}
	return rank, 7 - file
}

// labelForPiece maps a board piece to the tile label a perfect classifier
// would produce for it.
func labelForPiece(p chesslib.Piece) classify.Label {
	if p == chesslib.NoPiece {
		return classify.EmptyTile
	}

	var l classify.Label
	switch p.Type() {
	case chesslib.Pawn:
		l = classify.BlackPawn
	case chesslib.Knight:
		l = classify.BlackKnight
	case chesslib.Bishop:
		l = classify.BlackBishop
	case chesslib.Rook:
		l = classify.BlackRook
	case chesslib.Queen:
		l = classify.BlackQueen
	case chesslib.King:
		l = classify.BlackKing
	default:
		return classify.EmptyTile
	}
	// White labels sit 6 above their black counterparts.
	if p.Color() == chesslib.White {
		l += 6
	}
	return l
}

// renderGrid projects a position onto the 64-cell screen grid under the
// given orientation.
func renderGrid(pos *chesslib.Position, o Orientation) [64]classify.Label {
	var grid [64]classify.Label
	board := pos.Board()
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			grid[row*8+col] = labelForPiece(board.Piece(o.SquareAt(row, col)))
		}
	}
	return grid
}

var (
	startGridWhiteBottom [64]classify.Label
	startGridBlackBottom [64]classify.Label
)

func init() {
	pos := chesslib.NewGame().Position()
	startGridWhiteBottom = renderGrid(pos, WhiteBottom)
	startGridBlackBottom = renderGrid(pos, BlackBottom)
}

// startingOrientation reports whether the labels show the standard
// starting position and, if so, which side sits at the bottom. The piece
// colors pin the orientation exactly.
func startingOrientation(labels [64]classify.Label) (Orientation, bool) {
	switch labels {
	case startGridWhiteBottom:
		return WhiteBottom, true
	case startGridBlackBottom:
		return BlackBottom, true
	}
	return WhiteBottom, false
}

// placementFEN builds the piece placement field of a FEN from an observed
// grid under an assumed orientation.
func placementFEN(labels [64]classify.Label, o Orientation) string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empties := 0
		for file := 0; file < 8; file++ {
			row, col := o.CellOf(chesslib.NewSquare(chesslib.File(file), chesslib.Rank(rank)))
			label := labels[row*8+col]
			if label.IsEmpty() {
				empties++
				continue
			}
			if empties > 0 {
				sb.WriteString(strconv.Itoa(empties))
				empties = 0
			}
			sb.WriteByte(label.FENChar())
		}
		if empties > 0 {
			sb.WriteString(strconv.Itoa(empties))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// castlingFEN grants a castling right only while both the king and the
// matching rook still stand on their home squares. Positions where a piece
// moved away and back get overstated rights; engines tolerate that.
func castlingFEN(labels [64]classify.Label, o Orientation) string {
	at := func(file chesslib.File, rank chesslib.Rank) classify.Label {
		row, col := o.CellOf(chesslib.NewSquare(file, rank))
		return labels[row*8+col]
	}

	var sb strings.Builder
	if at(chesslib.FileE, chesslib.Rank1) == classify.WhiteKing {
		if at(chesslib.FileH, chesslib.Rank1) == classify.WhiteRook {
			sb.WriteByte('K')
		}
		if at(chesslib.FileA, chesslib.Rank1) == classify.WhiteRook {
			sb.WriteByte('Q')
		}
	}
	if at(chesslib.FileE, chesslib.Rank8) == classify.BlackKing {
		if at(chesslib.FileH, chesslib.Rank8) == classify.BlackRook {
			sb.WriteByte('k')
		}
		if at(chesslib.FileA, chesslib.Rank8) == classify.BlackRook {
			sb.WriteByte('q')
		}
	}

	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// kingsAdjacent reports whether the two kings touch. Adjacency survives
// the 180 degree rotation between orientations, so the labels alone
// decide it.
func kingsAdjacent(labels [64]classify.Label) bool {
	white, black := -1, -1
	for i, l := range labels {
		switch l {
		case classify.WhiteKing:
			white = i
		case classify.BlackKing:
			black = i
		}
	}
	if white < 0 || black < 0 {
		return false
	}
	dr := white/8 - black/8
	dc := white%8 - black%8
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr <= 1 && dc <= 1
}

// gridCountError reports piece-count violations no game can produce,
// independent of orientation. Both possible back rows are row 0 and row 7,
// so the pawn check needs no orientation either.
func gridCountError(labels [64]classify.Label) error {
	var whiteKings, blackKings, whitePawns, blackPawns, white, black int
	for i, l := range labels {
		switch l {
		case classify.WhiteKing:
			whiteKings++
		case classify.BlackKing:
			blackKings++
		case classify.WhitePawn:
			whitePawns++
		case classify.BlackPawn:
			blackPawns++
		}
		if l.IsWhite() {
			white++
		} else if l.IsBlack() {
			black++
		}
		if row := i / 8; (row == 0 || row == 7) && (l == classify.WhitePawn || l == classify.BlackPawn) {
			return fmt.Errorf("pawn on a back row")
		}
	}

	if whiteKings != 1 || blackKings != 1 {
		return fmt.Errorf("%d white kings and %d black kings", whiteKings, blackKings)
	}
	if whitePawns > 8 || blackPawns > 8 {
		return fmt.Errorf("%d white pawns and %d black pawns", whitePawns, blackPawns)
	}
	if white > 16 || black > 16 {
		return fmt.Errorf("%d white pieces and %d black pieces", white, black)
	}
	return nil
}
