package assemble

import (
	"strings"
	"testing"

	chesslib "github.com/corentings/chess/v2"

	"github.com/thyrook/visor/internal/classify"
)

func TestSquareAt(t *testing.T) {
	tests := []struct {
		name        string
		orientation Orientation
		row, col    int
		want        string
	}{
		{"White bottom top-left", WhiteBottom, 0, 0, "a8"},
		{"White bottom bottom-left", WhiteBottom, 7, 0, "a1"},
		{"White bottom king square", WhiteBottom, 7, 4, "e1"},
		{"White bottom top-right", WhiteBottom, 0, 7, "h8"},
		{"Black bottom top-left", BlackBottom, 0, 0, "h1"},
		{"Black bottom bottom-right", BlackBottom, 7, 7, "a8"},
		{"Black bottom king square", BlackBottom, 0, 3, "e1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sq := tt.orientation.SquareAt(tt.row, tt.col)
			if sq.String() != tt.want {
				t.Errorf("SquareAt(%d,%d) = %s, want %s", tt.row, tt.col, sq, tt.want)
			}
		})
	}
}

func TestCellOfRoundTrip(t *testing.T) {
	for _, o := range []Orientation{WhiteBottom, BlackBottom} {
		for row := 0; row < 8; row++ {
			for col := 0; col < 8; col++ {
				sq := o.SquareAt(row, col)
				gotRow, gotCol := o.CellOf(sq)
				if gotRow != row || gotCol != col {
					t.Errorf("%v: CellOf(SquareAt(%d,%d)) = (%d,%d)", o, row, col, gotRow, gotCol)
				}
			}
		}
	}
}

func TestLabelForPiece(t *testing.T) {
	if got := labelForPiece(chesslib.NoPiece); got != classify.EmptyTile {
		t.Errorf("labelForPiece(NoPiece) = %v", got)
	}

	pos := chesslib.NewGame().Position()
	board := pos.Board()
	e1 := chesslib.NewSquare(chesslib.FileE, chesslib.Rank1)
	if got := labelForPiece(board.Piece(e1)); got != classify.WhiteKing {
		t.Errorf("labelForPiece(e1) = %v, want WhiteKing", got)
	}
	d8 := chesslib.NewSquare(chesslib.FileD, chesslib.Rank8)
	if got := labelForPiece(board.Piece(d8)); got != classify.BlackQueen {
		t.Errorf("labelForPiece(d8) = %v, want BlackQueen", got)
	}
}

func TestRenderGridStartingPosition(t *testing.T) {
	pos := chesslib.NewGame().Position()

	white := renderGrid(pos, WhiteBottom)
	if white[0] != classify.BlackRook {
		t.Errorf("white-bottom top-left = %v, want BlackRook", white[0])
	}
	if white[60] != classify.WhiteKing {
		t.Errorf("white-bottom cell 60 = %v, want WhiteKing", white[60])
	}

	black := renderGrid(pos, BlackBottom)
	if black[0] != classify.WhiteRook {
		t.Errorf("black-bottom top-left = %v, want WhiteRook", black[0])
	}
	// e1 sits at row 0, col 3 when black is at the bottom.
	if black[3] != classify.WhiteKing {
		t.Errorf("black-bottom cell 3 = %v, want WhiteKing", black[3])
	}
}

func TestStartingOrientation(t *testing.T) {
	pos := chesslib.NewGame().Position()

	if o, ok := startingOrientation(renderGrid(pos, WhiteBottom)); !ok || o != WhiteBottom {
		t.Errorf("white-bottom starting grid = (%v, %v)", o, ok)
	}
	if o, ok := startingOrientation(renderGrid(pos, BlackBottom)); !ok || o != BlackBottom {
		t.Errorf("black-bottom starting grid = (%v, %v)", o, ok)
	}

	game := chesslib.NewGame()
	if err := game.PushNotationMove("e2e4", chesslib.UCINotation{}, nil); err != nil {
		t.Fatalf("push move: %v", err)
	}
	if _, ok := startingOrientation(renderGrid(game.Position(), WhiteBottom)); ok {
		t.Error("position after e4 misread as the starting position")
	}
}

func TestPlacementFEN(t *testing.T) {
	pos := chesslib.NewGame().Position()
	const want = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"

	for _, o := range []Orientation{WhiteBottom, BlackBottom} {
		if got := placementFEN(renderGrid(pos, o), o); got != want {
			t.Errorf("%v placementFEN = %q, want %q", o, got, want)
		}
	}
}

func TestPlacementFENRoundTrip(t *testing.T) {
	const fen = "r1bqkbnr/pppp1ppp/2n5/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 4 3"
	option, err := chesslib.FEN(fen)
	if err != nil {
		t.Fatalf("parse fen: %v", err)
	}
	pos := chesslib.NewGame(option).Position()

	want := strings.Fields(fen)[0]
	for _, o := range []Orientation{WhiteBottom, BlackBottom} {
		if got := placementFEN(renderGrid(pos, o), o); got != want {
			t.Errorf("%v placementFEN = %q, want %q", o, got, want)
		}
	}
}

func TestCastlingFEN(t *testing.T) {
	start := chesslib.NewGame().Position()
	if got := castlingFEN(renderGrid(start, WhiteBottom), WhiteBottom); got != "KQkq" {
		t.Errorf("starting castlingFEN = %q, want KQkq", got)
	}

	// White king off its home square loses both white rights.
	option, err := chesslib.FEN("rnbq1bnr/pppppppp/4k3/8/8/4K3/PPPPPPPP/RNBQ1BNR w - - 0 1")
	if err != nil {
		t.Fatalf("parse fen: %v", err)
	}
	pos := chesslib.NewGame(option).Position()
	if got := castlingFEN(renderGrid(pos, WhiteBottom), WhiteBottom); got != "-" {
		t.Errorf("kings-out castlingFEN = %q, want -", got)
	}
}

func TestGridCountError(t *testing.T) {
	startLabels := renderGrid(chesslib.NewGame().Position(), WhiteBottom)

	if err := gridCountError(startLabels); err != nil {
		t.Errorf("starting position rejected: %v", err)
	}

	nine := startLabels
	nine[4*8+4] = classify.WhitePawn
	if err := gridCountError(nine); err == nil {
		t.Error("nine white pawns accepted")
	}

	twoKings := startLabels
	twoKings[4*8+4] = classify.WhiteKing
	if err := gridCountError(twoKings); err == nil {
		t.Error("two white kings accepted")
	}

	noKing := startLabels
	noKing[7*8+4] = classify.EmptyTile
	if err := gridCountError(noKing); err == nil {
		t.Error("missing white king accepted")
	}

	backRowPawn := startLabels
	backRowPawn[3] = classify.WhitePawn
	if err := gridCountError(backRowPawn); err == nil {
		t.Error("pawn on back row accepted")
	}
}

func TestKingsAdjacent(t *testing.T) {
	var labels [64]classify.Label
	labels[3*8+3] = classify.WhiteKing
	labels[3*8+4] = classify.BlackKing
	if !kingsAdjacent(labels) {
		t.Error("side-by-side kings not reported adjacent")
	}

	labels[3*8+4] = classify.EmptyTile
	labels[5*8+5] = classify.BlackKing
	if kingsAdjacent(labels) {
		t.Error("distant kings reported adjacent")
	}
}
