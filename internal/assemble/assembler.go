// Package assemble turns raw board readings into validated chess
// positions, carrying game continuity from one reading to the next.
package assemble

import (
	"errors"
	"fmt"
	"time"

	chesslib "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/thyrook/visor/internal/classify"
	"github.com/thyrook/visor/internal/obslog"
)

// ErrInvalidGrid reports a reading that cannot be a chess position at all:
// too many uncertain tiles or impossible piece counts.
var ErrInvalidGrid = errors.New("board reading is not a valid position")

// ErrResyncRequired reports a reading that is neither reachable from the
// tracked game nor usable as a standalone position.
var ErrResyncRequired = errors.New("board reading does not match tracked game")

var (
	errNoContinuation = errors.New("no legal move matches the reading")
	errNoStandalone   = errors.New("no legal standalone interpretation")
)

// Confidence carried by a confirmed position. Continuations are backed by
// the move history; fresh starts only by a single reading.
const (
	confContinuation = 1.0
	confFreshStart   = 0.5
)

// Position is one confirmed board state handed on to analysis.
type Position struct {
	FEN         string
	Turn        chesslib.Color
	Orientation Orientation

	// MoveUCI and MoveSAN describe the move that led here from the
	// previous confirmed position. Empty on a fresh start.
	MoveUCI string
	MoveSAN string

	// FreshStart marks a position adopted from the reading alone, with
	// continuity (and move history) abandoned.
	FreshStart bool

	Confidence float64
	ObservedAt time.Time
}

// Assembler validates board readings and maintains the tracked game. It is
// not safe for concurrent use; a single observer loop owns it.
type Assembler struct {
	log *zap.Logger

	maxUncertain int
	historyLimit int

	game        *chesslib.Game
	orientation Orientation
	locked      bool
	vacated     int
	history     []string

	// resume is a continuity hint from a previous run, consulted before a
	// cold standalone read and dropped once any game is adopted.
	resume *chesslib.Game
}

// NewAssembler creates an assembler. maxUncertain is how many
// low-confidence tiles a reading may contain before it is rejected;
// historyLimit bounds the kept FEN history.
func NewAssembler(maxUncertain, historyLimit int) *Assembler {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &Assembler{
		log:          obslog.L().Named("assemble"),
		maxUncertain: maxUncertain,
		historyLimit: historyLimit,
		vacated:      -1,
	}
}

// Tracking reports whether a game is currently being followed.
func (a *Assembler) Tracking() bool { return a.game != nil }

// Orientation returns the current orientation assumption and whether it
// has been pinned by unambiguous evidence.
func (a *Assembler) Orientation() (Orientation, bool) {
	return a.orientation, a.locked
}

// CurrentFEN returns the tracked position, if any.
func (a *Assembler) CurrentFEN() (string, bool) {
	if a.game == nil {
		return "", false
	}
	return a.game.FEN(), true
}

// History returns the confirmed FENs of the tracked game, oldest first.
func (a *Assembler) History() []string {
	out := make([]string, len(a.history))
	copy(out, a.history)
	return out
}

// Reset abandons the tracked game and all assumptions except the
// orientation preference, which persists until contradicted.
func (a *Assembler) Reset() {
	a.game = nil
	a.locked = false
	a.vacated = -1
	a.history = a.history[:0]
}

// Resume offers a previously confirmed position as a continuity hint. When
// a later standalone reading shows the same placement, the hinted game is
// adopted wholesale, restoring the side to move and castling rights a cold
// read would have to guess. The hint survives Reset and is dropped once
// any game is adopted.
func (a *Assembler) Resume(fen string) error {
	option, err := chesslib.FEN(fen)
	if err != nil {
		return fmt.Errorf("resume position: %w", err)
	}
	a.resume = chesslib.NewGame(option)
	return nil
}

// Assemble interprets one board reading. It returns a new confirmed
// position, or (nil, nil) when the reading matches the already-tracked
// position and there is nothing new to report.
//
// When tracking, the reading is first matched against the positions
// reachable by one legal move. A reading that matches nothing reachable is
// retried as a standalone position, which restarts tracking with history
// abandoned. If that fails too, ErrResyncRequired is returned and the
// tracked game is kept for the next attempt.
func (a *Assembler) Assemble(grid *classify.Grid, at time.Time) (*Position, error) {
	if n := grid.UncertainCount(); n > a.maxUncertain {
		return nil, fmt.Errorf("%w: %d uncertain tiles", ErrInvalidGrid, n)
	}
	labels := grid.Labels()

	if a.game != nil {
		expected := renderGrid(a.game.Position(), a.orientation)
		if labels == expected {
			a.vacated = -1
			return nil, nil
		}

		// An exact match of the rotated view is the board being flipped
		// in the UI. All 64 squares agree, which outweighs any standing
		// orientation evidence.
		if flipped := a.orientation.Flipped(); labels == renderGrid(a.game.Position(), flipped) {
			a.orientation = flipped
			a.vacated = -1
			a.log.Info("board view flipped", zap.Stringer("orientation", flipped))
			return nil, nil
		}

		// One square going empty is a piece lifted mid-drag. Hold the
		// tracked position until it lands somewhere.
		if idx, ok := vacatedIndex(expected, labels); ok {
			if a.vacated != idx {
				a.vacated = idx
				a.log.Debug("square vacated, holding position", zap.Int("cell", idx))
			}
			return nil, nil
		}
	}

	if err := gridCountError(labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrid, err)
	}

	if a.game != nil {
		pos, err := a.continueGame(labels, at)
		if err == nil {
			return pos, nil
		}
	}

	pos, err := a.freshStart(labels, at)
	if err == nil {
		return pos, nil
	}

	if a.game != nil {
		return nil, ErrResyncRequired
	}
	return nil, fmt.Errorf("%w: no legal interpretation", ErrInvalidGrid)
}

// vacatedIndex reports whether the reading differs from the expectation by
// exactly one square that is now empty.
func vacatedIndex(expected, labels [64]classify.Label) (int, bool) {
	diff, idx := 0, -1
	for i := range labels {
		if labels[i] != expected[i] {
			diff++
			idx = i
		}
	}
	if diff == 1 && labels[idx].IsEmpty() {
		return idx, true
	}
	return -1, false
}

// continueGame finds the legal move whose resulting position renders
// exactly as the observed grid and applies it to the tracked game.
func (a *Assembler) continueGame(labels [64]classify.Label, at time.Time) (*Position, error) {
	type match struct {
		move        chesslib.Move
		orientation Orientation
	}

	orientations := []Orientation{a.orientation}
	if !a.locked {
		orientations = append(orientations, a.orientation.Flipped())
	}

	var current, flipped []match
	for _, mv := range a.game.ValidMoves() {
		m := mv
		clone := a.game.Clone()
		if err := clone.Move(&m, nil); err != nil {
			continue
		}
		next := clone.Position()
		for _, o := range orientations {
			if renderGrid(next, o) == labels {
				if o == a.orientation {
					current = append(current, match{move: m, orientation: o})
				} else {
					flipped = append(flipped, match{move: m, orientation: o})
				}
			}
		}
	}

	var chosen match
	lock := false
	switch {
	case len(current) == 1 && len(flipped) == 0:
		chosen = current[0]
		lock = true
	case len(current) == 1:
		// Matches both ways; keep the standing orientation and leave it
		// unpinned.
		chosen = current[0]
	case len(current) == 0 && len(flipped) == 1:
		chosen = flipped[0]
		lock = true
	case len(current) == 0 && len(flipped) == 0:
		return nil, errNoContinuation
	default:
		// More than one move renders identically. Should not happen from
		// a single origin position; fall back to a standalone read.
		a.log.Warn("ambiguous continuation",
			zap.Int("current_matches", len(current)),
			zap.Int("flipped_matches", len(flipped)))
		return nil, errNoContinuation
	}

	prev := a.game.Position()
	uci := chesslib.UCINotation{}.Encode(prev, &chosen.move)
	san := chesslib.AlgebraicNotation{}.Encode(prev, &chosen.move)

	if err := a.game.Move(&chosen.move, nil); err != nil {
		return nil, err
	}

	if chosen.orientation != a.orientation {
		a.log.Info("orientation corrected by continuation",
			zap.Stringer("orientation", chosen.orientation))
		a.orientation = chosen.orientation
	}
	if lock && !a.locked {
		a.locked = true
	}
	a.vacated = -1

	fen := a.game.FEN()
	a.pushHistory(fen)
	a.log.Info("move confirmed",
		zap.String("move", san),
		zap.String("uci", uci),
		zap.String("fen", fen))

	return &Position{
		FEN:         fen,
		Turn:        a.game.Position().Turn(),
		Orientation: a.orientation,
		MoveUCI:     uci,
		MoveSAN:     san,
		Confidence:  confContinuation,
		ObservedAt:  at,
	}, nil
}

// freshStart abandons continuity and adopts the reading as a standalone
// position: default castling rights from home squares, no en passant
// target, white to move unless only black works.
func (a *Assembler) freshStart(labels [64]classify.Label, at time.Time) (*Position, error) {
	wasTracking := a.game != nil

	// FEN parsing does not judge board legality, so the placements no
	// game can contain are screened here.
	if kingsAdjacent(labels) {
		return nil, errNoStandalone
	}

	if a.resume != nil {
		resumed := a.resume
		pos := resumed.Position()
		for _, o := range []Orientation{a.orientation, a.orientation.Flipped()} {
			if renderGrid(pos, o) == labels {
				a.adopt(resumed, o, false)
				a.log.Info("resumed journaled game",
					zap.String("fen", resumed.FEN()),
					zap.Stringer("orientation", o),
					zap.Bool("was_tracking", wasTracking))
				return a.freshPosition(at), nil
			}
		}
	}

	if o, ok := startingOrientation(labels); ok {
		a.adopt(chesslib.NewGame(), o, true)
		a.log.Info("starting position detected",
			zap.Stringer("orientation", o),
			zap.Bool("was_tracking", wasTracking))
		return a.freshPosition(at), nil
	}

	orientations := []Orientation{a.orientation}
	if !a.locked {
		orientations = append(orientations, a.orientation.Flipped())
	}

	for _, o := range orientations {
		for _, turn := range []string{"w", "b"} {
			fen := fmt.Sprintf("%s %s %s - 0 1",
				placementFEN(labels, o), turn, castlingFEN(labels, o))
			option, err := chesslib.FEN(fen)
			if err != nil {
				continue
			}
			a.adopt(chesslib.NewGame(option), o, false)
			a.log.Info("tracking from standalone position",
				zap.String("fen", fen),
				zap.Stringer("orientation", o),
				zap.Bool("was_tracking", wasTracking))
			return a.freshPosition(at), nil
		}
	}
	return nil, errNoStandalone
}

func (a *Assembler) adopt(game *chesslib.Game, o Orientation, lock bool) {
	a.game = game
	a.orientation = o
	a.locked = lock
	a.vacated = -1
	a.resume = nil
	a.history = a.history[:0]
	a.pushHistory(game.FEN())
}

func (a *Assembler) freshPosition(at time.Time) *Position {
	return &Position{
		FEN:         a.game.FEN(),
		Turn:        a.game.Position().Turn(),
		Orientation: a.orientation,
		FreshStart:  true,
		Confidence:  confFreshStart,
		ObservedAt:  at,
	}
}

func (a *Assembler) pushHistory(fen string) {
	a.history = append(a.history, fen)
	if len(a.history) > a.historyLimit {
		a.history = a.history[len(a.history)-a.historyLimit:]
	}
}
