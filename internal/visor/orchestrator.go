// Package visor drives capture, localization, classification, assembly,
// engine analysis and the overlay as one periodic pipeline. The
// orchestrator owns all cross-cycle state and exposes it as an explicit
// state machine.
package visor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	chesslib "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/thyrook/visor/internal/assemble"
	"github.com/thyrook/visor/internal/classify"
	"github.com/thyrook/visor/internal/config"
	"github.com/thyrook/visor/internal/engine"
	"github.com/thyrook/visor/internal/obslog"
	"github.com/thyrook/visor/internal/overlay"
	"github.com/thyrook/visor/internal/storage"
	"github.com/thyrook/visor/internal/vision"
)

// State is the observable mode of the pipeline.
type State int32

const (
	// StateIdle means observation is off and nothing is drawn.
	StateIdle State = iota
	// StateDetecting means frames are scanned for a board.
	StateDetecting
	// StateTracking means a board and its position are being followed.
	StateTracking
	// StateAnalyzing means the engine is working on the current position.
	StateAnalyzing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateTracking:
		return "tracking"
	case StateAnalyzing:
		return "analyzing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FrameSource hands out the newest captured frame without blocking.
type FrameSource interface {
	Latest() (*vision.Frame, error)
}

// Locator finds the board inside a frame.
type Locator interface {
	Locate(*vision.Frame) (*vision.BoardRegion, error)
	SetConfidence(bool)
}

// Classifier reads the piece on every tile of a sliced board.
type Classifier interface {
	ClassifyGrid([][]float64) (*classify.Grid, error)
}

// Assembler turns readings into confirmed positions.
type Assembler interface {
	Assemble(*classify.Grid, time.Time) (*assemble.Position, error)
	Orientation() (assemble.Orientation, bool)
	CurrentFEN() (string, bool)
	Resume(fen string) error
	Reset()
}

// Analyzer runs engine analysis in the background.
type Analyzer interface {
	Analyze(fen string) string
	Cancel()
	ResetGame()
	Updates() <-chan engine.Update
	Fatal() <-chan error
}

// Renderer draws and clears move annotations.
type Renderer interface {
	Render(boardRect image.Rectangle, marks []overlay.MoveMark) error
	Clear() error
}

// Journal records confirmed positions across runs.
type Journal interface {
	Append(storage.Entry) error
	Latest() (storage.Entry, bool, error)
}

// Deps bundles the components the orchestrator drives. Journal may be nil;
// ExtractTiles defaults to vision.ExtractTiles.
type Deps struct {
	Frames     FrameSource
	Locator    Locator
	Classifier Classifier
	Assembler  Assembler
	Analyzer   Analyzer
	Overlay    Renderer
	Journal    Journal

	// ExtractTiles slices a located board into 64 tile vectors.
	ExtractTiles func(*vision.Frame, *vision.BoardRegion) ([][]float64, error)

	// BoardPinned treats the whole frame as the board and skips
	// localization. Set when configuration pins the capture region to
	// the board itself.
	BoardPinned bool
}

// Stats holds pipeline counters.
type Stats struct {
	Cycles             uint64
	PositionsConfirmed uint64
	UpdatesRendered    uint64
	StaleDiscarded     uint64
	GridsRejected      uint64
	State              string
}

// Orchestrator owns the cycle loop. Start, Stop and Toggle are safe from
// any goroutine; everything else in the pipeline runs on the loop's own
// goroutine.
type Orchestrator struct {
	deps Deps
	log  *zap.Logger

	observeInterval time.Duration
	graceCycles     int
	maxResync       int
	playerWhite     bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	state atomic.Int32
	fatal chan error

	// Cycle state. Only the run goroutine touches these.
	screenRect   image.Rectangle
	hasRegion    bool
	pendingID    string
	graceLeft    int
	resyncLeft   int
	lastMarks    []overlay.MoveMark
	lastMarksFEN string

	cycles    atomic.Uint64
	confirmed atomic.Uint64
	rendered  atomic.Uint64
	discarded atomic.Uint64
	rejected  atomic.Uint64
}

// NewOrchestrator wires the pipeline together. The game configuration
// provides the observe cadence, loss tolerances and the annotated side.
func NewOrchestrator(cfg config.GameConfig, deps Deps) (*Orchestrator, error) {
	if deps.Frames == nil || deps.Classifier == nil || deps.Assembler == nil ||
		deps.Analyzer == nil || deps.Overlay == nil {
		return nil, errors.New("missing pipeline component")
	}
	if deps.Locator == nil && !deps.BoardPinned {
		return nil, errors.New("a locator is required unless the board region is pinned")
	}
	if deps.ExtractTiles == nil {
		deps.ExtractTiles = vision.ExtractTiles
	}

	interval := time.Duration(cfg.ObserveIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	grace := cfg.GraceCycles
	if grace < 1 {
		grace = 1
	}
	resync := cfg.MaxResyncRetries
	if resync < 1 {
		resync = 1
	}

	o := &Orchestrator{
		deps:            deps,
		log:             obslog.L().Named("visor"),
		observeInterval: interval,
		graceCycles:     grace,
		maxResync:       resync,
		playerWhite:     !strings.EqualFold(cfg.PlayerColor, "black"),
		fatal:           make(chan error, 1),
	}
	o.state.Store(int32(StateIdle))
	o.graceLeft = grace
	o.resyncLeft = resync
	return o, nil
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Fatal reports an unrecoverable pipeline failure. The channel keeps at
// most one unread error.
func (o *Orchestrator) Fatal() <-chan error { return o.fatal }

// Stats returns pipeline counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Cycles:             o.cycles.Load(),
		PositionsConfirmed: o.confirmed.Load(),
		UpdatesRendered:    o.rendered.Load(),
		StaleDiscarded:     o.discarded.Load(),
		GridsRejected:      o.rejected.Load(),
		State:              o.State().String(),
	}
}

// Start begins observing. Starting while already active is a no-op, never
// a second pipeline.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true

	o.hasRegion = false
	o.pendingID = ""
	o.graceLeft = o.graceCycles
	o.resyncLeft = o.maxResync
	o.lastMarks = nil
	o.lastMarksFEN = ""

	o.warmStart()

	o.wg.Add(1)
	go o.run(ctx)

	o.log.Info("observation started", zap.Duration("interval", o.observeInterval))
	return nil
}

// Stop halts observation. Any in-flight analysis is canceled and the
// overlay is cleared before Stop returns. Stopping while idle is a no-op.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

// Toggle flips between observing and idle. The shipped daemon binds it to
// SIGUSR1.
func (o *Orchestrator) Toggle() error {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	if running {
		return o.Stop()
	}
	return o.Start()
}

// warmStart offers the journal's newest confirmed position to the
// assembler so a restart mid-game recovers the full game state.
func (o *Orchestrator) warmStart() {
	if o.deps.Journal == nil {
		return
	}
	entry, ok, err := o.deps.Journal.Latest()
	if err != nil || !ok {
		return
	}
	if err := o.deps.Assembler.Resume(entry.FEN); err != nil {
		o.log.Warn("journal warm start rejected", zap.Error(err))
		return
	}
	o.log.Info("warm start from journal", zap.String("fen", entry.FEN))
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	o.setState(StateDetecting)
	ticker := time.NewTicker(o.observeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-ticker.C:
			if err := o.cycle(); err != nil {
				o.failRun(err)
				return
			}
		case u := <-o.deps.Analyzer.Updates():
			o.handleUpdate(u)
		case err := <-o.deps.Analyzer.Fatal():
			o.failRun(fmt.Errorf("engine: %w", err))
			return
		}
	}
}

// shutdown tears visible state down on toggle-off.
func (o *Orchestrator) shutdown() {
	o.deps.Analyzer.Cancel()
	if err := o.deps.Overlay.Clear(); err != nil {
		o.log.Warn("overlay clear failed", zap.Error(err))
	}
	o.pendingID = ""
	o.lastMarks = nil
	o.lastMarksFEN = ""
	o.setState(StateIdle)
	o.log.Info("observation stopped")
}

// failRun reports a fatal error and leaves the pipeline idle. A later
// Start begins a fresh run.
func (o *Orchestrator) failRun(err error) {
	o.log.Error("pipeline failed", zap.Error(err))
	o.shutdown()

	o.mu.Lock()
	if o.running {
		o.running = false
		o.cancel()
	}
	o.mu.Unlock()

	select {
	case o.fatal <- err:
	default:
	}
}

// cycle runs one observe pass. Only unrecoverable errors are returned;
// transient conditions feed the state machine instead.
func (o *Orchestrator) cycle() error {
	o.cycles.Add(1)

	frame, err := o.deps.Frames.Latest()
	if err != nil {
		if errors.Is(err, vision.ErrNoFrame) {
			return nil
		}
		return fmt.Errorf("capture: %w", err)
	}

	region, err := o.locate(frame)
	if err != nil {
		o.boardLost(err)
		return nil
	}
	if o.deps.Locator != nil {
		o.deps.Locator.SetConfidence(true)
	}
	o.graceLeft = o.graceCycles

	screenRect := region.Rect.Add(frame.Bounds.Min)
	moved := !o.hasRegion || !screenRect.Eq(o.screenRect)
	o.screenRect = screenRect
	o.hasRegion = true

	tiles, err := o.deps.ExtractTiles(frame, region)
	if err != nil {
		o.unreadable(fmt.Errorf("tile extraction: %w", err))
		return nil
	}

	grid, err := o.deps.Classifier.ClassifyGrid(tiles)
	if err != nil {
		o.unreadable(fmt.Errorf("classification: %w", err))
		return nil
	}

	pos, err := o.deps.Assembler.Assemble(grid, frame.CapturedAt)
	switch {
	case err != nil:
		o.unreadable(err)
	case pos != nil:
		o.resyncLeft = o.maxResync
		o.confirmedPosition(pos)
	default:
		// Same position as before. Keep the overlay glued to the board.
		o.resyncLeft = o.maxResync
		if o.State() == StateDetecting {
			o.setState(StateTracking)
		}
		if moved {
			o.rerender()
		}
	}
	return nil
}

func (o *Orchestrator) locate(frame *vision.Frame) (*vision.BoardRegion, error) {
	if o.deps.BoardPinned {
		return &vision.BoardRegion{Rect: frame.Img.Bounds(), Confidence: 1}, nil
	}
	return o.deps.Locator.Locate(frame)
}

// boardLost counts one cycle without a usable localization. Tracked state
// survives a short occlusion; a sustained loss tears the overlay down and
// returns to detection.
func (o *Orchestrator) boardLost(err error) {
	if o.deps.Locator != nil {
		o.deps.Locator.SetConfidence(false)
	}
	if !errors.Is(err, vision.ErrBoardNotFound) {
		o.log.Warn("localization failed", zap.Error(err))
	}

	if !o.hasRegion {
		return
	}

	o.graceLeft--
	if o.graceLeft > 0 {
		return
	}
	o.log.Info("board lost", zap.Int("grace_cycles", o.graceCycles))
	o.teardownTracking(false)
}

// unreadable burns one retry for a reading that could not be interpreted.
// When the budget is spent the game is abandoned and detection restarts.
func (o *Orchestrator) unreadable(err error) {
	o.rejected.Add(1)
	o.resyncLeft--
	if o.resyncLeft > 0 {
		o.log.Debug("reading rejected",
			zap.Error(err),
			zap.Int("retries_left", o.resyncLeft))
		return
	}
	o.log.Warn("board unreadable", zap.Error(err))
	o.teardownTracking(true)
}

// teardownTracking clears the overlay and drops back to detection. With
// abandonGame the assembler and engine forget the game too; otherwise the
// tracked game is kept so a reappearing board is picked up where it left
// off.
func (o *Orchestrator) teardownTracking(abandonGame bool) {
	if abandonGame {
		o.deps.Assembler.Reset()
		o.deps.Analyzer.ResetGame()
		o.lastMarks = nil
		o.lastMarksFEN = ""
	} else {
		o.deps.Analyzer.Cancel()
	}
	if err := o.deps.Overlay.Clear(); err != nil {
		o.log.Warn("overlay clear failed", zap.Error(err))
	}
	o.pendingID = ""
	o.hasRegion = false
	o.graceLeft = o.graceCycles
	o.resyncLeft = o.maxResync
	o.setState(StateDetecting)
}

func (o *Orchestrator) confirmedPosition(pos *assemble.Position) {
	o.confirmed.Add(1)
	o.setState(StateTracking)

	// Whatever is drawn describes the previous position now.
	if len(o.lastMarks) > 0 || o.pendingID != "" {
		if err := o.deps.Overlay.Clear(); err != nil {
			o.log.Warn("overlay clear failed", zap.Error(err))
		}
	}
	o.lastMarks = nil
	o.lastMarksFEN = ""

	o.journal(pos)

	if pos.FreshStart {
		o.deps.Analyzer.ResetGame()
	} else if !o.isPlayerTurn(pos.Turn) {
		o.deps.Analyzer.Cancel()
	}
	o.pendingID = ""

	if !o.isPlayerTurn(pos.Turn) {
		o.log.Debug("opponent to move, analysis skipped", zap.String("fen", pos.FEN))
		return
	}

	o.pendingID = o.deps.Analyzer.Analyze(pos.FEN)
	o.setState(StateAnalyzing)
	o.log.Info("position submitted",
		zap.String("fen", pos.FEN),
		zap.String("move", pos.MoveSAN),
		zap.Bool("fresh_start", pos.FreshStart),
		zap.String("request_id", o.pendingID))
}

func (o *Orchestrator) journal(pos *assemble.Position) {
	if o.deps.Journal == nil {
		return
	}
	entry := storage.Entry{
		FEN:        pos.FEN,
		MoveUCI:    pos.MoveUCI,
		MoveSAN:    pos.MoveSAN,
		FreshStart: pos.FreshStart,
		Timestamp:  pos.ObservedAt.Unix(),
	}
	if err := o.deps.Journal.Append(entry); err != nil {
		o.log.Warn("journal append failed", zap.Error(err))
	}
}

// handleUpdate renders one finished analysis, unless the position moved on
// while the engine was thinking.
func (o *Orchestrator) handleUpdate(u engine.Update) {
	if u.RequestID == "" || u.RequestID != o.pendingID {
		o.discarded.Add(1)
		o.log.Debug("stale analysis discarded", zap.String("request_id", u.RequestID))
		return
	}
	o.pendingID = ""
	if o.State() == StateAnalyzing {
		o.setState(StateTracking)
	}

	orientation, _ := o.deps.Assembler.Orientation()
	marks := BuildMarks(u.Candidates, orientation, o.playerWhite)
	if len(marks) == 0 {
		o.log.Debug("analysis produced no drawable moves", zap.String("fen", u.FEN))
		return
	}
	o.lastMarks = marks
	o.lastMarksFEN = u.FEN

	if err := o.deps.Overlay.Render(o.screenRect, marks); err != nil {
		o.log.Warn("overlay render failed", zap.Error(err))
		return
	}
	o.rendered.Add(1)
	o.log.Info("analysis rendered",
		zap.String("best", u.BestMove),
		zap.Int("moves", len(marks)),
		zap.Duration("engine_time", u.Elapsed))
}

// rerender repaints the last annotations at the region's current spot,
// provided they still describe the tracked position.
func (o *Orchestrator) rerender() {
	if len(o.lastMarks) == 0 {
		return
	}
	fen, ok := o.deps.Assembler.CurrentFEN()
	if !ok || fen != o.lastMarksFEN {
		return
	}
	if err := o.deps.Overlay.Render(o.screenRect, o.lastMarks); err != nil {
		o.log.Warn("overlay render failed", zap.Error(err))
		return
	}
	o.rendered.Add(1)
}

func (o *Orchestrator) isPlayerTurn(turn chesslib.Color) bool {
	if o.playerWhite {
		return turn == chesslib.White
	}
	return turn == chesslib.Black
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.log.Info("state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
}

// BuildMarks converts engine candidates into overlay move marks for the
// side to move. Moves that do not parse as coordinate notation are
// skipped.
func BuildMarks(cands []engine.Candidate, o assemble.Orientation, white bool) []overlay.MoveMark {
	marks := make([]overlay.MoveMark, 0, len(cands))
	for _, c := range cands {
		from, to, ok := uciSquares(c.Move)
		if !ok {
			continue
		}
		fromRow, fromCol := o.CellOf(from)
		toRow, toCol := o.CellOf(to)
		marks = append(marks, overlay.MoveMark{
			FromRow: fromRow,
			FromCol: fromCol,
			ToRow:   toRow,
			ToCol:   toCol,
			Label:   c.Move[2:],
			White:   white,
			Rank:    c.Rank,
		})
	}
	return overlay.MergeMarks(marks)
}

// uciSquares parses the origin and destination of a move like "e2e4" or
// "a7a8q".
func uciSquares(move string) (from, to chesslib.Square, ok bool) {
	if len(move) < 4 {
		return 0, 0, false
	}
	from, ok = parseSquare(move[0:2])
	if !ok {
		return 0, 0, false
	}
	to, ok = parseSquare(move[2:4])
	return from, to, ok
}

func parseSquare(code string) (chesslib.Square, bool) {
	file := int(code[0] - 'a')
	rank := int(code[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, false
	}
	return chesslib.NewSquare(chesslib.File(file), chesslib.Rank(rank)), true
}
