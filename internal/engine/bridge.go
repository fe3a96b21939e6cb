package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thyrook/visor/internal/obslog"
)

// Update is one completed analysis, tagged with the request that asked
// for it so consumers can drop results for positions they left behind.
type Update struct {
	RequestID  string
	FEN        string
	BestMove   string
	Candidates []Candidate
	Elapsed    time.Duration
}

// searcher is the slice of Session the bridge depends on.
type searcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	EnsureReady(ctx context.Context) error
	NewGame(ctx context.Context) error
	Close() error
}

type sessionFactory func(ctx context.Context) (searcher, error)

type request struct {
	id  string
	fen string
	ctx context.Context
}

// Bridge owns a single engine session and runs at most one search at a
// time. Submitting a new position cancels the in-flight search; results
// arriving for a superseded request are discarded without delivery. A
// session that dies mid-search is restarted once; a second consecutive
// failure is reported on Fatal and the bridge stops searching.
type Bridge struct {
	log     *zap.Logger
	factory sessionFactory
	limits  Limits

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	currentID    string
	cancelSearch context.CancelFunc
	restartable  bool
	wantNewGame  bool

	session searcher
	pending chan request
	updates chan Update
	fatal   chan error
}

// NewBridge starts the engine and the search worker. A missing or broken
// engine binary fails here, before the visor loop begins.
func NewBridge(ctx context.Context, binaryPath string, opt Options, limits Limits) (*Bridge, error) {
	factory := func(ctx context.Context) (searcher, error) {
		return NewSession(ctx, binaryPath, opt)
	}
	return newBridge(ctx, factory, limits)
}

func newBridge(parent context.Context, factory sessionFactory, limits Limits) (*Bridge, error) {
	ctx, cancel := context.WithCancel(parent)

	session, err := factory(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	b := &Bridge{
		log:         obslog.L().Named("bridge"),
		factory:     factory,
		limits:      limits,
		ctx:         ctx,
		cancel:      cancel,
		restartable: true,
		session:     session,
		pending:     make(chan request, 1),
		updates:     make(chan Update, 1),
		fatal:       make(chan error, 1),
	}

	b.wg.Add(1)
	go b.worker()
	return b, nil
}

// Updates delivers completed analyses. The channel holds one update; an
// unread result is replaced when a newer one lands.
func (b *Bridge) Updates() <-chan Update { return b.updates }

// Fatal reports an unrecoverable engine failure. At most one error is sent.
func (b *Bridge) Fatal() <-chan error { return b.fatal }

// Analyze submits a position and returns its request ID. Any in-flight
// search is canceled; the engine moves on to the new position.
func (b *Bridge) Analyze(fen string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelSearch != nil {
		b.cancelSearch()
	}
	searchCtx, cancel := context.WithCancel(b.ctx)
	b.cancelSearch = cancel

	id := uuid.NewString()
	b.currentID = id

	req := request{id: id, fen: fen, ctx: searchCtx}
	for {
		select {
		case b.pending <- req:
			return id
		default:
			select {
			case <-b.pending:
			default:
			}
		}
	}
}

// Cancel abandons any in-flight search. Its result, if one still arrives,
// is discarded as stale. The engine stays warm for the next Analyze.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSearch != nil {
		b.cancelSearch()
		b.cancelSearch = nil
	}
	b.currentID = ""
}

// ResetGame clears the engine's game state before the next search. Call
// it when tracking moves to a different game. Only the worker goroutine
// talks to the session, so the reset is deferred rather than immediate.
func (b *Bridge) ResetGame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSearch != nil {
		b.cancelSearch()
		b.cancelSearch = nil
	}
	b.currentID = ""
	b.wantNewGame = true
}

// Stop cancels any search and shuts the engine down.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.cancelSearch != nil {
		b.cancelSearch()
		b.cancelSearch = nil
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.pending:
			b.process(req)
		}
	}
}

func (b *Bridge) process(req request) {
	if req.ctx.Err() != nil {
		return
	}

	started := time.Now()
	resp, err := b.runSearch(req)
	if err != nil {
		if req.ctx.Err() != nil || b.ctx.Err() != nil {
			b.log.Debug("search canceled", zap.String("request_id", req.id))
		}
		return
	}

	b.mu.Lock()
	b.restartable = true
	stale := b.currentID != req.id
	b.mu.Unlock()

	if stale {
		b.log.Debug("stale analysis discarded",
			zap.String("request_id", req.id),
			zap.Duration("elapsed", time.Since(started)))
		return
	}

	b.deliver(Update{
		RequestID:  req.id,
		FEN:        req.fen,
		BestMove:   resp.BestMove,
		Candidates: resp.Candidates,
		Elapsed:    time.Since(started),
	})
}

// runSearch executes one search, restarting the session once if the
// engine process failed rather than the request being canceled.
func (b *Bridge) runSearch(req request) (SearchResponse, error) {
	searchReq := SearchRequest{FEN: req.fen, Limits: b.limits}

	b.mu.Lock()
	newGame := b.wantNewGame
	b.wantNewGame = false
	b.mu.Unlock()
	if newGame {
		if err := b.session.NewGame(req.ctx); err != nil {
			b.log.Warn("ucinewgame failed", zap.Error(err))
		}
	}

	err := b.session.EnsureReady(req.ctx)
	if err == nil {
		var resp SearchResponse
		resp, err = b.session.Search(req.ctx, searchReq)
		if err == nil {
			return resp, nil
		}
	}
	if req.ctx.Err() != nil || b.ctx.Err() != nil {
		return SearchResponse{}, err
	}

	b.mu.Lock()
	canRestart := b.restartable
	b.restartable = false
	b.mu.Unlock()

	if !canRestart {
		b.reportFatal(err)
		return SearchResponse{}, err
	}

	b.log.Warn("engine failed, restarting", zap.Error(err))
	_ = b.session.Close()

	fresh, ferr := b.factory(b.ctx)
	if ferr != nil {
		b.reportFatal(ferr)
		return SearchResponse{}, ferr
	}
	b.session = fresh

	resp, rerr := b.session.Search(req.ctx, searchReq)
	if rerr != nil {
		if req.ctx.Err() == nil && b.ctx.Err() == nil {
			b.reportFatal(rerr)
		}
		return SearchResponse{}, rerr
	}
	return resp, nil
}

func (b *Bridge) deliver(u Update) {
	for {
		select {
		case b.updates <- u:
			return
		default:
			select {
			case <-b.updates:
			default:
			}
		}
	}
}

func (b *Bridge) reportFatal(err error) {
	b.log.Error("engine unavailable", zap.Error(err))
	select {
	case b.fatal <- err:
	default:
	}
}
