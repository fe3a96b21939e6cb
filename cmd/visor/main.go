// The visor daemon watches the screen for a chessboard and annotates it
// with engine analysis. SIGUSR1 toggles observation on and off;
// SIGINT/SIGTERM shut the process down.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/visor/internal/assemble"
	"github.com/thyrook/visor/internal/classify"
	"github.com/thyrook/visor/internal/config"
	"github.com/thyrook/visor/internal/engine"
	"github.com/thyrook/visor/internal/obslog"
	"github.com/thyrook/visor/internal/overlay"
	"github.com/thyrook/visor/internal/storage"
	"github.com/thyrook/visor/internal/vision"
	"github.com/thyrook/visor/internal/visor"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "config.yaml", "path to the YAML settings file")
		verbose    = flag.Bool("verbose", false, "log at debug level")
		paused     = flag.Bool("paused", false, "start idle; send SIGUSR1 to begin observing")
	)
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "prepare directories: %v\n", err)
		return 1
	}
	if err := obslog.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "initialize logging: %v\n", err)
		return 1
	}
	defer obslog.Sync()

	log := obslog.L().Named("main")
	log.Info("visor starting",
		zap.String("version", version),
		zap.String("go_version", runtime.Version()),
		zap.String("config", *configPath))

	var region *image.Rectangle
	if cfg.Capture.Region != nil {
		r := cfg.Capture.Region.ToRectangle()
		region = &r
	}

	capturer := vision.NewCapturer(cfg.Capture.Display, region, cfg.Locator.DiffThreshold)
	screenBounds, err := capturer.CaptureBounds()
	if err != nil {
		log.Error("screen capture unavailable", zap.Error(err))
		return 1
	}

	frames := vision.NewAsyncCapturer(capturer,
		time.Duration(cfg.Capture.IntervalMS)*time.Millisecond)
	if err := frames.Start(); err != nil {
		log.Error("capture loop failed to start", zap.Error(err))
		return 1
	}
	defer frames.Stop()

	classifier, err := classify.NewClassifier(cfg.Classifier.Checkpoint,
		cfg.Classifier.Workers, cfg.Classifier.ConfidenceMin)
	if err != nil {
		log.Error("classifier failed to load", zap.Error(err),
			zap.String("checkpoint", cfg.Classifier.Checkpoint))
		return 1
	}
	defer classifier.Close()

	bridge, err := engine.NewBridge(context.Background(), cfg.Engine.Path,
		engine.Options{
			Threads: cfg.Engine.Threads,
			HashMB:  cfg.Engine.HashMB,
			MultiPV: cfg.Engine.MultiPV,
		},
		engine.Limits{
			Depth:          cfg.Engine.Depth,
			MoveTimeMillis: cfg.Engine.MoveTimeMS,
		})
	if err != nil {
		log.Error("engine failed to start", zap.Error(err),
			zap.String("path", cfg.Engine.Path))
		return 1
	}
	defer bridge.Stop()

	surface := overlay.NewImageSurface(screenBounds)
	renderer := overlay.NewRenderer(surface, cfg.Overlay.Scale, cfg.Overlay.LineWidth)

	assembler := assemble.NewAssembler(cfg.Game.MaxUncertainTiles, cfg.Game.HistoryLimit)

	deps := visor.Deps{
		Frames:      frames,
		Classifier:  classifier,
		Assembler:   assembler,
		Analyzer:    bridge,
		Overlay:     renderer,
		BoardPinned: cfg.Capture.Region != nil,
	}
	if !deps.BoardPinned {
		deps.Locator = vision.NewLocator(cfg.Locator.MinBoardSize, cfg.Locator.ConfidenceMin)
	}

	journal, err := storage.NewJournal(cfg.Journal.Path, cfg.Journal.MaxEntries)
	if err != nil {
		log.Warn("journal unavailable, continuing without it", zap.Error(err))
	} else {
		defer journal.Close()
		deps.Journal = journal
	}

	orch, err := visor.NewOrchestrator(cfg.Game, deps)
	if err != nil {
		log.Error("pipeline wiring failed", zap.Error(err))
		return 1
	}

	if err := frames.WaitForReady(5 * time.Second); err != nil {
		log.Warn("no frame captured yet, observing anyway", zap.Error(err))
	}

	if !*paused {
		if err := orch.Start(); err != nil {
			log.Error("observation failed to start", zap.Error(err))
			return 1
		}
	} else {
		log.Info("starting paused, SIGUSR1 begins observation")
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	code := 0
loop:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				if err := orch.Toggle(); err != nil {
					log.Warn("toggle failed", zap.Error(err))
				}
				log.Info("toggled", zap.Stringer("state", orch.State()))
				continue
			}
			log.Info("shutting down", zap.String("signal", sig.String()))
			break loop
		case err := <-orch.Fatal():
			log.Error("pipeline failed", zap.Error(err))
			code = 1
			break loop
		}
	}

	if err := orch.Stop(); err != nil {
		log.Warn("stop failed", zap.Error(err))
	}

	printFinalStats(orch.Stats(), frames.Stats())
	return code
}

func printFinalStats(vs visor.Stats, cs vision.CaptureStats) {
	fmt.Println("\n=== Final Statistics ===")
	fmt.Printf("Cycles run:           %d\n", vs.Cycles)
	fmt.Printf("Positions confirmed:  %d\n", vs.PositionsConfirmed)
	fmt.Printf("Analyses rendered:    %d\n", vs.UpdatesRendered)
	fmt.Printf("Stale results:        %d\n", vs.StaleDiscarded)
	fmt.Printf("Readings rejected:    %d\n", vs.GridsRejected)
	fmt.Printf("Frames captured:      %d (errors %d, avg %.1fms)\n",
		cs.TotalCaptures, cs.TotalErrors, cs.AvgCaptureMs)
}
