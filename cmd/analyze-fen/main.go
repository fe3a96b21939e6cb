// analyze-fen sends one position to the UCI engine and prints its
// candidate lines. A smoke test for the engine settings in config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	chesslib "github.com/corentings/chess/v2"

	"github.com/thyrook/visor/internal/config"
	"github.com/thyrook/visor/internal/engine"
	"github.com/thyrook/visor/internal/obslog"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func main() {
	fenStr := flag.String("fen", startFEN, "Position to analyze, FEN notation")
	movesStr := flag.String("moves", "", "UCI moves to apply after the FEN, space separated")
	configFile := flag.String("config", "config.yaml", "Path to the YAML settings file")
	enginePath := flag.String("engine", "", "Engine binary override")
	depth := flag.Int("depth", 0, "Search depth override")
	moveTime := flag.Int("movetime", 0, "Search time override, milliseconds")
	multiPV := flag.Int("multipv", 0, "Number of candidate lines override")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	cfg := config.LoadOrDefault(*configFile)
	if *enginePath != "" {
		cfg.Engine.Path = *enginePath
	}
	if *depth > 0 {
		cfg.Engine.Depth = *depth
	}
	if *moveTime > 0 {
		cfg.Engine.MoveTimeMS = *moveTime
	}
	if *multiPV > 0 {
		cfg.Engine.MultiPV = *multiPV
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := obslog.Init(level, ""); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer obslog.Sync()

	option, err := chesslib.FEN(*fenStr)
	if err != nil {
		log.Fatalf("Invalid FEN: %v", err)
	}
	game := chesslib.NewGame(option)

	side := "white"
	if game.Position().Turn() == chesslib.Black {
		side = "black"
	}
	fmt.Printf("Position:     %s\n", *fenStr)
	fmt.Printf("Side to move: %s\n", side)
	fmt.Printf("Engine:       %s (depth %d, movetime %dms, multipv %d)\n",
		cfg.Engine.Path, cfg.Engine.Depth, cfg.Engine.MoveTimeMS, cfg.Engine.MultiPV)

	ctx := context.Background()
	session, err := engine.NewSession(ctx, cfg.Engine.Path, engine.Options{
		Threads: cfg.Engine.Threads,
		HashMB:  cfg.Engine.HashMB,
		MultiPV: cfg.Engine.MultiPV,
	})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer session.Close()

	req := engine.SearchRequest{
		FEN: *fenStr,
		Limits: engine.Limits{
			Depth:          cfg.Engine.Depth,
			MoveTimeMillis: cfg.Engine.MoveTimeMS,
		},
	}
	if *movesStr != "" {
		req.Moves = strings.Fields(*movesStr)
	}

	start := time.Now()
	resp, err := session.Search(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		log.Fatalf("Search failed after %v: %v", elapsed.Round(time.Millisecond), err)
	}

	fmt.Printf("\n✓ Analysis completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Best move: %s\n", resp.BestMove)

	fmt.Println("\nCandidate lines:")
	for _, c := range resp.Candidates {
		fmt.Printf("  %d. %-6s %8s  depth %2d  %s\n",
			c.Rank, c.Move, formatScore(c), c.Depth, strings.Join(c.PV, " "))
	}
}

// formatScore renders a score from the side to move's perspective,
// mate distance when one is found, pawns otherwise.
func formatScore(c engine.Candidate) string {
	if c.MateIn != 0 {
		return fmt.Sprintf("#%d", c.MateIn)
	}
	return fmt.Sprintf("%+.2f", float64(c.ScoreCP)/100)
}
