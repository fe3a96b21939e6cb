// detect-board runs the board locator against a screenshot file, a
// recorded video or a single live capture and reports what it finds. A
// tuning aid for the locator settings in config.yaml.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"time"

	"github.com/thyrook/visor/internal/classify"
	"github.com/thyrook/visor/internal/config"
	"github.com/thyrook/visor/internal/obslog"
	"github.com/thyrook/visor/internal/vision"
)

func main() {
	imageFile := flag.String("image", "", "Path to a screenshot to scan instead of the live screen")
	videoFile := flag.String("video", "", "Path to a recorded session to scan frame by frame")
	configFile := flag.String("config", "config.yaml", "Path to the YAML settings file")
	display := flag.Int("display", -1, "Display index override")
	stride := flag.Int("stride", 1, "In video mode, locate every Nth frame")
	outputPath := flag.String("output", "", "Save the cropped board as PNG")
	runClassify := flag.Bool("classify", false, "Run the tile classifier on the located board")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	cfg := config.LoadOrDefault(*configFile)
	if *display >= 0 {
		cfg.Capture.Display = *display
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := obslog.Init(level, ""); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer obslog.Sync()

	if *videoFile != "" {
		scanVideo(cfg, *videoFile, *stride, *verbose)
		return
	}

	source := openSource(cfg, *imageFile)
	defer source.Close()

	frame, err := source.ReadFrame()
	if err != nil {
		log.Fatalf("Failed to acquire frame: %v", err)
	}
	fmt.Printf("Frame: %dx%d at offset %v\n",
		frame.Img.Bounds().Dx(), frame.Img.Bounds().Dy(), frame.Bounds.Min)

	locator := vision.NewLocator(cfg.Locator.MinBoardSize, cfg.Locator.ConfidenceMin)

	start := time.Now()
	region, err := locator.Locate(frame)
	elapsed := time.Since(start)

	if err != nil {
		log.Fatalf("Board detection failed after %v: %v", elapsed.Round(time.Millisecond), err)
	}

	w, h := region.TileSpan()
	fmt.Printf("\n✓ Board located in %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Frame rect:  %v\n", region.Rect)
	fmt.Printf("  Screen rect: %v\n", region.Rect.Add(frame.Bounds.Min))
	fmt.Printf("  Tile span:   %.1f x %.1f px\n", w, h)
	fmt.Printf("  Confidence:  %.2f\n", region.Confidence)

	tiles, err := vision.ExtractTiles(frame, region)
	if err != nil {
		log.Fatalf("Tile extraction failed: %v", err)
	}

	fmt.Println("\nTile brightness map:")
	fmt.Println(vision.VisualizeBoard(tileMeans(tiles), 8))

	if *runClassify {
		classifyTiles(cfg, tiles, *verbose)
	}

	if *outputPath != "" {
		saveCrop(frame, region, *outputPath)
	}
}

// openSource builds a frame source from the flags: a still image when a
// path is given, one live capture otherwise.
func openSource(cfg *config.Config, imageFile string) vision.FrameSource {
	if imageFile != "" {
		fmt.Printf("Scanning image: %s\n", imageFile)
		source, err := vision.NewImageSource(imageFile)
		if err != nil {
			log.Fatalf("Failed to load image: %v", err)
		}
		return source
	}

	fmt.Printf("Capturing display %d\n", cfg.Capture.Display)
	var region *image.Rectangle
	if cfg.Capture.Region != nil {
		r := cfg.Capture.Region.ToRectangle()
		region = &r
	}
	return vision.NewLiveSource(vision.NewCapturer(cfg.Capture.Display, region, cfg.Locator.DiffThreshold))
}

// scanVideo runs the locator across a recording and reports how reliably
// the board was found.
func scanVideo(cfg *config.Config, path string, stride int, verbose bool) {
	if stride < 1 {
		stride = 1
	}

	source, err := vision.NewVideoSource(path)
	if err != nil {
		log.Fatalf("Failed to open video: %v", err)
	}
	defer source.Close()

	fmt.Printf("Video: %s\n", path)
	fmt.Printf("  FPS:    %.2f\n", source.FPS())
	fmt.Printf("  Frames: %d\n", source.FrameCount())

	locator := vision.NewLocator(cfg.Locator.MinBoardSize, cfg.Locator.ConfidenceMin)

	var decoded, scanned, located int
	var confidenceSum float64
	var lastRect image.Rectangle

	start := time.Now()
	for {
		frame, err := source.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("Frame decode failed: %v", err)
		}
		decoded++
		if (decoded-1)%stride != 0 {
			continue
		}
		scanned++

		region, err := locator.Locate(frame)
		if err != nil {
			locator.SetConfidence(false)
			if verbose {
				fmt.Printf("  frame %5d: no board (%v)\n", decoded, err)
			}
			continue
		}
		locator.SetConfidence(true)
		located++
		confidenceSum += region.Confidence
		lastRect = region.Rect
		if verbose {
			fmt.Printf("  frame %5d: %v confidence %.2f\n", decoded, region.Rect, region.Confidence)
		}
	}
	elapsed := time.Since(start)

	fmt.Println("\n=== Replay Statistics ===")
	fmt.Printf("Frames decoded: %d in %v\n", decoded, elapsed.Round(time.Millisecond))
	if elapsed > 0 && scanned > 0 {
		fmt.Printf("Frames scanned: %d (%.1f/s)\n", scanned, float64(scanned)/elapsed.Seconds())
	} else {
		fmt.Printf("Frames scanned: %d\n", scanned)
	}
	fmt.Printf("Board located:  %d/%d\n", located, scanned)
	if located > 0 {
		fmt.Printf("Avg confidence: %.2f\n", confidenceSum/float64(located))
		fmt.Printf("Last rect:      %v\n", lastRect)
	}
}

// tileMeans reduces each tile to its average brightness, giving an 8x8
// map of the located board.
func tileMeans(tiles [][]float64) []float64 {
	means := make([]float64, len(tiles))
	for i, tile := range tiles {
		if len(tile) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range tile {
			sum += v
		}
		means[i] = sum / float64(len(tile))
	}
	return means
}

func classifyTiles(cfg *config.Config, tiles [][]float64, verbose bool) {
	clf, err := classify.NewClassifier(cfg.Classifier.Checkpoint, cfg.Classifier.Workers, cfg.Classifier.ConfidenceMin)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer clf.Close()

	start := time.Now()
	grid, err := clf.ClassifyGrid(tiles)
	if err != nil {
		log.Fatalf("Classification failed: %v", err)
	}
	fmt.Printf("\nClassified %d tiles in %v\n", len(tiles), time.Since(start).Round(time.Millisecond))

	fmt.Println("\nPiece layout (top of screen first):")
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			fmt.Printf("%s ", grid[row*8+col].Label)
		}
		fmt.Println()
	}

	uncertain := 0
	minConf := 1.0
	for _, r := range grid {
		if r.Uncertain {
			uncertain++
		}
		if r.Confidence < minConf {
			minConf = r.Confidence
		}
	}
	fmt.Printf("\nUncertain tiles: %d/64, lowest confidence %.2f\n", uncertain, minConf)

	if verbose {
		fmt.Println("\nPer-tile confidence:")
		for row := 0; row < 8; row++ {
			for col := 0; col < 8; col++ {
				fmt.Printf("%.2f ", grid[row*8+col].Confidence)
			}
			fmt.Println()
		}
	}
}

func saveCrop(frame *vision.Frame, region *vision.BoardRegion, path string) {
	crop := frame.Img.SubImage(region.Rect)

	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, crop); err != nil {
		log.Fatalf("Failed to encode PNG: %v", err)
	}
	fmt.Printf("Saved board crop to %s\n", path)
}
