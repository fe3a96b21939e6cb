package classify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/thyrook/visor/internal/obslog"
)

// Result is the classification of a single tile.
type Result struct {
	Label      Label
	Confidence float64
	Uncertain  bool
}

// Grid is one full board reading, row-major from the top-left of the
// on-screen board.
type Grid [64]Result

// Labels strips confidences, leaving just the piece layout.
func (g *Grid) Labels() [64]Label {
	var labels [64]Label
	for i, r := range g {
		labels[i] = r.Label
	}
	return labels
}

// UncertainCount returns how many tiles fell below the confidence
// threshold.
func (g *Grid) UncertainCount() int {
	count := 0
	for _, r := range g {
		if r.Uncertain {
			count++
		}
	}
	return count
}

// SameLabels reports whether two readings show the same piece layout.
// Confidence jitter between frames is ignored.
func (g *Grid) SameLabels(other *Grid) bool {
	for i := range g {
		if g[i].Label != other[i].Label {
			return false
		}
	}
	return true
}

// Classifier classifies all 64 tiles of a board reading. Tape machines
// are single-threaded, so each worker owns a private network replica
// loaded from the same checkpoint.
type Classifier struct {
	nets          []*TileNet
	confidenceMin float64
	log           *zap.Logger
}

// NewClassifier loads the checkpoint into the given number of network
// replicas.
func NewClassifier(checkpoint string, workers int, confidenceMin float64) (*Classifier, error) {
	if workers < 1 {
		workers = 1
	}

	c := &Classifier{
		confidenceMin: confidenceMin,
		log:           obslog.L().Named("classify"),
	}
	for i := 0; i < workers; i++ {
		net, err := NewTileNet()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to build network: %w", err)
		}
		if err := net.Load(checkpoint); err != nil {
			net.Close()
			c.Close()
			return nil, fmt.Errorf("failed to load checkpoint %s: %w", checkpoint, err)
		}
		c.nets = append(c.nets, net)
	}

	c.log.Info("classifier ready",
		zap.String("checkpoint", checkpoint),
		zap.Int("workers", len(c.nets)),
		zap.Float64("confidence_min", confidenceMin))
	return c, nil
}

// ClassifyGrid classifies 64 extracted tiles in parallel and returns the
// board reading in the same order.
func (c *Classifier) ClassifyGrid(tiles [][]float64) (*Grid, error) {
	if len(tiles) != 64 {
		return nil, fmt.Errorf("got %d tiles, want 64", len(tiles))
	}

	var grid Grid
	errs := make([]error, len(c.nets))

	var wg sync.WaitGroup
	for w := range c.nets {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			net := c.nets[w]
			for i := w; i < len(tiles); i += len(c.nets) {
				probs, err := net.Predict(tiles[i])
				if err != nil {
					errs[w] = fmt.Errorf("tile %d: %w", i, err)
					return
				}
				grid[i] = resultFromProbs(probs, c.confidenceMin)
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &grid, nil
}

// Close releases all network replicas.
func (c *Classifier) Close() {
	for _, net := range c.nets {
		net.Close()
	}
	c.nets = nil
}

func resultFromProbs(probs []float64, confidenceMin float64) Result {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return Result{
		Label:      Label(best),
		Confidence: probs[best],
		Uncertain:  probs[best] < confidenceMin,
	}
}
