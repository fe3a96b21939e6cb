package classify

import (
	"encoding/gob"
	"fmt"
	"os"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// InputEdge is the tile edge length in pixels the network expects.
const InputEdge = 40

// InputSize is the number of values in one flattened input tile.
const InputSize = InputEdge * InputEdge

// TileNet is the tile classification network: three convolution blocks
// feeding two fully connected layers and a softmax over the 13 labels.
// A TileNet is not safe for concurrent use; the Classifier keeps one
// replica per worker.
type TileNet struct {
	graph *gorgonia.ExprGraph

	conv1W, conv1B *gorgonia.Node
	conv2W, conv2B *gorgonia.Node
	conv3W, conv3B *gorgonia.Node
	fc1W, fc1B     *gorgonia.Node
	fc2W, fc2B     *gorgonia.Node
	outW, outB     *gorgonia.Node

	input  *gorgonia.Node
	output *gorgonia.Node
	vm     gorgonia.VM
}

// NewTileNet builds the inference graph with freshly initialized weights.
// Load a checkpoint before using it for real predictions.
func NewTileNet() (*TileNet, error) {
	g := gorgonia.NewGraph()
	n := &TileNet{graph: g}

	// Input: 1 x 1 x 40 x 40 grayscale tile
	n.input = gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(1, 1, InputEdge, InputEdge), gorgonia.WithName("input"))

	// Conv1: 1 -> 24 channels, 3x3 kernel
	n.conv1W = gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(24, 1, 3, 3), gorgonia.WithName("conv1_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.conv1B = gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(24), gorgonia.WithName("conv1_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	// Conv2: 24 -> 48 channels, 3x3 kernel
	n.conv2W = gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(48, 24, 3, 3), gorgonia.WithName("conv2_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.conv2B = gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(48), gorgonia.WithName("conv2_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	// Conv3: 48 -> 32 channels, 3x3 kernel
	n.conv3W = gorgonia.NewTensor(g, tensor.Float64, 4, gorgonia.WithShape(32, 48, 3, 3), gorgonia.WithName("conv3_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.conv3B = gorgonia.NewTensor(g, tensor.Float64, 1, gorgonia.WithShape(32), gorgonia.WithName("conv3_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	// After two 2x2 pools on 40x40: 32 channels * 10 * 10 spatial
	flatSize := 32 * 10 * 10

	n.fc1W = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(flatSize, 256), gorgonia.WithName("fc1_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.fc1B = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(256), gorgonia.WithName("fc1_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	n.fc2W = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(256, 128), gorgonia.WithName("fc2_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.fc2B = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(128), gorgonia.WithName("fc2_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	n.outW = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(128, NumLabels), gorgonia.WithName("out_w"), gorgonia.WithInit(gorgonia.GlorotU(1.0)))
	n.outB = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(NumLabels), gorgonia.WithName("out_b"), gorgonia.WithInit(gorgonia.Zeroes()))

	// Build forward pass
	// Conv1 + ReLU
	conv1, err := gorgonia.Conv2d(n.input, n.conv1W, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv1 failed: %w", err)
	}
	conv1 = gorgonia.Must(gorgonia.BroadcastAdd(conv1, n.conv1B, nil, []byte{0, 2, 3}))
	conv1 = gorgonia.Must(gorgonia.Rectify(conv1))

	// Conv2 + ReLU + MaxPool
	conv2, err := gorgonia.Conv2d(conv1, n.conv2W, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv2 failed: %w", err)
	}
	conv2 = gorgonia.Must(gorgonia.BroadcastAdd(conv2, n.conv2B, nil, []byte{0, 2, 3}))
	conv2 = gorgonia.Must(gorgonia.Rectify(conv2))
	pool1, err := gorgonia.MaxPool2D(conv2, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, fmt.Errorf("pool1 failed: %w", err)
	}

	// Conv3 + ReLU + MaxPool
	conv3, err := gorgonia.Conv2d(pool1, n.conv3W, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv3 failed: %w", err)
	}
	conv3 = gorgonia.Must(gorgonia.BroadcastAdd(conv3, n.conv3B, nil, []byte{0, 2, 3}))
	conv3 = gorgonia.Must(gorgonia.Rectify(conv3))
	pool2, err := gorgonia.MaxPool2D(conv3, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, fmt.Errorf("pool2 failed: %w", err)
	}

	// Flatten
	flat := gorgonia.Must(gorgonia.Reshape(pool2, tensor.Shape{1, flatSize}))

	// FC1 + ReLU
	fc1 := gorgonia.Must(gorgonia.Mul(flat, n.fc1W))
	fc1 = gorgonia.Must(gorgonia.BroadcastAdd(fc1, n.fc1B, nil, []byte{0}))
	fc1 = gorgonia.Must(gorgonia.Rectify(fc1))

	// FC2 + ReLU
	fc2 := gorgonia.Must(gorgonia.Mul(fc1, n.fc2W))
	fc2 = gorgonia.Must(gorgonia.BroadcastAdd(fc2, n.fc2B, nil, []byte{0}))
	fc2 = gorgonia.Must(gorgonia.Rectify(fc2))

	// Output layer + softmax
	logits := gorgonia.Must(gorgonia.Mul(fc2, n.outW))
	logits = gorgonia.Must(gorgonia.BroadcastAdd(logits, n.outB, nil, []byte{0}))
	n.output = gorgonia.Must(gorgonia.SoftMax(logits))

	n.vm = gorgonia.NewTapeMachine(g)
	return n, nil
}

// Predict runs one tile through the network and returns the probability of
// each label.
func (n *TileNet) Predict(tile []float64) ([]float64, error) {
	if len(tile) != InputSize {
		return nil, fmt.Errorf("tile has %d values, want %d", len(tile), InputSize)
	}

	backing := make([]float64, InputSize)
	copy(backing, tile)
	inputTensor := tensor.New(
		tensor.WithShape(1, 1, InputEdge, InputEdge),
		tensor.WithBacking(backing),
	)

	if err := gorgonia.Let(n.input, inputTensor); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}
	if err := n.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	defer n.vm.Reset()

	raw, ok := n.output.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", n.output.Value().Data())
	}
	probs := make([]float64, NumLabels)
	copy(probs, raw)
	return probs, nil
}

// weightNodes returns all learnable tensors in checkpoint order.
func (n *TileNet) weightNodes() []*gorgonia.Node {
	return []*gorgonia.Node{
		n.conv1W, n.conv1B,
		n.conv2W, n.conv2B,
		n.conv3W, n.conv3B,
		n.fc1W, n.fc1B,
		n.fc2W, n.fc2B,
		n.outW, n.outB,
	}
}

// Save writes all weights to a checkpoint file.
func (n *TileNet) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	for _, w := range n.weightNodes() {
		if err := enc.Encode(w.Shape()); err != nil {
			return fmt.Errorf("failed to encode shape of %s: %w", w.Name(), err)
		}
		data, ok := w.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("unexpected weight type %T for %s", w.Value().Data(), w.Name())
		}
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("failed to encode weights of %s: %w", w.Name(), err)
		}
	}
	return nil
}

// Load restores weights written by Save.
func (n *TileNet) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	for _, w := range n.weightNodes() {
		var shape tensor.Shape
		if err := dec.Decode(&shape); err != nil {
			return fmt.Errorf("failed to decode shape of %s: %w", w.Name(), err)
		}
		if !shape.Eq(w.Shape()) {
			return fmt.Errorf("checkpoint shape %v for %s, want %v", shape, w.Name(), w.Shape())
		}
		var data []float64
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("failed to decode weights of %s: %w", w.Name(), err)
		}
		if len(data) != shape.TotalSize() {
			return fmt.Errorf("checkpoint holds %d values for %s, want %d", len(data), w.Name(), shape.TotalSize())
		}
		t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
		if err := gorgonia.Let(w, t); err != nil {
			return fmt.Errorf("failed to set weights of %s: %w", w.Name(), err)
		}
	}
	return nil
}

// CheckpointExists reports whether a checkpoint file is present on disk.
func CheckpointExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Close releases the tape machine.
func (n *TileNet) Close() error {
	if n.vm != nil {
		return n.vm.Close()
	}
	return nil
}
