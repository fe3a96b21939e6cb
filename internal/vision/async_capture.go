package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoFrame reports that the background capturer has not produced a frame
// yet. Transient; retry on the next cycle.
var ErrNoFrame = errors.New("no frame available yet")

// Capture failures only count as unavailable once they persist; a single
// glitch (e.g. during display reconfiguration) is absorbed.
const maxConsecutiveCaptureErrors = 3

// AsyncCapturer runs screen capture on its own cadence so a slow pipeline
// cycle never waits on the display server. The newest frame wins; older
// frames are dropped rather than queued.
type AsyncCapturer struct {
	capturer *Capturer
	interval time.Duration

	mu      sync.RWMutex
	latest  *Frame
	lastErr error

	ready   atomic.Bool
	running atomic.Bool

	captureCount   atomic.Uint64
	captureErrors  atomic.Uint64
	consecErrors   atomic.Int64
	lastCaptureMs  atomic.Int64
	totalCaptureUs atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CaptureStats holds capture performance counters.
type CaptureStats struct {
	TotalCaptures uint64
	TotalErrors   uint64
	LastCaptureMs int64
	AvgCaptureMs  float64
	IsRunning     bool
	FrameReady    bool
	Interval      time.Duration
}

// NewAsyncCapturer wraps a Capturer with a background capture loop running
// at the given interval.
func NewAsyncCapturer(capturer *Capturer, interval time.Duration) *AsyncCapturer {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncCapturer{
		capturer: capturer,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins asynchronous capture in the background.
func (ac *AsyncCapturer) Start() error {
	if ac.running.Load() {
		return fmt.Errorf("async capturer already running")
	}

	ac.running.Store(true)
	ac.wg.Add(1)
	go ac.captureLoop()

	return nil
}

// Stop stops the background capture loop.
func (ac *AsyncCapturer) Stop() error {
	if !ac.running.Load() {
		return nil
	}

	ac.running.Store(false)
	ac.cancel()

	done := make(chan struct{})
	go func() {
		ac.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		// Give up waiting; the goroutine exits with the context.
	}

	ac.capturer.Close()
	return nil
}

func (ac *AsyncCapturer) captureLoop() {
	defer ac.wg.Done()

	ticker := time.NewTicker(ac.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ac.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			frame, err := ac.capturer.CaptureFrame()
			duration := time.Since(start)

			if err != nil {
				ac.captureErrors.Add(1)
				ac.consecErrors.Add(1)
				ac.mu.Lock()
				ac.lastErr = err
				ac.mu.Unlock()
				continue
			}

			ac.captureCount.Add(1)
			ac.consecErrors.Store(0)
			ac.lastCaptureMs.Store(duration.Milliseconds())
			ac.totalCaptureUs.Add(uint64(duration.Microseconds()))

			ac.mu.Lock()
			ac.latest = frame
			ac.lastErr = nil
			ac.mu.Unlock()
			ac.ready.Store(true)
		}
	}
}

// Latest returns the most recent frame without blocking. It fails with the
// underlying capture error once failures persist past the tolerance.
func (ac *AsyncCapturer) Latest() (*Frame, error) {
	if ac.consecErrors.Load() >= maxConsecutiveCaptureErrors {
		ac.mu.RLock()
		err := ac.lastErr
		ac.mu.RUnlock()
		if err != nil {
			return nil, err
		}
	}

	if !ac.ready.Load() {
		return nil, ErrNoFrame
	}

	ac.mu.RLock()
	frame := ac.latest
	ac.mu.RUnlock()
	return frame, nil
}

// WaitForReady blocks until the first frame is captured.
func (ac *AsyncCapturer) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if ac.ready.Load() {
			return nil
		}
		if _, err := ac.Latest(); err != nil && !errors.Is(err, ErrNoFrame) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for first frame")
}

// IsReady returns true if at least one frame has been captured.
func (ac *AsyncCapturer) IsReady() bool {
	return ac.ready.Load()
}

// Stats returns capture performance statistics.
func (ac *AsyncCapturer) Stats() CaptureStats {
	count := ac.captureCount.Load()
	totalUs := ac.totalCaptureUs.Load()

	var avgMs float64
	if count > 0 {
		avgMs = float64(totalUs) / float64(count) / 1000.0
	}

	return CaptureStats{
		TotalCaptures: count,
		TotalErrors:   ac.captureErrors.Load(),
		LastCaptureMs: ac.lastCaptureMs.Load(),
		AvgCaptureMs:  avgMs,
		IsRunning:     ac.running.Load(),
		FrameReady:    ac.ready.Load(),
		Interval:      ac.interval,
	}
}
