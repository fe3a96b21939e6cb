// Package config defines the visor settings file. A single YAML document
// covers every stage of the pipeline; components receive their own section.
package config

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root of the settings file.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Capture    CaptureConfig    `yaml:"capture"`
	Locator    LocatorConfig    `yaml:"locator"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Engine     EngineConfig     `yaml:"engine"`
	Overlay    OverlayConfig    `yaml:"overlay"`
	Game       GameConfig       `yaml:"game"`
	Journal    JournalConfig    `yaml:"journal"`
}

// LoggingConfig controls the global zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CaptureConfig selects the observed display and region.
type CaptureConfig struct {
	Display int `yaml:"display"`
	// Region pins the monitored rectangle. When nil the whole display is
	// captured and the locator finds the board inside it.
	Region     *Region `yaml:"region,omitempty"`
	IntervalMS int     `yaml:"interval_ms"`
}

// Region is a screen rectangle in pixels.
type Region struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ToRectangle converts a Region to an image.Rectangle.
func (r Region) ToRectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// LocatorConfig tunes board localization.
type LocatorConfig struct {
	MinBoardSize  int     `yaml:"min_board_size"`
	ConfidenceMin float64 `yaml:"confidence_min"`
	DiffThreshold float64 `yaml:"diff_threshold"`
}

// ClassifierConfig points at the trained tile model.
type ClassifierConfig struct {
	Checkpoint    string  `yaml:"checkpoint"`
	ConfidenceMin float64 `yaml:"confidence_min"`
	Workers       int     `yaml:"workers"`
}

// EngineConfig describes the UCI engine subprocess.
type EngineConfig struct {
	Path       string `yaml:"path"`
	Threads    int    `yaml:"threads"`
	HashMB     int    `yaml:"hash_mb"`
	MultiPV    int    `yaml:"multipv"`
	Depth      int    `yaml:"depth"`
	MoveTimeMS int    `yaml:"movetime_ms"`
}

// OverlayConfig controls annotation drawing.
type OverlayConfig struct {
	Scale     float64 `yaml:"scale"` // device pixel ratio of the overlay surface
	LineWidth int     `yaml:"line_width"`
}

// GameConfig holds cycle pacing and assembly policy.
type GameConfig struct {
	PlayerColor       string `yaml:"player_color"` // "white" or "black"
	ObserveIntervalMS int    `yaml:"observe_interval_ms"`
	GraceCycles       int    `yaml:"grace_cycles"`
	MaxResyncRetries  int    `yaml:"max_resync_retries"`
	MaxUncertainTiles int    `yaml:"max_uncertain_tiles"`
	HistoryLimit      int    `yaml:"history_limit"`
}

// JournalConfig controls the confirmed-position journal.
type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Capture: CaptureConfig{
			Display:    0,
			IntervalMS: 250,
		},
		Locator: LocatorConfig{
			MinBoardSize:  256,
			ConfidenceMin: 0.8,
			DiffThreshold: 2.0,
		},
		Classifier: ClassifierConfig{
			Checkpoint:    "data/tile_model.bin",
			ConfidenceMin: 0.75,
			Workers:       4,
		},
		Engine: EngineConfig{
			Path:       "stockfish",
			Threads:    2,
			HashMB:     128,
			MultiPV:    1,
			Depth:      18,
			MoveTimeMS: 2000,
		},
		Overlay: OverlayConfig{
			Scale:     1.0,
			LineWidth: 3,
		},
		Game: GameConfig{
			PlayerColor:       "white",
			ObserveIntervalMS: 500,
			GraceCycles:       4,
			MaxResyncRetries:  6,
			MaxUncertainTiles: 0,
			HistoryLimit:      16,
		},
		Journal: JournalConfig{
			Path:       "data/positions.db",
			MaxEntries: 512,
		},
	}
}

// Load reads, parses and validates a settings file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the configuration at path, falling back to the
// defaults when the file does not exist or cannot be parsed.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// EnsureDirectories creates the parent directories of every configured
// file path so later opens do not fail on a fresh machine.
func (c *Config) EnsureDirectories() error {
	paths := []string{
		c.Logging.File,
		c.Classifier.Checkpoint,
		c.Journal.Path,
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks configuration ranges.
func (c *Config) Validate() error {
	if c.Capture.Display < 0 {
		return fmt.Errorf("invalid display index: %d", c.Capture.Display)
	}

	if c.Capture.Region != nil {
		if c.Capture.Region.Width <= 0 || c.Capture.Region.Height <= 0 {
			return fmt.Errorf("invalid capture region dimensions")
		}
	}

	if c.Capture.IntervalMS < 16 || c.Capture.IntervalMS > 10000 {
		return fmt.Errorf("invalid capture interval: %dms (must be 16-10000)", c.Capture.IntervalMS)
	}

	if c.Locator.MinBoardSize < 64 {
		return fmt.Errorf("invalid min board size: %d (must be >= 64)", c.Locator.MinBoardSize)
	}

	if c.Locator.ConfidenceMin < 0 || c.Locator.ConfidenceMin > 1 {
		return fmt.Errorf("invalid locator confidence: %f (must be 0-1)", c.Locator.ConfidenceMin)
	}

	if c.Classifier.ConfidenceMin < 0 || c.Classifier.ConfidenceMin > 1 {
		return fmt.Errorf("invalid classifier confidence: %f (must be 0-1)", c.Classifier.ConfidenceMin)
	}

	if c.Classifier.Workers < 1 || c.Classifier.Workers > 64 {
		return fmt.Errorf("invalid classifier workers: %d (must be 1-64)", c.Classifier.Workers)
	}

	if c.Engine.Path == "" {
		return fmt.Errorf("engine path is required")
	}

	if c.Engine.MultiPV < 1 || c.Engine.MultiPV > 8 {
		return fmt.Errorf("invalid multipv: %d (must be 1-8)", c.Engine.MultiPV)
	}

	if c.Engine.Depth <= 0 && c.Engine.MoveTimeMS <= 0 {
		return fmt.Errorf("engine needs a depth or movetime limit")
	}

	if c.Overlay.Scale <= 0 {
		return fmt.Errorf("invalid overlay scale: %f", c.Overlay.Scale)
	}

	if c.Game.PlayerColor != "white" && c.Game.PlayerColor != "black" {
		return fmt.Errorf("invalid player color: %q (must be white or black)", c.Game.PlayerColor)
	}

	if c.Game.ObserveIntervalMS < 50 || c.Game.ObserveIntervalMS > 10000 {
		return fmt.Errorf("invalid observe interval: %dms (must be 50-10000)", c.Game.ObserveIntervalMS)
	}

	if c.Game.GraceCycles < 0 {
		return fmt.Errorf("invalid grace cycles: %d", c.Game.GraceCycles)
	}

	if c.Game.HistoryLimit < 1 {
		return fmt.Errorf("invalid history limit: %d (must be >= 1)", c.Game.HistoryLimit)
	}

	if c.Journal.MaxEntries < 1 {
		return fmt.Errorf("invalid journal max entries: %d", c.Journal.MaxEntries)
	}

	return nil
}

// String returns a one-screen summary for startup logs.
func (c *Config) String() string {
	region := "auto"
	if c.Capture.Region != nil {
		region = fmt.Sprintf("(%d,%d) %dx%d",
			c.Capture.Region.X, c.Capture.Region.Y,
			c.Capture.Region.Width, c.Capture.Region.Height)
	}
	return fmt.Sprintf(
		"Visor Config:\n"+
			"  Display: %d, Region: %s\n"+
			"  Capture Interval: %dms, Observe Interval: %dms\n"+
			"  Min Board Size: %dpx, Locator Confidence: %.2f\n"+
			"  Classifier: %s (conf %.2f, %d workers)\n"+
			"  Engine: %s (threads %d, hash %dMB, multipv %d)\n"+
			"  Player Color: %s\n",
		c.Capture.Display, region,
		c.Capture.IntervalMS, c.Game.ObserveIntervalMS,
		c.Locator.MinBoardSize, c.Locator.ConfidenceMin,
		c.Classifier.Checkpoint, c.Classifier.ConfidenceMin, c.Classifier.Workers,
		c.Engine.Path, c.Engine.Threads, c.Engine.HashMB, c.Engine.MultiPV,
		c.Game.PlayerColor,
	)
}
