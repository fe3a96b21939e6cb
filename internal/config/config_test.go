package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Game.ObserveIntervalMS != 500 {
		t.Errorf("Expected observe interval 500, got %d", cfg.Game.ObserveIntervalMS)
	}

	if cfg.Locator.MinBoardSize != 256 {
		t.Errorf("Expected min board size 256, got %d", cfg.Locator.MinBoardSize)
	}

	if cfg.Classifier.ConfidenceMin != 0.75 {
		t.Errorf("Expected classifier confidence 0.75, got %f", cfg.Classifier.ConfidenceMin)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Valid config should pass
	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config failed validation: %v", err)
	}

	// Test invalid capture interval
	cfg.Capture.IntervalMS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid capture interval")
	}
	cfg.Capture.IntervalMS = 250

	// Test invalid board size
	cfg.Locator.MinBoardSize = 10
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid min board size")
	}
	cfg.Locator.MinBoardSize = 256

	// Test invalid classifier confidence
	cfg.Classifier.ConfidenceMin = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid classifier confidence")
	}
	cfg.Classifier.ConfidenceMin = 0.75

	// Test missing engine path
	cfg.Engine.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing engine path")
	}
	cfg.Engine.Path = "stockfish"

	// Test invalid player color
	cfg.Game.PlayerColor = "green"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid player color")
	}
	cfg.Game.PlayerColor = "white"

	// Test engine with no search limit at all
	cfg.Engine.Depth = 0
	cfg.Engine.MoveTimeMS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for engine without depth or movetime")
	}
}

func TestConfigSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	// Create and save config
	cfg := DefaultConfig()
	cfg.Engine.Path = "/opt/engines/stockfish"
	cfg.Game.PlayerColor = "black"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Check file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	// Load config
	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Engine.Path != "/opt/engines/stockfish" {
		t.Errorf("Expected engine path '/opt/engines/stockfish', got %s", loaded.Engine.Path)
	}

	if loaded.Game.PlayerColor != "black" {
		t.Errorf("Expected player color 'black', got %s", loaded.Game.PlayerColor)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_config.yaml")

	cfg := DefaultConfig()
	cfg.Game.PlayerColor = "purple"
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected validation error loading invalid config")
	}
}

func TestLoadOrDefault(t *testing.T) {
	// Test with non-existent file
	cfg := LoadOrDefault("nonexistent.yaml")
	if cfg == nil {
		t.Fatal("LoadOrDefault returned nil")
	}

	if cfg.Game.ObserveIntervalMS != 500 {
		t.Error("LoadOrDefault did not return default config")
	}

	// Test with existing file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testCfg := DefaultConfig()
	testCfg.Engine.MultiPV = 3
	testCfg.Save(configPath)

	loaded := LoadOrDefault(configPath)
	if loaded.Engine.MultiPV != 3 {
		t.Error("LoadOrDefault did not load existing config")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Logging.File = filepath.Join(tmpDir, "logs", "visor.log")
	cfg.Classifier.Checkpoint = filepath.Join(tmpDir, "models", "tiles.bin")
	cfg.Journal.Path = filepath.Join(tmpDir, "data", "positions.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("Failed to ensure directories: %v", err)
	}

	// Check directories were created
	dirs := []string{
		filepath.Join(tmpDir, "logs"),
		filepath.Join(tmpDir, "models"),
		filepath.Join(tmpDir, "data"),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Directory was not created: %s", dir)
		}
	}
}

func TestRegionToRectangle(t *testing.T) {
	region := Region{X: 100, Y: 50, Width: 800, Height: 600}
	rect := region.ToRectangle()

	if rect.Min.X != 100 || rect.Min.Y != 50 {
		t.Errorf("Unexpected rectangle origin: %v", rect.Min)
	}

	if rect.Dx() != 800 || rect.Dy() != 600 {
		t.Errorf("Unexpected rectangle size: %dx%d", rect.Dx(), rect.Dy())
	}
}
