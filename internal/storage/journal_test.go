package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewJournal(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "positions.db")

	j, err := NewJournal(dbPath, 16)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	stats := j.GetStats()
	if stats.TotalRecorded != 0 || stats.Held != 0 {
		t.Errorf("fresh journal stats = %+v", stats)
	}
	if stats.MaxEntries != 16 {
		t.Errorf("MaxEntries = %d, want 16", stats.MaxEntries)
	}
}

func TestNewJournalRejectsBadCapacity(t *testing.T) {
	tmpDir := t.TempDir()
	if _, err := NewJournal(filepath.Join(tmpDir, "bad.db"), 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestAppendAndLatest(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 16)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	first := Entry{
		FEN:        "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		FreshStart: true,
	}
	second := Entry{
		FEN:     "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		MoveUCI: "e2e4",
		MoveSAN: "e4",
	}

	if err := j.Append(first); err != nil {
		t.Fatalf("Append first: %v", err)
	}
	if err := j.Append(second); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	latest, ok, err := j.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatal("Latest found nothing")
	}
	if latest.FEN != second.FEN {
		t.Errorf("latest FEN = %q, want %q", latest.FEN, second.FEN)
	}
	if latest.MoveUCI != "e2e4" || latest.MoveSAN != "e4" {
		t.Errorf("latest move = %q/%q", latest.MoveUCI, latest.MoveSAN)
	}
	if latest.Timestamp == 0 {
		t.Error("timestamp was not stamped on append")
	}
}

func TestAppendValidation(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 16)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	if err := j.Append(Entry{}); err == nil {
		t.Error("entry without FEN accepted")
	}

	j.Close()
	if err := j.Append(Entry{FEN: "8/8/8/8/8/8/8/8 w - - 0 1"}); err == nil {
		t.Error("append after close accepted")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 16)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 1; i <= 3; i++ {
		if err := j.Append(Entry{FEN: fmt.Sprintf("fen-%d", i)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].FEN != "fen-3" || entries[1].FEN != "fen-2" {
		t.Errorf("order = %q, %q; want fen-3, fen-2", entries[0].FEN, entries[1].FEN)
	}
}

func TestRingOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 3)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 1; i <= 5; i++ {
		if err := j.Append(Entry{FEN: fmt.Sprintf("fen-%d", i)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if j.Sequence() != 5 {
		t.Errorf("Sequence = %d, want 5", j.Sequence())
	}
	if j.Held() != 3 {
		t.Errorf("Held = %d, want 3", j.Held())
	}

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	want := []string{"fen-5", "fen-4", "fen-3"}
	for i, e := range entries {
		if e.FEN != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.FEN, want[i])
		}
	}

	stats := j.GetStats()
	if !stats.IsWrapped {
		t.Error("stats should report the ring as wrapped")
	}
}

func TestJournalPersistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "positions.db")

	j, err := NewJournal(dbPath, 8)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	entry := Entry{FEN: "fen-persisted", MoveUCI: "g1f3", Timestamp: time.Now().Unix()}
	if err := j.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewJournal(dbPath, 8)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Sequence() != 1 {
		t.Errorf("Sequence after reopen = %d, want 1", reopened.Sequence())
	}
	latest, ok, err := reopened.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok || latest.FEN != "fen-persisted" {
		t.Errorf("latest after reopen = %+v, ok=%v", latest, ok)
	}
}

func TestJournalClear(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 8)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	if err := j.Append(Entry{FEN: "fen-1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if j.Held() != 0 {
		t.Errorf("Held after clear = %d, want 0", j.Held())
	}
	if _, ok, _ := j.Latest(); ok {
		t.Error("Latest found an entry after clear")
	}
}

func TestRecentEmptyJournal(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := NewJournal(filepath.Join(tmpDir, "positions.db"), 8)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	entries, err := j.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if entries != nil {
		t.Errorf("Recent on empty journal = %v, want nil", entries)
	}
}
