package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLedgerLoadMissingFile(t *testing.T) {
	ledger := NewLedger(filepath.Join(t.TempDir(), "sent_times.json"))

	entries := ledger.Load()
	if entries == nil {
		t.Fatal("expected empty map, got nil")
	}
	if len(entries) != 0 {
		t.Errorf("expected empty map, got %v", entries)
	}
}

func TestLedgerLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_times.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	entries := NewLedger(path).Load()
	if len(entries) != 0 {
		t.Errorf("corrupt ledger should read as empty, got %v", entries)
	}
}

func TestLedgerRecordUpserts(t *testing.T) {
	ledger := NewLedger(filepath.Join(t.TempDir(), "sent_times.json"))

	if err := ledger.Record("John_Resume.pdf", "2024-01-02T10:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Record("Jane_CV.docx", "2024-01-03T11:00:00Z"); err != nil {
		t.Fatal(err)
	}
	// Last write wins.
	if err := ledger.Record("John_Resume.pdf", "2024-01-05T09:00:00Z"); err != nil {
		t.Fatal(err)
	}

	entries := ledger.Load()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), entries)
	}
	if got := entries["John_Resume.pdf"]; got != "2024-01-05T09:00:00Z" {
		t.Errorf("expected updated sent time, got %q", got)
	}
	if got := entries["Jane_CV.docx"]; got != "2024-01-03T11:00:00Z" {
		t.Errorf("unexpected sent time %q", got)
	}
}

func TestLedgerRecordStripsDirectories(t *testing.T) {
	ledger := NewLedger(filepath.Join(t.TempDir(), "sent_times.json"))

	if err := ledger.Record("attachments/My_CV.pdf", "2024-02-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	entries := ledger.Load()
	if _, ok := entries["My_CV.pdf"]; !ok {
		t.Errorf("expected key to be the base name, got %v", entries)
	}
}

func TestWatermarkDefaultsToZero(t *testing.T) {
	watermark := NewWatermark(filepath.Join(t.TempDir(), "last_uid.txt"))
	if uid := watermark.Load(); uid != 0 {
		t.Errorf("expected 0 for missing file, got %d", uid)
	}
}

func TestWatermarkCorruptFileReadsAsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_uid.txt")
	if err := os.WriteFile(path, []byte("not a number"), 0644); err != nil {
		t.Fatal(err)
	}
	if uid := NewWatermark(path).Load(); uid != 0 {
		t.Errorf("expected 0 for corrupt file, got %d", uid)
	}
}

func TestWatermarkSaveAndLoad(t *testing.T) {
	watermark := NewWatermark(filepath.Join(t.TempDir(), "state", "last_uid.txt"))

	if err := watermark.Save(4212); err != nil {
		t.Fatal(err)
	}
	if uid := watermark.Load(); uid != 4212 {
		t.Errorf("expected 4212, got %d", uid)
	}
}

func TestWatermarkReset(t *testing.T) {
	watermark := NewWatermark(filepath.Join(t.TempDir(), "last_uid.txt"))

	if err := watermark.Save(99); err != nil {
		t.Fatal(err)
	}
	if err := watermark.Reset(); err != nil {
		t.Fatal(err)
	}
	if uid := watermark.Load(); uid != 0 {
		t.Errorf("expected 0 after reset, got %d", uid)
	}

	// Resetting an already clean state is not an error.
	if err := watermark.Reset(); err != nil {
		t.Errorf("second reset failed: %v", err)
	}
}
