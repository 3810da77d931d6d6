package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixelka/cvharvest/internal/mailbox"
	"github.com/mixelka/cvharvest/internal/store"
)

type fakeHarvester struct {
	files []string
	err   error
}

func (f *fakeHarvester) Harvest(context.Context, mailbox.Options) ([]string, error) {
	return f.files, f.err
}

// fakeExtractor maps base names to canned text.
type fakeExtractor struct {
	texts map[string]string
}

func (f fakeExtractor) Extract(path string) string {
	return f.texts[filepath.Base(path)]
}

// fakeStructurer echoes the text into the name field.
type fakeStructurer struct{}

func (fakeStructurer) Extract(_ context.Context, text string) map[string]string {
	if text == "" {
		return map[string]string{}
	}
	return map[string]string{"name": text}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(t *testing.T, harvester Harvester, texts map[string]string) (*Processor, *store.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	attachmentDir := filepath.Join(dir, "attachments")
	ledger := store.NewLedger(filepath.Join(dir, "sent_times.json"))
	p := New(harvester, fakeExtractor{texts}, fakeStructurer{}, ledger, attachmentDir, testLogger())
	return p, ledger, attachmentDir
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessEmptyDirectoryIsNotAnError(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil, nil)

	records, err := p.Process(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if records == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %v", records)
	}
}

func TestProcessScansDirectoryWhenHarvestEmpty(t *testing.T) {
	p, ledger, attachmentDir := newTestProcessor(t, &fakeHarvester{}, map[string]string{
		"A_CV.pdf":      "Alice",
		"B_Resume.docx": "Bob",
	})
	touch(t, attachmentDir, "A_CV.pdf")
	touch(t, attachmentDir, "B_Resume.docx")
	touch(t, attachmentDir, "notes.txt")

	ledger.Record("A_CV.pdf", "2024-01-01T00:00:00Z")
	ledger.Record("B_Resume.docx", "2024-02-01T00:00:00Z")

	records, err := p.Process(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest sent time first.
	if records[0].Source != "B_Resume.docx" || records[1].Source != "A_CV.pdf" {
		t.Errorf("unexpected order: %s, %s", records[0].Source, records[1].Source)
	}
	if records[0].Name != "Bob" || records[1].Name != "Alice" {
		t.Errorf("structured fields missing: %+v", records)
	}
	if records[0].SentTime != "2024-02-01T00:00:00Z" {
		t.Errorf("sent time not joined from ledger: %q", records[0].SentTime)
	}
}

func TestProcessPrefersHarvestedFiles(t *testing.T) {
	dir := t.TempDir()
	harvested := touch(t, dir, "New_CV.pdf")
	p, _, attachmentDir := newTestProcessor(t, &fakeHarvester{files: []string{harvested}},
		map[string]string{"New_CV.pdf": "Carol"})
	touch(t, attachmentDir, "Old_CV.pdf")

	records, err := p.Process(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 || records[0].Source != "New_CV.pdf" {
		t.Errorf("expected only the harvested file, got %+v", records)
	}
}

func TestProcessHarvestErrorPropagates(t *testing.T) {
	p, _, _ := newTestProcessor(t, &fakeHarvester{err: errors.New("search failed")}, nil)

	if _, err := p.Process(context.Background(), Options{}); err == nil {
		t.Fatal("expected harvest error to propagate")
	}
}

func TestProcessFailedExtractionStillYieldsRow(t *testing.T) {
	p, _, attachmentDir := newTestProcessor(t, nil, nil)
	touch(t, attachmentDir, "Broken_CV.pdf")

	records, err := p.Process(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Source != "Broken_CV.pdf" {
		t.Errorf("Source = %q", records[0].Source)
	}
	if records[0].Name != "" {
		t.Errorf("expected empty fields for failed extraction, got %+v", records[0])
	}
}

func TestProcessTimeWindow(t *testing.T) {
	p, ledger, attachmentDir := newTestProcessor(t, nil, map[string]string{
		"Early_CV.pdf":   "Early",
		"In_CV.pdf":      "In",
		"Late_CV.pdf":    "Late",
		"Unknown_CV.pdf": "Unknown",
	})
	for _, name := range []string{"Early_CV.pdf", "In_CV.pdf", "Late_CV.pdf", "Unknown_CV.pdf"} {
		touch(t, attachmentDir, name)
	}
	ledger.Record("Early_CV.pdf", "2024-01-01T00:00:00Z")
	ledger.Record("In_CV.pdf", "2024-02-15T00:00:00Z")
	ledger.Record("Late_CV.pdf", "2024-04-01T00:00:00Z")

	records, err := p.Process(context.Background(), Options{
		From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 || records[0].Source != "In_CV.pdf" {
		t.Errorf("expected only the in-window file, got %+v", records)
	}
}

func TestProcessFile(t *testing.T) {
	p, ledger, _ := newTestProcessor(t, nil, map[string]string{"Solo_CV.pdf": "Dana"})
	dir := t.TempDir()
	path := touch(t, dir, "Solo_CV.pdf")
	ledger.Record("Solo_CV.pdf", "2024-03-01T00:00:00Z")

	record, err := p.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	if record.Source != "Solo_CV.pdf" || record.Name != "Dana" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.SentTime != "2024-03-01T00:00:00Z" {
		t.Errorf("SentTime = %q", record.SentTime)
	}
}

func TestProcessFileMissing(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil, nil)

	if _, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "absent.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
