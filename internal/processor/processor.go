package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mixelka/cvharvest/internal/mailbox"
	"github.com/mixelka/cvharvest/internal/store"
	"github.com/mixelka/cvharvest/pkg/models"
)

// Harvester fetches new attachments from the mailbox. Nil disables the
// mailbox source and processing works from the attachment directory alone.
type Harvester interface {
	Harvest(ctx context.Context, opts mailbox.Options) ([]string, error)
}

// TextExtractor converts a file to plain text.
type TextExtractor interface {
	Extract(path string) string
}

// FieldStructurer maps CV text to structured fields.
type FieldStructurer interface {
	Extract(ctx context.Context, text string) map[string]string
}

// Options control one processing run.
type Options struct {
	Harvest  mailbox.Options
	From     time.Time // optional received-time window, inclusive
	To       time.Time
	Progress mailbox.ProgressFunc
}

// Processor turns harvested or pre-existing CV files into structured
// records.
type Processor struct {
	harvester     Harvester
	extractor     TextExtractor
	structurer    FieldStructurer
	ledger        *store.Ledger
	attachmentDir string
	logger        *slog.Logger
}

// New creates a processor. harvester may be nil.
func New(harvester Harvester, extractor TextExtractor, structurer FieldStructurer, ledger *store.Ledger, attachmentDir string, logger *slog.Logger) *Processor {
	return &Processor{
		harvester:     harvester,
		extractor:     extractor,
		structurer:    structurer,
		ledger:        ledger,
		attachmentDir: attachmentDir,
		logger:        logger.With("component", "processor"),
	}
}

// Process harvests new attachments (when a harvester is configured), falls
// back to scanning the attachment directory when the harvest yields nothing,
// and produces one record per file. Files that fail extraction still produce
// a row with empty fields so they surface for manual review. An empty result
// is a normal outcome, not an error.
func (p *Processor) Process(ctx context.Context, opts Options) ([]models.StructuredRecord, error) {
	var files []string
	if p.harvester != nil {
		harvested, err := p.harvester.Harvest(ctx, opts.Harvest)
		if err != nil {
			return nil, fmt.Errorf("harvest failed: %w", err)
		}
		files = harvested
	}

	if len(files) == 0 {
		p.logger.Info("no new files from mailbox, scanning attachment directory")
		scanned, err := p.scanAttachmentDir()
		if err != nil {
			return nil, err
		}
		files = scanned
	}

	sentTimes := p.ledger.Load()
	if !opts.From.IsZero() || !opts.To.IsZero() {
		files = filterByWindow(files, sentTimes, opts.From, opts.To)
	}

	if len(files) == 0 {
		p.logger.Info("no CV files to process")
		return []models.StructuredRecord{}, nil
	}

	records := make([]models.StructuredRecord, 0, len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		source := filepath.Base(path)
		text := p.extractor.Extract(path)
		fields := p.structurer.Extract(ctx, text)
		records = append(records, models.NewRecord(source, sentTimes[source], fields))

		if opts.Progress != nil {
			opts.Progress(i+1, len(files), fmt.Sprintf("processed %s", source))
		}
	}

	// Newest first, matching the mailbox scan order.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SentTime > records[j].SentTime
	})

	p.logger.Info("processing finished", "records", len(records))
	return records, nil
}

// ProcessFile structures a single file, bypassing the mailbox entirely.
func (p *Processor) ProcessFile(ctx context.Context, path string) (models.StructuredRecord, error) {
	if _, err := os.Stat(path); err != nil {
		return models.StructuredRecord{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	source := filepath.Base(path)
	text := p.extractor.Extract(path)
	fields := p.structurer.Extract(ctx, text)
	sentTimes := p.ledger.Load()
	return models.NewRecord(source, sentTimes[source], fields), nil
}

func (p *Processor) scanAttachmentDir() ([]string, error) {
	entries, err := os.ReadDir(p.attachmentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attachment directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".pdf" || ext == ".docx" {
			files = append(files, filepath.Join(p.attachmentDir, entry.Name()))
		}
	}
	return files, nil
}

// filterByWindow keeps files whose recorded sent time falls inside
// [from, to]. Files without a parseable sent time are dropped, matching the
// conservative behavior of an explicit time filter.
func filterByWindow(files []string, sentTimes map[string]string, from, to time.Time) []string {
	var kept []string
	for _, path := range files {
		raw := sentTimes[filepath.Base(path)]
		if raw == "" {
			continue
		}
		sent, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		if !from.IsZero() && sent.Before(from) {
			continue
		}
		if !to.IsZero() && sent.After(to) {
			continue
		}
		kept = append(kept, path)
	}
	return kept
}
