package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/cvharvest/internal/parser"
	"github.com/mixelka/cvharvest/internal/store"
)

// DefaultKeywords are matched against subject and body when no keyword set
// is configured.
var DefaultKeywords = []string{"CV", "Resume", "Curriculum Vitae"}

var (
	cvNameRegex  = regexp.MustCompile(`(?i)(cv|resume)`)
	unsafeChars  = regexp.MustCompile(`[^\w\-]`)
	cvExtensions = map[string]bool{".pdf": true, ".docx": true}
)

// Mailbox is the slice of the IMAP client the harvester needs.
type Mailbox interface {
	SearchUIDs(criteria SearchCriteria) ([]uint32, error)
	FetchBatch(uids []uint32, batchSize int, fn func(*imap.Message) error) error
	MarkSeen(uid uint32)
}

// ProgressFunc reports scan progress for UI consumption. It must not affect
// control flow.
type ProgressFunc func(current, total int, message string)

// Options control one harvest run.
type Options struct {
	Keywords        []string
	Since           time.Time
	Before          time.Time
	UnseenOnly      bool
	BatchSize       int
	IgnoreWatermark bool // operator override: rescan from UID 1
	Progress        ProgressFunc
}

// Harvester discovers CV attachments in the mailbox, writes them to the
// attachment directory and advances the UID watermark.
type Harvester struct {
	mailbox       Mailbox
	ledger        *store.Ledger
	watermark     *store.Watermark
	attachmentDir string
	html          *parser.HTMLParser
	logger        *slog.Logger
}

// NewHarvester creates a harvester writing into attachmentDir.
func NewHarvester(mb Mailbox, ledger *store.Ledger, watermark *store.Watermark, attachmentDir string, logger *slog.Logger) *Harvester {
	return &Harvester{
		mailbox:       mb,
		ledger:        ledger,
		watermark:     watermark,
		attachmentDir: attachmentDir,
		html:          parser.NewHTMLParser(),
		logger:        logger.With("component", "harvester"),
	}
}

// Harvest scans the mailbox for new CV attachments and returns the paths of
// newly written files. Messages are processed newest first. The watermark is
// advanced to the highest fully handled UID, whether or not a message
// yielded an attachment. A per-message failure is logged and skipped; a
// session failure is returned without advancing the watermark.
func (h *Harvester) Harvest(ctx context.Context, opts Options) ([]string, error) {
	keywords := opts.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	criteria := SearchCriteria{
		UnseenOnly: opts.UnseenOnly,
		Since:      opts.Since,
		Before:     opts.Before,
	}
	if !opts.IgnoreWatermark {
		if last := h.watermark.Load(); last > 0 {
			criteria.MinUID = last
			h.logger.Debug("resuming from watermark", "uid", last)
		}
	}

	uids, err := h.mailbox.SearchUIDs(criteria)
	if err != nil {
		return nil, fmt.Errorf("mailbox search failed: %w", err)
	}
	if len(uids) == 0 {
		h.logger.Info("no messages to scan")
		return nil, nil
	}
	h.logger.Info("scanning messages", "count", len(uids))

	if err := os.MkdirAll(h.attachmentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	var (
		newFiles   []string
		maxUIDSeen uint32
		processed  int
		total      = len(uids)
	)

	fetchErr := h.mailbox.FetchBatch(uids, opts.BatchSize, func(msg *imap.Message) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		files := h.processMessage(msg, keywords)
		newFiles = append(newFiles, files...)

		// Counted even when the message matched nothing: it has been
		// scanned and must not be revisited.
		if msg.Uid > maxUIDSeen {
			maxUIDSeen = msg.Uid
		}

		processed++
		if opts.Progress != nil {
			opts.Progress(processed, total, fmt.Sprintf("scanned message %d/%d, %d new files", processed, total, len(newFiles)))
		}
		return nil
	})

	if fetchErr != nil && !errors.Is(fetchErr, context.Canceled) && !errors.Is(fetchErr, context.DeadlineExceeded) {
		// Session-level failure: surface it and leave the watermark alone.
		return newFiles, fetchErr
	}

	if maxUIDSeen > 0 {
		if err := h.watermark.Save(maxUIDSeen); err != nil {
			h.logger.Warn("could not save watermark", "uid", maxUIDSeen, "error", err)
		}
	}

	h.logger.Info("harvest finished", "scanned", processed, "new_files", len(newFiles))
	return newFiles, fetchErr
}

// processMessage extracts matching attachments from one message. All
// failures are local: they are logged and the message is skipped.
func (h *Harvester) processMessage(msg *imap.Message, keywords []string) []string {
	sentTime := h.sentTime(msg)

	body := msg.GetBody(BodySection())
	if body == nil {
		h.logger.Warn("message has no body", "uid", msg.Uid)
		return nil
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		h.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
		return nil
	}

	subject := ""
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}
	if subject == "" {
		subject, _ = mr.Header.Subject()
	}
	if sentTime == "" {
		if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
			sentTime = date.UTC().Format(time.RFC3339)
		}
	}

	type pendingAttachment struct {
		filename string
		data     []byte
	}
	var (
		bodyText    strings.Builder
		bodyHTML    strings.Builder
		attachments []pendingAttachment
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.Warn("failed to read MIME part", "uid", msg.Uid, "error", err)
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			inlineHeader := mail.AttachmentHeader{Header: header.Header}
			if filename, _ := inlineHeader.Filename(); filename != "" {
				data, err := io.ReadAll(part.Body)
				if err != nil {
					h.logger.Warn("failed to read inline attachment", "uid", msg.Uid, "filename", filename, "error", err)
					continue
				}
				attachments = append(attachments, pendingAttachment{filename, data})
				continue
			}
			contentType, _, _ := header.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				bodyText.Write(data)
			case strings.HasPrefix(contentType, "text/html"):
				bodyHTML.Write(data)
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if filename == "" {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				h.logger.Warn("failed to read attachment", "uid", msg.Uid, "filename", filename, "error", err)
				continue
			}
			attachments = append(attachments, pendingAttachment{filename, data})
		}
	}

	text := bodyText.String()
	if text == "" && bodyHTML.Len() > 0 {
		if plain, err := h.html.Parse(bodyHTML.String()); err == nil {
			text = plain
		}
	}

	if !matchesKeywords(subject, text, keywords) {
		h.logger.Debug("message matched no keyword", "uid", msg.Uid)
		return nil
	}

	var newFiles []string
	for _, att := range attachments {
		path, ok := h.saveAttachment(att.filename, att.data, sentTime)
		if ok {
			newFiles = append(newFiles, path)
		}
	}

	// Flagging is a convenience to keep UNSEEN searches small.
	h.mailbox.MarkSeen(msg.Uid)

	return newFiles
}

// saveAttachment writes one attachment if it passes the name and extension
// filters and does not already exist. Returns the path and whether a new
// file was written.
func (h *Harvester) saveAttachment(filename string, data []byte, sentTime string) (string, bool) {
	ext := filepath.Ext(filename)
	if !cvExtensions[strings.ToLower(ext)] {
		return "", false
	}
	name := strings.TrimSuffix(filepath.Base(filename), ext)
	if !cvNameRegex.MatchString(name) {
		h.logger.Debug("attachment name has no cv/resume token", "filename", filename)
		return "", false
	}

	safe := SanitizeFilename(name) + ext
	path := filepath.Join(h.attachmentDir, safe)

	// Idempotence: the same attachment fetched twice is written once.
	if _, err := os.Stat(path); err == nil {
		h.logger.Info("attachment already exists", "path", path)
		return "", false
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		h.logger.Error("failed to save attachment", "path", path, "error", err)
		return "", false
	}
	if err := h.ledger.Record(safe, sentTime); err != nil {
		h.logger.Warn("could not record sent time", "path", path, "error", err)
	}

	h.logger.Info("saved new attachment", "path", path, "sent_time", sentTime)
	return path, true
}

// sentTime derives the sent time of a message, preferring the server's
// INTERNALDATE over the Date header.
func (h *Harvester) sentTime(msg *imap.Message) string {
	if !msg.InternalDate.IsZero() {
		return msg.InternalDate.UTC().Format(time.RFC3339)
	}
	if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		return msg.Envelope.Date.UTC().Format(time.RFC3339)
	}
	return ""
}

// matchesKeywords reports whether subject or body contains any keyword,
// case-insensitively.
func matchesKeywords(subject, body string, keywords []string) bool {
	haystack := strings.ToLower(subject + "\n" + body)
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// SanitizeFilename replaces every character outside [0-9A-Za-z_-] with an
// underscore. The extension is handled by the caller.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}
