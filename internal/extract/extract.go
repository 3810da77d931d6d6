package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor converts CV files on disk to plain text. Extraction never fails
// loudly: a corrupt file degrades to an empty string so one bad upload
// cannot abort a batch.
type Extractor struct {
	logger      *slog.Logger
	pdfBackends []pdfBackend
}

type pdfBackend struct {
	name string
	fn   func(path string) (string, error)
}

// New creates an extractor with the default PDF backend chain.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		logger: logger.With("component", "extractor"),
		pdfBackends: []pdfBackend{
			{"pdf", extractPDF},
			{"pdftotext", extractPDFPoppler},
		},
	}
}

// Extract returns the plain text of a PDF or DOCX file. Unsupported
// extensions and extraction failures yield an empty string.
func (e *Extractor) Extract(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		for _, backend := range e.pdfBackends {
			text, err := backend.fn(path)
			if err == nil && text != "" {
				return text
			}
			if err != nil {
				e.logger.Debug("PDF backend failed", "backend", backend.name, "path", path, "error", err)
			}
		}
		e.logger.Error("all PDF backends failed", "path", path)
	case ".docx":
		text, err := extractDOCX(path)
		if err != nil {
			e.logger.Error("failed to read DOCX", "path", path, "error", err)
			return ""
		}
		return text
	default:
		e.logger.Warn("unsupported file format", "path", path)
	}
	return ""
}

func extractPDF(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}

	return text.String(), nil
}

// extractPDFPoppler shells out to pdftotext when the native reader cannot
// handle the file.
func extractPDFPoppler(path string) (string, error) {
	output, err := exec.Command("pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(output), nil
}

// extractDOCX reads word/document.xml from the archive and joins paragraph
// texts with newlines.
func extractDOCX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer archive.Close()

	var document *zip.File
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			document = file
			break
		}
	}
	if document == nil {
		return "", fmt.Errorf("no word/document.xml in %s", path)
	}

	reader, err := document.Open()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	return docxText(reader)
}

func docxText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		text   strings.Builder
		inText bool
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch element := token.(type) {
		case xml.StartElement:
			if element.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch element.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(element)
			}
		}
	}

	return strings.TrimSpace(text.String()), nil
}
