package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Watermark persists the highest mailbox UID that has been fully scanned.
// The next incremental harvest searches only UIDs above it.
type Watermark struct {
	path string
}

// NewWatermark creates a watermark store backed by a plain text file.
func NewWatermark(path string) *Watermark {
	return &Watermark{path: path}
}

// Load returns the stored UID, or 0 when the file is missing or unreadable.
func (w *Watermark) Load() uint32 {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0
	}
	uid, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(uid)
}

// Save persists the given UID.
func (w *Watermark) Save(uid uint32) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(w.path, []byte(strconv.FormatUint(uint64(uid), 10)), 0644); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

// Reset deletes the stored UID so the next harvest scans the whole mailbox.
// Operator-only; nothing in the pipeline rolls the watermark back.
func (w *Watermark) Reset() error {
	err := os.Remove(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}
	return nil
}
