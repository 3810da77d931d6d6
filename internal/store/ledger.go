package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ledger persists the mapping of attachment filename to the sent time of the
// email it came from. The whole mapping is rewritten on every update; a
// missing or corrupt file reads as an empty mapping.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger creates a ledger backed by the given JSON file.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Load returns the current filename -> sent time mapping. Never fails: any
// read or decode error yields an empty mapping.
func (l *Ledger) Load() map[string]string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return map[string]string{}
	}
	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return map[string]string{}
	}
	return entries
}

// Record upserts one entry. Last write wins.
func (l *Ledger) Record(filename, sentTime string) error {
	return l.RecordAll(map[string]string{filename: sentTime})
}

// RecordAll upserts several entries in one write.
func (l *Ledger) RecordAll(entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.Load()
	for filename, sentTime := range entries {
		data[filepath.Base(filename)] = sentTime
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := os.WriteFile(l.path, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
