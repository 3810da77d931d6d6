package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mixelka/cvharvest/pkg/models"
)

// utf8BOM keeps spreadsheet tools from mis-detecting the encoding of
// Vietnamese text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes the result set as UTF-8-with-BOM CSV, overwriting any
// previous run.
func WriteCSV(records []models.StructuredRecord, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(models.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, record := range records {
		if err := writer.Write(record.Row()); err != nil {
			return fmt.Errorf("failed to write record %s: %w", record.Source, err)
		}
	}
	writer.Flush()

	return writer.Error()
}
