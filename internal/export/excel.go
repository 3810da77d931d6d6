package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mixelka/cvharvest/pkg/models"
)

const sheetName = "CVs"

// WriteExcel writes the result set as a styled spreadsheet. The source
// column links to the downloaded file under attachmentDir.
func WriteExcel(records []models.StructuredRecord, path, attachmentDir string) error {
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFFFCC"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, name := range models.Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(models.Columns), 1)
	if err := f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle); err != nil {
		return err
	}

	widths := make([]int, len(models.Columns))
	for col, name := range models.Columns {
		widths[col] = len(name)
	}

	for row, record := range records {
		for col, value := range record.Row() {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
			if len(value) > widths[col] {
				widths[col] = len(value)
			}
		}

		// Source column links to the downloaded attachment.
		sourceCell, _ := excelize.CoordinatesToCellName(1, row+2)
		target, err := filepath.Abs(filepath.Join(attachmentDir, record.Source))
		if err == nil {
			formula := fmt.Sprintf("=HYPERLINK(%q, %q)", target, record.Source)
			if err := f.SetCellFormula(sheetName, sourceCell, formula); err != nil {
				return err
			}
		}
	}

	for col := range models.Columns {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		width := float64(widths[col]) + 2
		if width > 50 {
			width = 50
		}
		if err := f.SetColWidth(sheetName, name, name, width); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}
