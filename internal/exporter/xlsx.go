package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter writes a single sheet workbook
type XLSXWriter struct {
	SheetName string
}

// NewXLSXWriter creates a writer for the named sheet
func NewXLSXWriter(sheet string) *XLSXWriter {
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &XLSXWriter{SheetName: sheet}
}

// WriteXLSX writes a bold header row followed by the records
func (x *XLSXWriter) WriteXLSX(out io.Writer, headers []string, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	// Replace default sheet with the expected name.
	if err := f.SetSheetName(f.GetSheetName(0), x.SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if len(headers) > 0 {
		if err := f.SetSheetRow(x.SheetName, "A1", toRow(headers)); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
		last, err := excelize.ColumnNumberToName(len(headers))
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(x.SheetName, "A1", last+"1", headerStyle); err != nil {
			return fmt.Errorf("failed to style headers: %w", err)
		}
		if err := f.SetColWidth(x.SheetName, "A", last, 16); err != nil {
			return fmt.Errorf("failed to size columns: %w", err)
		}
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(x.SheetName, cell, toRow(record)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func toRow(values []string) *[]interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return &row
}
