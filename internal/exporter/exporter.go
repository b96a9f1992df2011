package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"staffsched/internal/license"
)

// LicenseHeaders are the export columns, in order
var LicenseHeaders = []string{"id", "start_date", "end_date", "region", "status", "created_at"}

// Exporter renders license records for download
type Exporter struct {
	csv    *CSVWriter
	xlsx   *XLSXWriter
	logger *slog.Logger
}

// New creates an exporter
func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		csv:    NewCSVWriter(),
		xlsx:   NewXLSXWriter("Licenses"),
		logger: logger.With(slog.String("component", "exporter")),
	}
}

// Export writes records to out in the requested format
func (e *Exporter) Export(ctx context.Context, out io.Writer, format Format, records []license.Record) error {
	rows := LicenseRows(records)

	e.logger.InfoContext(ctx, "Exporting license records",
		slog.String("format", string(format)),
		slog.Int("record_count", len(rows)))

	switch format {
	case FormatCSV:
		return e.csv.WriteCSV(out, WriteOptions{Headers: LicenseHeaders, Records: rows, BOMPrefix: true})
	case FormatXLSX:
		return e.xlsx.WriteXLSX(out, LicenseHeaders, rows)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// LicenseRows converts records to string rows. Window dates are shown as
// calendar dates in each record's own region.
func LicenseRows(records []license.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		loc := regionLocation(rec.Region)
		rows = append(rows, []string{
			formatInt(rec.ID),
			formatDate(rec.StartDate, loc),
			formatDate(rec.EndDate, loc),
			rec.Region,
			string(rec.Status),
			formatTimestamp(rec.CreatedAt),
		})
	}
	return rows
}
