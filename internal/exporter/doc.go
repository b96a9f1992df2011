// Package exporter writes license records as CSV or XLSX downloads.
//
// CSVWriter handles the low level CSV details (UTF-8 BOM for Excel, streaming
// rows). XLSXWriter builds a single sheet workbook with excelize. Exporter
// ties both to license records, rendering dates in each record's region.
//
// Example usage:
//
//	exp := exporter.New(logger)
//	err := exp.Export(ctx, w, exporter.FormatXLSX, records)
package exporter
