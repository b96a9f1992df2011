package exporter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"staffsched/internal/license"
)

// Format is an export file type
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv or xlsx in any case; empty means csv
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for downloads
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns a download name stamped with the export date
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("licenses-%s.%s", now.Format("20060102"), f)
}

// formatInt formats an int64 value for CSV output
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// formatDate renders an instant as a calendar date in the record's region
func formatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(license.DateLayout)
}

// formatTimestamp formats a timestamp for CSV output
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func regionLocation(region string) *time.Location {
	if region == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(region)
	if err != nil {
		return time.UTC
	}
	return loc
}
