// Package export renders reports as CSV or PDF and archives them in object storage.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"brokerdesk/api/internal/reports"
)

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// ParseFormat reads a format query value; blank means JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// Extension is the file extension for the format.
func (f Format) Extension() string { return string(f) }

func (f Format) MimeType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Table is a report flattened for rendering.
type Table struct {
	Kind        reports.Kind
	Title       string
	Subtitle    string
	Headers     []string
	Rows        [][]string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
}

var (
	// ErrUnsupportedFormat indicates a format this package cannot render.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrArchiveDisabled indicates object storage is not configured.
	ErrArchiveDisabled = errors.New("report archive disabled")
)
