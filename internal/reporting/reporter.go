// Package reporting renders a finished batch as text, JSON or JUnit XML.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// Supported report formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Formats lists the accepted values of --report-format.
var Formats = []string{FormatText, FormatJSON, FormatJUnit}

// Reporter writes a finished batch report to an output.
type Reporter interface {
	// Write renders the report.
	Write(report *schemas.BatchReport) error
	// Close finalizes the output and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case FormatText, FormatJSON, FormatJUnit:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer)
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser) (Reporter, error) {
	switch format {
	case FormatText:
		return newTextReporter(writer), nil
	case FormatJSON:
		return newJSONReporter(writer), nil
	case FormatJUnit:
		return newJUnitReporter(writer), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// closeWriter closes w, wrapping any error.
func closeWriter(w io.Closer) error {
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
