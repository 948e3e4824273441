// -- internal/reporting/reporter.go --
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit"
)

// Reporter defines the interface for writing audit reports to an output.
type Reporter interface {
	// Write processes a single page report.
	Write(report *audit.Report) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// Formats accepted by New.
const (
	FormatSARIF = "sarif"
	FormatJSON  = "json"
	FormatText  = "text"
)

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath string, logger *zap.Logger, toolVersion string) (Reporter, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	switch format {
	case FormatSARIF, FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	writer, err := OpenOutput(outputPath)
	if err != nil {
		return nil, err
	}

	// Each reporter takes ownership of the writer.
	switch format {
	case FormatSARIF:
		return NewSARIFReporter(writer, logger, toolVersion), nil
	case FormatJSON:
		return NewJSONReporter(writer, logger, toolVersion), nil
	default:
		return NewTextReporter(writer, logger), nil
	}
}

// OpenOutput opens outputPath for writing. An empty path or "stdout" yields
// standard output with a no-op Close.
func OpenOutput(outputPath string) (io.WriteCloser, error) {
	if outputPath == "" || outputPath == "stdout" {
		return &nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return f, nil
}
