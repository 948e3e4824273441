package reporting

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/internal/audit"
)

// TextReporter prints a human readable line per page as reports arrive, then
// totals on Close.
type TextReporter struct {
	writer io.WriteCloser
	out    *bufio.Writer
	logger *zap.Logger

	mu                     sync.Mutex
	passed, failed, errors int
	findings               int
}

func NewTextReporter(writer io.WriteCloser, logger *zap.Logger) *TextReporter {
	return &TextReporter{
		writer: writer,
		out:    bufio.NewWriter(writer),
		logger: logger.Named("text_reporter"),
	}
}

func (r *TextReporter) Write(report *audit.Report) error {
	findings := report.Findings()

	r.mu.Lock()
	defer r.mu.Unlock()

	status := report.Status()
	switch status {
	case "pass":
		r.passed++
	case "fail":
		r.failed++
	default:
		r.errors++
	}
	r.findings += len(findings)

	where := report.Target
	if report.Viewport != "" {
		where += " @ " + report.Viewport
	}
	fmt.Fprintf(r.out, "%-5s %s (%d findings, %s)\n", strings.ToUpper(status), where, len(findings), report.Duration.Round(time.Millisecond))
	for _, f := range findings {
		fmt.Fprintf(r.out, "  [%s] %s: %s\n", f.Severity, f.Rule, f.Description)
	}
	return r.out.Flush()
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "\n%d passed, %d failed, %d errored, %d findings\n", r.passed, r.failed, r.errors, r.findings)
	flushErr := r.out.Flush()
	closeErr := r.writer.Close()
	if flushErr != nil {
		r.logger.Error("Failed to write text summary", zap.Error(flushErr))
		return fmt.Errorf("failed to write text output: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
