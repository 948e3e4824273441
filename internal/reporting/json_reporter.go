package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/audit"
)

// JSONDocument is the top-level object written by the JSON reporter.
type JSONDocument struct {
	Tool        string      `json:"tool"`
	Version     string      `json:"version"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Pages       []JSONEntry `json:"pages"`
}

// JSONEntry is one page report with its derived verdict and findings.
type JSONEntry struct {
	*audit.Report
	Status   string            `json:"status"`
	Passed   bool              `json:"passed"`
	Findings []schemas.Finding `json:"findings"`
}

// JSONReporter buffers every report and writes one indented document on Close.
type JSONReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	version string

	mu    sync.Mutex
	pages []JSONEntry
}

func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer:  writer,
		logger:  logger.Named("json_reporter"),
		version: toolVersion,
		pages:   []JSONEntry{},
	}
}

func (r *JSONReporter) Write(report *audit.Report) error {
	findings := report.Findings()
	if findings == nil {
		findings = []schemas.Finding{}
	}
	entry := JSONEntry{
		Report:   report,
		Status:   report.Status(),
		Passed:   report.Passed(),
		Findings: findings,
	}
	r.mu.Lock()
	r.pages = append(r.pages, entry)
	r.mu.Unlock()
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := JSONDocument{
		Tool:        ToolName,
		Version:     r.version,
		GeneratedAt: time.Now().UTC(),
		Pages:       r.pages,
	}
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encodeErr := enc.Encode(doc)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Successfully wrote JSON report", zap.Int("pages", len(r.pages)))
	return nil
}
