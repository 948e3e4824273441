// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/audit"
	"github.com/xkilldash9x/pageprobe/internal/audit/contrast"
	"github.com/xkilldash9x/pageprobe/internal/audit/headings"
	"github.com/xkilldash9x/pageprobe/internal/audit/tabwalk"
	"github.com/xkilldash9x/pageprobe/internal/browser"
	"github.com/xkilldash9x/pageprobe/internal/reporting"
	"github.com/xkilldash9x/pageprobe/internal/reporting/sarif"
)

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func setupSARIFTest(t *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer)}
	reporter := reporting.NewSARIFReporter(mockWriter, zaptest.NewLogger(t), "v1.2.3-test")
	return reporter, mockWriter
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log), "Output should be valid SARIF JSON")
	require.Len(t, log.Runs, 1)
	return log
}

// failingPage builds a report with a heading problem, a low-contrast sample
// and a keyboard trap.
func failingPage(target string) *audit.Report {
	return &audit.Report{
		ID:        "audit-1",
		RunID:     "run-1",
		Target:    target,
		Viewport:  "375x667",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Headings: audit.HeadingSection{
			Nodes:  []headings.Node{{Level: 2, Text: "Intro"}},
			Issues: []headings.Issue{{Kind: headings.MissingH1}},
		},
		Contrast: audit.ContrastSection{Samples: []audit.ContrastSample{{
			Selector: "p",
			Result:   contrast.ComputeContrastCSS("#999999", "#ffffff", contrast.ThresholdNormalText),
		}}},
		TabOrder: audit.TabOrderSection{Walk: tabwalk.Result{
			Trapped: true, Steps: 30, DistinctCount: 2, IndicatorCoverage: 1, IndicatorPasses: true,
		}},
	}
}

// TestSARIFReporter_Initialization verifies the structure of an empty report.
func TestSARIFReporter_Initialization(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Close())
	assert.True(t, writer.Closed)

	log := decodeSARIF(t, writer)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	run := log.Runs[0]

	require.NotNil(t, run.Tool)
	require.NotNil(t, run.Tool.Driver)
	assert.Equal(t, reporting.ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *run.Tool.Driver.Version)

	// Ensure Results slice is initialized (JSON "[]") not null
	require.NotNil(t, run.Results)
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Tool.Driver.Rules)

	require.Len(t, run.Invocations, 1)
	assert.True(t, run.Invocations[0].ExecutionSuccessful)
}

func TestSARIFReporter_WritePageReport(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	require.NoError(t, reporter.Write(failingPage("https://a.test/")))
	require.NoError(t, reporter.Write(failingPage("https://b.test/")))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 6)
	// Both pages share the same three rules.
	require.Len(t, run.Tool.Driver.Rules, 3)

	first := run.Results[0]
	assert.Equal(t, "PAGEPROBE-KEYBOARD-TRAP", first.RuleID, "worst finding comes first")
	assert.Equal(t, sarif.LevelError, first.Level)
	require.Len(t, first.Locations, 1)
	assert.Equal(t, "https://a.test/", *first.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.Equal(t, "Found at https://a.test/ (375x667)", *first.Locations[0].Message.Text)
	require.NotNil(t, first.Properties)
	assert.Equal(t, "375x667", (*first.Properties)["viewport"])
	assert.Equal(t, "tab_order", (*first.Properties)["check"])
	assert.Equal(t, "audit-1", (*first.Properties)["auditId"])
	assert.NotEmpty(t, first.PartialFingerprints["pageFinding/v1"])

	assert.Equal(t, "PAGEPROBE-INSUFFICIENT-TEXT-CONTRAST", run.Results[1].RuleID)
	assert.Equal(t, "PAGEPROBE-MISSING-H1", run.Results[2].RuleID)
	assert.Equal(t, sarif.LevelWarning, run.Results[2].Level)

	// The same finding on different pages is tracked separately.
	assert.NotEqual(t, run.Results[0].PartialFingerprints, run.Results[3].PartialFingerprints)

	rules := make(map[string]*sarif.ReportingDescriptor)
	for _, r := range run.Tool.Driver.Rules {
		rules[r.ID] = r
	}
	trap := rules["PAGEPROBE-KEYBOARD-TRAP"]
	require.NotNil(t, trap)
	require.NotNil(t, trap.HelpURI)
	assert.Contains(t, *trap.Help.Markdown, "WCAG 2.1.2")
	assertStrings(t, []string{"2.1.2"}, (*trap.Properties)["guidelines"])
	assert.Equal(t, "medium", (*trap.Properties)["precision"])
}

func TestSARIFReporter_IncompleteRunIsNotSuccessful(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	require.NoError(t, reporter.Write(audit.NewFailedReport("https://down.test/", browser.Viewport{}, errors.New("connection refused"))))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 1)
	assert.Equal(t, "PAGEPROBE-NAVIGATION-FAILED", run.Results[0].RuleID)
	assert.Contains(t, *run.Results[0].Message.Text, "connection refused")
	require.Len(t, run.Invocations, 1)
	assert.False(t, run.Invocations[0].ExecutionSuccessful)
}

// TestSARIFReporter_RuleCollisionHandling verifies that findings with the same name
// but different characteristics generate distinct rules.
func TestSARIFReporter_RuleCollisionHandling(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	const sharedName = "Check Incomplete"
	mk := func(check schemas.Check, desc string, guidelines ...string) schemas.Finding {
		return schemas.Finding{Check: check, Rule: sharedName, Description: desc, Guidelines: guidelines}
	}

	reporter.AddFindings(
		mk(schemas.CheckHeadings, "headings timed out"),
		mk(schemas.CheckContrast, "contrast timed out"),
		// Same rule as the first; the description is per occurrence.
		mk(schemas.CheckHeadings, "headings failed differently"),
		mk(schemas.CheckTabOrder, "walk lost focus"),
		// Guideline order does not matter.
		mk(schemas.CheckCapabilities, "probe", "1.3.1", "2.4.6"),
		mk(schemas.CheckCapabilities, "probe", "2.4.6", "1.3.1"),
	)
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 6)
	require.Len(t, run.Tool.Driver.Rules, 4)

	ids := make([]string, len(run.Results))
	for i, r := range run.Results {
		ids[i] = r.RuleID
	}
	assert.Equal(t, []string{
		"PAGEPROBE-CHECK-INCOMPLETE",
		"PAGEPROBE-CHECK-INCOMPLETE-1",
		"PAGEPROBE-CHECK-INCOMPLETE",
		"PAGEPROBE-CHECK-INCOMPLETE-2",
		"PAGEPROBE-CHECK-INCOMPLETE-3",
		"PAGEPROBE-CHECK-INCOMPLETE-3",
	}, ids)
}

// TestSARIFReporter_RuleIDSanitization tests the cleaning and normalization of rule names.
func TestSARIFReporter_RuleIDSanitization(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	tests := []struct {
		rule       string
		expectedID string
	}{
		{"Simple", "PAGEPROBE-SIMPLE"},
		{"Page <html> has a lang attribute", "PAGEPROBE-PAGE-HTML-HAS-A-LANG-ATTRIBUTE"},
		{"!Leading/Trailing!", "PAGEPROBE-LEADING-TRAILING"},
		{"Mixed.Case_Test-1", "PAGEPROBE-MIXED.CASE_TEST-1"},
		{"", "PAGEPROBE-UNNAMED-FINDING"},
		{"!@#", "PAGEPROBE-UNKNOWN-FINDING"},
		{"Type-A--Sub-Type-B", "PAGEPROBE-TYPE-A-SUB-TYPE-B"},
	}

	for i, tt := range tests {
		// Distinct recommendations keep the fingerprints apart.
		reporter.AddFindings(schemas.Finding{Rule: tt.rule, Recommendation: fmt.Sprintf("case %d", i)})
	}
	require.NoError(t, reporter.Close())

	log := decodeSARIF(t, writer)
	require.Len(t, log.Runs[0].Results, len(tests))
	for i, tt := range tests {
		assert.Equal(t, tt.expectedID, log.Runs[0].Results[i].RuleID, "case %d: %q", i, tt.rule)
	}
	assert.Len(t, log.Runs[0].Tool.Driver.Rules, len(tests))
}

func TestSARIFReporter_EmptyDescriptionFallsBackToRule(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	reporter.AddFindings(schemas.Finding{Rule: "Console Errors", Severity: schemas.SeverityLow})
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 1)
	assert.Equal(t, "Console Errors", *run.Results[0].Message.Text)
	assert.Equal(t, sarif.LevelNote, run.Results[0].Level)
}

// TestSARIFReporter_Concurrency ensures thread safety (run with `go test -race`).
func TestSARIFReporter_Concurrency(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	const numGoroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, reporter.Write(failingPage(fmt.Sprintf("https://%d.test/", id))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	assert.Len(t, run.Results, numGoroutines*3)
	// Deduplication holds under contention.
	assert.Len(t, run.Tool.Driver.Rules, 3)
}

func TestSARIFReporter_ErrorHandling(t *testing.T) {
	t.Run("Close Error", func(t *testing.T) {
		mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer), FailClose: true}
		reporter := reporting.NewSARIFReporter(mockWriter, zaptest.NewLogger(t), "v1.0.0-test")

		err := reporter.Close()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close output writer")
	})

	t.Run("Encode Error", func(t *testing.T) {
		// If the writer fails, encoding fails.
		mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer), FailWrite: true}
		reporter := reporting.NewSARIFReporter(mockWriter, zaptest.NewLogger(t), "v1.0.0-test")
		reporter.AddFindings(schemas.Finding{Description: "force write"})

		err := reporter.Close()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to encode SARIF output")
		assert.True(t, mockWriter.Closed, "writer is closed even when encoding fails")
	})
}

func TestSARIFReporter_SeverityLevels(t *testing.T) {
	tests := []struct {
		input schemas.Severity
		want  sarif.Level
	}{
		{schemas.SeverityCritical, sarif.LevelError},
		{schemas.SeverityHigh, sarif.LevelError},
		{schemas.SeverityMedium, sarif.LevelWarning},
		{schemas.SeverityLow, sarif.LevelNote},
		{schemas.SeverityInfo, sarif.LevelNote},
		{"unknown", sarif.LevelNote},
	}
	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			reporter, writer := setupSARIFTest(t)
			reporter.AddFindings(schemas.Finding{Rule: "r", Severity: tt.input})
			require.NoError(t, reporter.Close())
			assert.Equal(t, tt.want, decodeSARIF(t, writer).Runs[0].Results[0].Level)
		})
	}
}

// assertStrings compares a JSON-decoded []interface{} with expected strings.
func assertStrings(t *testing.T, expected []string, actual interface{}) {
	t.Helper()
	list, ok := actual.([]interface{})
	require.True(t, ok, "expected a slice, got %T", actual)
	got := make([]string, len(list))
	for i, v := range list {
		s, isString := v.(string)
		require.True(t, isString, "element expected to be string, got %T", v)
		got[i] = s
	}
	assert.ElementsMatch(t, expected, got)
}
