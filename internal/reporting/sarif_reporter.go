// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/audit"
	"github.com/xkilldash9x/pageprobe/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "pageprobe"
	ToolInfoURI  = "https://github.com/xkilldash9x/pageprobe"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	wcagBaseURI = "https://www.w3.org/WAI/WCAG21/Understanding/"
)

// ruleIDSanitizer replaces characters not typically safe or allowed in SARIF Rule IDs.
// Alphanumerics, underscore and dot survive; every other run collapses to one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint is used to uniquely identify a rule definition based on its content.
type RuleFingerprint string

// calculateFingerprint hashes the characteristics that define a rule. The
// per-page description is deliberately left out so every page reporting the
// same problem shares one rule.
func calculateFingerprint(finding schemas.Finding) RuleFingerprint {
	// Sort guidelines to ensure consistent hashing regardless of input order.
	sortedGuidelines := append([]string(nil), finding.Guidelines...)
	sort.Strings(sortedGuidelines)

	data := struct {
		Check          schemas.Check
		Rule           string
		Recommendation string
		Guidelines     []string
	}{
		Check:          finding.Check,
		Rule:           finding.Rule,
		Recommendation: finding.Recommendation,
		Guidelines:     sortedGuidelines,
	}

	h := sha1.New()
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// resultFingerprint identifies one occurrence so SARIF consumers can track
// it across runs.
func resultFingerprint(f schemas.Finding) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", f.Target, f.Viewport, f.Check, f.Rule, f.Description)
	return hex.EncodeToString(h.Sum(nil))
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu sync.Mutex
	// rulesByFingerprint maps a content fingerprint to the generated Rule ID.
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage tracks how many times a base Rule ID has been used, to handle collisions.
	ruleIDUsage map[string]int
	incomplete  bool
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, logger *zap.Logger, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger.Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts a page report's findings into SARIF results and adds them to the log.
func (r *SARIFReporter) Write(report *audit.Report) error {
	startTime := time.Now()
	findings := report.Findings()

	if report.Incomplete() {
		r.mu.Lock()
		r.incomplete = true
		r.mu.Unlock()
	}
	r.AddFindings(findings...)

	if len(findings) > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.String("target", report.Target),
			zap.Int("findings_count", len(findings)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// AddFindings appends findings to the log, registering rules as needed.
func (r *SARIFReporter) AddFindings(findings ...schemas.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, finding := range findings {
		ruleID := r.ensureRule(finding)

		messageText := finding.Description
		if messageText == "" {
			messageText = finding.Rule
		}

		props := sarif.PropertyBag{
			"check":    string(finding.Check),
			"severity": string(finding.Severity),
			"auditId":  finding.AuditID,
		}
		if finding.Viewport != "" {
			props["viewport"] = finding.Viewport
		}
		if len(finding.Evidence) > 0 {
			props["evidence"] = finding.Evidence
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:              ruleID,
			Message:             &sarif.Message{Text: pString(messageText)},
			Level:               mapSeverityToSARIFLevel(finding.Severity),
			Locations:           r.createLocations(finding),
			PartialFingerprints: map[string]string{"pageFinding/v1": resultFingerprint(finding)},
			Properties:          &props,
		})
	}
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.Invocations = []*sarif.Invocation{{ExecutionSuccessful: !r.incomplete}}

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		// Prioritize the encoding error as it indicates corrupted/incomplete output.
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report", zap.Duration("duration_ms", time.Since(startTime)))
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func (r *SARIFReporter) sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-FINDING"
	}
	sanitizedName := strings.ToUpper(name)
	sanitizedName = ruleIDSanitizer.ReplaceAllString(sanitizedName, "-")
	sanitizedName = strings.Trim(sanitizedName, "-")
	if sanitizedName == "" {
		return "UNKNOWN-FINDING"
	}
	return sanitizedName
}

// ensureRule ensures a unique rule definition exists for the finding and returns its ID.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(finding schemas.Finding) string {
	fingerprint := calculateFingerprint(finding)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "PAGEPROBE-" + r.sanitizeRuleName(finding.Rule)

	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}

	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", finalRuleID))

	var refs []string
	for _, g := range finding.Guidelines {
		refs = append(refs, "WCAG "+g)
	}
	markdownHelp := fmt.Sprintf("**Check:** %s\n\n**Recommendation:**\n%s", finding.Check, finding.Recommendation)
	if len(refs) > 0 {
		markdownHelp += "\n\n**Success criteria:** " + strings.Join(refs, ", ")
	}

	newRule := &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(finding.Rule),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(finding.Rule)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(finding.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(finding.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":       append([]string{"accessibility", string(finding.Check)}, refs...),
			"precision":  precisionFor(finding),
			"guidelines": finding.Guidelines,
		},
	}
	if len(finding.Guidelines) > 0 {
		newRule.HelpURI = pString(wcagBaseURI)
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, newRule)
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

// precisionFor marks heuristic checks as such.
func precisionFor(f schemas.Finding) string {
	if f.Check == schemas.CheckTabOrder {
		return "medium"
	}
	return "high"
}

// createLocations converts finding details into SARIF location objects.
func (r *SARIFReporter) createLocations(finding schemas.Finding) []*sarif.Location {
	msgText := "Found at " + finding.Target
	if finding.Viewport != "" {
		msgText += " (" + finding.Viewport + ")"
	}
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(finding.Target)},
		},
		Message: &sarif.Message{Text: pString(msgText)},
	}}
}

// mapSeverityToSARIFLevel converts a finding severity to the SARIF standard.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
