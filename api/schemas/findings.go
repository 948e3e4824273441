package schemas

import (
	"encoding/json"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of an audit finding, ranging from
// critical to informational. The values are lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical" // Blocks users outright, e.g. a keyboard trap.
	SeverityHigh     Severity = "high"     // A WCAG AA failure.
	SeverityMedium   Severity = "medium"   // A structural problem assistive technology trips over.
	SeverityLow      Severity = "low"      // Degraded experience or hygiene issue.
	SeverityInfo     Severity = "info"     // Informational, including incomplete checks.
)

// Rank orders severities; higher is worse. Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// IsError reports whether the severity fails a page.
func (s Severity) IsError() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

// Check names the audit section that produced a finding.
type Check string

const (
	CheckNavigation   Check = "navigation"
	CheckCapabilities Check = "capabilities"
	CheckHeadings     Check = "headings"
	CheckContrast     Check = "contrast"
	CheckTabOrder     Check = "tab_order"
	CheckConsole      Check = "console"
	CheckOffline      Check = "offline"
)

// Finding is a single problem identified by a page audit. It maps directly
// to the rows the reporters emit and the store persists.
type Finding struct {
	ID      string `json:"id"`       // Unique within a run.
	RunID   string `json:"run_id"`   // The batch run that produced this finding.
	AuditID string `json:"audit_id"` // The page audit that produced this finding.

	// ObservedAt is the timestamp when the page audit started.
	ObservedAt time.Time `json:"observed_at"`

	Target   string `json:"target"`             // The audited URL.
	Viewport string `json:"viewport,omitempty"` // WxH the page was rendered at.
	Check    Check  `json:"check"`

	// Rule is a short, stable name for the kind of problem (e.g. "Keyboard Trap").
	Rule string `json:"rule"`

	Severity    Severity `json:"severity"`
	Description string   `json:"description"`

	// Evidence provides structured, machine-readable detail for the finding.
	Evidence json.RawMessage `json:"evidence,omitempty"`

	Recommendation string `json:"recommendation"`
	// Guidelines lists WCAG 2.x success criteria, e.g. "2.1.2".
	Guidelines []string `json:"guidelines,omitempty"`
}
