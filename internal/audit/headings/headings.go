// Package headings checks the document outline for WCAG heading structure
// problems.
package headings

import (
	"fmt"
	"strings"
)

// Node is one heading in document order.
type Node struct {
	Level   int    `json:"level"`
	Text    string `json:"text"`
	IsEmpty bool   `json:"isEmpty"`
}

// empty treats a node as empty when flagged so or when its text is blank.
func (n Node) empty() bool {
	return n.IsEmpty || strings.TrimSpace(n.Text) == ""
}

// IssueKind tags the Issue variant.
type IssueKind string

const (
	MissingH1    IssueKind = "missing_h1"
	MultipleH1   IssueKind = "multiple_h1"
	SkippedLevel IssueKind = "skipped_level"
	EmptyHeading IssueKind = "empty_heading"
)

// Issue is a heading structure violation. Which fields are set depends on
// Kind: Count for MultipleH1; From, To and Text for SkippedLevel; Level for
// EmptyHeading. Position is the 1-based index of the offending node and is
// zero for the document-level H1 issues.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Count    int       `json:"count,omitempty"`
	From     int       `json:"from,omitempty"`
	To       int       `json:"to,omitempty"`
	Level    int       `json:"level,omitempty"`
	Position int       `json:"position,omitempty"`
	Text     string    `json:"text,omitempty"`
}

// Message renders the issue for humans.
func (i Issue) Message() string {
	switch i.Kind {
	case MissingH1:
		return "page has no H1 heading"
	case MultipleH1:
		return fmt.Sprintf("page has %d H1 headings, expected exactly one", i.Count)
	case SkippedLevel:
		return fmt.Sprintf("heading level skips from H%d to H%d at %q (position %d)", i.From, i.To, i.Text, i.Position)
	case EmptyHeading:
		return fmt.Sprintf("H%d at position %d has no text", i.Level, i.Position)
	default:
		return string(i.Kind)
	}
}

// Filter reports whether a node counts toward the single-H1 rule. A nil
// Filter keeps every node.
type Filter func(Node) bool

// Validate checks nodes in a single pass. The filter only affects the H1
// count; empty and skipped-level checks see the full sequence. Issues come
// back with the H1 rule first, then per-node issues in document order.
func Validate(nodes []Node, filter Filter) []Issue {
	var (
		h1Count int
		perNode []Issue
	)
	for i, n := range nodes {
		if n.Level == 1 && (filter == nil || filter(n)) {
			h1Count++
		}
		pos := i + 1
		if n.empty() {
			perNode = append(perNode, Issue{Kind: EmptyHeading, Level: n.Level, Position: pos})
		}
		if i > 0 {
			prev := nodes[i-1]
			if n.Level > prev.Level+1 {
				perNode = append(perNode, Issue{
					Kind:     SkippedLevel,
					From:     prev.Level,
					To:       n.Level,
					Position: pos,
					Text:     strings.TrimSpace(n.Text),
				})
			}
		}
	}

	var issues []Issue
	switch {
	case h1Count == 0:
		issues = append(issues, Issue{Kind: MissingH1})
	case h1Count > 1:
		issues = append(issues, Issue{Kind: MultipleH1, Count: h1Count})
	}
	return append(issues, perNode...)
}
