// Package probes runs typed feature-detection checks inside a page.
package probes

import (
	"errors"
	"fmt"
	"strings"
)

// Probe binds a report name to a registered kind.
type Probe struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Set is an immutable, ordered list of probes with unique names.
type Set struct {
	probes []Probe
}

// Probes returns a copy of the probes in insertion order.
func (s Set) Probes() []Probe {
	return append([]Probe(nil), s.probes...)
}

func (s Set) Len() int { return len(s.probes) }

// Builder accumulates probes. Errors surface from Build.
type Builder struct {
	probes []Probe
}

// NewSet starts an empty builder.
func NewSet() *Builder {
	return &Builder{}
}

// Add appends a probe.
func (b *Builder) Add(name string, kind Kind) *Builder {
	b.probes = append(b.probes, Probe{Name: name, Kind: kind})
	return b
}

// AddKinds appends kinds under their own names.
func (b *Builder) AddKinds(kinds ...Kind) *Builder {
	for _, k := range kinds {
		b.Add(string(k), k)
	}
	return b
}

// AddDefaults appends every registered kind, named after itself, that the
// builder does not already hold under that name.
func (b *Builder) AddDefaults() *Builder {
	have := make(map[string]bool, len(b.probes))
	for _, p := range b.probes {
		have[p.Name] = true
	}
	for _, k := range Kinds() {
		if !have[string(k)] {
			b.Add(string(k), k)
		}
	}
	return b
}

// Build validates names and kinds and freezes the set.
func (b *Builder) Build() (Set, error) {
	var errs []error
	seen := make(map[string]bool, len(b.probes))
	for _, p := range b.probes {
		switch {
		case strings.TrimSpace(p.Name) == "":
			errs = append(errs, fmt.Errorf("probe of kind %q has an empty name", p.Kind))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("duplicate probe name %q", p.Name))
		}
		seen[p.Name] = true
		if _, ok := Lookup(p.Kind); !ok {
			errs = append(errs, fmt.Errorf("probe %q: unknown kind %q", p.Name, p.Kind))
		}
	}
	if len(errs) > 0 {
		return Set{}, errors.Join(errs...)
	}
	return Set{probes: append([]Probe(nil), b.probes...)}, nil
}

// FromNames builds a set from configuration. An empty list selects every
// registered probe.
func FromNames(names []string) (Set, error) {
	b := NewSet()
	if len(names) == 0 {
		return b.AddDefaults().Build()
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		b.Add(n, Kind(n))
	}
	return b.Build()
}
