// Package buildgen orchestrates multi-turn generation of an application source tree from a streaming LLM.
//
// A build request flows front-to-back through: budget selection, complexity estimation (with an optional
// split into smaller phases), incremental stream consumption, truncation detection and salvage, and a
// bounded retry loop with per-category corrective instructions.
package buildgen

import (
	"strings"
)

type PhaseStatus string

const (
	PhaseStatusPending  PhaseStatus = "pending"
	PhaseStatusBuilding PhaseStatus = "building"
	PhaseStatusComplete PhaseStatus = "complete"
)

// Phase is one step of a multi-phase build plan.
//
// Number may be fractional once a phase has been split (2, 2.1, 2.2, ...); it always orders phases.
type Phase struct {
	Number      float64     `json:"number" yaml:"number"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Features    []string    `json:"features,omitempty" yaml:"features"`
	Status      PhaseStatus `json:"status,omitempty" yaml:"status"`

	// SplitFrom is the parent phase number when this phase was produced by Split. Split phases are never split again.
	SplitFrom *float64 `json:"split_from,omitempty" yaml:"split_from,omitempty"`
}

func (p Phase) clone() Phase {
	out := p
	if p.Features != nil {
		out.Features = make([]string, len(p.Features))
		copy(out.Features, p.Features)
	}
	if p.SplitFrom != nil {
		v := *p.SplitFrom
		out.SplitFrom = &v
	}
	return out
}

type GeneratedFile struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

func filePaths(files []GeneratedFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "\n... (truncated)"
}

func fileExt(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	slash := strings.LastIndexAny(path, "/\\")
	dot := strings.LastIndex(path, ".")
	if dot < 0 || dot < slash {
		return ""
	}
	return path[dot:]
}
