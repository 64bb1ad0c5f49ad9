// Package appgen drives a whole build plan through the generation pipeline and writes the result to disk.
package appgen

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/floegence/appforge/internal/buildgen"
)

// Plan is the YAML description of an application build.
//
//	name: todo-app
//	prompt: A todo list with tags and due dates.
//	phases:
//	  - number: 1
//	    name: Foundation
//	    features: [project scaffold, task list]
//
// A plan without phases is generated as a single full build.
type Plan struct {
	Name   string           `yaml:"name" json:"name"`
	Prompt string           `yaml:"prompt" json:"prompt"`
	Phases []buildgen.Phase `yaml:"phases" json:"phases,omitempty"`
}

func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(b)
}

// ParsePlan decodes and validates a plan, returning its phases in number order.
func ParsePlan(raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	sort.SliceStable(p.Phases, func(i, j int) bool { return p.Phases[i].Number < p.Phases[j].Number })
	for i := range p.Phases {
		if p.Phases[i].Status == "" {
			p.Phases[i].Status = buildgen.PhaseStatusPending
		}
	}
	return &p, nil
}

func (p *Plan) Validate() error {
	if p == nil {
		return errors.New("nil plan")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return errors.New("missing prompt")
	}
	seen := make(map[float64]struct{}, len(p.Phases))
	for i, ph := range p.Phases {
		if ph.Number <= 0 {
			return fmt.Errorf("phases[%d]: invalid number %v", i, ph.Number)
		}
		if strings.TrimSpace(ph.Name) == "" {
			return fmt.Errorf("phases[%d]: missing name", i)
		}
		if _, ok := seen[ph.Number]; ok {
			return fmt.Errorf("phases[%d]: duplicate number %v", i, ph.Number)
		}
		seen[ph.Number] = struct{}{}
		switch ph.Status {
		case "", buildgen.PhaseStatusPending, buildgen.PhaseStatusBuilding, buildgen.PhaseStatusComplete:
		default:
			return fmt.Errorf("phases[%d]: invalid status %q", i, ph.Status)
		}
	}
	return nil
}

// PhaseEstimate is the dry-run view of one plan phase.
type PhaseEstimate struct {
	Phase      buildgen.Phase           `json:"phase"`
	Complexity buildgen.PhaseComplexity `json:"complexity"`
	Budget     buildgen.TokenBudget     `json:"budget"`
	Split      []buildgen.Phase         `json:"split,omitempty"`
}

// Estimate reports complexity, budget and proposed split for each phase without calling a provider.
func Estimate(p *Plan, budgets buildgen.BudgetTable) []PhaseEstimate {
	if p == nil {
		return nil
	}
	out := make([]PhaseEstimate, 0, len(p.Phases))
	for i, ph := range p.Phases {
		c := buildgen.EstimateComplexity(ph)
		est := PhaseEstimate{Phase: ph, Complexity: c, Budget: budgets.Select(ph.Number, &c)}
		if c.ShouldSplit {
			var next float64
			if i+1 < len(p.Phases) {
				next = p.Phases[i+1].Number
			}
			est.Split = buildgen.SplitBelow(ph, next)
		}
		out = append(out, est)
	}
	return out
}
