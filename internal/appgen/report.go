package appgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/floegence/appforge/internal/ai"
	"github.com/floegence/appforge/internal/buildgen"
)

// ReportFileName is written at the output root and updated after every phase transition.
const ReportFileName = "appforge-report.json"

const reportSchemaVersion = 1

type Report struct {
	SchemaVersion int               `json:"schema_version"`
	PlanName      string            `json:"plan_name,omitempty"`
	Model         string            `json:"model,omitempty"`
	RunID         string            `json:"run_id"`
	UpdatedAt     string            `json:"updated_at"`
	Phases        []PhaseReport     `json:"phases"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
	Setup         []string          `json:"setup,omitempty"`
	Usage         ai.TurnUsage      `json:"usage"`
}

// PhaseReport tracks one plan phase. A full build without phases is recorded as number 0.
type PhaseReport struct {
	Number   float64              `json:"number"`
	Name     string               `json:"name"`
	Status   buildgen.PhaseStatus `json:"status"`
	BuildID  string               `json:"build_id,omitempty"`
	Files    []string             `json:"files,omitempty"`
	Attempts int                  `json:"attempts,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func (r *Report) phase(number float64) *PhaseReport {
	for i := range r.Phases {
		if r.Phases[i].Number == number {
			return &r.Phases[i]
		}
	}
	return nil
}

// loadReport returns the report left by a previous run, or nil when there is none.
func loadReport(outputRoot string) (*Report, error) {
	b, err := os.ReadFile(filepath.Join(outputRoot, ReportFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ReportFileName, err)
	}
	return &r, nil
}

func saveReport(outputRoot string, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(outputRoot, ReportFileName), append(b, '\n'), 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
