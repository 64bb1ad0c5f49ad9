package buildgen

import (
	"errors"
	"fmt"
	"strings"
)

// BuildRequest is implemented only by FullBuildRequest and PhaseBuildRequest.
type BuildRequest interface {
	Validate() error
	isBuildRequest()
}

// FullBuildRequest asks for a complete application in one build unit.
type FullBuildRequest struct {
	Prompt string `json:"prompt"`
}

// PhaseBuildRequest asks for one phase of a plan on top of files produced by earlier phases.
type PhaseBuildRequest struct {
	Prompt        string          `json:"prompt"`
	Phase         Phase           `json:"phase"`
	ExistingFiles []GeneratedFile `json:"existing_files,omitempty"`
}

func (FullBuildRequest) isBuildRequest()  {}
func (PhaseBuildRequest) isBuildRequest() {}

func (r FullBuildRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("missing prompt")
	}
	return nil
}

func (r PhaseBuildRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("missing prompt")
	}
	if r.Phase.Number <= 0 {
		return fmt.Errorf("invalid phase number %v", r.Phase.Number)
	}
	if strings.TrimSpace(r.Phase.Name) == "" {
		return fmt.Errorf("phase %v: missing name", r.Phase.Number)
	}
	for i, f := range r.ExistingFiles {
		if _, err := NormalizeFilePath(f.Path); err != nil {
			return fmt.Errorf("existing_files[%d]: %w", i, err)
		}
	}
	return nil
}
