package buildgen

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const DefaultValidationConcurrency = 4

// ValidationResult is the outcome of checking one file.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator performs static checks on generated files. Implementations must be safe for concurrent use.
type Validator interface {
	// Supports reports whether path has an extension the validator understands.
	Supports(path string) bool
	Validate(content, path string) ValidationResult
	AutoFix(content string, errs []string) string
}

type validationOutcome struct {
	files    []GeneratedFile
	event    ValidationEvent
	warnings []string
	// details lists "<path>: <error>" for files still invalid after the auto-fix.
	details []string
}

type fileCheck struct {
	checked bool
	fixed   bool
	content string
	errs    []string
}

// validateFiles checks supported files concurrently, applies one auto-fix round and keeps results in file order.
func validateFiles(ctx context.Context, v Validator, files []GeneratedFile, limit int) (validationOutcome, error) {
	out := validationOutcome{event: ValidationEvent{TotalFiles: len(files)}}
	out.files = make([]GeneratedFile, len(files))
	copy(out.files, files)
	if v == nil || len(files) == 0 {
		return out, nil
	}
	if limit <= 0 {
		limit = DefaultValidationConcurrency
	}

	checks := make([]fileCheck, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, f := range files {
		if !v.Supports(f.Path) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			checks[i] = checkFile(v, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	for i, c := range checks {
		if !c.checked {
			continue
		}
		out.event.FilesValidated++
		if c.fixed {
			out.event.AutoFixed++
			out.files[i].Content = c.content
		}
		if len(c.errs) == 0 {
			continue
		}
		out.event.ErrorsFound += len(c.errs)
		out.warnings = append(out.warnings, fmt.Sprintf("%s: %s", files[i].Path, strings.Join(c.errs, "; ")))
		for _, e := range c.errs {
			out.details = append(out.details, files[i].Path+": "+e)
		}
	}
	return out, nil
}

func checkFile(v Validator, f GeneratedFile) fileCheck {
	res := v.Validate(f.Content, f.Path)
	if res.Valid {
		return fileCheck{checked: true, content: f.Content}
	}
	fixedContent := v.AutoFix(f.Content, res.Errors)
	if fixedContent == f.Content {
		return fileCheck{checked: true, content: f.Content, errs: nonEmptyErrors(res.Errors)}
	}
	again := v.Validate(fixedContent, f.Path)
	if again.Valid {
		return fileCheck{checked: true, fixed: true, content: fixedContent}
	}
	return fileCheck{checked: true, content: f.Content, errs: nonEmptyErrors(again.Errors)}
}

func nonEmptyErrors(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		out = append(out, "failed validation")
	}
	return out
}
