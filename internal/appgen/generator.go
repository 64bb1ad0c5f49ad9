package appgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/appforge/internal/buildgen"
	"github.com/floegence/appforge/internal/lockfile"
)

// Runner executes one build request. *buildgen.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req buildgen.BuildRequest, sink buildgen.EventSink) (*buildgen.BuildResult, error)
}

type Options struct {
	Runner     Runner
	OutputRoot string
	Model      string
	// Sink receives every pipeline event of every phase. Each phase ends with its own terminal event.
	Sink   buildgen.EventSink
	Logger *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Generate builds every phase of plan in order and writes generated files under opts.OutputRoot.
//
// Phases already marked complete in an existing report are not rebuilt; their files are read back from
// disk and passed to later phases. A failed phase is left pending and stops the run.
func Generate(ctx context.Context, plan *Plan, opts Options) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if opts.Runner == nil {
		return nil, errors.New("missing runner")
	}
	root := strings.TrimSpace(opts.OutputRoot)
	if root == "" {
		return nil, errors.New("missing output root")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Sink == nil {
		opts.Sink = buildgen.EventSinkFunc(func(buildgen.Event) {})
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	runID := opts.NewID()
	lock, err := lockfile.AcquireDir(root, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	prev, err := loadReport(root)
	if err != nil {
		return nil, err
	}

	g := &generator{opts: opts, root: root, log: log.With("run_id", runID)}
	g.report = &Report{
		SchemaVersion: reportSchemaVersion,
		PlanName:      plan.Name,
		Model:         opts.Model,
		RunID:         runID,
	}

	phases := plan.Phases
	if len(phases) == 0 {
		phases = []buildgen.Phase{{Number: 0, Name: "full build"}}
	}
	for _, ph := range phases {
		pr := PhaseReport{Number: ph.Number, Name: ph.Name, Status: buildgen.PhaseStatusPending}
		if prev != nil {
			if pp := prev.phase(ph.Number); pp != nil && pp.Status == buildgen.PhaseStatusComplete && pp.Name == ph.Name {
				pr = *pp
				g.reuse(pp)
			}
		}
		g.report.Phases = append(g.report.Phases, pr)
	}
	if prev != nil {
		g.report.Dependencies = prev.Dependencies
		g.report.Setup = prev.Setup
	}
	if err := g.save(); err != nil {
		return nil, err
	}

	for i, ph := range phases {
		if g.report.Phases[i].Status == buildgen.PhaseStatusComplete {
			g.log.Info("phase already complete", "phase", ph.Number, "name", ph.Name)
			continue
		}
		var req buildgen.BuildRequest
		if len(plan.Phases) == 0 {
			req = buildgen.FullBuildRequest{Prompt: plan.Prompt}
		} else {
			req = buildgen.PhaseBuildRequest{
				Prompt:        plan.Prompt,
				Phase:         ph,
				ExistingFiles: append([]buildgen.GeneratedFile(nil), g.existing...),
			}
		}
		if err := g.runPhase(ctx, i, req); err != nil {
			return g.report, fmt.Errorf("phase %v (%s): %w", ph.Number, ph.Name, err)
		}
	}
	return g.report, nil
}

type generator struct {
	opts     Options
	root     string
	log      *slog.Logger
	report   *Report
	existing []buildgen.GeneratedFile
}

func (g *generator) save() error {
	g.report.UpdatedAt = g.opts.Now().UTC().Format(time.RFC3339)
	return saveReport(g.root, g.report)
}

func (g *generator) runPhase(ctx context.Context, idx int, req buildgen.BuildRequest) error {
	pr := &g.report.Phases[idx]
	pr.Status = buildgen.PhaseStatusBuilding
	pr.Error = ""
	if err := g.save(); err != nil {
		return err
	}

	started := g.opts.Now()
	res, err := g.opts.Runner.Run(ctx, req, g.opts.Sink)
	if err != nil {
		pr.Status = buildgen.PhaseStatusPending
		pr.Error = err.Error()
		if saveErr := g.save(); saveErr != nil {
			g.log.Warn("save report failed", "error", saveErr)
		}
		return err
	}

	written, warnings, err := writeFiles(g.root, res.Files)
	if err != nil {
		pr.Status = buildgen.PhaseStatusPending
		pr.Error = err.Error()
		_ = g.save()
		return err
	}
	g.existing = mergeFiles(g.existing, res.Files)

	pr.Status = buildgen.PhaseStatusComplete
	pr.BuildID = res.BuildID
	pr.Files = written
	pr.Attempts = res.Attempts
	pr.Warnings = append(append([]string(nil), res.Warnings...), warnings...)
	g.report.Usage = g.report.Usage.Add(res.Usage)
	if len(res.Dependencies) > 0 && g.report.Dependencies == nil {
		g.report.Dependencies = make(map[string]string, len(res.Dependencies))
	}
	for name, ver := range res.Dependencies {
		g.report.Dependencies[name] = ver
	}
	if s := strings.TrimSpace(res.Setup); s != "" {
		g.report.Setup = append(g.report.Setup, s)
	}

	g.log.Info("phase complete",
		"phase", pr.Number,
		"build_id", res.BuildID,
		"files", len(written),
		"attempts", res.Attempts,
		"elapsed_ms", g.opts.Now().Sub(started).Milliseconds(),
	)
	return g.save()
}

// reuse reloads the files of a phase finished by an earlier run.
func (g *generator) reuse(pp *PhaseReport) {
	files := make([]buildgen.GeneratedFile, 0, len(pp.Files))
	for _, p := range pp.Files {
		b, err := os.ReadFile(filepath.Join(g.root, filepath.FromSlash(p)))
		if err != nil {
			g.log.Warn("previously generated file unreadable", "phase", pp.Number, "path", p, "error", err)
			continue
		}
		files = append(files, buildgen.GeneratedFile{Path: p, Content: string(b)})
	}
	g.existing = mergeFiles(g.existing, files)
}

func isReservedPath(p string) bool {
	switch strings.TrimSuffix(p, ".tmp") {
	case ReportFileName, lockfile.FileName:
		return true
	}
	return false
}

// writeFiles writes files under root and returns the paths written in order.
func writeFiles(root string, files []buildgen.GeneratedFile) ([]string, []string, error) {
	written := make([]string, 0, len(files))
	var warnings []string
	for _, f := range files {
		rel, err := buildgen.NormalizeFilePath(f.Path)
		if err != nil {
			return written, warnings, err
		}
		if isReservedPath(rel) {
			warnings = append(warnings, fmt.Sprintf("%s: reserved file name, not written", rel))
			continue
		}
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if r, err := filepath.Rel(root, dst); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return written, warnings, fmt.Errorf("%w: %q escapes the output root", buildgen.ErrUnsafePath, f.Path)
		}
		if err := writeFileAtomic(dst, []byte(f.Content), 0o644); err != nil {
			return written, warnings, fmt.Errorf("write %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	return written, warnings, nil
}

// mergeFiles replaces files with the same path and appends new ones.
func mergeFiles(dst []buildgen.GeneratedFile, src []buildgen.GeneratedFile) []buildgen.GeneratedFile {
	index := make(map[string]int, len(dst))
	for i, f := range dst {
		index[f.Path] = i
	}
	for _, f := range src {
		if i, ok := index[f.Path]; ok {
			dst[i] = f
			continue
		}
		index[f.Path] = len(dst)
		dst = append(dst, f)
	}
	return dst
}
