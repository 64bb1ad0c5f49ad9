package buildgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/appforge/internal/ai"
	"github.com/floegence/appforge/internal/hostload"
)

// MaxExcerptRunes caps the response excerpt carried by an AttemptRecord and a retry instruction.
const MaxExcerptRunes = 2000

// AttemptRecord is the diagnostic trail of one provider call.
type AttemptRecord struct {
	ID           string             `json:"id"`
	BuildID      string             `json:"build_id"`
	Unit         int                `json:"unit"`
	Phase        *Phase             `json:"phase,omitempty"`
	Attempt      int                `json:"attempt"`
	Model        string             `json:"model,omitempty"`
	Budget       TokenBudget        `json:"budget"`
	Category     string             `json:"category,omitempty"`
	Error        string             `json:"error,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty"`
	FilesKept    int                `json:"files_kept"`
	Truncation   *TruncationInfo    `json:"truncation,omitempty"`
	Usage        ai.TurnUsage       `json:"usage"`
	HostLoad     *hostload.Snapshot `json:"host_load,omitempty"`
	Excerpt      string             `json:"excerpt,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// AttemptRecorder persists attempt diagnostics. Recording errors never fail a build.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

type Options struct {
	Provider ai.Provider
	Model    string
	// SystemPrompt replaces the built-in description of the delimited response format.
	SystemPrompt string

	Budgets BudgetTable
	// Tolerances nil means DefaultTruncationTolerances; a zero value is honored as zero slack.
	Tolerances            *TruncationTolerances
	Retry                 RetryPolicy
	Validator             Validator
	StrictValidation      bool
	ValidationConcurrency int
	ProgressInterval      time.Duration

	Recorder AttemptRecorder
	// HostLoad is sampled after transport and timeout failures.
	HostLoad func(ctx context.Context) hostload.Snapshot
	Logger   *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	NewID func() string
}

// BuildResult is the successful outcome of Run.
type BuildResult struct {
	BuildID      string            `json:"build_id"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Files        []GeneratedFile   `json:"files"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Setup        string            `json:"setup,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Truncation   TruncationInfo    `json:"truncation"`
	Usage        ai.TurnUsage      `json:"usage"`
	Attempts     int               `json:"attempts"`
}

// Pipeline drives build requests through budget selection, streaming, salvage and retries.
// One Pipeline may serve concurrent Run calls; each run owns its own state.
type Pipeline struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("missing provider")
	}
	if opts.Budgets == (BudgetTable{}) {
		opts.Budgets = DefaultBudgetTable()
	}
	if err := opts.Budgets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budgets: %w", err)
	}
	if opts.Tolerances == nil {
		def := DefaultTruncationTolerances()
		opts.Tolerances = &def
	} else {
		tol := *opts.Tolerances
		opts.Tolerances = &tol
	}
	if opts.Tolerances.Brace < 0 || opts.Tolerances.Tag < 0 {
		return nil, fmt.Errorf("invalid truncation tolerances %+v", *opts.Tolerances)
	}
	opts.Retry = opts.Retry.normalized()
	if opts.Retry.BaseDelay == 0 && opts.Retry.FixedDelay == 0 {
		def := DefaultRetryPolicy()
		opts.Retry.BaseDelay, opts.Retry.FixedDelay = def.BaseDelay, def.FixedDelay
	}
	if opts.ValidationConcurrency <= 0 {
		opts.ValidationConcurrency = DefaultValidationConcurrency
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{opts: opts, log: log}, nil
}

// Run executes req and reports progress to sink. sink receives exactly one terminal event.
func (p *Pipeline) Run(ctx context.Context, req BuildRequest, sink EventSink) (*BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	buildID := p.opts.NewID()
	guard := &terminalGuard{sink: sink, buildID: buildID}
	log := p.log.With("build_id", buildID)

	if req == nil {
		return nil, p.fail(guard, &Failure{Category: FailureMalformed, Err: errors.New("missing build request")})
	}
	if err := req.Validate(); err != nil {
		return nil, p.fail(guard, &Failure{Category: FailureMalformed, Err: fmt.Errorf("invalid build request: %w", err)})
	}

	units, base := planUnits(req)
	if len(units) > 1 {
		log.Info("phase split into sub-requests", "phase", formatPhaseNumber(units[0].phase.Number), "units", len(units))
	}

	res := &BuildResult{BuildID: buildID}
	var truncation *TruncationInfo
	for i := range units {
		u := units[i]
		u.index = i
		u.existing = mergeFiles(base, res.Files)

		out, attempts, usage, fail := p.runUnit(ctx, log, guard, u, len(res.Files))
		res.Usage = res.Usage.Add(usage)
		res.Attempts += attempts
		if fail != nil {
			return nil, p.fail(guard, fail)
		}

		res.Files = mergeFiles(res.Files, out.files)
		res.Warnings = append(res.Warnings, out.warnings...)
		if out.parsed.Name != "" && res.Name == "" {
			res.Name = out.parsed.Name
		}
		if out.parsed.Description != "" && res.Description == "" {
			res.Description = out.parsed.Description
		}
		if out.parsed.Setup != "" {
			res.Setup = joinNonEmpty(res.Setup, out.parsed.Setup)
		}
		for k, v := range out.parsed.Dependencies {
			if res.Dependencies == nil {
				res.Dependencies = map[string]string{}
			}
			res.Dependencies[k] = v
		}
		if out.truncation.IsTruncated && truncation == nil {
			t := out.truncation
			truncation = &t
		}
	}
	if truncation != nil {
		res.Truncation = *truncation
	}

	trunc := res.Truncation
	guard.Emit(Event{Type: EventComplete, Complete: &CompleteEvent{
		Files:        res.Files,
		Dependencies: res.Dependencies,
		Warnings:     res.Warnings,
		Truncation:   &trunc,
		Usage:        res.Usage,
		Attempts:     res.Attempts,
	}})
	log.Info("build complete", "files", len(res.Files), "attempts", res.Attempts, "warnings", len(res.Warnings),
		"input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
	return res, nil
}

func (p *Pipeline) fail(guard *terminalGuard, f *Failure) error {
	guard.Emit(Event{Type: EventError, Error: &ErrorEvent{
		Message:     f.Error(),
		Code:        f.Category.Code(),
		Recoverable: f.Category.Recoverable(),
	}})
	return f
}

// buildUnit is one provider-facing request: a whole request, or one child of a split phase.
type buildUnit struct {
	index      int
	prompt     string
	phase      *Phase
	complexity *PhaseComplexity
	existing   []GeneratedFile
}

func (u buildUnit) number() float64 {
	if u.phase == nil {
		return 1
	}
	return u.phase.Number
}

func planUnits(req BuildRequest) ([]buildUnit, []GeneratedFile) {
	switch r := req.(type) {
	case FullBuildRequest:
		return []buildUnit{{prompt: r.Prompt}}, nil
	case *FullBuildRequest:
		return []buildUnit{{prompt: r.Prompt}}, nil
	case *PhaseBuildRequest:
		return planUnits(*r)
	case PhaseBuildRequest:
		phases := Split(r.Phase)
		units := make([]buildUnit, 0, len(phases))
		for i := range phases {
			ph := phases[i]
			c := EstimateComplexity(ph)
			units = append(units, buildUnit{prompt: r.Prompt, phase: &ph, complexity: &c})
		}
		return units, r.ExistingFiles
	default:
		return nil, nil
	}
}

type attemptOutput struct {
	parsed       ParsedResponse
	files        []GeneratedFile
	truncation   TruncationInfo
	warnings     []string
	details      []string
	usage        ai.TurnUsage
	finishReason string
	text         string
}

func (p *Pipeline) runUnit(ctx context.Context, log *slog.Logger, guard *terminalGuard, u buildUnit, indexBase int) (attemptOutput, int, ai.TurnUsage, *Failure) {
	budget := p.opts.Budgets.Select(u.number(), u.complexity)
	var usage ai.TurnUsage
	instruction := ""
	for attempt := 1; ; attempt++ {
		var phase *Phase
		if u.phase != nil {
			ph := u.phase.clone()
			phase = &ph
		}
		guard.Emit(Event{Type: EventStart, Start: &StartEvent{
			Phase:       phase,
			Attempt:     attempt,
			MaxAttempts: p.opts.Retry.MaxAttempts,
			Budget:      budget,
			Model:       p.opts.Model,
		}})
		log.Info("build attempt started", "unit", u.index, "phase", formatPhaseNumber(u.number()), "attempt", attempt, "max_tokens", budget.MaxTokens)

		startedAt := p.opts.Now()
		out, fail := p.attempt(ctx, guard, u, budget, instruction, indexBase)
		usage = usage.Add(out.usage)

		rec := AttemptRecord{
			BuildID:      guard.buildID,
			Unit:         u.index,
			Phase:        phase,
			Attempt:      attempt,
			Model:        p.opts.Model,
			Budget:       budget,
			FinishReason: out.finishReason,
			FilesKept:    len(out.files),
			Usage:        out.usage,
			Excerpt:      truncateRunes(out.text, MaxExcerptRunes),
			StartedAt:    startedAt,
		}
		if out.truncation.IsTruncated {
			t := out.truncation
			rec.Truncation = &t
		}

		if fail == nil {
			p.record(ctx, log, rec)
			return out, attempt, usage, nil
		}

		rc := RetryContext{
			AttemptNumber:     attempt,
			Category:          fail.Category,
			PreviousError:     fail.Error(),
			OriginalResponse:  rec.Excerpt,
			ValidationDetails: out.details,
		}
		if (fail.Category == FailureTransport || fail.Category == FailureTimeout) && p.opts.HostLoad != nil {
			snap := p.opts.HostLoad(ctx)
			rc.HostLoad = &snap
			rec.HostLoad = &snap
		}
		rec.Category = fail.Category.Code()
		rec.Error = fail.Error()
		if fail.Category != FailureCanceled {
			p.record(ctx, log, rec)
		}

		decision := p.opts.Retry.Decide(rc)
		log.Warn("build attempt failed", "unit", u.index, "attempt", attempt, "category", fail.Category.Code(),
			"error", fail.Error(), "retry", decision.ShouldRetry, "delay", decision.Delay)
		if !decision.ShouldRetry {
			return attemptOutput{}, attempt, usage, fail
		}
		if fail.Category == FailureTruncated {
			budget = p.opts.Budgets.EscalateForTruncation(budget)
		}
		if err := p.opts.Sleep(ctx, decision.Delay); err != nil {
			return attemptOutput{}, attempt, usage, &Failure{Category: FailureCanceled, Err: err}
		}
		instruction = decision.Instruction
	}
}

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, rec AttemptRecord) {
	if p.opts.Recorder == nil {
		return
	}
	rec.ID = p.opts.NewID()
	rec.FinishedAt = p.opts.Now()
	if err := p.opts.Recorder.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record attempt failed", "attempt", rec.Attempt, "error", err)
	}
}

func (p *Pipeline) attempt(ctx context.Context, guard *terminalGuard, u buildUnit, budget TokenBudget, instruction string, indexBase int) (attemptOutput, *Failure) {
	var out attemptOutput
	tol := *p.opts.Tolerances

	actx, cancel := context.WithTimeout(ctx, budget.Timeout())
	defer cancel()

	consumer := newStreamConsumer(actx, streamConsumerOptions{
		Emit:             guard.Emit,
		Now:              p.opts.Now,
		Deadline:         p.opts.Now().Add(budget.Timeout()),
		ProgressInterval: p.opts.ProgressInterval,
		IndexBase:        indexBase,
	})
	thinking := &thinkingRelay{emit: guard.Emit, now: p.opts.Now, interval: p.opts.ProgressInterval}

	turn := ai.TurnRequest{
		Model: p.opts.Model,
		Messages: []ai.Message{
			ai.SystemMessage(p.opts.SystemPrompt),
			ai.UserMessage(buildUserPrompt(u, instruction)),
		},
		MaxOutputTokens:      budget.MaxTokens,
		ThinkingBudgetTokens: budget.ThinkingBudget,
	}
	res, err := p.opts.Provider.StreamTurn(actx, turn, func(ev ai.StreamEvent) {
		switch ev.Type {
		case ai.StreamEventTextDelta:
			if consumer.Feed(ev.Text) != nil {
				cancel()
			}
		case ai.StreamEventThinkingDelta:
			if !consumer.stopped {
				thinking.add(ev.Text)
			}
		}
	})
	out.usage = res.Usage
	out.finishReason = res.FinishReason
	out.text = consumer.Text()

	if cerr := consumer.Err(); cerr != nil {
		err = cerr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		fail := classifyTransportError(ctx, err)
		if fail.Category == FailureTimeout && !errors.Is(err, ErrStreamTimeout) {
			fail.Err = fmt.Errorf("%w after %s: %v", ErrStreamTimeout, budget.Timeout(), err)
		}
		if fail.Category != FailureCanceled {
			consumer.Finish()
		}
		return out, fail
	}
	thinking.flush(p.opts.Now())
	consumer.Finish()

	if strings.TrimSpace(out.text) == "" {
		if res.FinishReason == ai.FinishReasonContentFilter {
			return out, newFailure(FailureMalformed, "provider refused the request (finish reason %s)", res.FinishReason)
		}
		return out, newFailure(FailureEmpty, "provider returned an empty response (finish reason %s)", res.FinishReason)
	}
	if res.FinishReason == ai.FinishReasonContentFilter {
		return out, newFailure(FailureMalformed, "provider stopped the response with a content filter")
	}

	parsed, perr := ParseResponse(out.text)
	switch {
	case errors.Is(perr, ErrUnsafePath):
		return out, &Failure{Category: FailureMalformed, Err: perr}
	case perr != nil:
		return out, newFailure(FailureParse, "%w (%d chars received)", perr, len(out.text))
	}
	out.parsed = parsed

	info, files := DetectTruncation(out.text, parsed.Files, tol)
	if !info.IsTruncated {
		info, files = TruncateAtLastFile(files, res.FinishReason, tol)
	}
	out.truncation = info
	if info.IsTruncated && len(files) == 0 {
		return out, newFailure(FailureTruncated, "response truncated with no salvageable files: %s", info.Reason)
	}

	vo, verr := validateFiles(ctx, p.opts.Validator, files, p.opts.ValidationConcurrency)
	if verr != nil {
		return out, classifyTransportError(ctx, verr)
	}
	if p.opts.Validator != nil {
		ev := vo.event
		guard.Emit(Event{Type: EventValidation, Validation: &ev})
	}
	out.files = vo.files
	out.warnings = vo.warnings
	out.details = vo.details
	if info.IsTruncated {
		out.warnings = append(out.warnings, fmt.Sprintf("response truncated (%s); kept %d of %d files",
			info.Reason, len(files), len(parsed.Files)))
	}
	if p.opts.StrictValidation && len(vo.details) > 0 {
		return out, newFailure(FailureValidation, "%d validation errors remain after auto-fix", len(vo.details))
	}
	return out, nil
}

// thinkingRelay forwards reasoning text at most once per interval.
type thinkingRelay struct {
	emit     func(Event)
	now      func() time.Time
	interval time.Duration

	pending strings.Builder
	total   int
	last    time.Time
}

func (r *thinkingRelay) add(text string) {
	if text == "" {
		return
	}
	r.pending.WriteString(text)
	r.total += len(text)
	now := r.now()
	if r.last.IsZero() || now.Sub(r.last) >= r.interval {
		r.flush(now)
	}
}

func (r *thinkingRelay) flush(now time.Time) {
	if r.pending.Len() == 0 {
		return
	}
	r.emit(Event{Type: EventThinking, Thinking: &ThinkingEvent{Text: r.pending.String(), TotalChars: r.total}})
	r.pending.Reset()
	r.last = now
}

// mergeFiles returns base with next applied: same paths are replaced in place, new paths appended.
func mergeFiles(base, next []GeneratedFile) []GeneratedFile {
	out := make([]GeneratedFile, 0, len(base)+len(next))
	out = append(out, base...)
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Path] = i
	}
	for _, f := range next {
		if at, ok := index[f.Path]; ok {
			out[at] = f
			continue
		}
		index[f.Path] = len(out)
		out = append(out, f)
	}
	return out
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
