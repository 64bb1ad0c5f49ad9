package buildgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/floegence/appforge/internal/ai"
	"github.com/floegence/appforge/internal/hostload"
)

type scriptedTurn struct {
	thinking  []string
	fragments []string
	finish    string
	usage     ai.TurnUsage
	err       error
	// wait blocks the turn until ctx is done.
	wait bool
}

type fakeProvider struct {
	mu       sync.Mutex
	script   []scriptedTurn
	requests []ai.TurnRequest
}

func (p *fakeProvider) StreamTurn(ctx context.Context, req ai.TurnRequest, onEvent func(ai.StreamEvent)) (ai.TurnResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()
	if n > len(p.script) {
		return ai.TurnResult{}, fmt.Errorf("unexpected call %d", n)
	}
	turn := p.script[n-1]

	for _, th := range turn.thinking {
		onEvent(ai.StreamEvent{Type: ai.StreamEventThinkingDelta, Text: th})
	}
	var text strings.Builder
	for _, frag := range turn.fragments {
		if err := ctx.Err(); err != nil {
			return ai.TurnResult{Text: text.String()}, err
		}
		text.WriteString(frag)
		onEvent(ai.StreamEvent{Type: ai.StreamEventTextDelta, Text: frag})
	}
	if turn.wait {
		<-ctx.Done()
		return ai.TurnResult{Text: text.String()}, ctx.Err()
	}
	if turn.err != nil {
		return ai.TurnResult{Text: text.String(), Usage: turn.usage}, turn.err
	}
	if err := ctx.Err(); err != nil {
		return ai.TurnResult{Text: text.String()}, err
	}
	finish := turn.finish
	if finish == "" {
		finish = ai.FinishReasonStop
	}
	return ai.TurnResult{FinishReason: finish, Text: text.String(), Usage: turn.usage}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) request(i int) ai.TurnRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (r *memoryRecorder) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestPipeline(t *testing.T, provider ai.Provider, mutate func(*Options)) (*Pipeline, *sleepLog) {
	t.Helper()
	sleeps := &sleepLog{}
	ids := 0
	opts := Options{
		Provider: provider,
		Model:    "test/model",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      newFakeClock().Now,
		Sleep:    sleeps.Sleep,
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, sleeps
}

func terminalEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

func TestPipeline_SingleWellFormedFile(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{{
		fragments: []string{"===FILE:src/app.js===\nexport function app() {\n  return 1;\n}\n", "===END===\n"},
		usage:     ai.TurnUsage{InputTokens: 100, OutputTokens: 40, CacheReadTokens: 10},
	}}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}

	res, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build a counter app"}, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "src/app.js" {
		t.Fatalf("files=%v", filePaths(res.Files))
	}

	terms := terminalEvents(log.all())
	if len(terms) != 1 || terms[0].Type != EventComplete {
		t.Fatalf("terminal events=%+v, want one complete", terms)
	}
	done := terms[0].Complete
	if len(done.Files) != 1 || len(done.Warnings) != 0 {
		t.Fatalf("complete=%+v, want 1 file and no warnings", done)
	}
	if done.Truncation == nil || done.Truncation.IsTruncated {
		t.Fatalf("truncation=%+v, want not truncated", done.Truncation)
	}
	if done.Usage.InputTokens != 100 || done.Usage.OutputTokens != 40 || done.Usage.CacheReadTokens != 10 {
		t.Fatalf("usage=%+v", done.Usage)
	}
	if terms[0].BuildID != "id-1" {
		t.Fatalf("build id=%q", terms[0].BuildID)
	}

	req := provider.request(0)
	if req.MaxOutputTokens != DefaultBudgetTable().Foundation.MaxTokens || req.ThinkingBudgetTokens != DefaultBudgetTable().Foundation.ThinkingBudget {
		t.Fatalf("request budget=%d/%d, want foundation", req.MaxOutputTokens, req.ThinkingBudgetTokens)
	}
	if req.Model != "test/model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("request=%+v", req)
	}

	if got := strings.Join(log.fileTrace(), ","); got != "start:src/app.js,done:src/app.js" {
		t.Fatalf("trace=%s", got)
	}
	if starts := log.ofType(EventStart); len(starts) != 1 || starts[0].Start.Attempt != 1 {
		t.Fatalf("start events=%+v", starts)
	}
}

func TestPipeline_TruncatedResponseIsSalvaged(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{{
		fragments: []string{
			"===FILE:a.js===\nexport const a = () => {\n  return 1;\n};\n",
			"===FILE:b.js===\nfunction b() {\n  if (x) {\n    for (;;) {\n      while (y) {\n        {\n}\n",
		},
		finish: ai.FinishReasonLength,
	}}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}

	res, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Truncation.IsTruncated || res.Truncation.SalvageableFiles != 1 || res.Truncation.LastCompleteFile != "a.js" {
		t.Fatalf("truncation=%+v", res.Truncation)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "a.js" {
		t.Fatalf("files=%v, want [a.js]", filePaths(res.Files))
	}
	if provider.calls() != 1 {
		t.Fatalf("provider calls=%d, want 1", provider.calls())
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "truncated") {
		t.Fatalf("warnings=%v", res.Warnings)
	}
	// Progress already streamed for b.js is not retracted.
	if got := strings.Join(log.fileTrace(), ","); got != "start:a.js,done:a.js,start:b.js,done:b.js" {
		t.Fatalf("trace=%s", got)
	}
}

func TestPipeline_ParseErrorsExhaustAttempts(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{
		{fragments: []string{"Sorry."}},
		{fragments: []string{"Sorry again."}},
		{fragments: []string{"Still no files here."}},
		{fragments: []string{"===FILE:never.js===\n===END==="}},
	}}
	recorder := &memoryRecorder{}
	p, sleeps := newTestPipeline(t, provider, func(o *Options) {
		o.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, FixedDelay: time.Second}
		o.Recorder = recorder
	})
	log := &eventLog{}

	_, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log)
	var f *Failure
	if !errors.As(err, &f) || f.Category != FailureParse {
		t.Fatalf("err=%v, want parse failure", err)
	}
	if provider.calls() != 3 {
		t.Fatalf("provider calls=%d, want 3", provider.calls())
	}

	terms := terminalEvents(log.all())
	if len(terms) != 1 || terms[0].Type != EventError {
		t.Fatalf("terminal events=%+v, want one error", terms)
	}
	wantMsg := fmt.Sprintf("(%d chars received)", len("Still no files here."))
	if !strings.Contains(terms[0].Error.Message, wantMsg) || terms[0].Error.Code != "parse_error" || !terms[0].Error.Recoverable {
		t.Fatalf("error event=%+v, want the third attempt's message", terms[0].Error)
	}

	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != time.Second {
		t.Fatalf("delays=%v", sleeps.delays)
	}
	second := provider.request(1).Messages[1].Text
	if !strings.Contains(second, "Attempt 2/3") || !strings.Contains(second, "file delimiters") {
		t.Fatalf("retry prompt missing corrective instruction: %q", second)
	}
	if len(recorder.records) != 3 || recorder.records[2].Category != "parse_error" || recorder.records[2].Attempt != 3 {
		t.Fatalf("records=%+v", recorder.records)
	}
}

func TestPipeline_RetryRecoversAfterEmptyResponse(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{
		{usage: ai.TurnUsage{InputTokens: 50}},
		{fragments: []string{"===FILE:a.js===\na();\n===END==="}, usage: ai.TurnUsage{InputTokens: 60, OutputTokens: 5}},
	}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}

	res, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Attempts != 2 || res.Usage.InputTokens != 110 || res.Usage.OutputTokens != 5 {
		t.Fatalf("attempts=%d usage=%+v", res.Attempts, res.Usage)
	}
	if starts := log.ofType(EventStart); len(starts) != 2 || starts[1].Start.Attempt != 2 {
		t.Fatalf("start events=%+v", starts)
	}
}

func TestPipeline_TruncatedWithoutSalvageEscalatesBudget(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{
		{fragments: []string{"===FILE:a.js===\nfunction a() {{{{\n"}, finish: ai.FinishReasonLength},
		{fragments: []string{"===FILE:a.js===\nfunction a() {}\n===END==="}},
	}}
	p, _ := newTestPipeline(t, provider, nil)

	res, err := p.Run(context.Background(), PhaseBuildRequest{
		Prompt: "Build it",
		Phase:  Phase{Number: 3, Name: "Polish", Features: []string{"Dark mode toggle"}},
	}, &eventLog{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Files) != 1 {
		t.Fatalf("files=%v", filePaths(res.Files))
	}
	table := DefaultBudgetTable()
	if got := provider.request(0).MaxOutputTokens; got != table.Small.MaxTokens {
		t.Fatalf("first max_tokens=%d, want small %d", got, table.Small.MaxTokens)
	}
	if got := provider.request(1).MaxOutputTokens; got != table.Small.MaxTokens*3/2 {
		t.Fatalf("second max_tokens=%d, want %d", got, table.Small.MaxTokens*3/2)
	}
}

func TestPipeline_MalformedIsNotRetried(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		turn scriptedTurn
	}{
		{"unsafe_path", scriptedTurn{fragments: []string{"===FILE:/etc/passwd===\nx\n===END==="}}},
		{"refusal", scriptedTurn{fragments: []string{"I can't help with that."}, finish: ai.FinishReasonContentFilter}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			provider := &fakeProvider{script: []scriptedTurn{tc.turn, tc.turn}}
			p, _ := newTestPipeline(t, provider, nil)
			log := &eventLog{}
			_, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log)
			var f *Failure
			if !errors.As(err, &f) || f.Category != FailureMalformed {
				t.Fatalf("err=%v, want malformed", err)
			}
			if provider.calls() != 1 {
				t.Fatalf("provider calls=%d, want 1", provider.calls())
			}
			if terms := terminalEvents(log.all()); len(terms) != 1 || terms[0].Error.Code != "malformed_response" || terms[0].Error.Recoverable {
				t.Fatalf("terminal=%+v", terms)
			}
		})
	}
}

func TestPipeline_TransportFailureSamplesHostLoad(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{
		{err: errors.New("connection reset by peer")},
		{fragments: []string{"===FILE:a.js===\na();\n===END==="}},
	}}
	recorder := &memoryRecorder{}
	samples := 0
	p, sleeps := newTestPipeline(t, provider, func(o *Options) {
		o.Recorder = recorder
		o.HostLoad = func(context.Context) hostload.Snapshot {
			samples++
			return hostload.Snapshot{CPUPercent: 97}
		}
	})

	if _, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, &eventLog{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if samples != 1 {
		t.Fatalf("host load samples=%d, want 1", samples)
	}
	if len(sleeps.delays) != 1 || sleeps.delays[0] != DefaultRetryBaseDelay {
		t.Fatalf("delays=%v", sleeps.delays)
	}
	if len(recorder.records) != 2 || recorder.records[0].Category != "transport_error" || recorder.records[0].HostLoad == nil {
		t.Fatalf("records=%+v", recorder.records)
	}
	if recorder.records[1].Category != "" {
		t.Fatalf("successful attempt recorded category %q", recorder.records[1].Category)
	}
}

func TestPipeline_StreamTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	provider := &fakeProvider{}
	provider.script = []scriptedTurn{{fragments: []string{"===FILE:a.js===\n", "a();\n"}, wait: true}}
	budgets := DefaultBudgetTable()
	p, _ := newTestPipeline(t, provider, func(o *Options) {
		o.Now = clock.Now
		o.Retry = RetryPolicy{MaxAttempts: 1}
		o.Budgets = budgets
	})
	log := &eventLog{}
	sink := EventSinkFunc(func(ev Event) {
		log.Emit(ev)
		if ev.Type == EventFileStart {
			clock.Advance(budgets.Foundation.Timeout() + time.Second)
		}
	})

	_, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, sink)
	var f *Failure
	if !errors.As(err, &f) || f.Category != FailureTimeout || !errors.Is(err, ErrStreamTimeout) {
		t.Fatalf("err=%v, want timeout", err)
	}
	if terms := terminalEvents(log.all()); len(terms) != 1 || terms[0].Error.Code != "timeout" || !terms[0].Error.Recoverable {
		t.Fatalf("terminal=%+v", terms)
	}
}

func TestPipeline_CancelEndsWithoutRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{script: []scriptedTurn{
		{fragments: []string{"===FILE:a.js===\n"}, wait: true},
		{fragments: []string{"===FILE:a.js===\na();\n===END==="}},
	}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}
	sink := EventSinkFunc(func(ev Event) {
		log.Emit(ev)
		if ev.Type == EventFileStart {
			cancel()
		}
	})

	_, err := p.Run(ctx, FullBuildRequest{Prompt: "Build it"}, sink)
	var f *Failure
	if !errors.As(err, &f) || f.Category != FailureCanceled {
		t.Fatalf("err=%v, want canceled", err)
	}
	if provider.calls() != 1 {
		t.Fatalf("provider calls=%d, want 1", provider.calls())
	}
	events := log.all()
	last := events[len(events)-1]
	if last.Type != EventError || last.Error.Code != "canceled" || last.Error.Recoverable {
		t.Fatalf("last event=%+v", last)
	}
	if got := strings.Join(log.fileTrace(), ","); got != "start:a.js" {
		t.Fatalf("trace=%s, want no events after cancel", got)
	}
}

func TestPipeline_SplitPhaseRunsSubRequests(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{
		{fragments: []string{"===FILE:src/core.js===\ncore();\n===DEPENDENCIES===\nreact@18\n===END==="}, usage: ai.TurnUsage{OutputTokens: 1}},
		{fragments: []string{"===FILE:src/pay.js===\npay();\n===FILE:src/core.js===\ncore2();\n===END==="}, usage: ai.TurnUsage{OutputTokens: 2}},
		{fragments: []string{"===FILE:src/auth.js===\nauth();\n===DEPENDENCIES===\nbcrypt@5\n===END==="}, usage: ai.TurnUsage{OutputTokens: 3}},
	}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}

	res, err := p.Run(context.Background(), PhaseBuildRequest{
		Prompt:        "Build a shop",
		Phase:         Phase{Number: 2, Name: "Shop", Features: []string{"Product list", "Stripe payment checkout", "User authentication"}},
		ExistingFiles: []GeneratedFile{{Path: "package.json", Description: "manifest"}},
	}, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls() != 3 {
		t.Fatalf("provider calls=%d, want 3", provider.calls())
	}
	if got := strings.Join(filePaths(res.Files), ","); got != "src/core.js,src/pay.js,src/auth.js" {
		t.Fatalf("files=%s", got)
	}
	if res.Files[0].Content != "core2();\n" {
		t.Fatalf("later sub-request did not replace src/core.js: %q", res.Files[0].Content)
	}
	if res.Dependencies["react"] != "18" || res.Dependencies["bcrypt"] != "5" {
		t.Fatalf("dependencies=%v", res.Dependencies)
	}
	if res.Usage.OutputTokens != 6 || res.Attempts != 3 {
		t.Fatalf("usage=%+v attempts=%d", res.Usage, res.Attempts)
	}

	second := provider.request(1).Messages[1].Text
	for _, want := range []string{"Stripe payment checkout", "package.json", "src/core.js"} {
		if !strings.Contains(second, want) {
			t.Fatalf("second prompt missing %q:\n%s", want, second)
		}
	}
	if strings.Contains(second, "Product list") {
		t.Fatalf("second prompt includes another child's feature:\n%s", second)
	}

	starts := log.ofType(EventFileStart)
	var indices []int
	for _, ev := range starts {
		indices = append(indices, ev.File.Index)
	}
	if fmt.Sprint(indices) != "[0 1 2 2]" {
		t.Fatalf("file indices=%v", indices)
	}
	if terms := terminalEvents(log.all()); len(terms) != 1 || terms[0].Type != EventComplete {
		t.Fatalf("terminal=%+v", terms)
	}
}

type stubValidator struct{}

func (stubValidator) Supports(path string) bool { return strings.HasSuffix(path, ".json") }

func (stubValidator) Validate(content, _ string) ValidationResult {
	if strings.HasPrefix(strings.TrimSpace(content), "{") && strings.HasSuffix(strings.TrimSpace(content), "}") {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{Errors: []string{"not an object"}}
}

func (stubValidator) AutoFix(content string, _ []string) string {
	if strings.HasPrefix(strings.TrimSpace(content), "{") {
		return strings.TrimSpace(content) + "}\n"
	}
	return content
}

func TestPipeline_ValidationWarningsAndStrictMode(t *testing.T) {
	t.Parallel()

	response := "===FILE:a.json===\n{\"a\": 1\n===FILE:b.json===\n[1]\n===FILE:c.js===\nc();\n===END==="

	provider := &fakeProvider{script: []scriptedTurn{{fragments: []string{response}}}}
	p, _ := newTestPipeline(t, provider, func(o *Options) { o.Validator = stubValidator{} })
	log := &eventLog{}
	res, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Files[0].Content != "{\"a\": 1}\n" {
		t.Fatalf("a.json was not auto-fixed: %q", res.Files[0].Content)
	}
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "b.json:") {
		t.Fatalf("warnings=%v", res.Warnings)
	}
	vals := log.ofType(EventValidation)
	if len(vals) != 1 {
		t.Fatalf("validation events=%d", len(vals))
	}
	if v := vals[0].Validation; v.FilesValidated != 2 || v.TotalFiles != 3 || v.ErrorsFound != 1 || v.AutoFixed != 1 {
		t.Fatalf("validation=%+v", v)
	}

	strictProvider := &fakeProvider{script: []scriptedTurn{{fragments: []string{response}}, {fragments: []string{response}}}}
	strict, _ := newTestPipeline(t, strictProvider, func(o *Options) {
		o.Validator = stubValidator{}
		o.StrictValidation = true
		o.Retry = RetryPolicy{MaxAttempts: 2}
	})
	_, err = strict.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, &eventLog{})
	var f *Failure
	if !errors.As(err, &f) || f.Category != FailureValidation {
		t.Fatalf("err=%v, want validation failure", err)
	}
	if !strings.Contains(strictProvider.request(1).Messages[1].Text, "b.json: not an object") {
		t.Fatalf("strict retry prompt missing validation details")
	}
}

func TestPipeline_InvalidRequest(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}
	_, err := p.Run(context.Background(), PhaseBuildRequest{Prompt: "x", Phase: Phase{Number: 0}}, log)
	if err == nil {
		t.Fatalf("Run succeeded, want error")
	}
	if provider.calls() != 0 {
		t.Fatalf("provider called %d times", provider.calls())
	}
	if terms := terminalEvents(log.all()); len(terms) != 1 || terms[0].Type != EventError || terms[0].Error.Recoverable {
		t.Fatalf("terminal=%+v", terms)
	}
}

func TestPipeline_ThinkingIsThrottled(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{script: []scriptedTurn{{
		thinking:  []string{"plan ", "more ", "detail"},
		fragments: []string{"===FILE:a.js===\na();\n===END==="},
	}}}
	p, _ := newTestPipeline(t, provider, nil)
	log := &eventLog{}
	if _, err := p.Run(context.Background(), FullBuildRequest{Prompt: "Build it"}, log); err != nil {
		t.Fatalf("Run: %v", err)
	}
	th := log.ofType(EventThinking)
	if len(th) != 2 {
		t.Fatalf("thinking events=%d, want 2", len(th))
	}
	if th[0].Thinking.Text != "plan " || th[1].Thinking.Text != "more detail" || th[1].Thinking.TotalChars != len("plan more detail") {
		t.Fatalf("thinking=%+v %+v", th[0].Thinking, th[1].Thinking)
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("New without provider succeeded")
	}
	bad := DefaultBudgetTable()
	bad.Small.ThinkingBudget = bad.Small.MaxTokens
	if _, err := New(Options{Provider: &fakeProvider{}, Budgets: bad}); err == nil {
		t.Fatalf("New with invalid budgets succeeded")
	}
}

func TestNew_Tolerances(t *testing.T) {
	t.Parallel()

	p, err := New(Options{Provider: &fakeProvider{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if *p.opts.Tolerances != DefaultTruncationTolerances() {
		t.Fatalf("nil tolerances=%+v, want defaults", *p.opts.Tolerances)
	}

	zero := TruncationTolerances{}
	p, err = New(Options{Provider: &fakeProvider{}, Tolerances: &zero})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if *p.opts.Tolerances != zero {
		t.Fatalf("zero tolerances=%+v, want zero kept", *p.opts.Tolerances)
	}

	if _, err := New(Options{Provider: &fakeProvider{}, Tolerances: &TruncationTolerances{Brace: -1}}); err == nil {
		t.Fatalf("New with negative tolerance succeeded")
	}
}
