package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/floegence/appforge/internal/ai"
	"github.com/floegence/appforge/internal/appgen"
	"github.com/floegence/appforge/internal/buildgen"
	"github.com/floegence/appforge/internal/buildgen/attemptstore"
	"github.com/floegence/appforge/internal/config"
	"github.com/floegence/appforge/internal/hostload"
	"github.com/floegence/appforge/internal/settings"
	"github.com/floegence/appforge/internal/srccheck"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = generateCmd(os.Args[2:])
	case "estimate":
		err = estimateCmd(os.Args[2:], os.Stdout)
	case "attempts":
		err = attemptsCmd(os.Args[2:], os.Stdout)
	case "set-key":
		err = setKeyCmd(os.Args[2:])
	case "version":
		fmt.Printf("appforge %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "%v\n\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `appforge

Usage:
  appforge generate --out <dir> (--plan <plan.yaml> | --prompt <text>) [flags]
  appforge estimate --plan <plan.yaml> [flags]
  appforge attempts [--build <id>] [flags]
  appforge set-key --provider <id> [--key <key>]
  appforge version

Commands:
  generate    Generate an application source tree; NDJSON events are written to stdout.
  estimate    Print complexity, token budget and proposed split for each plan phase.
  attempts    List recorded builds, or the attempts of one build.
  set-key     Store a provider API key in secrets.json next to the config.
  version     Print build information.

`)
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func generateCmd(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file (.json, .yaml or .yml)")
	planPath := fs.String("plan", "", "Build plan (YAML)")
	prompt := fs.String("prompt", "", "Application description for a single full build (ignored when --plan is set)")
	outDir := fs.String("out", "", "Output directory")
	modelID := fs.String("model", "", "Model id <provider_id>/<model_name> (default: the configured default model)")
	noRecord := fs.Bool("no-record", false, "Do not record attempts in the local attempt log")
	logFormat := fs.String("log-format", "", "Log format: json|text (empty: config value, then json)")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error (empty: config value, then info)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*outDir) == "" || (strings.TrimSpace(*planPath) == "" && strings.TrimSpace(*prompt) == "") {
		fs.Usage()
		return usageError{"generate requires --out and one of --plan or --prompt"}
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(firstNonEmpty(*logFormat, cfg.LogFormat), firstNonEmpty(*logLevel, cfg.LogLevel), os.Stderr)
	if err != nil {
		return usageError{err.Error()}
	}

	var plan *appgen.Plan
	if strings.TrimSpace(*planPath) != "" {
		plan, err = appgen.LoadPlan(*planPath)
		if err != nil {
			return err
		}
	} else {
		plan = &appgen.Plan{Prompt: *prompt}
	}

	provider, providerCfg, model, err := resolveProvider(cfg, *cfgPath, *modelID)
	if err != nil {
		return err
	}

	opts := cfg.Generation.PipelineOptions()
	opts.Provider = provider
	opts.Model = model
	opts.Validator = srccheck.New()
	opts.HostLoad = hostload.NewSampler(log).Sample
	opts.Logger = log
	if !*noRecord {
		store, err := attemptstore.Open(cfg.AttemptsDBPath(*cfgPath))
		if err != nil {
			return fmt.Errorf("open attempt log: %w", err)
		}
		defer func() { _ = store.Close() }()
		opts.Recorder = store
	}
	pipeline, err := buildgen.New(opts)
	if err != nil {
		return err
	}

	ndjson := buildgen.NewNDJSONSink(os.Stdout)
	var sink buildgen.EventSink = ndjson
	if isTerminalWriter(os.Stderr) {
		sink = buildgen.MultiSink{ndjson, newProgressRenderer(os.Stderr)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM; the pipeline reports a canceled error event.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	report, err := appgen.Generate(ctx, plan, appgen.Options{
		Runner:     pipeline,
		OutputRoot: *outDir,
		Model:      providerCfg.ID + "/" + model,
		Sink:       sink,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	if err := ndjson.Err(); err != nil {
		log.Warn("event stream write failed", "error", err)
	}
	log.Info("generation complete",
		"output", *outDir,
		"phases", len(report.Phases),
		"input_tokens", report.Usage.InputTokens,
		"output_tokens", report.Usage.OutputTokens,
	)
	return nil
}

func resolveProvider(cfg *config.Config, cfgPath string, modelID string) (ai.Provider, config.AIProvider, string, error) {
	p, model, err := cfg.AI.ResolveModel(modelID)
	if err != nil {
		return nil, p, "", err
	}
	secrets := settings.NewSecretsStore(config.SecretsPath(cfgPath))
	key, src, err := secrets.APIKey(p.ID)
	if err != nil {
		return nil, p, "", fmt.Errorf("read api key: %w", err)
	}
	if src == settings.KeySourceNone {
		return nil, p, "", fmt.Errorf("no api key for provider %q (run `appforge set-key --provider %s` or set %s)", p.ID, p.ID, settings.EnvVarName(p.ID))
	}
	provider, err := ai.NewProviderAdapter(p.Type, p.BaseURL, key)
	if err != nil {
		return nil, p, "", err
	}
	return provider, p, model, nil
}

func estimateCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	planPath := fs.String("plan", "", "Build plan (YAML)")
	cfgPath := fs.String("config", "", "Config file for budget overrides (optional)")
	asJSON := fs.Bool("json", false, "Print estimates as JSON")
	_ = fs.Parse(args)

	if strings.TrimSpace(*planPath) == "" {
		fs.Usage()
		return usageError{"estimate requires --plan"}
	}
	plan, err := appgen.LoadPlan(*planPath)
	if err != nil {
		return err
	}
	budgets := buildgen.DefaultBudgetTable()
	if strings.TrimSpace(*cfgPath) != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		budgets = cfg.Generation.EffectiveBudgets()
	}

	estimates := appgen.Estimate(plan, budgets)
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(estimates)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tNAME\tLEVEL\tEST_TOKENS\tMAX_TOKENS\tTHINKING\tSPLIT")
	for _, e := range estimates {
		split := "-"
		if len(e.Split) > 0 {
			names := make([]string, 0, len(e.Split))
			for _, c := range e.Split {
				names = append(names, fmt.Sprintf("%g %s", c.Number, c.Name))
			}
			split = strings.Join(names, "; ")
		}
		fmt.Fprintf(tw, "%g\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.Phase.Number, e.Phase.Name, e.Complexity.Level, e.Complexity.EstimatedTokens,
			e.Budget.MaxTokens, e.Budget.ThinkingBudget, split)
	}
	return tw.Flush()
}

func attemptsCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("attempts", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file")
	dbPath := fs.String("db", "", "Attempt log path (default: from config)")
	buildID := fs.String("build", "", "Build id; when empty, recent builds are listed")
	limit := fs.Int("limit", 20, "Maximum builds to list")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path = cfg.AttemptsDBPath(*cfgPath)
	}
	store, err := attemptstore.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	enc := json.NewEncoder(stdout)
	if strings.TrimSpace(*buildID) == "" {
		builds, err := store.ListBuilds(ctx, *limit)
		if err != nil {
			return err
		}
		for _, b := range builds {
			if err := enc.Encode(b); err != nil {
				return err
			}
		}
		return nil
	}
	attempts, err := store.ListAttempts(ctx, *buildID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	return nil
}

func setKeyCmd(args []string) error {
	fs := flag.NewFlagSet("set-key", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file; secrets.json is stored next to it")
	providerID := fs.String("provider", "", "Provider id from the config")
	key := fs.String("key", "", "API key (default: prompt on the terminal)")
	clearKey := fs.Bool("clear", false, "Remove the stored key")
	_ = fs.Parse(args)

	if strings.TrimSpace(*providerID) == "" {
		fs.Usage()
		return usageError{"set-key requires --provider"}
	}
	secrets := settings.NewSecretsStore(config.SecretsPath(filepath.Clean(*cfgPath)))
	if *clearKey {
		return secrets.ClearAPIKey(*providerID)
	}

	value := strings.TrimSpace(*key)
	if value == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return usageError{"--key is required when stdin is not a terminal"}
		}
		fmt.Fprintf(os.Stderr, "API key for %s: ", *providerID)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		value = strings.TrimSpace(string(b))
	}
	if err := secrets.SetAPIKey(*providerID, value); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stored key for %s in %s\n", *providerID, secrets.Path())
	return nil
}

func newLogger(format string, level string, w io.Writer) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
