package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/migrun/internal/events"
	"github.com/msageha/migrun/internal/lock"
	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
	"github.com/msageha/migrun/internal/notify"
	"github.com/msageha/migrun/internal/orchestrator"
	"github.com/msageha/migrun/internal/parallel"
	"github.com/msageha/migrun/internal/plan"
	"github.com/msageha/migrun/internal/resolver"
	"github.com/msageha/migrun/internal/review"
	"github.com/msageha/migrun/internal/session"
	"github.com/msageha/migrun/internal/setup"
	"github.com/msageha/migrun/internal/source"
	"github.com/msageha/migrun/internal/status"
)

const version = "0.4.0"

const (
	exitOK          = 0
	exitFailure     = 1
	exitInvalid     = 2
	exitStalled     = 3
	exitTimeout     = 4
	exitInterrupted = 130
)

const defaultConfigPath = "migrun.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitFailure)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runRun(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "ready":
		os.Exit(runReady(os.Args[2:]))
	case "analyze":
		os.Exit(runAnalyze(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "report":
		os.Exit(runReport(os.Args[2:]))
	case "init":
		os.Exit(runInit(os.Args[2:]))
	case "version":
		fmt.Printf("migrun %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitFailure)
	}
}

// commonFlags are accepted by every command that reads the plan.
type commonFlags struct {
	configPath string
	planPath   string
	remoteURL  string
	logLevel   string
}

// parseCommon consumes args[i] if it is a common flag. ok is false for
// anything else; err is set when a flag is missing its value.
func (c *commonFlags) parseCommon(args []string, i *int) (ok bool, err error) {
	switch args[*i] {
	case "--config":
		c.configPath, err = flagValue(args, i)
	case "--plan":
		c.planPath, err = flagValue(args, i)
	case "--remote-url":
		c.remoteURL, err = flagValue(args, i)
	case "--log-level":
		c.logLevel, err = flagValue(args, i)
	default:
		return false, nil
	}
	return true, err
}

func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func (c *commonFlags) load() (model.Config, error) {
	path := c.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return model.Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return model.Config{}, err
	}
	if c.planPath != "" {
		cfg.Graph.Path = c.planPath
	}
	if c.remoteURL != "" {
		cfg.Graph.RemoteURL = c.remoteURL
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	return cfg, nil
}

func newLogger(cfg model.Config) *logging.Logger {
	return logging.New(log.New(os.Stderr, "", 0), logging.ParseLogLevel(cfg.Logging.Level), "migrun")
}

// graphSource builds the plan source: the local file, preceded by the remote
// URL when one is configured.
func graphSource(cfg model.Config, logger *logging.Logger) source.Source {
	file := source.NewFileSource(cfg.Graph.Path, logger.With("source"))
	if cfg.Graph.RemoteURL == "" {
		return file
	}
	remote := source.NewRemoteSource(cfg.Graph.RemoteURL, os.Getenv(cfg.Graph.TokenEnv), logger.With("source"))
	return source.NewFallbackSource(remote, file, logger.With("source"))
}

func usageError(usage string, err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	fmt.Fprintln(os.Stderr, usage)
	return exitFailure
}

const runUsage = "usage: migrun run [--config <f>] [--plan <f>] [--remote-url <u>] [--max-parallel <n>] " +
	"[--poll-interval <d>] [--timeout <d>] [--interval <d>] [--max-iterations <n>] [--single] [--dry-run] " +
	"[--report <f>] [--audit-log <f>] [--notify] [--log-level <l>]"

func runRun(args []string) int {
	var (
		common                          commonFlags
		maxParallel, maxIterations      string
		pollInterval, timeout, interval string
		reportPath, auditLog            string
		single, dryRun, notifyOn        bool
	)

	for i := 0; i < len(args); i++ {
		ok, err := common.parseCommon(args, &i)
		if err != nil {
			return usageError(runUsage, err)
		}
		if ok {
			continue
		}
		switch args[i] {
		case "--max-parallel":
			maxParallel, err = flagValue(args, &i)
		case "--max-iterations":
			maxIterations, err = flagValue(args, &i)
		case "--poll-interval":
			pollInterval, err = flagValue(args, &i)
		case "--timeout":
			timeout, err = flagValue(args, &i)
		case "--interval":
			interval, err = flagValue(args, &i)
		case "--report":
			reportPath, err = flagValue(args, &i)
		case "--audit-log":
			auditLog, err = flagValue(args, &i)
		case "--single":
			single = true
		case "--dry-run":
			dryRun = true
		case "--notify":
			notifyOn = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return usageError(runUsage, err)
		}
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitFailure
	}

	overrides := []struct {
		raw   string
		apply func(string) error
	}{
		{maxParallel, intFlag("--max-parallel", &cfg.Orchestrator.MaxParallel)},
		{maxIterations, intFlag("--max-iterations", &cfg.Orchestrator.MaxIterations)},
		{pollInterval, secondsFlag("--poll-interval", &cfg.Await.PollIntervalSec)},
		{interval, secondsFlag("--interval", &cfg.Orchestrator.BatchIntervalSec)},
		{timeout, minutesFlag("--timeout", &cfg.Await.TimeoutMin)},
	}
	for _, o := range overrides {
		if o.raw == "" {
			continue
		}
		if err := o.apply(o.raw); err != nil {
			return usageError(runUsage, err)
		}
	}
	if single {
		cfg.Orchestrator.Mode = model.ModeSingle
	}
	if dryRun {
		cfg.Orchestrator.DryRun = true
	}
	if notifyOn {
		cfg.Notify.Enabled = true
	}
	if reportPath != "" {
		cfg.Report.Path = reportPath
	}
	if auditLog != "" {
		cfg.Report.AuditLog = auditLog
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitFailure
	}

	logger := newLogger(cfg)

	fl := lock.NewFileLock(cfg.Graph.Lock())
	if err := fl.TryLock(); err != nil {
		if pid, ok := lock.Holder(fl.Path()); ok {
			fmt.Fprintf(os.Stderr, "error: %v (pid %d holds %s)\n", err, pid, fl.Path())
		} else {
			fmt.Fprintf(os.Stderr, "error: lock %s: %v\n", fl.Path(), err)
		}
		return exitFailure
	}
	defer func() { _ = fl.Unlock() }()

	prompts, err := session.NewPromptRenderer(cfg.Executor.PromptTemplate, cfg.Executor.TargetRepo, cfg.Graph.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}

	var executor session.Executor
	if cfg.Orchestrator.DryRun {
		executor = session.NewDryRunExecutor(prompts, logger.With("session"))
	} else {
		apiKey := os.Getenv(cfg.Executor.APIKeyEnv)
		if apiKey == "" {
			fmt.Fprintf(os.Stderr, "error: %s is not set\n", cfg.Executor.APIKeyEnv)
			return exitFailure
		}
		checks, err := session.NewCheckRenderer(cfg.Executor, cfg.Graph.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		executor = session.NewHTTPExecutor(cfg.Executor, apiKey, prompts, logger.With("session")).WithChecks(checks)
	}

	provider, err := review.NewCachedProvider(review.NewGHProvider(cfg.Review.GHBinary), cfg.Review.CacheMaxBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer provider.Close()
	waiter := review.NewWaiter(provider, cfg.Await.PollInterval(), cfg.Await.Timeout(), logger.With("review"))

	bus := events.NewBus(256)
	if cfg.Report.AuditLog != "" {
		audit, err := events.NewAuditLogger(cfg.Report.AuditLog, cfg.Report.AuditMaxBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		defer func() { _ = audit.Close() }()
		audit.EnableChecksum(cfg.Report.AuditChecksum)
		audit.Attach(bus)
	}
	if cfg.Notify.Enabled {
		notify.NewNotifier(logger.With("notify")).Attach(bus)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg, graphSource(cfg, logger), executor, waiter, logger.With("orchestrator"))
	orch.SetBus(bus)
	report, runErr := orch.Run(ctx)
	bus.Close()

	if err := orchestrator.WriteReport(cfg.Report.Path, report); err != nil {
		logger.Warn("report_write_failed path=%s: %v", cfg.Report.Path, err)
	}
	printRunSummary(report)
	return exitCode(runErr)
}

func intFlag(name string, dst *int) func(string) error {
	return func(raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
		}
		*dst = n
		return nil
	}
}

func secondsFlag(name string, dst *int) func(string) error {
	return func(raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Second {
			return fmt.Errorf("%s must be a duration of at least 1s, got %q", name, raw)
		}
		*dst = int(math.Ceil(d.Seconds()))
		return nil
	}
}

func minutesFlag(name string, dst *int) func(string) error {
	return func(raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, raw)
		}
		*dst = int(math.Ceil(d.Minutes()))
		return nil
	}
}

func printRunSummary(r *orchestrator.Report) {
	fmt.Printf("run %s: %s after %d iterations, %d/%d tasks complete\n",
		r.RunID, r.Outcome, r.Iterations, r.Progress.Completed, r.Progress.Total)
	for _, b := range r.Batches {
		fmt.Printf("  batch %d: %v", b.Iteration, b.TaskIDs)
		if len(b.Completed) > 0 {
			fmt.Printf(" completed=%v", b.Completed)
		}
		if len(b.Incomplete) > 0 {
			fmt.Printf(" incomplete=%v", b.Incomplete)
		}
		fmt.Println()
		for _, c := range b.Checks {
			fmt.Printf("    %s: %s %s\n", c.Kind, c.ReviewRef, c.State)
		}
	}
	for _, w := range r.Waves {
		fmt.Printf("  wave %d: %v (saves %.1fh)\n", w.Index, w.TaskIDs, w.Efficiency.SavedHours)
	}
	for _, f := range r.Failures {
		fmt.Printf("  failed %s (iteration %d): %s\n", f.TaskID, f.Iteration, f.Error)
	}
}

// exitCode maps a run error onto the process exit status and prints it.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		graphErr   *orchestrator.GraphError
		stalledErr *orchestrator.StalledError
		timeoutErr *review.TimeoutError
	)
	switch {
	case errors.As(err, &graphErr):
		fmt.Fprint(os.Stderr, graphErr.FormatStderr())
		return exitInvalid
	case errors.As(err, &stalledErr):
		fmt.Fprint(os.Stderr, stalledErr.FormatStderr())
		return exitStalled
	case errors.As(err, &timeoutErr):
		fmt.Fprintf(os.Stderr, "error: %v\n", timeoutErr)
		return exitTimeout
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
}

const planUsage = "[--config <f>] [--plan <f>] [--remote-url <u>] [--log-level <l>]"

// loadPlan parses the common flags plus any command-specific ones handled by
// extra, and loads one snapshot of the plan.
func loadPlan(args []string, usage string, extra func(args []string, i *int) (bool, error)) (model.Config, *model.TaskGraph, int) {
	var common commonFlags
	for i := 0; i < len(args); i++ {
		ok, err := common.parseCommon(args, &i)
		if !ok && err == nil && extra != nil {
			ok, err = extra(args, &i)
		}
		if err != nil {
			return model.Config{}, nil, usageError(usage, err)
		}
		if !ok {
			return model.Config{}, nil, usageError(usage, fmt.Errorf("unknown flag: %s", args[i]))
		}
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return model.Config{}, nil, exitFailure
	}
	logger := newLogger(cfg)
	g, err := graphSource(cfg, logger).Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return model.Config{}, nil, exitFailure
	}
	return cfg, g, exitOK
}

func runValidate(args []string) int {
	cfg, g, code := loadPlan(args, "usage: migrun validate "+planUsage, nil)
	if g == nil {
		return code
	}
	res := plan.Validate(g, cfg.Validation)
	fmt.Fprint(os.Stderr, res.FormatStderr())
	if res.HasHardFailure() {
		fmt.Fprintf(os.Stderr, "invalid: %d errors, %d warnings\n", len(res.Hard()), len(res.Advisory()))
		return exitInvalid
	}
	fmt.Printf("ok: %d tasks, %d complete, %d warnings\n", g.Len(), g.CompletedCount(), len(res.Advisory()))
	return exitOK
}

func runReady(args []string) int {
	var (
		jsonOutput  bool
		maxParallel string
	)
	usage := "usage: migrun ready [--max-parallel <n>] [--json] " + planUsage
	cfg, g, code := loadPlan(args, usage, func(args []string, i *int) (bool, error) {
		switch args[*i] {
		case "--json":
			jsonOutput = true
		case "--max-parallel":
			v, err := flagValue(args, i)
			maxParallel = v
			return true, err
		default:
			return false, nil
		}
		return true, nil
	})
	if g == nil {
		return code
	}
	if maxParallel != "" {
		if err := intFlag("--max-parallel", &cfg.Orchestrator.MaxParallel)(maxParallel); err != nil {
			return usageError(usage, err)
		}
	}
	if res := plan.Validate(g, cfg.Validation); res.HasHardFailure() {
		fmt.Fprint(os.Stderr, res.FormatStderr())
		return exitInvalid
	}

	ready := resolver.FindReady(g)
	sel := parallel.NewDetector(g).
		WithSearchBudget(cfg.Orchestrator.SearchBudget).
		SelectBatch(ready, cfg.Orchestrator.MaxParallel)

	if jsonOutput {
		out := struct {
			Ready      []string            `json:"ready"`
			Batch      []string            `json:"batch"`
			Deferred   []string            `json:"deferred"`
			Efficiency parallel.Efficiency `json:"efficiency"`
			Exact      bool                `json:"exact"`
		}{Ready: resolver.ReadyIDs(g), Batch: sel.IDs(), Efficiency: sel.Efficiency, Exact: sel.Exact}
		for _, d := range sel.Deferred {
			out.Deferred = append(out.Deferred, d.String())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		return exitOK
	}

	fmt.Printf("ready: %d tasks\n", len(ready))
	for _, t := range ready {
		fmt.Printf("  %-16s  %5.1fh  %s\n", t.ID, t.Hours(), t.Title)
	}
	fmt.Printf("next batch: %v\n", sel.IDs())
	for _, d := range sel.Deferred {
		fmt.Printf("  deferred %s\n", d)
	}
	fmt.Printf("efficiency: serial %.1fh, parallel %.1fh, saved %.1fh (%.1f%%)\n",
		sel.Efficiency.SerialHours, sel.Efficiency.ParallelHours, sel.Efficiency.SavedHours, sel.Efficiency.Percentage)
	return exitOK
}

func runAnalyze(args []string) int {
	cfg, g, code := loadPlan(args, "usage: migrun analyze "+planUsage, nil)
	if g == nil {
		return code
	}
	detector := parallel.NewDetector(g).WithSearchBudget(cfg.Orchestrator.SearchBudget)
	analysis, err := detector.Analyze()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitInvalid
	}

	out := struct {
		Analysis parallel.Analysis `yaml:",inline"`
		Waves    []parallel.Wave   `yaml:"ready_waves,omitempty"`
	}{
		Analysis: *analysis,
		Waves:    detector.PlanWaves(resolver.FindReady(g), cfg.Orchestrator.MaxParallel),
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if err := enc.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runStatus(args []string) int {
	var jsonOutput bool
	cfg, g, code := loadPlan(args, "usage: migrun status [--json] "+planUsage, func(args []string, i *int) (bool, error) {
		if args[*i] == "--json" {
			jsonOutput = true
			return true, nil
		}
		return false, nil
	})
	if g == nil {
		return code
	}
	var last *orchestrator.Report
	if _, err := os.Stat(cfg.Report.Path); err == nil {
		if last, err = orchestrator.LoadReport(cfg.Report.Path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	if err := status.Write(os.Stdout, status.Build(g, last), jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runReport(args []string) int {
	var (
		path, configPath, auditPath string
		verify                      bool
	)
	usage := "usage: migrun report [--report <f>] [--config <f>] [--verify-audit] [--audit-log <f>]"
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--report":
			path, err = flagValue(args, &i)
		case "--config":
			configPath, err = flagValue(args, &i)
		case "--audit-log":
			auditPath, err = flagValue(args, &i)
		case "--verify-audit":
			verify = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return usageError(usage, err)
		}
	}
	if path == "" || (verify && auditPath == "") {
		cfg, err := (&commonFlags{configPath: configPath}).load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return exitFailure
		}
		if path == "" {
			path = cfg.Report.Path
		}
		if auditPath == "" {
			auditPath = cfg.Report.AuditLog
		}
	}
	if verify {
		return verifyAudit(os.Stdout, auditPath)
	}

	r, err := orchestrator.LoadReport(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	printRunSummary(r)
	if r.Error != "" {
		fmt.Printf("  error: %s\n", r.Error)
	}
	return exitOK
}

// verifyAudit checks the entry checksums of the audit log at path.
func verifyAudit(w io.Writer, path string) int {
	if path == "" {
		fmt.Fprintln(os.Stderr, "error: no audit log configured (report.audit_log or --audit-log)")
		return exitFailure
	}
	total, valid, err := events.VerifyLogIntegrity(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(w, "audit log %s: %d entries, %d valid\n", path, total, valid)
	if valid != total {
		fmt.Fprintf(w, "  %d entries failed checksum verification\n", total-valid)
		return exitFailure
	}
	return exitOK
}

func runInit(args []string) int {
	var opts setup.Options
	dir := "."
	usage := "usage: migrun init [dir] [--target-repo <owner/name>] [--custom-prompt]"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--target-repo":
			v, err := flagValue(args, &i)
			if err != nil {
				return usageError(usage, err)
			}
			opts.TargetRepo = v
		case "--custom-prompt":
			opts.CustomPrompt = true
		default:
			if len(args[i]) > 0 && args[i][0] == '-' {
				return usageError(usage, fmt.Errorf("unknown flag: %s", args[i]))
			}
			dir = args[i]
		}
	}
	if err := setup.Run(dir, opts); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return exitFailure
	}
	fmt.Printf("initialized migrun workspace in %s\n", dir)
	return exitOK
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `migrun %s - migration task graph orchestrator

Usage: migrun <command> [options]

Orchestration:
  run [flags]        Dispatch ready batches until the plan completes
  init [dir]         Write migrun.yaml and an example plan

Inspection:
  validate           Check the plan for structural errors
  ready [--json]     Show ready tasks and the next safe batch
  analyze            Dependency levels, critical path, parallel waves
  status [--json]    Per-task progress and the last run
  report             Print the last run report
  report --verify-audit
                     Check the audit log entry checksums

Utilities:
  version            Show version
  help               Show this help

Exit codes: 0 ok, 1 usage or I/O error, 2 invalid plan, 3 stalled,
4 review timeout, 130 interrupted.

`, version)
}
