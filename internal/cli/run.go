package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/config"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/metrics"
	"github.com/roach88/proofpipe/internal/pipeline"
	"github.com/roach88/proofpipe/internal/report"
	"github.com/roach88/proofpipe/internal/store"
	"github.com/roach88/proofpipe/internal/verifier"
)

// recordTimeout bounds the ledger write after the pipeline returns.
const recordTimeout = 30 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath       string
	Database         string
	Concurrency      int
	Model            string
	Domain           string
	Module           string
	ReportPath       string
	StubsPath        string
	FailOnObligation bool

	// CompletionModel, Verifier and RunIDs override the configured
	// collaborators (for testing). Nil means build them from config.
	CompletionModel completion.Model
	Verifier        verifier.Verifier
	RunIDs          pipeline.RunIDGenerator
}

// RunSummary is the JSON payload of a finished run.
type RunSummary struct {
	RunID        string                 `json:"run_id"`
	Counts       map[ir.Disposition]int `json:"counts"`
	Database     string                 `json:"database"`
	ReportPath   string                 `json:"report_path,omitempty"`
	StubsPath    string                 `json:"stubs_path,omitempty"`
	Requirements []RequirementLine      `json:"requirements"`
}

// RequirementLine is one requirement's outcome in the run summary.
type RequirementLine struct {
	ID          string         `json:"id"`
	Disposition ir.Disposition `json:"disposition"`
	Stage       ir.Stage       `json:"obligation_stage,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <requirements.yaml>",
		Short: "Run the proof pipeline over a requirements file",
		Long: `Run the two-phase proof pipeline over a requirements file.

Every requirement ends with one disposition: direct, proof, proof_retry
or obligation. The run and every attempt are recorded in the SQLite
ledger; obligations are written as lemma stubs.

Exit codes:
  0 - Run completed
  1 - Run completed with obligations and --fail-on-obligation was set
  2 - Command error (bad config, missing files, etc.)

Examples:
  proofpipe run requirements.yaml --config proofpipe.yaml
  proofpipe run requirements.yaml --domain bank.dfy --module Bank --stubs obligations.dfy
  proofpipe run requirements.yaml --db runs.db --concurrency 8 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to proofpipe.yaml")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent verifier and model calls (overrides pipeline.concurrency)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "completion model name (overrides completion.model)")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "domain source file (overrides domain.path)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "domain module to open (overrides domain.module)")
	cmd.Flags().StringVarP(&opts.ReportPath, "out", "o", "", "write the JSON run report to this file")
	cmd.Flags().StringVar(&opts.StubsPath, "stubs", "", "write obligation stubs to this file")
	cmd.Flags().BoolVar(&opts.FailOnObligation, "fail-on-obligation", false, "exit 1 if any requirement is an obligation")

	return cmd
}

// loadRunConfig reads the config file (or defaults) and applies flag
// overrides. Relative domain and store paths resolve against the config
// file's directory.
func loadRunConfig(opts *RunOptions) (config.Config, error) {
	cfg := config.Default()
	base := "."
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		base = filepath.Dir(opts.ConfigPath)
	}

	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	} else if p, err := config.ResolvePath(base, cfg.Store.Path); err == nil {
		cfg.Store.Path = p
	}
	if opts.Concurrency != 0 {
		cfg.Pipeline.Concurrency = opts.Concurrency
	}
	if opts.Model != "" {
		cfg.Completion.Model = opts.Model
	}
	if opts.Module != "" {
		cfg.Domain.Module = opts.Module
	}

	domainBase := base
	if opts.Domain != "" {
		cfg.Domain.Path = opts.Domain
		domainBase = "."
	}
	p, err := config.ResolvePath(domainBase, cfg.Domain.Path)
	if err != nil {
		return cfg, err
	}
	cfg.Domain.Path = p

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runPipeline(opts *RunOptions, requirementsPath string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := loadRunConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.Domain.Path == "" {
		return NewExitError(ExitCommandError, "no domain source: set domain.path or pass --domain")
	}

	domainSrc, err := os.ReadFile(cfg.Domain.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read domain source", err)
	}
	reqs, err := config.LoadRequirements(requirementsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load requirements", err)
	}
	logger.Info("inputs loaded",
		"requirements", len(reqs),
		"domain", cfg.Domain.Path,
		"module", cfg.Domain.Module)

	// Open the ledger before spending any model calls.
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	m := metrics.New(prometheus.NewRegistry())
	orch, err := buildOrchestrator(opts, cfg, m, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up pipeline", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := orch.Run(ctx, pipeline.RunInput{
		Requirements: reqs,
		Domain: pipeline.Domain{
			Path:   cfg.Domain.Path,
			Module: cfg.Domain.Module,
			Source: string(domainSrc),
		},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "pipeline rejected input", err)
	}

	// An interrupt cancels ctx, but the run still holds every requirement
	// resolved before it, so the ledger write must not inherit the cancel.
	if ctx.Err() != nil {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
		formatter.Warn("run %s interrupted; unfinished requirements are recorded as obligations", run.ID)
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := st.WriteRun(recordCtx, run); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}
	logger.Info("run recorded", "run_id", run.ID, "db", cfg.Store.Path)

	if err := writeRunArtifacts(opts, run); err != nil {
		return WrapExitError(ExitCommandError, "failed to write run artifacts", err)
	}

	m.ObserveRun(run)
	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	if err := outputRun(opts, cmd, cfg, run); err != nil {
		return err
	}

	if n := run.Counts()[ir.DispositionObligation]; n > 0 && opts.FailOnObligation {
		return NewExitError(ExitFailure, fmt.Sprintf("%d requirement(s) left as obligations", n))
	}
	return nil
}

// buildOrchestrator wires the configured (or injected) collaborators,
// instrumented with metrics, into an orchestrator.
func buildOrchestrator(opts *RunOptions, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	model := opts.CompletionModel
	if model == nil {
		openaiCfg := cfg.OpenAI()
		if openaiCfg.APIKey == "" {
			logger.Warn("completion API key is empty", "env", cfg.Completion.APIKeyEnv)
		}
		om, err := completion.NewOpenAIModel(openaiCfg, logger)
		if err != nil {
			return nil, err
		}
		model = om
	}
	v := opts.Verifier
	if v == nil {
		v = verifier.NewDafny(cfg.Dafny(), logger)
	}

	schemas, err := completion.LoadSchemas()
	if err != nil {
		return nil, err
	}
	client := completion.NewClient(m.InstrumentModel(model), schemas, logger)

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithPhase2ProofErasure(cfg.Pipeline.EraseProofsInPhase2),
		pipeline.WithMajorityReformalization(cfg.Pipeline.ReformalizeOnMajorityFailure),
		pipeline.WithPhase2Timeout(cfg.Pipeline.Phase2Timeout),
	}
	if opts.RunIDs != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithRunIDGenerator(opts.RunIDs))
	}
	return pipeline.New(client, m.InstrumentVerifier(v), pipelineOpts...)
}

// writeRunArtifacts writes the JSON report and the stubs file when asked.
// The stubs file is written even when there are no obligations, so a
// stale one never survives a clean run.
func writeRunArtifacts(opts *RunOptions, run *ir.Run) error {
	if opts.ReportPath != "" {
		if err := writeFile(opts.ReportPath, func(f *os.File) error { return report.WriteJSON(f, run) }); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if opts.StubsPath != "" {
		if err := writeFile(opts.StubsPath, func(f *os.File) error { return report.WriteStubs(f, run) }); err != nil {
			return fmt.Errorf("stubs: %w", err)
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func outputRun(opts *RunOptions, cmd *cobra.Command, cfg config.Config, run *ir.Run) error {
	if opts.Format == "json" {
		summary := RunSummary{
			RunID:        run.ID,
			Counts:       run.Counts(),
			Database:     cfg.Store.Path,
			ReportPath:   opts.ReportPath,
			StubsPath:    opts.StubsPath,
			Requirements: make([]RequirementLine, len(run.Requirements)),
		}
		for i, rr := range run.Requirements {
			line := RequirementLine{ID: rr.Requirement.ID, Disposition: rr.Disposition}
			if rr.Obligation != nil {
				line.Stage = rr.Obligation.Stage
			}
			summary.Requirements[i] = line
		}
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	if err := report.WriteSummary(w, run); err != nil {
		return err
	}
	if opts.StubsPath != "" && run.Counts()[ir.DispositionObligation] > 0 {
		fmt.Fprintf(w, "Obligation stubs written to %s\n", opts.StubsPath)
	}
	return nil
}
