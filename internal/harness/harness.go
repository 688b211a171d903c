package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/pipeline"
	"github.com/roach88/proofpipe/internal/store"
	"github.com/roach88/proofpipe/internal/testutil"
)

// Harness holds one scenario execution's collaborators.
type Harness struct {
	store    *store.Store
	model    *testutil.ScriptedModel
	verifier *testutil.ScriptedVerifier
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Script the model and verifier from the scenario
//  2. Run the real orchestrator with a fixed run id
//  3. Persist the run and audit it
//  4. Evaluate assertions against the run and the scripted fakes
//
// The returned error is non-nil only when the scenario could not be
// executed at all. Failed assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		model:    testutil.NewScriptedModel(),
		verifier: testutil.NewScriptedVerifier(scenario.Verifier...),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, step := range scenario.Model {
		h.model.On(step.Purpose, step.Key, step.Response())
	}

	orch, err := h.orchestrator(scenario)
	if err != nil {
		return nil, err
	}

	run, err := orch.Run(ctx, pipeline.RunInput{
		Requirements: scenario.Requirements,
		Domain: pipeline.Domain{
			Path:   scenario.Domain.Path,
			Module: scenario.Domain.Module,
			Source: scenario.Domain.Source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run pipeline: %w", err)
	}

	result := NewResult()
	result.Run = run
	result.model = h.model
	result.verifier = h.verifier

	if err := st.WriteRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}
	audit, err := st.AuditRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to audit run: %w", err)
	}
	for _, p := range audit.Problems {
		result.AddError("audit: " + p)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"run_id", run.ID,
		"pass", result.Pass)
	return result, nil
}

func (h *Harness) orchestrator(s *Scenario) (*pipeline.Orchestrator, error) {
	schemas, err := completion.LoadSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	client := completion.NewClient(h.model, schemas, h.logger)

	opts := []pipeline.Option{
		pipeline.WithLogger(h.logger),
		pipeline.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(s.RunID)),
		pipeline.WithPhase2ProofErasure(s.Options.EraseProofs),
	}
	if s.Options.Concurrency > 0 {
		opts = append(opts, pipeline.WithConcurrency(s.Options.Concurrency))
	}
	if s.Options.Reformalize != nil {
		opts = append(opts, pipeline.WithMajorityReformalization(*s.Options.Reformalize))
	}
	if s.Options.Phase2Timeout > 0 {
		opts = append(opts, pipeline.WithPhase2Timeout(s.Options.Phase2Timeout))
	}
	return pipeline.New(client, h.verifier, opts...)
}
