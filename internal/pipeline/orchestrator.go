package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
	"github.com/roach88/proofpipe/internal/verifier"
)

// DefaultConcurrency is the default cap on concurrent per-item calls.
const DefaultConcurrency = 4

// Orchestrator runs the two-phase proof pipeline.
//
// Thread-safety: an Orchestrator may run several pipelines concurrently;
// each Run owns its own tracker and clock.
type Orchestrator struct {
	client   *completion.Client
	verifier verifier.Verifier
	prompts  *Prompts
	runIDs   RunIDGenerator
	logger   *slog.Logger

	concurrency   int
	eraseProofs   bool
	reformalize   bool
	phase2Timeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithConcurrency caps concurrent individual fallbacks, corrections and
// Phase 2 tasks. Default DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithRunIDGenerator sets the run id source. Default UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Orchestrator) {
		o.runIDs = g
	}
}

// WithPhase2ProofErasure makes Phase 2 prompts see the domain with proof
// bodies elided too. Default false: Phase 2 sees existing proofs.
func WithPhase2ProofErasure(erase bool) Option {
	return func(o *Orchestrator) {
		o.eraseProofs = erase
	}
}

// WithMajorityReformalization re-runs the batch formalization once when
// more than half of the batch fails type-checking. Default true.
func WithMajorityReformalization(enabled bool) Option {
	return func(o *Orchestrator) {
		o.reformalize = enabled
	}
}

// WithPhase2Timeout bounds each requirement's whole Phase 2 task.
// Zero means no bound beyond the per-call timeouts of the collaborators.
func WithPhase2Timeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.phase2Timeout = d
	}
}

// New creates an Orchestrator over the given collaborators.
func New(client *completion.Client, v verifier.Verifier, opts ...Option) (*Orchestrator, error) {
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		client:      client,
		verifier:    v,
		prompts:     prompts,
		runIDs:      UUIDv7Generator{},
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		reformalize: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o, nil
}

// Domain is the formally-typed source the lemmas are stated against.
type Domain struct {
	// Path is what candidate files include. It should be absolute, since
	// candidates are written to a temp directory.
	Path string

	// Module is the domain module to open, if the domain declares one.
	Module string

	// Source is the domain text with proofs intact.
	Source string
}

// RunInput is one pipeline run's input.
type RunInput struct {
	Requirements []ir.Requirement
	Domain       Domain
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Run drives every requirement to a terminal disposition.
//
// The returned error is non-nil only for invalid input. Collaborator
// failures become obligations for the affected requirements.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*ir.Run, error) {
	if err := validate.Var(in.Requirements, "unique=ID,dive"); err != nil {
		return nil, fmt.Errorf("invalid requirements: %w", err)
	}

	runID := o.runIDs.Generate()
	logger := o.logger.With("run_id", runID)
	lctx := lemma.Context{Include: in.Domain.Path, Module: in.Domain.Module}
	elided := lemma.ElideProofBodies(in.Domain.Source)
	phase2Domain := in.Domain.Source
	if o.eraseProofs {
		phase2Domain = elided
	}

	r := &runState{
		tr:            NewTracker(runID, NewClock(), in.Requirements),
		reqs:          in.Requirements,
		formalizer:    NewFormalizer(o.client, o.prompts, logger),
		typeChecker:   NewTypeChecker(o.verifier, lctx, o.concurrency, logger),
		verify:        NewVerifyAdapter(o.verifier, lctx, o.concurrency, logger),
		synth:         NewSynthesizer(o.client, o.prompts, logger),
		elided:        elided,
		phase2Domain:  phase2Domain,
		concurrency:   o.concurrency,
		reformalize:   o.reformalize,
		phase2Timeout: o.phase2Timeout,
		logger:        logger,
	}

	logger.Info("pipeline started", "requirements", len(in.Requirements))
	if len(in.Requirements) > 0 {
		failed := r.phase1(ctx)
		r.phase2(ctx, failed)
	}

	for _, id := range r.tr.Pending() {
		logger.Error("requirement left unresolved", "requirement_id", id)
		r.obligation(id, "internal error: requirement left unresolved")
	}

	run := &ir.Run{
		ID:              runID,
		DomainPath:      in.Domain.Path,
		Module:          in.Domain.Module,
		PipelineVersion: ir.PipelineVersion,
		IRVersion:       ir.IRVersion,
		Requirements:    r.tr.Results(),
	}
	counts := run.Counts()
	logger.Info("pipeline finished",
		"direct", counts[ir.DispositionDirect],
		"proof", counts[ir.DispositionProof],
		"proof_retry", counts[ir.DispositionProofRetry],
		"obligation", counts[ir.DispositionObligation])
	return run, nil
}

// runState is one run's working set.
type runState struct {
	tr          *Tracker
	reqs        []ir.Requirement
	formalizer  *Formalizer
	typeChecker *TypeChecker
	verify      *VerifyAdapter
	synth       *Synthesizer

	elided        string
	phase2Domain  string
	concurrency   int
	reformalize   bool
	phase2Timeout time.Duration
	logger        *slog.Logger
}

// obligation resolves id as an Obligation carrying finalErr.
func (r *runState) obligation(id, finalErr string) {
	var sig *ir.Signature
	if s, ok := r.tr.Signature(id); ok {
		sig = &s
	}
	ob := BuildObligation(r.tr.Requirement(id), r.tr.Trail(id), sig, finalErr)
	if err := r.tr.ResolveObligation(ob); err != nil {
		r.logger.Error("cannot resolve obligation", "requirement_id", id, "error", err)
		return
	}
	r.logger.Info("requirement resolved", "requirement_id", id, "disposition", ir.DispositionObligation, "stage", ob.Stage)
}

// resolve sets a proved disposition.
func (r *runState) resolve(id string, d ir.Disposition, lemmaText string) {
	if err := r.tr.Resolve(id, d, lemmaText); err != nil {
		r.logger.Error("cannot resolve requirement", "requirement_id", id, "error", err)
		return
	}
	r.logger.Info("requirement resolved", "requirement_id", id, "disposition", d)
}

// errorDetail splits an error into its kind and message. Unclassified
// errors are collaborator failures.
func errorDetail(err error) (ir.ErrorKind, string) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, pe.Message
	}
	return ir.KindTransport, err.Error()
}
