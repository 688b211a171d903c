// Package pipeline implements the two-phase proof pipeline.
//
// Phase 1 turns a batch of informal requirements into well-typed lemma
// signatures and tries each one with an empty body:
//
//  1. Formalize: one completion request for the whole batch; items are
//     matched to requirements by their requirement_id tag only.
//  2. Type-check: one verifier call for the batch. A global failure is never
//     parsed for attribution; every signature is re-checked on its own.
//  3. Re-formalize (optional): when more than half of the batch fails, the
//     batch formalization runs once more and failing items adopt the new
//     signatures.
//  4. Correct: each remaining failure gets one correction request carrying
//     its own error, then one more individual type-check.
//  5. Verify: one verifier call over all empty-body lemmas, with per-item
//     fallback for attribution. Passing items are Direct.
//
// Phase 2 runs per requirement: synthesize a body, verify it, and on failure
// retry exactly once with the new error. The outcome is Proof, ProofRetry or
// Obligation.
//
// INVARIANTS:
//
// Every requirement ends with exactly one terminal disposition, set once.
//
// The soundness gate runs on every lemma before any verifier verdict about
// it is trusted. A gate rejection is a verification failure.
//
// Collaborator errors (completion service or verifier unreachable, timed
// out) are terminal for the affected requirement only. They are recorded
// verbatim as its obligation error and never abort the run.
//
// CONCURRENCY:
//
// Batch calls are single outstanding requests. Individual fallbacks,
// corrections and Phase 2 run on a bounded errgroup; each requirement's
// state is touched only by its own task, and the tracker serializes writes.
package pipeline
