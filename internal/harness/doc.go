// Package harness provides scenario-driven conformance testing for the
// proof pipeline.
//
// A scenario scripts the pipeline's two external collaborators, the
// completion model and the verifier, and runs the real orchestrator against
// them. The resulting run is written to an in-memory store, audited, and
// checked against the scenario's assertions.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: proof_retry
//	description: "Second synthesized body verifies"
//	domain:
//	  path: /work/bank.dfy
//	  module: Bank
//	  source: |
//	    module Bank { ... }
//	requirements:
//	  - id: R1
//	    text: "Balance plus one is positive."
//	model:
//	  - purpose: formalize
//	    signatures:
//	      - { requirement_id: R1, name: PlusOne, params: "m: Model", ensures: "m.balance + 1 > 0" }
//	  - purpose: synthesize
//	    key: R1
//	    body: "assert false;"
//	verifier:
//	  - { mode: verify, lemma: PlusOne, body_contains: "NonNegHelper", ok: true }
//	assertions:
//	  - { type: disposition, requirement: R1, disposition: proof_retry }
//	  - { type: model_calls, purpose: synthesize, key: R1, count: 2 }
//
// Model replies are queued per (purpose, key) in file order. The batch
// formalization prompt has an empty key. Verifier rules are tried in order;
// an unmatched lemma type-checks and fails verification.
//
// # Assertion Types
//
//   - disposition: a requirement's terminal disposition
//   - stages: a requirement's exact trail stage sequence
//   - obligation: the obligation's stage and an error substring
//   - model_calls: prompts received for (purpose, key)
//   - verifier_calls: calls for one lemma, or batch calls when lemma is empty
//   - stored: the run read back from the store agrees with the returned run
//
// # Deterministic Testing
//
// Every scenario uses a fixed run id, so trail event ids are reproducible.
// Golden snapshots key trail events by their position within the
// requirement's trail rather than the run-wide seq, because Phase 2 tasks
// interleave.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/proof_retry.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
