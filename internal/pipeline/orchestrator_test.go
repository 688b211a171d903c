package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
	"github.com/roach88/proofpipe/internal/testutil"
	"github.com/roach88/proofpipe/internal/verifier"
)

func TestScenarioDirect(t *testing.T) {
	s := sig("R1", "BalanceNonNeg", "m.balance >= 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s))
	v := testutil.NewScriptedVerifier(verifyOK("BalanceNonNeg"))

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "A valid account never has a negative balance."))

	rr := resultFor(t, run, "R1")
	assert.Equal(t, ir.DispositionDirect, rr.Disposition)
	assert.Equal(t, lemma.Render(s, ""), rr.LemmaText)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageVerifyEmpty}, stages(rr))
	assert.Nil(t, rr.Obligation)
	assert.Equal(t, 0, model.Calls(completion.PurposeSynthesize, "R1"))

	// The formalization prompt sees the domain with proofs elided.
	prompts := model.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].User, "ensures m.balance + 1 > 0\n  {}")
	assert.NotContains(t, prompts[0].User, "assert m.balance >= 0;")
	assert.Contains(t, prompts[0].User, "requirement_id: R1")
}

func TestScenarioProof(t *testing.T) {
	s := sig("R2", "BalancePlusOne", "m.balance + 1 > 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R2", testutil.ProofJSON("R2", "NonNegHelper(m);"))
	v := testutil.NewScriptedVerifier(verifyOKWith("BalancePlusOne", "NonNegHelper(m)"))

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R2", "Balance plus one is positive."))

	rr := resultFor(t, run, "R2")
	assert.Equal(t, ir.DispositionProof, rr.Disposition)
	assert.Equal(t, lemma.Render(s, "NonNegHelper(m);"), rr.LemmaText)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageVerifyEmpty, ir.StageProof}, stages(rr))
	assert.Equal(t, 1, model.Calls(completion.PurposeSynthesize, "R2"))

	// Phase 2 sees the intact domain and the empty-body error.
	var synth completion.Prompt
	for _, p := range model.Prompts() {
		if p.Purpose == completion.PurposeSynthesize {
			synth = p
		}
	}
	assert.Contains(t, synth.User, "assert m.balance >= 0;")
	assert.Contains(t, synth.User, testutil.DefaultVerifyError)
}

func TestScenarioProofRetry(t *testing.T) {
	s := sig("R3", "BalancePlusOne", "m.balance + 1 > 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R3",
			testutil.ProofJSON("R3", "assert m.balance > 5;"),
			testutil.ProofJSON("R3", "NonNegHelper(m);"))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "verify", BodyContains: "m.balance > 5", Error: "assertion might not hold"},
		verifyOKWith("BalancePlusOne", "NonNegHelper(m)"),
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R3", "Balance plus one is positive."))

	rr := resultFor(t, run, "R3")
	assert.Equal(t, ir.DispositionProofRetry, rr.Disposition)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageVerifyEmpty, ir.StageProof, ir.StageProofRetry}, stages(rr))
	assert.Equal(t, 2, model.Calls(completion.PurposeSynthesize, "R3"))

	// The retry prompt carries the failed body and its error.
	prompts := model.Prompts()
	retry := prompts[len(prompts)-1]
	assert.Equal(t, completion.PurposeSynthesize, retry.Purpose)
	assert.Contains(t, retry.User, "assert m.balance > 5;")
	assert.Contains(t, retry.User, "candidate.dfy: Error: assertion might not hold")
}

func TestScenarioObligationAfterRetry(t *testing.T) {
	s := sig("R4", "Impossible", "m.balance > 100", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R4",
			testutil.ProofJSON("R4", "assert A;"),
			testutil.ProofJSON("R4", "assert B;"))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "verify", BodyContains: "assert B;", Error: "assertion B might not hold"},
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R4", "Every balance exceeds one hundred."))

	rr := resultFor(t, run, "R4")
	require.Equal(t, ir.DispositionObligation, rr.Disposition)
	require.NotNil(t, rr.Obligation)

	ob := rr.Obligation
	assert.Equal(t, "candidate.dfy: Error: assertion B might not hold", ob.Error)
	assert.Equal(t, ir.StageProofRetry, ob.Stage)
	require.NotNil(t, ob.Proof)
	assert.Nil(t, ob.Signature)
	assert.Equal(t, 2, ob.Proof.AttemptNumber)
	assert.Equal(t, "assert B;", ob.Proof.Body)
	assert.Equal(t, lemma.Render(s, "assert B;"), ob.LemmaText)
	assert.Equal(t, ob.LemmaText, rr.LemmaText)
	assert.Contains(t, ob.StubText, "// Obligation R4 (stopped at proof_retry)")
	assert.Contains(t, ob.StubText, "assert B;")

	assert.Equal(t, 2, model.Calls(completion.PurposeSynthesize, "R4"))
	proofFailures := 0
	for _, ev := range rr.Trail {
		if ev.Stage.IsProof() && !ev.OK {
			proofFailures++
		}
	}
	assert.Equal(t, 2, proofFailures)
}

func TestScenarioAxiomSignatureNeverDirect(t *testing.T) {
	s := sig("R5", "Cheat", "{:axiom} m.balance > 100")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R5",
			testutil.ProofJSON("R5", "NonNegHelper(m);"),
			testutil.ProofJSON("R5", "NonNegHelper(m);"))
	// This verifier would accept anything.
	v := testutil.NewScriptedVerifier(testutil.VerifierRule{OK: true})

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R5", "Every balance exceeds one hundred."))

	rr := resultFor(t, run, "R5")
	assert.Equal(t, ir.DispositionObligation, rr.Disposition)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageSoundness, ir.StageProof, ir.StageProofRetry}, stages(rr))
	for _, ev := range rr.Trail[2:] {
		assert.Equal(t, ir.KindSoundness, ev.ErrorKind)
	}
	require.NotNil(t, rr.Signature)
	assert.Contains(t, rr.Signature.Unsound, "{:axiom} attribute")
	assert.Contains(t, rr.Obligation.Error, "soundness violation")

	// The verifier was never asked to verify the unsound lemma.
	for _, c := range v.Calls() {
		assert.NotEqual(t, verifier.ModeVerify, c.Mode)
	}
}

func TestSoundnessRejectedBodyFeedsRetry(t *testing.T) {
	s := sig("R6", "BalancePlusOne", "m.balance + 1 > 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R6",
			testutil.ProofJSON("R6", "assume m.balance + 1 > 0;"),
			testutil.ProofJSON("R6", "NonNegHelper(m);"))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "verify", BodyContains: "assume", OK: true},
		verifyOKWith("BalancePlusOne", "NonNegHelper(m)"),
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R6", "Balance plus one is positive."))

	rr := resultFor(t, run, "R6")
	assert.Equal(t, ir.DispositionProofRetry, rr.Disposition)
	assert.Equal(t, ir.KindSoundness, rr.Trail[3].ErrorKind)
	assert.Equal(t, "soundness violation: assume statement at line 5", rr.Trail[3].Error)

	prompts := model.Prompts()
	assert.Contains(t, prompts[len(prompts)-1].User, "soundness violation: assume statement")
}

func TestBatchTypeCheckFallsBackToIndividualChecks(t *testing.T) {
	good := sig("R1", "Good", "m.balance >= 0", "Inv(m)")
	bad := sig("R2", "Bad", "Foo(m)")
	fixed := sig("R2", "BadFixed", "m.balance >= 0", "Inv(m)")

	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(good, bad)).
		Reply(completion.PurposeCorrect, "R2", testutil.SignatureJSON(fixed))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "typecheck", BodyContains: "Foo(m)", Error: "unresolved identifier: Foo"},
		testutil.VerifierRule{Mode: "verify", OK: true},
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "first"), req("R2", "second"))

	assert.Equal(t, 1, v.BatchCalls(verifier.ModeTypeCheck))
	assert.Equal(t, 1, v.CallsFor(verifier.ModeTypeCheck, "Good"))
	assert.Equal(t, 1, v.CallsFor(verifier.ModeTypeCheck, "Bad"))
	assert.Equal(t, 1, v.CallsFor(verifier.ModeTypeCheck, "BadFixed"))

	r2 := resultFor(t, run, "R2")
	assert.Equal(t, ir.DispositionDirect, r2.Disposition)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageCorrect, ir.StageTypeCheckRetry, ir.StageVerifyEmpty}, stages(r2))

	// The per-item message is the individual result, not a slice of the batch output.
	tc := r2.Trail[1]
	assert.Equal(t, "candidate.dfy: Error: unresolved identifier: Foo", tc.Error)
	assert.NotContains(t, tc.Error, "Dafny program verifier finished")

	correctPrompt := model.Prompts()[1]
	assert.Equal(t, completion.PurposeCorrect, correctPrompt.Purpose)
	assert.Contains(t, correctPrompt.User, "unresolved identifier: Foo")
	assert.Contains(t, correctPrompt.User, "lemma Bad(m: Model)")

	assert.Equal(t, ir.DispositionDirect, resultFor(t, run, "R1").Disposition)
}

func TestCorrectionThatStillFailsIsObligation(t *testing.T) {
	good := sig("R1", "Good", "m.balance >= 0", "Inv(m)")
	bad := sig("R2", "Bad", "Foo(m)")
	stillBad := sig("R2", "StillBad", "Foo(m) && true")

	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(good, bad)).
		Reply(completion.PurposeCorrect, "R2", testutil.SignatureJSON(stillBad))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "typecheck", Lemma: "Bad", Error: "unresolved identifier: Foo"},
		testutil.VerifierRule{Mode: "typecheck", Lemma: "StillBad", Error: "unresolved identifier: Foo (again)"},
		testutil.VerifierRule{Mode: "verify", OK: true},
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "first"), req("R2", "second"))

	r2 := resultFor(t, run, "R2")
	require.Equal(t, ir.DispositionObligation, r2.Disposition)
	assert.Equal(t, "candidate.dfy: Error: unresolved identifier: Foo (again)", r2.Obligation.Error)
	assert.Equal(t, ir.StageTypeCheckRetry, r2.Obligation.Stage)
	require.NotNil(t, r2.Obligation.Signature)
	assert.Equal(t, "StillBad", r2.Obligation.Signature.Name)
	assert.Equal(t, lemma.Render(stillBad, ""), r2.Obligation.LemmaText)

	// Never verified.
	assert.Equal(t, 0, v.CallsFor(verifier.ModeVerify, "StillBad"))
	assert.Equal(t, 0, model.Calls(completion.PurposeSynthesize, "R2"))
}

func TestUnusableCorrectionKeepsTypeCheckError(t *testing.T) {
	good := sig("R1", "Good", "m.balance >= 0", "Inv(m)")
	bad := sig("R2", "Bad", "Foo(m)")

	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(good, bad)).
		Reply(completion.PurposeCorrect, "R2", `{"requirement_id": "R2", "name": "Bad"}`)
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "typecheck", Lemma: "Bad", Error: "unresolved identifier: Foo"},
		testutil.VerifierRule{Mode: "verify", OK: true},
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "first"), req("R2", "second"))

	r2 := resultFor(t, run, "R2")
	require.Equal(t, ir.DispositionObligation, r2.Disposition)
	assert.Equal(t, "candidate.dfy: Error: unresolved identifier: Foo", r2.Obligation.Error)
	last := r2.Trail[len(r2.Trail)-1]
	assert.Equal(t, ir.StageCorrect, last.Stage)
	assert.Equal(t, ir.KindFormalization, last.ErrorKind)
	// Best attempt is the type-check-failed signature.
	assert.Equal(t, lemma.Render(bad, ""), r2.Obligation.LemmaText)
}

func TestCorrectionTransportFailure(t *testing.T) {
	good := sig("R1", "Good", "m.balance >= 0", "Inv(m)")
	bad := sig("R2", "Bad", "Foo(m)")

	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(good, bad)).
		On(completion.PurposeCorrect, "R2", testutil.Response{Err: errors.New("connection reset by peer")})
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "typecheck", Lemma: "Bad", Error: "unresolved identifier: Foo"},
		testutil.VerifierRule{Mode: "verify", OK: true},
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "first"), req("R2", "second"))

	r2 := resultFor(t, run, "R2")
	require.Equal(t, ir.DispositionObligation, r2.Disposition)
	assert.Equal(t, "completion correct: connection reset by peer", r2.Obligation.Error)
	assert.Equal(t, ir.KindTransport, r2.Trail[len(r2.Trail)-1].ErrorKind)
	assert.Equal(t, ir.DispositionDirect, resultFor(t, run, "R1").Disposition)
}

func TestFormalizationBatchAttribution(t *testing.T) {
	r1 := sig("R1", "First", "m.balance >= 0", "Inv(m)")
	r1dup := sig("R1", "FirstDuplicate", "true")
	stray := sig("R9", "Stray", "true")
	batch := `{"signatures": [` +
		testutil.SignatureJSON(stray) + `,` +
		testutil.SignatureJSON(r1) + `,` +
		`{"requirement_id": "R2", "name": "Second"},` +
		testutil.SignatureJSON(r1dup) +
		`]}`
	fixed2 := sig("R2", "Second", "m.balance >= 0", "Inv(m)")
	fixed3 := sig("R3", "Third", "m.balance >= 0", "Inv(m)")

	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", batch).
		Reply(completion.PurposeCorrect, "R2", testutil.SignatureJSON(fixed2)).
		Reply(completion.PurposeCorrect, "R3", testutil.SignatureJSON(fixed3))
	v := testutil.NewScriptedVerifier(testutil.VerifierRule{Mode: "verify", OK: true})

	run := runPipeline(t, newTestOrchestrator(t, model, v, WithMajorityReformalization(false)),
		req("R1", "first"), req("R2", "second"), req("R3", "third"))

	r1r := resultFor(t, run, "R1")
	assert.Equal(t, "First", r1r.Signature.Name)
	assert.Equal(t, ir.DispositionDirect, r1r.Disposition)

	r2r := resultFor(t, run, "R2")
	assert.Equal(t, ir.KindFormalization, r2r.Trail[0].ErrorKind)
	assert.Contains(t, r2r.Trail[0].Error, "#Signature")
	assert.Equal(t, ir.DispositionDirect, r2r.Disposition)

	r3r := resultFor(t, run, "R3")
	assert.Equal(t, "formalization response has no signature for this requirement", r3r.Trail[0].Error)
	assert.Equal(t, ir.DispositionDirect, r3r.Disposition)

	for _, p := range model.Prompts() {
		if p.Purpose == completion.PurposeCorrect && p.Key == "R3" {
			assert.Contains(t, p.User, "No usable signature was produced.")
		}
	}
}

func TestFormalizationTransportFailureIsObligationForAll(t *testing.T) {
	model := testutil.NewScriptedModel().
		On(completion.PurposeFormalize, "", testutil.Response{Err: errors.New("503 service unavailable")})
	v := testutil.NewScriptedVerifier()

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "first"), req("R2", "second"))

	for _, rr := range run.Requirements {
		require.Equal(t, ir.DispositionObligation, rr.Disposition)
		assert.Equal(t, "completion formalize: 503 service unavailable", rr.Obligation.Error)
		assert.Equal(t, ir.StageFormalize, rr.Obligation.Stage)
		assert.Empty(t, rr.Obligation.LemmaText)
		assert.Contains(t, rr.Obligation.StubText, "// No lemma was produced.")
	}
	assert.Empty(t, v.Calls())
}

func TestUnusableFormalizationBatchGoesToCorrection(t *testing.T) {
	fixed := sig("R1", "First", "m.balance >= 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", "I am unable to comply.").
		Reply(completion.PurposeCorrect, "R1", testutil.SignatureJSON(fixed))
	v := testutil.NewScriptedVerifier(verifyOK("First"))

	run := runPipeline(t, newTestOrchestrator(t, model, v, WithMajorityReformalization(false)), req("R1", "first"))

	rr := resultFor(t, run, "R1")
	assert.Equal(t, ir.DispositionDirect, rr.Disposition)
	assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageCorrect, ir.StageTypeCheckRetry, ir.StageVerifyEmpty}, stages(rr))
}

func TestMajorityFailureReformalizesOnce(t *testing.T) {
	reqs := []ir.Requirement{req("R1", "one"), req("R2", "two"), req("R3", "three")}
	round1 := testutil.SignatureBatchJSON(
		sig("R1", "A", "Undefined(m)"),
		sig("R2", "B", "Undefined(m)"),
		sig("R3", "C", "m.balance >= 0", "Inv(m)"),
	)
	round2 := testutil.SignatureBatchJSON(
		sig("R1", "A2", "m.balance >= 0", "Inv(m)"),
		sig("R2", "B2", "m.balance >= 0", "Inv(m)"),
		sig("R3", "C2", "Undefined(m)"),
	)
	typecheckRule := testutil.VerifierRule{Mode: "typecheck", BodyContains: "Undefined", Error: "unresolved identifier: Undefined"}

	t.Run("enabled", func(t *testing.T) {
		model := testutil.NewScriptedModel().Reply(completion.PurposeFormalize, "", round1, round2)
		v := testutil.NewScriptedVerifier(typecheckRule, testutil.VerifierRule{Mode: "verify", OK: true})

		run := runPipeline(t, newTestOrchestrator(t, model, v), reqs...)

		assert.Equal(t, 2, model.Calls(completion.PurposeFormalize, ""))
		assert.Equal(t, 0, model.Calls(completion.PurposeCorrect, "R1"))

		r1 := resultFor(t, run, "R1")
		assert.Equal(t, ir.DispositionDirect, r1.Disposition)
		assert.Equal(t, "A2", r1.Signature.Name)
		assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageReformalize, ir.StageTypeCheck, ir.StageVerifyEmpty}, stages(r1))

		// R3 passed in round one and keeps its round-one signature.
		r3 := resultFor(t, run, "R3")
		assert.Equal(t, "C", r3.Signature.Name)
		assert.Equal(t, []ir.Stage{ir.StageFormalize, ir.StageTypeCheck, ir.StageVerifyEmpty}, stages(r3))
	})

	t.Run("disabled", func(t *testing.T) {
		model := testutil.NewScriptedModel().
			Reply(completion.PurposeFormalize, "", round1).
			Reply(completion.PurposeCorrect, "R1", testutil.SignatureJSON(sig("R1", "A3", "m.balance >= 0", "Inv(m)"))).
			Reply(completion.PurposeCorrect, "R2", testutil.SignatureJSON(sig("R2", "B3", "m.balance >= 0", "Inv(m)")))
		v := testutil.NewScriptedVerifier(typecheckRule, testutil.VerifierRule{Mode: "verify", OK: true})

		run := runPipeline(t, newTestOrchestrator(t, model, v, WithMajorityReformalization(false)), reqs...)

		assert.Equal(t, 1, model.Calls(completion.PurposeFormalize, ""))
		assert.Equal(t, 1, model.Calls(completion.PurposeCorrect, "R1"))
		assert.Equal(t, ir.DispositionDirect, resultFor(t, run, "R1").Disposition)
		assert.Equal(t, "A3", resultFor(t, run, "R1").Signature.Name)
	})
}

func TestBatchVerifyFallbackAttributes(t *testing.T) {
	a := sig("R1", "A", "m.balance >= 0", "Inv(m)")
	b := sig("R2", "B", "m.balance + 1 > 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(a, b)).
		Reply(completion.PurposeSynthesize, "R2", testutil.ProofJSON("R2", "NonNegHelper(m);"))
	v := testutil.NewScriptedVerifier(verifyOK("A"), verifyOKWith("B", "NonNegHelper"))

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"), req("R2", "two"))

	assert.Equal(t, 1, v.BatchCalls(verifier.ModeVerify))
	assert.Equal(t, 1, v.CallsFor(verifier.ModeVerify, "A"))
	assert.Equal(t, ir.DispositionDirect, resultFor(t, run, "R1").Disposition)
	assert.Equal(t, ir.DispositionProof, resultFor(t, run, "R2").Disposition)
	assert.Equal(t, 0, model.Calls(completion.PurposeSynthesize, "R1"))
}

func TestWarningsAreFailures(t *testing.T) {
	s := sig("R1", "Noisy", "m.balance >= 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R1",
			testutil.ProofJSON("R1", "assert true;"),
			testutil.ProofJSON("R1", "assert true;"))
	v := testutil.NewScriptedVerifier(testutil.VerifierRule{Mode: "verify", OK: true, Warnings: []string{"unused variable 'x'"}})

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"))

	rr := resultFor(t, run, "R1")
	assert.Equal(t, ir.DispositionObligation, rr.Disposition)
	assert.Equal(t, "candidate.dfy: Warning: unused variable 'x'", rr.Obligation.Error)
}

func TestVerifierTransportIsolatedToRequirement(t *testing.T) {
	a := sig("R1", "A", "m.balance >= 0", "Inv(m)")
	b := sig("R2", "B", "m.balance >= 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(a, b))
	v := testutil.NewScriptedVerifier(
		testutil.VerifierRule{Mode: "verify", Lemma: "B", Transport: "dafny crashed"},
		verifyOK("A"),
	)

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"), req("R2", "two"))

	assert.Equal(t, ir.DispositionDirect, resultFor(t, run, "R1").Disposition)
	r2 := resultFor(t, run, "R2")
	require.Equal(t, ir.DispositionObligation, r2.Disposition)
	assert.Equal(t, "scripted verify: dafny crashed", r2.Obligation.Error)
	assert.Equal(t, ir.KindTransport, r2.Trail[len(r2.Trail)-1].ErrorKind)
	assert.Equal(t, 0, model.Calls(completion.PurposeSynthesize, "R2"))
}

func TestSynthesisTransportIsImmediateObligation(t *testing.T) {
	s := sig("R1", "A", "m.balance > 100")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		On(completion.PurposeSynthesize, "R1", testutil.Response{Err: errors.New("timeout awaiting headers")})
	v := testutil.NewScriptedVerifier()

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"))

	rr := resultFor(t, run, "R1")
	require.Equal(t, ir.DispositionObligation, rr.Disposition)
	assert.Equal(t, "completion synthesize: timeout awaiting headers", rr.Obligation.Error)
	assert.Equal(t, 1, model.Calls(completion.PurposeSynthesize, "R1"))
	// Best attempt is the empty-body lemma.
	assert.Equal(t, lemma.Render(s, ""), rr.Obligation.LemmaText)
	assert.NotNil(t, rr.Obligation.Signature)
}

func TestUnusableSynthesisCountsAsAttempt(t *testing.T) {
	s := sig("R1", "A", "m.balance + 1 > 0", "Inv(m)")
	model := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s)).
		Reply(completion.PurposeSynthesize, "R1",
			testutil.ProofJSON("R9", "NonNegHelper(m);"),
			testutil.ProofJSON("R1", "NonNegHelper(m);"))
	v := testutil.NewScriptedVerifier(verifyOKWith("A", "NonNegHelper"))

	run := runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"))

	rr := resultFor(t, run, "R1")
	assert.Equal(t, ir.DispositionProofRetry, rr.Disposition)
	assert.Equal(t, ir.KindFormalization, rr.Trail[3].ErrorKind)
	assert.Contains(t, rr.Trail[3].Error, `"R9"`)
}

// blockingModel hangs synthesis for one key until the context ends.
type blockingModel struct {
	*testutil.ScriptedModel
	block string
}

func (m *blockingModel) Generate(ctx context.Context, p completion.Prompt) (string, error) {
	if p.Purpose == completion.PurposeSynthesize && p.Key == m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.ScriptedModel.Generate(ctx, p)
}

func TestPhase2HangDoesNotBlockOthers(t *testing.T) {
	a := sig("R1", "A", "m.balance + 1 > 0", "Inv(m)")
	b := sig("R2", "B", "m.balance + 1 > 0", "Inv(m)")
	scripted := testutil.NewScriptedModel().
		Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(a, b)).
		Reply(completion.PurposeSynthesize, "R2", testutil.ProofJSON("R2", "NonNegHelper(m);"))
	model := &blockingModel{ScriptedModel: scripted, block: "R1"}
	v := testutil.NewScriptedVerifier(verifyOKWith("B", "NonNegHelper"))

	o := newTestOrchestrator(t, model, v, WithPhase2Timeout(100*time.Millisecond))
	run := runPipeline(t, o, req("R1", "one"), req("R2", "two"))

	r1 := resultFor(t, run, "R1")
	require.Equal(t, ir.DispositionObligation, r1.Disposition)
	assert.True(t, strings.Contains(r1.Obligation.Error, context.DeadlineExceeded.Error()), r1.Obligation.Error)
	assert.Equal(t, ir.DispositionProof, resultFor(t, run, "R2").Disposition)
}

func TestRunRejectsInvalidRequirements(t *testing.T) {
	o := newTestOrchestrator(t, testutil.NewScriptedModel(), testutil.NewScriptedVerifier())

	_, err := o.Run(context.Background(), RunInput{Requirements: []ir.Requirement{req("R1", "a"), req("R1", "b")}})
	require.Error(t, err)

	_, err = o.Run(context.Background(), RunInput{Requirements: []ir.Requirement{req("", "a")}})
	require.Error(t, err)

	_, err = o.Run(context.Background(), RunInput{Requirements: []ir.Requirement{req("R1", "")}})
	require.Error(t, err)
}

func TestRunEmptyInput(t *testing.T) {
	model := testutil.NewScriptedModel()
	v := testutil.NewScriptedVerifier()
	run := runPipeline(t, newTestOrchestrator(t, model, v))
	assert.Empty(t, run.Requirements)
	assert.Empty(t, model.Prompts())
	assert.Empty(t, v.Calls())
	assert.Equal(t, "run-test", run.ID)
}

func TestTrailEventsHaveUniqueSeqAndStableIDs(t *testing.T) {
	build := func() *ir.Run {
		s := sig("R1", "A", "m.balance >= 0", "Inv(m)")
		model := testutil.NewScriptedModel().Reply(completion.PurposeFormalize, "", testutil.SignatureBatchJSON(s))
		v := testutil.NewScriptedVerifier(verifyOK("A"))
		return runPipeline(t, newTestOrchestrator(t, model, v), req("R1", "one"))
	}

	first, second := build(), build()
	seen := map[int64]bool{}
	for i, ev := range first.Requirements[0].Trail {
		assert.False(t, seen[ev.Seq])
		seen[ev.Seq] = true
		assert.Equal(t, ir.MustTrailEventID("run-test", withoutID(ev)), ev.ID)
		assert.Equal(t, ev.ID, second.Requirements[0].Trail[i].ID)
	}
}

func withoutID(ev ir.TrailEvent) ir.TrailEvent {
	ev.ID = ""
	return ev
}
