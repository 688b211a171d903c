package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/proofpipe/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// event builds a trail event with its content-addressed id.
func event(runID, reqID string, seq int64, stage ir.Stage, ok bool, artifact, errMsg string, kind ir.ErrorKind) ir.TrailEvent {
	ev := ir.TrailEvent{
		RequirementID: reqID,
		Seq:           seq,
		Stage:         stage,
		OK:            ok,
		Artifact:      artifact,
		Error:         errMsg,
		ErrorKind:     kind,
	}
	if stage.IsProof() {
		ev.Attempt = 1
		ev.Body = "NonNegHelper(m);"
	}
	ev.ID = ir.MustTrailEventID(runID, ev)
	return ev
}

// createTestRun builds a two-requirement run: R1 Direct, R2 Obligation.
func createTestRun(id string) *ir.Run {
	sig1 := &ir.Signature{RequirementID: "R1", Name: "A", Params: "m: Model", Requires: []string{"Inv(m)"}, Ensures: "m.balance >= 0"}
	sig2 := &ir.Signature{RequirementID: "R2", Name: "B", Params: "m: Model", Ensures: "m.balance > 100 && m.owner != \"<root>\""}
	lemma1 := "lemma A(m: Model)\n  requires Inv(m)\n  ensures m.balance >= 0\n{\n}"
	lemma2 := "lemma B(m: Model)\n  ensures m.balance > 100\n{\n  NonNegHelper(m);\n}"

	return &ir.Run{
		ID:              id,
		DomainPath:      "/work/bank.dfy",
		Module:          "Bank",
		PipelineVersion: ir.PipelineVersion,
		IRVersion:       ir.IRVersion,
		Requirements: []ir.RequirementResult{
			{
				Requirement: ir.Requirement{ID: "R1", Text: "Balances are never negative."},
				Disposition: ir.DispositionDirect,
				Signature:   sig1,
				LemmaText:   lemma1,
				Trail: []ir.TrailEvent{
					event(id, "R1", 1, ir.StageFormalize, true, lemma1, "", ""),
					event(id, "R1", 3, ir.StageTypeCheck, true, lemma1, "", ""),
					event(id, "R1", 5, ir.StageVerifyEmpty, true, lemma1, "", ""),
				},
			},
			{
				Requirement: ir.Requirement{ID: "R2", Text: "Balances exceed one hundred."},
				Disposition: ir.DispositionObligation,
				Signature:   sig2,
				LemmaText:   lemma2,
				Trail: []ir.TrailEvent{
					event(id, "R2", 2, ir.StageFormalize, true, lemma2, "", ""),
					event(id, "R2", 4, ir.StageTypeCheck, true, lemma2, "", ""),
					event(id, "R2", 6, ir.StageProof, false, lemma2, "candidate.dfy: Error: postcondition", ir.KindVerification),
				},
				Obligation: &ir.Obligation{
					RequirementID: "R2",
					Stage:         ir.StageProof,
					Proof:         &ir.ProofAttempt{RequirementID: "R2", AttemptNumber: 1, Body: "NonNegHelper(m);", Outcome: ir.VerifyOutcome{RequirementID: "R2", Error: "candidate.dfy: Error: postcondition"}},
					LemmaText:     lemma2,
					Error:         "candidate.dfy: Error: postcondition",
					StubText:      "// Obligation R2 (stopped at proof)\n" + lemma2 + "\n",
				},
			},
		},
	}
}
