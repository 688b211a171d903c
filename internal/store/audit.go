package store

import (
	"context"
	"fmt"

	"github.com/roach88/proofpipe/internal/ir"
)

// Audit is the result of re-checking a stored run against the invariants
// the pipeline guarantees.
type Audit struct {
	RunID    string   `json:"run_id"`
	Events   int      `json:"events"`
	LastSeq  int64    `json:"last_seq"`
	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the audit found nothing wrong.
func (a Audit) OK() bool {
	return len(a.Problems) == 0
}

// AuditRun reloads a run and checks it:
//   - every trail event id matches its recomputed content hash
//   - seq strictly increases along each requirement's trail
//   - Direct requirements have no proof events; Proof and ProofRetry do
//   - exactly the Obligation requirements carry an obligation payload
//   - the verified lemma of a proved requirement is its last artifact
//
// Used by `proofpipe trace --audit` to detect a hand-edited or corrupt ledger.
func (s *Store) AuditRun(ctx context.Context, runID string) (Audit, error) {
	run, err := s.ReadRun(ctx, runID)
	if err != nil {
		return Audit{}, fmt.Errorf("audit: %w", err)
	}

	a := Audit{RunID: runID}
	problem := func(format string, args ...any) {
		a.Problems = append(a.Problems, fmt.Sprintf(format, args...))
	}

	for _, rr := range run.Requirements {
		id := rr.Requirement.ID
		var lastSeq int64
		proofEvents := 0
		lastArtifact := ""
		for _, ev := range rr.Trail {
			a.Events++
			if ev.Seq > a.LastSeq {
				a.LastSeq = ev.Seq
			}
			if ev.Seq <= lastSeq {
				problem("%s: seq %d does not follow %d", id, ev.Seq, lastSeq)
			}
			lastSeq = ev.Seq

			want := ev
			want.ID = ""
			if got, err := ir.TrailEventID(runID, want); err != nil || got != ev.ID {
				problem("%s: trail event at seq %d has id %s, content hashes to %s", id, ev.Seq, ev.ID, got)
			}
			if ev.Stage.IsProof() {
				proofEvents++
			}
			if ev.Artifact != "" {
				lastArtifact = ev.Artifact
			}
		}

		switch rr.Disposition {
		case ir.DispositionDirect:
			if proofEvents > 0 {
				problem("%s: direct but has %d proof events", id, proofEvents)
			}
		case ir.DispositionProof, ir.DispositionProofRetry:
			if proofEvents == 0 {
				problem("%s: %s without proof events", id, rr.Disposition)
			}
		}
		if (rr.Disposition == ir.DispositionObligation) != (rr.Obligation != nil) {
			problem("%s: disposition %s does not match obligation payload", id, rr.Disposition)
		}
		if rr.Disposition.Proved() && rr.LemmaText != lastArtifact {
			problem("%s: verified lemma is not the last recorded artifact", id)
		}
	}
	return a, nil
}
