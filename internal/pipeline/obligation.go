package pipeline

import (
	"fmt"
	"strings"

	"github.com/roach88/proofpipe/internal/ir"
)

// BuildObligation packages an exhausted requirement for manual completion.
//
// The best attempt is the last artifact in the trail: the type-check-failed
// signature, the empty-body lemma, or the failed proof retry, whichever came
// last. sig is the requirement's signature at that point, if any.
func BuildObligation(req ir.Requirement, trail []ir.TrailEvent, sig *ir.Signature, finalErr string) ir.Obligation {
	ob := ir.Obligation{
		RequirementID: req.ID,
		Error:         finalErr,
	}
	if len(trail) > 0 {
		ob.Stage = trail[len(trail)-1].Stage
	}

	for i := len(trail) - 1; i >= 0; i-- {
		ev := trail[i]
		if ev.Artifact == "" {
			continue
		}
		ob.LemmaText = ev.Artifact
		if ev.Stage.IsProof() {
			ob.Proof = &ir.ProofAttempt{
				RequirementID: req.ID,
				AttemptNumber: ev.Attempt,
				Body:          ev.Body,
				Outcome: ir.VerifyOutcome{
					RequirementID: req.ID,
					OK:            ev.OK,
					Error:         ev.Error,
					Transport:     ev.ErrorKind == ir.KindTransport,
					Unsound:       ev.ErrorKind == ir.KindSoundness,
				},
			}
		} else if sig != nil {
			s := *sig
			ob.Signature = &s
		}
		break
	}

	ob.StubText = renderStub(req, ob)
	return ob
}

// renderStub renders an obligation as commented Dafny, ready to paste into
// a source file and finish by hand.
func renderStub(req ir.Requirement, ob ir.Obligation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// Obligation %s (stopped at %s)\n", req.ID, ob.Stage)
	for _, line := range strings.Split(strings.TrimSpace(req.Text), "\n") {
		fmt.Fprintf(&b, "//   %s\n", strings.TrimSpace(line))
	}
	b.WriteString("// Last error:\n")
	for _, line := range strings.Split(strings.TrimSpace(ob.Error), "\n") {
		fmt.Fprintf(&b, "//   %s\n", line)
	}
	if ob.LemmaText == "" {
		b.WriteString("// No lemma was produced.\n")
		return b.String()
	}
	b.WriteString(ob.LemmaText)
	b.WriteString("\n")
	return b.String()
}
