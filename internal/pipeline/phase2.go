package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
)

// maxProofAttempts is the initial synthesis plus exactly one retry.
const maxProofAttempts = 2

// phase2 runs proof synthesis for each item on its own task. A task that
// hangs or fails never holds up another requirement's disposition.
func (r *runState) phase2(ctx context.Context, items []phase2Item) {
	if len(items) == 0 {
		return
	}
	r.logger.Info("phase 2 started", "requirements", len(items))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, it := range items {
		it := it
		g.Go(func() error {
			r.prove(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
}

// prove synthesizes and verifies a body, retrying once with the new error.
func (r *runState) prove(ctx context.Context, it phase2Item) {
	id := it.sig.RequirementID
	if err := r.tr.EnterPhase2(id); err != nil {
		r.logger.Error("cannot enter phase 2", "requirement_id", id, "error", err)
		return
	}
	if r.phase2Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.phase2Timeout)
		defer cancel()
	}

	lastErr := it.verifyErr
	var previous *ir.ProofAttempt
	for attempt := 1; attempt <= maxProofAttempts; attempt++ {
		stage := ir.StageProof
		if attempt > 1 {
			stage = ir.StageProofRetry
		}

		body, err := r.synth.Synthesize(ctx, it.sig, r.phase2Domain, lastErr, previous)
		if err != nil {
			kind, msg := errorDetail(err)
			r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: stage, Attempt: attempt, Error: msg, ErrorKind: kind})
			if kind == ir.KindTransport {
				r.obligation(id, msg)
				return
			}
			r.logger.Info("proof synthesis unusable", "requirement_id", id, "attempt", attempt, "error", msg)
			lastErr = msg
			continue
		}

		text := lemma.Render(it.sig, body)
		oc := r.verify.Verify(ctx, []VerifyItem{{Signature: it.sig, Body: body}})[0]
		ev := ir.TrailEvent{
			RequirementID: id,
			Stage:         stage,
			Attempt:       attempt,
			OK:            oc.OK,
			Artifact:      text,
			Body:          body,
			Error:         oc.Error,
		}

		switch {
		case oc.OK:
			r.tr.Record(ev)
			d := ir.DispositionProof
			if attempt > 1 {
				d = ir.DispositionProofRetry
			}
			r.resolve(id, d, text)
			return
		case oc.Transport:
			ev.ErrorKind = ir.KindTransport
			r.tr.Record(ev)
			r.obligation(id, oc.Error)
			return
		case oc.Unsound:
			ev.ErrorKind = ir.KindSoundness
		default:
			ev.ErrorKind = ir.KindVerification
		}
		r.tr.Record(ev)
		r.logger.Info("proof attempt failed", "requirement_id", id, "attempt", attempt, "kind", ev.ErrorKind)

		lastErr = oc.Error
		previous = &ir.ProofAttempt{RequirementID: id, AttemptNumber: attempt, Body: body, Outcome: oc}
	}

	r.obligation(id, lastErr)
}
