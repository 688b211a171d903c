package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
)

// phase2Item is a requirement whose empty-body lemma failed verification.
type phase2Item struct {
	sig       ir.Signature
	verifyErr string
}

// phase1 formalizes, type-checks, corrects and verifies with empty bodies.
// It returns the requirements that go on to Phase 2, in input order.
func (r *runState) phase1(ctx context.Context) []phase2Item {
	fr, err := r.formalizer.Formalize(ctx, r.elided, r.reqs)
	if err != nil {
		_, msg := errorDetail(err)
		r.logger.Error("formalization call failed", "error", msg)
		for _, req := range r.reqs {
			r.tr.Record(ir.TrailEvent{RequirementID: req.ID, Stage: ir.StageFormalize, Error: msg, ErrorKind: ir.KindTransport})
			r.obligation(req.ID, msg)
		}
		return nil
	}

	// failing maps requirement id to its latest formalization or type-check error.
	failing := make(map[string]string)
	var sigs []ir.Signature
	for _, req := range r.reqs {
		sig, ok := fr.Signatures[req.ID]
		if !ok {
			msg := fr.Failures[req.ID]
			r.tr.Record(ir.TrailEvent{RequirementID: req.ID, Stage: ir.StageFormalize, Error: msg, ErrorKind: ir.KindFormalization})
			failing[req.ID] = msg
			continue
		}
		r.tr.SetSignature(sig)
		r.tr.Record(ir.TrailEvent{RequirementID: req.ID, Stage: ir.StageFormalize, OK: true, Artifact: lemma.Render(sig, "")})
		sigs = append(sigs, sig)
	}

	r.typeCheck(ctx, sigs, failing)
	r.logger.Info("type-check finished", "requirements", len(r.reqs), "failing", len(failing))

	if r.reformalize && 2*len(failing) > len(r.reqs) {
		r.reformalizeBatch(ctx, failing)
	}
	if len(failing) > 0 {
		r.correct(ctx, failing)
	}
	return r.verifyEmpty(ctx)
}

// typeCheck checks sigs and updates failing: passing ids are removed,
// failing ids get their error, transport failures become obligations.
func (r *runState) typeCheck(ctx context.Context, sigs []ir.Signature, failing map[string]string) {
	for i, oc := range r.typeChecker.Check(ctx, sigs) {
		id := sigs[i].RequirementID
		ev := ir.TrailEvent{
			RequirementID: id,
			Stage:         ir.StageTypeCheck,
			OK:            oc.OK,
			Artifact:      lemma.Render(sigs[i], ""),
			Error:         oc.Error,
		}
		switch {
		case oc.Transport:
			ev.ErrorKind = ir.KindTransport
			r.tr.Record(ev)
			delete(failing, id)
			r.obligation(id, oc.Error)
		case !oc.OK:
			ev.ErrorKind = ir.KindTypeCheck
			r.tr.Record(ev)
			failing[id] = oc.Error
		default:
			r.tr.Record(ev)
			delete(failing, id)
		}
	}
}

// reformalizeBatch re-runs the whole batch formalization once. Failing
// requirements adopt the new signatures; the rest keep theirs. A failing
// requirement the second round did not cover keeps its first-round error.
func (r *runState) reformalizeBatch(ctx context.Context, failing map[string]string) {
	r.logger.Warn("majority of batch failed type-check, re-formalizing",
		"failing", len(failing),
		"requirements", len(r.reqs))

	ids := r.inOrder(failing)
	fr, err := r.formalizer.Formalize(ctx, r.elided, r.reqs)
	if err != nil {
		_, msg := errorDetail(err)
		for _, id := range ids {
			r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: ir.StageReformalize, Error: msg, ErrorKind: ir.KindTransport})
			delete(failing, id)
			r.obligation(id, msg)
		}
		return
	}

	var sigs []ir.Signature
	for _, id := range ids {
		sig, ok := fr.Signatures[id]
		if !ok {
			r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: ir.StageReformalize, Error: fr.Failures[id], ErrorKind: ir.KindFormalization})
			continue
		}
		r.tr.SetSignature(sig)
		r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: ir.StageReformalize, OK: true, Artifact: lemma.Render(sig, "")})
		sigs = append(sigs, sig)
	}
	r.typeCheck(ctx, sigs, failing)
}

// correct gives every failing requirement one correction and one more
// individual type-check. Anything that still fails is an obligation.
func (r *runState) correct(ctx context.Context, failing map[string]string) {
	ids := r.inOrder(failing)
	r.logger.Info("correcting signatures", "count", len(ids))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		id := id
		lastErr := failing[id]
		g.Go(func() error {
			r.correctOne(ctx, id, lastErr)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *runState) correctOne(ctx context.Context, id, lastErr string) {
	var prev *ir.Signature
	if s, ok := r.tr.Signature(id); ok {
		prev = &s
	}

	sig, err := r.formalizer.Correct(ctx, r.elided, r.tr.Requirement(id), prev, lastErr)
	if err != nil {
		kind, msg := errorDetail(err)
		r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: ir.StageCorrect, Error: msg, ErrorKind: kind})
		if kind == ir.KindTransport {
			r.obligation(id, msg)
			return
		}
		r.obligation(id, lastErr)
		return
	}

	text := lemma.Render(sig, "")
	r.tr.SetSignature(sig)
	r.tr.Record(ir.TrailEvent{RequirementID: id, Stage: ir.StageCorrect, OK: true, Artifact: text})

	oc := r.typeChecker.CheckOne(ctx, sig)
	ev := ir.TrailEvent{RequirementID: id, Stage: ir.StageTypeCheckRetry, OK: oc.OK, Artifact: text, Error: oc.Error}
	switch {
	case oc.Transport:
		ev.ErrorKind = ir.KindTransport
	case !oc.OK:
		ev.ErrorKind = ir.KindTypeCheck
	}
	r.tr.Record(ev)
	if !oc.OK {
		r.obligation(id, oc.Error)
	}
}

// verifyEmpty verifies every still-pending requirement with an empty body.
// Passing requirements are Direct; the rest go to Phase 2 unless the
// verifier could not be reached.
func (r *runState) verifyEmpty(ctx context.Context) []phase2Item {
	ids := r.tr.Pending()
	if len(ids) == 0 {
		return nil
	}
	items := make([]VerifyItem, len(ids))
	for i, id := range ids {
		sig, _ := r.tr.Signature(id)
		items[i] = VerifyItem{Signature: sig}
	}

	var next []phase2Item
	for i, oc := range r.verify.Verify(ctx, items) {
		id := ids[i]
		sig := items[i].Signature
		text := lemma.Render(sig, "")
		ev := ir.TrailEvent{RequirementID: id, Stage: ir.StageVerifyEmpty, OK: oc.OK, Artifact: text, Error: oc.Error}

		switch {
		case oc.OK:
			r.tr.Record(ev)
			r.resolve(id, ir.DispositionDirect, text)
		case oc.Transport:
			ev.ErrorKind = ir.KindTransport
			r.tr.Record(ev)
			r.obligation(id, oc.Error)
		case oc.Unsound:
			r.tr.MarkUnsound(id, oc.Error)
			sig.Unsound = oc.Error
			ev.Stage = ir.StageSoundness
			ev.ErrorKind = ir.KindSoundness
			r.tr.Record(ev)
			next = append(next, phase2Item{sig: sig, verifyErr: oc.Error})
		default:
			ev.ErrorKind = ir.KindVerification
			r.tr.Record(ev)
			next = append(next, phase2Item{sig: sig, verifyErr: oc.Error})
		}
	}

	counts := r.countDirect(ids)
	r.logger.Info("empty-body verification finished",
		"verified", len(ids),
		"direct", counts,
		"to_phase2", len(next))
	return next
}

func (r *runState) countDirect(ids []string) int {
	n := 0
	for _, id := range ids {
		if r.tr.Disposition(id) == ir.DispositionDirect {
			n++
		}
	}
	return n
}

// inOrder returns the keys of set in requirement input order.
func (r *runState) inOrder(set map[string]string) []string {
	ids := make([]string, 0, len(set))
	for _, req := range r.reqs {
		if _, ok := set[req.ID]; ok {
			ids = append(ids, req.ID)
		}
	}
	return ids
}
