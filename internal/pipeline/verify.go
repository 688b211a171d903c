package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
	"github.com/roach88/proofpipe/internal/soundness"
	"github.com/roach88/proofpipe/internal/verifier"
)

// VerifyItem is a signature plus a candidate body (empty for Phase 1).
type VerifyItem struct {
	Signature ir.Signature
	Body      string
}

// VerifyAdapter submits lemmas to the verifier in full verification mode.
//
// Every lemma passes the soundness gate before the verifier is asked about
// it; a rejected lemma is never sent and its outcome is a failure carrying
// the gate's reason. Warnings are errors.
type VerifyAdapter struct {
	verifier    verifier.Verifier
	context     lemma.Context
	concurrency int
	logger      *slog.Logger
}

// NewVerifyAdapter creates a VerifyAdapter.
func NewVerifyAdapter(v verifier.Verifier, lctx lemma.Context, concurrency int, logger *slog.Logger) *VerifyAdapter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &VerifyAdapter{verifier: v, context: lctx, concurrency: concurrency, logger: logger}
}

var strict = verifier.Options{TreatWarningsAsErrors: true}

// Verify returns one outcome per item, in order.
//
// Gated items go out in one call first; if that call does not pass cleanly,
// each item is verified on its own to attribute the result. This is
// attribution, not a retry: an item's outcome is its individual result.
func (va *VerifyAdapter) Verify(ctx context.Context, items []VerifyItem) []ir.VerifyOutcome {
	out := make([]ir.VerifyOutcome, len(items))
	texts := make([]string, len(items))
	var gated []int
	for i, it := range items {
		texts[i] = lemma.Render(it.Signature, it.Body)
		if gate := soundness.Check(texts[i]); !gate.OK {
			out[i] = ir.VerifyOutcome{
				RequirementID: it.Signature.RequirementID,
				Error:         gate.Reason,
				UsedEmptyBody: strings.TrimSpace(it.Body) == "",
				Unsound:       true,
			}
			va.logger.Info("soundness gate rejected lemma",
				"requirement_id", it.Signature.RequirementID,
				"reason", gate.Reason)
			continue
		}
		gated = append(gated, i)
	}
	if len(gated) == 0 {
		return out
	}

	if len(gated) > 1 {
		lemmas := make([]string, len(gated))
		for j, i := range gated {
			lemmas[j] = texts[i]
		}
		res, err := va.verifier.Verify(ctx, va.context.Wrap(lemmas...), strict)
		if err == nil && res.OK && len(res.Warnings) == 0 {
			for _, i := range gated {
				out[i] = ir.VerifyOutcome{
					RequirementID: items[i].Signature.RequirementID,
					OK:            true,
					UsedEmptyBody: strings.TrimSpace(items[i].Body) == "",
				}
			}
			va.logger.Debug("batch verification passed", "lemmas", len(gated))
			return out
		}
		if err != nil {
			va.logger.Warn("batch verification call failed, verifying individually", "lemmas", len(gated), "error", err)
		} else {
			va.logger.Info("batch verification failed, verifying individually", "lemmas", len(gated))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(va.concurrency)
	for _, i := range gated {
		i := i
		g.Go(func() error {
			out[i] = va.verifyOne(ctx, items[i], texts[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (va *VerifyAdapter) verifyOne(ctx context.Context, it VerifyItem, text string) ir.VerifyOutcome {
	outcome := ir.VerifyOutcome{
		RequirementID: it.Signature.RequirementID,
		UsedEmptyBody: strings.TrimSpace(it.Body) == "",
	}
	res, err := va.verifier.Verify(ctx, va.context.Wrap(text), strict)
	if err != nil {
		outcome.Error = err.Error()
		outcome.Transport = true
		return outcome
	}
	if !res.OK || len(res.Warnings) > 0 {
		outcome.Error = strings.TrimSpace(verifier.Message(res))
		return outcome
	}
	outcome.OK = true
	return outcome
}
