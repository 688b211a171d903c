package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
	"github.com/roach88/proofpipe/internal/verifier"
)

// TypeChecker submits signatures to the verifier in type-check mode.
type TypeChecker struct {
	verifier    verifier.Verifier
	context     lemma.Context
	concurrency int
	logger      *slog.Logger
}

// NewTypeChecker creates a TypeChecker. Individual fallback calls run at
// most concurrency at a time.
func NewTypeChecker(v verifier.Verifier, lctx lemma.Context, concurrency int, logger *slog.Logger) *TypeChecker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TypeChecker{verifier: v, context: lctx, concurrency: concurrency, logger: logger}
}

// Check type-checks sigs and returns one outcome per signature, in order.
//
// All signatures go out in one call first. If that call fails for any reason
// its output is not parsed; every signature is re-checked on its own and the
// individual results are authoritative.
func (tc *TypeChecker) Check(ctx context.Context, sigs []ir.Signature) []ir.TypeCheckOutcome {
	if len(sigs) == 0 {
		return nil
	}
	if len(sigs) > 1 {
		lemmas := make([]string, len(sigs))
		for i, s := range sigs {
			lemmas[i] = lemma.Render(s, "")
		}
		res, err := tc.verifier.TypeCheck(ctx, tc.context.Wrap(lemmas...))
		if err == nil && res.OK {
			out := make([]ir.TypeCheckOutcome, len(sigs))
			for i, s := range sigs {
				out[i] = ir.TypeCheckOutcome{RequirementID: s.RequirementID, OK: true}
			}
			tc.logger.Debug("batch type-check passed", "signatures", len(sigs))
			return out
		}
		if err != nil {
			tc.logger.Warn("batch type-check call failed, checking individually", "signatures", len(sigs), "error", err)
		} else {
			tc.logger.Info("batch type-check failed, checking individually", "signatures", len(sigs))
		}
	}

	out := make([]ir.TypeCheckOutcome, len(sigs))
	g := new(errgroup.Group)
	g.SetLimit(tc.concurrency)
	for i, s := range sigs {
		i, s := i, s
		g.Go(func() error {
			out[i] = tc.CheckOne(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CheckOne type-checks a single signature.
func (tc *TypeChecker) CheckOne(ctx context.Context, sig ir.Signature) ir.TypeCheckOutcome {
	res, err := tc.verifier.TypeCheck(ctx, tc.context.Wrap(lemma.Render(sig, "")))
	if err != nil {
		return ir.TypeCheckOutcome{RequirementID: sig.RequirementID, Error: err.Error(), Transport: true}
	}
	if !res.OK {
		return ir.TypeCheckOutcome{RequirementID: sig.RequirementID, Error: strings.TrimSpace(verifier.Message(res))}
	}
	return ir.TypeCheckOutcome{RequirementID: sig.RequirementID, OK: true}
}
