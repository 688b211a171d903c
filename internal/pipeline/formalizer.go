package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
)

// Formalizer turns requirements into lemma signatures.
type Formalizer struct {
	client  *completion.Client
	prompts *Prompts
	logger  *slog.Logger
}

// NewFormalizer creates a Formalizer.
func NewFormalizer(client *completion.Client, prompts *Prompts, logger *slog.Logger) *Formalizer {
	return &Formalizer{client: client, prompts: prompts, logger: logger}
}

// FormalizeResult holds one batch formalization's per-requirement outcome.
// Every requirement appears in exactly one of the two maps.
type FormalizeResult struct {
	Signatures map[string]ir.Signature
	Failures   map[string]string
}

// Formalize requests one signature per requirement in a single call.
//
// Items are matched to requirements by their requirement_id tag, never by
// position. An item that fails its schema is attributed to the id it
// carries, if any. Items with unknown ids are dropped; for a duplicated id
// the first item wins. Requirements left without a valid item are failures.
//
// The returned error is non-nil only when the service could not be reached;
// an unusable response turns into per-requirement failures instead.
func (f *Formalizer) Formalize(ctx context.Context, domain string, reqs []ir.Requirement) (FormalizeResult, error) {
	res := FormalizeResult{
		Signatures: make(map[string]ir.Signature, len(reqs)),
		Failures:   make(map[string]string),
	}
	known := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		known[r.ID] = true
	}

	prompt, err := f.prompts.Formalize(domain, reqs)
	if err != nil {
		return res, err
	}

	var batch struct {
		Signatures []json.RawMessage `json:"signatures"`
	}
	err = f.client.Complete(ctx, completion.Request{
		Purpose: completion.PurposeFormalize,
		System:  f.prompts.System(),
		Prompt:  prompt,
		Schema:  f.client.Schemas().SignatureBatch,
	}, &batch)
	if err != nil {
		pe := classifyCompletion("", err)
		if pe.Kind == ir.KindTransport {
			return res, pe
		}
		f.logger.Warn("formalization batch unusable", "error", err)
		for _, r := range reqs {
			res.Failures[r.ID] = pe.Message
		}
		return res, nil
	}

	schemas := f.client.Schemas()
	for i, raw := range batch.Signatures {
		var sig ir.Signature
		verr := schemas.Validate(schemas.Signature, raw, &sig)
		id := sig.RequirementID
		if verr != nil {
			id = taggedID(raw)
		}
		switch {
		case !known[id]:
			f.logger.Warn("dropping signature for unknown requirement", "index", i, "requirement_id", id)
			continue
		case hasOutcome(res, id):
			f.logger.Warn("dropping duplicate signature", "index", i, "requirement_id", id)
			continue
		case verr != nil:
			res.Failures[id] = verr.Error()
		default:
			res.Signatures[id] = sig
		}
	}

	for _, r := range reqs {
		if !hasOutcome(res, r.ID) {
			res.Failures[r.ID] = "formalization response has no signature for this requirement"
		}
	}
	f.logger.Info("formalized batch",
		"requirements", len(reqs),
		"items", len(batch.Signatures),
		"signatures", len(res.Signatures),
		"failures", len(res.Failures))
	return res, nil
}

func hasOutcome(res FormalizeResult, id string) bool {
	_, okSig := res.Signatures[id]
	_, okFail := res.Failures[id]
	return okSig || okFail
}

// taggedID recovers the requirement_id of an item that failed its schema,
// so the failure can still be attributed.
func taggedID(raw json.RawMessage) string {
	var tag struct {
		RequirementID any `json:"requirement_id"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return ""
	}
	if s, ok := tag.RequirementID.(string); ok {
		return s
	}
	return ""
}

// Correct asks for a revised signature given the previous one (nil if none
// was produced) and its error.
//
// Errors are *Error: FORMALIZATION when the response is unusable or tagged
// with another requirement, TRANSPORT when the service failed.
func (f *Formalizer) Correct(ctx context.Context, domain string, req ir.Requirement, prev *ir.Signature, errMsg string) (ir.Signature, error) {
	previous := ""
	if prev != nil {
		previous = lemma.Render(*prev, "")
	}
	prompt, err := f.prompts.Correct(domain, req, previous, errMsg)
	if err != nil {
		return ir.Signature{}, err
	}

	var sig ir.Signature
	err = f.client.Complete(ctx, completion.Request{
		Purpose: completion.PurposeCorrect,
		Key:     req.ID,
		System:  f.prompts.System(),
		Prompt:  prompt,
		Schema:  f.client.Schemas().Signature,
	}, &sig)
	if err != nil {
		return ir.Signature{}, classifyCompletion(req.ID, err)
	}
	if sig.RequirementID != req.ID {
		return ir.Signature{}, &Error{
			Kind:          ir.KindFormalization,
			RequirementID: req.ID,
			Message:       fmt.Sprintf("correction tagged with requirement_id %q", sig.RequirementID),
		}
	}
	return sig, nil
}
