package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/lemma"
)

// Synthesizer asks the completion service for proof bodies.
// The signature's contract is never sent back for editing: the model
// returns statements only, and the lemma is re-rendered from the original
// signature around them.
type Synthesizer struct {
	client  *completion.Client
	prompts *Prompts
	logger  *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(client *completion.Client, prompts *Prompts, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{client: client, prompts: prompts, logger: logger}
}

// Synthesize requests a body for sig. verifyErr is the error the lemma
// currently fails with; previous is the failed first attempt when this is
// the retry, nil otherwise.
//
// Errors are *Error: FORMALIZATION when the response is unusable, TRANSPORT
// when the service failed.
func (s *Synthesizer) Synthesize(ctx context.Context, sig ir.Signature, domain, verifyErr string, previous *ir.ProofAttempt) (string, error) {
	current := lemma.Render(sig, "")
	previousBody := ""
	if previous != nil {
		current = lemma.Render(sig, previous.Body)
		previousBody = previous.Body
	}
	prompt, err := s.prompts.Synthesize(domain, sig.RequirementID, current, verifyErr, previousBody)
	if err != nil {
		return "", err
	}

	var resp struct {
		RequirementID string `json:"requirement_id"`
		Body          string `json:"body"`
	}
	err = s.client.Complete(ctx, completion.Request{
		Purpose: completion.PurposeSynthesize,
		Key:     sig.RequirementID,
		System:  s.prompts.System(),
		Prompt:  prompt,
		Schema:  s.client.Schemas().ProofBody,
	}, &resp)
	if err != nil {
		return "", classifyCompletion(sig.RequirementID, err)
	}
	if resp.RequirementID != sig.RequirementID {
		return "", &Error{
			Kind:          ir.KindFormalization,
			RequirementID: sig.RequirementID,
			Message:       fmt.Sprintf("proof tagged with requirement_id %q", resp.RequirementID),
		}
	}

	body := strings.TrimSpace(lemma.StripBraces(resp.Body))
	if body == "" {
		return "", &Error{Kind: ir.KindFormalization, RequirementID: sig.RequirementID, Message: "proof body is empty"}
	}
	if !lemma.Balanced(body) {
		return "", &Error{Kind: ir.KindFormalization, RequirementID: sig.RequirementID, Message: "proof body has unbalanced braces"}
	}
	return body, nil
}
