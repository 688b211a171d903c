package harness

import (
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every assertion held and the stored run passed its audit.
	Pass bool `json:"pass"`

	// Run is the pipeline run the scenario produced.
	Run *ir.Run `json:"run"`

	// Errors contains assertion and audit failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	model    *testutil.ScriptedModel
	verifier *testutil.ScriptedVerifier
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requirement returns the result for one requirement id.
func (r *Result) Requirement(id string) (ir.RequirementResult, bool) {
	if r.Run == nil {
		return ir.RequirementResult{}, false
	}
	for _, rr := range r.Run.Requirements {
		if rr.Requirement.ID == id {
			return rr, true
		}
	}
	return ir.RequirementResult{}, false
}
