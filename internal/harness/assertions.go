package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trail    []ir.TrailEvent // Requirement trail for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trail) > 0 {
		fmt.Fprintf(&buf, "\nTrail:\n")
		for _, ev := range e.Trail {
			status := "ok"
			if !ev.OK {
				status = string(ev.ErrorKind)
			}
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Stage, status)
		}
	}

	return buf.String()
}

// AssertionContext provides the store an assertion may read back from.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

func requirementOf(result *Result, a Assertion) (ir.RequirementResult, error) {
	rr, ok := result.Requirement(a.Requirement)
	if !ok {
		return rr, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("requirement %s in run", a.Requirement),
			Actual:   "not found",
		}
	}
	return rr, nil
}

// assertDisposition checks a requirement's terminal disposition.
func assertDisposition(result *Result, a Assertion) error {
	rr, err := requirementOf(result, a)
	if err != nil {
		return err
	}
	if rr.Disposition != a.Disposition {
		return &AssertionError{
			Type:     AssertDisposition,
			Expected: fmt.Sprintf("%s is %s", a.Requirement, a.Disposition),
			Actual:   fmt.Sprintf("%s is %s", a.Requirement, rr.Disposition),
			Trail:    rr.Trail,
		}
	}
	return nil
}

// assertStages checks a requirement's trail stages exactly, in order.
func assertStages(result *Result, a Assertion) error {
	rr, err := requirementOf(result, a)
	if err != nil {
		return err
	}
	got := make([]ir.Stage, len(rr.Trail))
	for i, ev := range rr.Trail {
		got[i] = ev.Stage
	}
	if !slices.Equal(got, a.Stages) {
		return &AssertionError{
			Type:     AssertStages,
			Expected: fmt.Sprintf("%s stages %v", a.Requirement, a.Stages),
			Actual:   fmt.Sprintf("%v", got),
			Trail:    rr.Trail,
		}
	}
	return nil
}

// assertObligation checks the obligation's stage and error.
func assertObligation(result *Result, a Assertion) error {
	rr, err := requirementOf(result, a)
	if err != nil {
		return err
	}
	if rr.Obligation == nil {
		return &AssertionError{
			Type:     AssertObligation,
			Expected: fmt.Sprintf("obligation for %s", a.Requirement),
			Actual:   fmt.Sprintf("no obligation (disposition %s)", rr.Disposition),
			Trail:    rr.Trail,
		}
	}
	ob := rr.Obligation
	if ob.Stage != a.Stage {
		return &AssertionError{
			Type:     AssertObligation,
			Expected: fmt.Sprintf("obligation at stage %s", a.Stage),
			Actual:   fmt.Sprintf("stage %s", ob.Stage),
			Trail:    rr.Trail,
		}
	}
	if !strings.Contains(ob.Error, a.ErrorContains) {
		return &AssertionError{
			Type:     AssertObligation,
			Expected: fmt.Sprintf("error containing %q", a.ErrorContains),
			Actual:   fmt.Sprintf("error %q", ob.Error),
			Trail:    rr.Trail,
		}
	}
	return nil
}

// assertModelCalls checks how many prompts the model received for (purpose, key).
func assertModelCalls(result *Result, a Assertion) error {
	got := result.model.Calls(a.Purpose, a.Key)
	if got != a.Count {
		return &AssertionError{
			Type:     AssertModelCalls,
			Expected: fmt.Sprintf("%d %s prompts for %q", a.Count, a.Purpose, a.Key),
			Actual:   fmt.Sprintf("%d prompts", got),
		}
	}
	return nil
}

// assertVerifierCalls checks how many verifier calls were made for one
// lemma, or for batches when Lemma is empty.
func assertVerifierCalls(result *Result, a Assertion) error {
	var got int
	target := "batch"
	if a.Lemma == "" {
		got = result.verifier.BatchCalls(a.Mode)
	} else {
		got = result.verifier.CallsFor(a.Mode, a.Lemma)
		target = a.Lemma
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertVerifierCalls,
			Expected: fmt.Sprintf("%d %s calls for %s", a.Count, a.Mode, target),
			Actual:   fmt.Sprintf("%d calls", got),
		}
	}
	return nil
}

// assertStored reads the run back from the store and checks the
// requirement's stored disposition and trail length.
func assertStored(result *Result, a Assertion, actx *AssertionContext) error {
	rr, err := requirementOf(result, a)
	if err != nil {
		return err
	}
	stored, err := actx.Store.ReadRun(actx.Ctx, result.Run.ID)
	if err != nil {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("run %s in store", result.Run.ID),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	for _, s := range stored.Requirements {
		if s.Requirement.ID != a.Requirement {
			continue
		}
		if s.Disposition != a.Disposition || len(s.Trail) != len(rr.Trail) {
			return &AssertionError{
				Type:     AssertStored,
				Expected: fmt.Sprintf("stored %s is %s with %d events", a.Requirement, a.Disposition, len(rr.Trail)),
				Actual:   fmt.Sprintf("%s with %d events", s.Disposition, len(s.Trail)),
				Trail:    s.Trail,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertStored,
		Expected: fmt.Sprintf("stored requirement %s", a.Requirement),
		Actual:   "not found",
	}
}

// EvaluateAssertions runs all assertions and returns error messages.
// Returns an empty slice if all assertions pass.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	errs := []string{}
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDisposition:
			err = assertDisposition(result, a)
		case AssertStages:
			err = assertStages(result, a)
		case AssertObligation:
			err = assertObligation(result, a)
		case AssertModelCalls:
			err = assertModelCalls(result, a)
		case AssertVerifierCalls:
			err = assertVerifierCalls(result, a)
		case AssertStored:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("stored assertion requires a store")
			} else {
				err = assertStored(result, a, actx)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}
