package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/proofpipe/internal/ir"
)

// Snapshot renders the deterministic part of a run for golden comparison.
//
// Trail events are keyed by their per-requirement position rather than the
// run-wide seq, which depends on goroutine scheduling once Phase 2 runs
// concurrently. Event ids and error texts are left out for the same reason;
// the error kind is kept.
//
// The output is canonical JSON, re-indented for readable diffs.
func Snapshot(scenarioName string, run *ir.Run) ([]byte, error) {
	reqs := make([]any, len(run.Requirements))
	for i, rr := range run.Requirements {
		trail := make([]any, len(rr.Trail))
		for j, ev := range rr.Trail {
			e := map[string]any{
				"n":     j + 1,
				"stage": ev.Stage,
				"ok":    ev.OK,
			}
			if ev.Attempt != 0 {
				e["attempt"] = ev.Attempt
			}
			if ev.ErrorKind != "" {
				e["error_kind"] = ev.ErrorKind
			}
			if ev.Body != "" {
				e["body"] = ev.Body
			}
			trail[j] = e
		}
		r := map[string]any{
			"id":          rr.Requirement.ID,
			"disposition": rr.Disposition,
			"trail":       trail,
		}
		if rr.Signature != nil {
			r["lemma"] = rr.Signature.Name
		}
		if rr.Obligation != nil {
			r["obligation_stage"] = rr.Obligation.Stage
		}
		reqs[i] = r
	}

	snapshot := map[string]any{
		"scenario_name": scenarioName,
		"run_id":        run.ID,
		"requirements":  reqs,
	}
	compact, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := Run(ctx, scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-executed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result.Run)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
