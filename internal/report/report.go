package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/proofpipe/internal/ir"
)

// Document is the JSON report of one run.
type Document struct {
	RunID           string                 `json:"run_id"`
	DomainPath      string                 `json:"domain_path,omitempty"`
	PipelineVersion string                 `json:"pipeline_version"`
	IRVersion       string                 `json:"ir_version"`
	Counts          map[ir.Disposition]int `json:"counts"`
	Requirements    []ir.RequirementResult `json:"requirements"`
}

// NewDocument builds the report document for run.
func NewDocument(run *ir.Run) Document {
	reqs := run.Requirements
	if reqs == nil {
		reqs = []ir.RequirementResult{}
	}
	return Document{
		RunID:           run.ID,
		DomainPath:      run.DomainPath,
		PipelineVersion: run.PipelineVersion,
		IRVersion:       run.IRVersion,
		Counts:          run.Counts(),
		Requirements:    reqs,
	}
}

// WriteJSON writes the run report as indented JSON.
// HTML escaping is off so lemma text stays readable.
func WriteJSON(w io.Writer, run *ir.Run) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(run)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteStubs writes every obligation's stub as one Dafny file that can be
// finished by hand. The file includes the domain so it type-checks on its
// own once the stubs are completed.
func WriteStubs(w io.Writer, run *ir.Run) error {
	var b strings.Builder
	obligations := run.Obligations()
	fmt.Fprintf(&b, "// Unproved obligations from run %s\n", run.ID)
	fmt.Fprintf(&b, "// %d of %d requirements need a manual proof.\n", len(obligations), len(run.Requirements))
	if run.DomainPath != "" {
		fmt.Fprintf(&b, "\ninclude %q\n", run.DomainPath)
	}
	if run.Module != "" {
		fmt.Fprintf(&b, "import opened %s\n", run.Module)
	}
	for _, ob := range obligations {
		b.WriteString("\n")
		b.WriteString(ob.StubText)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write stubs: %w", err)
	}
	return nil
}

// WriteSummary writes a human-readable summary: one line per requirement,
// then the disposition counts.
func WriteSummary(w io.Writer, run *ir.Run) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", run.ID)
	for _, rr := range run.Requirements {
		fmt.Fprintf(&b, "  %-12s %s", rr.Disposition, rr.Requirement.ID)
		if rr.Obligation != nil {
			fmt.Fprintf(&b, "  (stopped at %s: %s)", rr.Obligation.Stage, firstLine(rr.Obligation.Error))
		}
		b.WriteString("\n")
	}
	counts := run.Counts()
	fmt.Fprintf(&b, "direct=%d proof=%d proof_retry=%d obligation=%d\n",
		counts[ir.DispositionDirect],
		counts[ir.DispositionProof],
		counts[ir.DispositionProofRetry],
		counts[ir.DispositionObligation])
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
