package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	Requirement string // optional - filter to one requirement
	Audit       bool
}

// TraceEvent is one trail event in the trace timeline.
type TraceEvent struct {
	Seq           int64        `json:"seq"`
	ID            string       `json:"id"`
	RequirementID string       `json:"requirement_id"`
	Stage         ir.Stage     `json:"stage"`
	Attempt       int          `json:"attempt,omitempty"`
	OK            bool         `json:"ok"`
	ErrorKind     ir.ErrorKind `json:"error_kind,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// TraceResult holds the complete trace output for one run.
type TraceResult struct {
	RunID        string                 `json:"run_id"`
	Dispositions map[string]string      `json:"dispositions"`
	Counts       map[ir.Disposition]int `json:"counts"`
	Timeline     []TraceEvent           `json:"timeline"`
	Audit        *store.Audit           `json:"audit,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show the recorded trail of a run",
		Long: `Show the attempt trail recorded for a run.

Without a run id, lists every recorded run with its disposition counts.
With a run id, prints every trail event in seq order and each
requirement's disposition. --audit re-checks the stored run: event ids,
seq order, and disposition/trail consistency.

Exit codes:
  0 - Trace printed (and audit passed)
  1 - Audit found problems
  2 - Command error (database or run not found)

Examples:
  proofpipe trace --db runs.db
  proofpipe trace --db runs.db 0192f3c4-...
  proofpipe trace --db runs.db 0192f3c4-... --requirement R3
  proofpipe trace --db runs.db 0192f3c4-... --audit --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListRuns(opts, cmd)
			}
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Requirement, "requirement", "", "filter the timeline to one requirement id")
	cmd.Flags().BoolVar(&opts.Audit, "audit", false, "re-check the stored run for consistency")

	return cmd
}

// openExisting opens a database that must already exist; store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runListRuns(opts *TraceOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  direct=%d proof=%d proof_retry=%d obligation=%d\n",
			r.ID,
			r.Counts[ir.DispositionDirect],
			r.Counts[ir.DispositionProof],
			r.Counts[ir.DispositionProofRetry],
			r.Counts[ir.DispositionObligation])
	}
	return nil
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	events, err := st.ReadTrail(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trail", err)
	}

	result := TraceResult{
		RunID:        run.ID,
		Dispositions: make(map[string]string, len(run.Requirements)),
		Counts:       run.Counts(),
		Timeline:     buildTimeline(events, opts.Requirement),
	}
	for _, rr := range run.Requirements {
		result.Dispositions[rr.Requirement.ID] = string(rr.Disposition)
	}

	if opts.Audit {
		audit, err := st.AuditRun(ctx, runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to audit run", err)
		}
		result.Audit = &audit
	}

	if opts.Format == "json" {
		err = outputTraceJSON(cmd, result)
	} else {
		outputTraceText(cmd.OutOrStdout(), run, result)
	}
	if err != nil {
		return err
	}

	if result.Audit != nil && !result.Audit.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("audit found %d problem(s)", len(result.Audit.Problems)))
	}
	return nil
}

// buildTimeline converts trail events, optionally keeping one requirement.
func buildTimeline(events []ir.TrailEvent, requirementID string) []TraceEvent {
	timeline := []TraceEvent{}
	for _, ev := range events {
		if requirementID != "" && ev.RequirementID != requirementID {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:           ev.Seq,
			ID:            ev.ID,
			RequirementID: ev.RequirementID,
			Stage:         ev.Stage,
			Attempt:       ev.Attempt,
			OK:            ev.OK,
			ErrorKind:     ev.ErrorKind,
			Error:         ev.Error,
		})
	}
	return timeline
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		TraceID: result.RunID,
	}
	if result.Audit != nil && !result.Audit.OK() {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeAuditFailed,
			Message: fmt.Sprintf("audit found %d problem(s)", len(result.Audit.Problems)),
			Details: result.Audit.Problems,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, run *ir.Run, result TraceResult) {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	if run.DomainPath != "" {
		fmt.Fprintf(w, "Domain: %s\n", run.DomainPath)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		status := "ok"
		if !ev.OK {
			status = "failed"
			if ev.ErrorKind != "" {
				status = string(ev.ErrorKind)
			}
		}
		stage := string(ev.Stage)
		if ev.Attempt > 0 {
			stage = fmt.Sprintf("%s#%d", ev.Stage, ev.Attempt)
		}
		fmt.Fprintf(w, "  [%d] %-4s %-18s %s\n", ev.Seq, ev.RequirementID, stage, status)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Dispositions:")
	for _, rr := range run.Requirements {
		fmt.Fprintf(w, "  %-4s %s\n", rr.Requirement.ID, rr.Disposition)
	}

	if result.Audit != nil {
		fmt.Fprintln(w)
		if result.Audit.OK() {
			fmt.Fprintf(w, "Audit: ok (%d events, last seq %d)\n", result.Audit.Events, result.Audit.LastSeq)
		} else {
			fmt.Fprintf(w, "Audit: %d problem(s)\n", len(result.Audit.Problems))
			for _, p := range result.Audit.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
	}
}
