package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/proofpipe/internal/ir"
)

// ErrRunExists is returned when a run with the same id is already stored.
var ErrRunExists = errors.New("run already recorded")

// WriteRun records a finished run in one transaction: the run row, one row
// per requirement with its disposition, every trail event and every
// obligation.
//
// Runs are immutable once written. Writing the same run id twice returns
// ErrRunExists and leaves the stored run untouched. A requirement without a
// terminal disposition is rejected.
func (s *Store) WriteRun(ctx context.Context, run *ir.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, domain_path, module, pipeline_version, ir_version)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.DomainPath, run.Module, run.PipelineVersion, run.IRVersion)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("write run %s: %w", run.ID, ErrRunExists)
		}
		return fmt.Errorf("write run: %w", err)
	}

	for pos, rr := range run.Requirements {
		if err := writeRequirement(ctx, tx, run.ID, pos, rr); err != nil {
			return fmt.Errorf("write run %s: %w", run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func writeRequirement(ctx context.Context, tx *sql.Tx, runID string, pos int, rr ir.RequirementResult) error {
	id := rr.Requirement.ID
	if !rr.Disposition.IsTerminal() {
		return fmt.Errorf("requirement %s has no terminal disposition", id)
	}
	sigJSON, err := marshalSignature(rr.Signature)
	if err != nil {
		return fmt.Errorf("requirement %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requirements
		(run_id, requirement_id, position, text, disposition, signature, lemma_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, id, pos, rr.Requirement.Text, string(rr.Disposition), sigJSON, rr.LemmaText)
	if err != nil {
		return fmt.Errorf("requirement %s: %w", id, err)
	}

	for _, ev := range rr.Trail {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trail_events
			(id, run_id, requirement_id, seq, stage, attempt, ok, artifact, body, error, error_kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID,
			runID,
			id,
			ev.Seq,
			string(ev.Stage),
			ev.Attempt,
			ev.OK,
			ev.Artifact,
			ev.Body,
			ev.Error,
			string(ev.ErrorKind),
		)
		if err != nil {
			return fmt.Errorf("requirement %s trail seq %d: %w", id, ev.Seq, err)
		}
	}

	if rr.Obligation == nil {
		if rr.Disposition == ir.DispositionObligation {
			return fmt.Errorf("requirement %s is an obligation without a payload", id)
		}
		return nil
	}
	payload, err := marshalObligation(*rr.Obligation)
	if err != nil {
		return fmt.Errorf("requirement %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO obligations (run_id, requirement_id, stage, error, payload, stub_text)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, id, string(rr.Obligation.Stage), rr.Obligation.Error, payload, rr.Obligation.StubText)
	if err != nil {
		return fmt.Errorf("requirement %s obligation: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
