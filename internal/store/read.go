package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/proofpipe/internal/ir"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one line of the run listing.
type RunSummary struct {
	ID              string                 `json:"id"`
	DomainPath      string                 `json:"domain_path,omitempty"`
	PipelineVersion string                 `json:"pipeline_version"`
	Counts          map[ir.Disposition]int `json:"counts"`
}

// ReadRun loads a stored run with every requirement in input order and
// every trail in seq order.
func (s *Store) ReadRun(ctx context.Context, runID string) (*ir.Run, error) {
	run := &ir.Run{ID: runID}
	err := s.db.QueryRowContext(ctx, `
		SELECT domain_path, module, pipeline_version, ir_version
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.DomainPath, &run.Module, &run.PipelineVersion, &run.IRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	reqs, err := s.readRequirements(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	trails, err := s.readTrails(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	obligations, err := s.readObligations(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	for i := range reqs {
		id := reqs[i].Requirement.ID
		reqs[i].Trail = trails[id]
		if reqs[i].Trail == nil {
			reqs[i].Trail = []ir.TrailEvent{}
		}
		if ob, ok := obligations[id]; ok {
			reqs[i].Obligation = &ob
		}
	}
	run.Requirements = reqs
	return run, nil
}

func (s *Store) readRequirements(ctx context.Context, runID string) ([]ir.RequirementResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requirement_id, text, disposition, signature, lemma_text
		FROM requirements
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query requirements: %w", err)
	}
	defer rows.Close()

	var out []ir.RequirementResult
	for rows.Next() {
		var rr ir.RequirementResult
		var disposition string
		var sigJSON sql.NullString
		if err := rows.Scan(&rr.Requirement.ID, &rr.Requirement.Text, &disposition, &sigJSON, &rr.LemmaText); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		if rr.Disposition, err = ir.ParseDisposition(disposition); err != nil {
			return nil, fmt.Errorf("requirement %s: %w", rr.Requirement.ID, err)
		}
		if rr.Signature, err = unmarshalSignature(sigJSON); err != nil {
			return nil, fmt.Errorf("requirement %s: %w", rr.Requirement.ID, err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirements: %w", err)
	}
	return out, nil
}

// readTrails returns each requirement's trail ordered by seq ASC, id ASC.
func (s *Store) readTrails(ctx context.Context, runID string) (map[string][]ir.TrailEvent, error) {
	events, err := s.ReadTrail(ctx, runID)
	if err != nil {
		return nil, err
	}
	trails := make(map[string][]ir.TrailEvent)
	for _, ev := range events {
		trails[ev.RequirementID] = append(trails[ev.RequirementID], ev)
	}
	return trails, nil
}

// ReadTrail returns every trail event of a run as one stream, in the order
// the run's logical clock stamped them.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadTrail(ctx context.Context, runID string) ([]ir.TrailEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requirement_id, seq, stage, attempt, ok, artifact, body, error, error_kind
		FROM trail_events
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trail events: %w", err)
	}
	defer rows.Close()

	events := []ir.TrailEvent{}
	for rows.Next() {
		var ev ir.TrailEvent
		var stage, kind string
		if err := rows.Scan(&ev.ID, &ev.RequirementID, &ev.Seq, &stage, &ev.Attempt, &ev.OK,
			&ev.Artifact, &ev.Body, &ev.Error, &kind); err != nil {
			return nil, fmt.Errorf("scan trail event: %w", err)
		}
		ev.Stage = ir.Stage(stage)
		ev.ErrorKind = ir.ErrorKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trail events: %w", err)
	}
	return events, nil
}

func (s *Store) readObligations(ctx context.Context, runID string) (map[string]ir.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT requirement_id, payload
		FROM obligations
		WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query obligations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ir.Obligation)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		ob, err := unmarshalObligation(payload)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", id, err)
		}
		out[id] = ob
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obligations: %w", err)
	}
	return out, nil
}

// ListRuns returns every stored run, oldest first, with disposition counts.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.domain_path, r.pipeline_version, q.disposition, COUNT(q.requirement_id)
		FROM runs r
		LEFT JOIN requirements q ON q.run_id = r.id
		GROUP BY r.id, q.disposition
		ORDER BY r.rowid ASC, q.disposition COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	index := make(map[string]int)
	for rows.Next() {
		var id, domain, version string
		var disposition sql.NullString
		var count int
		if err := rows.Scan(&id, &domain, &version, &disposition, &count); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		i, ok := index[id]
		if !ok {
			counts := make(map[ir.Disposition]int, len(ir.AllDispositions))
			for _, d := range ir.AllDispositions {
				counts[d] = 0
			}
			out = append(out, RunSummary{ID: id, DomainPath: domain, PipelineVersion: version, Counts: counts})
			i = len(out) - 1
			index[id] = i
		}
		if disposition.Valid {
			out[i].Counts[ir.Disposition(disposition.String)] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
