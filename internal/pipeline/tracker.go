package pipeline

import (
	"fmt"
	"sync"

	"github.com/roach88/proofpipe/internal/ir"
)

// Tracker is the strategy tracker: per requirement, it holds the attempt
// trail, the current signature and the terminal disposition.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	runID   string
	clock   *Clock
	order   []string
	entries map[string]*trackerEntry
}

type trackerEntry struct {
	req         ir.Requirement
	disposition ir.Disposition
	signature   *ir.Signature
	lemmaText   string
	trail       []ir.TrailEvent
	obligation  *ir.Obligation
	inPhase2    bool
}

// NewTracker creates a tracker for the given requirements, in input order.
// Requirement ids must be unique; Orchestrator.Run validates this.
func NewTracker(runID string, clock *Clock, reqs []ir.Requirement) *Tracker {
	t := &Tracker{
		runID:   runID,
		clock:   clock,
		order:   make([]string, 0, len(reqs)),
		entries: make(map[string]*trackerEntry, len(reqs)),
	}
	for _, r := range reqs {
		t.order = append(t.order, r.ID)
		t.entries[r.ID] = &trackerEntry{req: r}
	}
	return t
}

func (t *Tracker) entry(id string) *trackerEntry {
	e, ok := t.entries[id]
	if !ok {
		panic(fmt.Sprintf("tracker: unknown requirement %q", id))
	}
	return e
}

// Record appends ev to its requirement's trail, stamping Seq and ID.
func (t *Tracker) Record(ev ir.TrailEvent) ir.TrailEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(ev.RequirementID)
	ev.Seq = t.clock.Next()
	ev.ID = ir.MustTrailEventID(t.runID, ev)
	e.trail = append(e.trail, ev)
	return ev
}

// SetSignature replaces the requirement's current signature.
func (t *Tracker) SetSignature(sig ir.Signature) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := sig
	t.entry(sig.RequirementID).signature = &s
}

// MarkUnsound records the soundness gate's rejection on the current
// signature. The reason is set at most once.
func (t *Tracker) MarkUnsound(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(id)
	if e.signature != nil && e.signature.Unsound == "" {
		e.signature.Unsound = reason
	}
}

// Signature returns a copy of the requirement's current signature.
func (t *Tracker) Signature(id string) (ir.Signature, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(id)
	if e.signature == nil {
		return ir.Signature{}, false
	}
	return *e.signature, true
}

// Requirement returns the requirement with the given id.
func (t *Tracker) Requirement(id string) ir.Requirement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry(id).req
}

// Resolve sets a proved disposition with its verified lemma text.
//
// Direct is only valid for requirements that never entered Phase 2;
// Proof and ProofRetry only for those that did.
func (t *Tracker) Resolve(id string, d ir.Disposition, lemmaText string) error {
	if !d.Proved() {
		return fmt.Errorf("resolve %s: %q is not a proved disposition", id, d)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(id)
	if e.disposition != ir.DispositionPending {
		return fmt.Errorf("resolve %s as %s: %w (was %s)", id, d, ErrDispositionSet, e.disposition)
	}
	if (d == ir.DispositionDirect) == e.inPhase2 {
		return fmt.Errorf("resolve %s as %s: %w", id, d, ErrPhaseConflict)
	}
	e.disposition = d
	e.lemmaText = lemmaText
	return nil
}

// ResolveObligation sets the Obligation disposition.
func (t *Tracker) ResolveObligation(ob ir.Obligation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(ob.RequirementID)
	if e.disposition != ir.DispositionPending {
		return fmt.Errorf("resolve %s as obligation: %w (was %s)", ob.RequirementID, ErrDispositionSet, e.disposition)
	}
	e.disposition = ir.DispositionObligation
	e.lemmaText = ob.LemmaText
	e.obligation = &ob
	return nil
}

// EnterPhase2 marks the requirement as handed to proof synthesis.
func (t *Tracker) EnterPhase2(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(id)
	if e.disposition != ir.DispositionPending {
		return fmt.Errorf("enter phase 2 %s: %w", id, ErrPhaseConflict)
	}
	if e.inPhase2 {
		return fmt.Errorf("enter phase 2 %s: already entered", id)
	}
	e.inPhase2 = true
	return nil
}

// Disposition returns the requirement's disposition (Pending if unset).
func (t *Tracker) Disposition(id string) ir.Disposition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry(id).disposition
}

// Trail returns a copy of the requirement's trail.
func (t *Tracker) Trail(id string) []ir.TrailEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	trail := t.entry(id).trail
	out := make([]ir.TrailEvent, len(trail))
	copy(out, trail)
	return out
}

// Pending returns ids without a disposition, in input order.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, id := range t.order {
		if t.entries[id].disposition == ir.DispositionPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Results returns every requirement's final state in input order.
func (t *Tracker) Results() []ir.RequirementResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ir.RequirementResult, 0, len(t.order))
	for _, id := range t.order {
		e := t.entries[id]
		rr := ir.RequirementResult{
			Requirement: e.req,
			Disposition: e.disposition,
			LemmaText:   e.lemmaText,
			Trail:       append([]ir.TrailEvent(nil), e.trail...),
		}
		if e.signature != nil {
			s := *e.signature
			rr.Signature = &s
		}
		if e.obligation != nil {
			ob := *e.obligation
			rr.Obligation = &ob
		}
		out = append(out, rr)
	}
	return out
}
