package ir

// Requirement is one informal statement to be formalized and proved.
type Requirement struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Text string `json:"text" yaml:"text" validate:"required"`
}

// Signature is a lemma skeleton with contract clauses and an empty body.
//
// Signatures are produced by the formalizer and owned by the run that created
// them. The requires/ensures clauses are never altered during proof synthesis.
type Signature struct {
	RequirementID string   `json:"requirement_id"`
	Name          string   `json:"name"`
	Params        string   `json:"params,omitempty"`
	Requires      []string `json:"requires,omitempty"`
	Ensures       string   `json:"ensures"`

	// Unsound is the soundness gate's rejection reason. Set at most once.
	Unsound string `json:"unsound,omitempty"`
}

// TypeCheckOutcome is the result of type-checking one signature.
type TypeCheckOutcome struct {
	RequirementID string `json:"requirement_id"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	Transport     bool   `json:"transport,omitempty"` // the verifier could not be reached
}

// VerifyOutcome is the result of verifying one lemma (signature plus body).
type VerifyOutcome struct {
	RequirementID string `json:"requirement_id"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	UsedEmptyBody bool   `json:"used_empty_body"`
	Transport     bool   `json:"transport,omitempty"`
	Unsound       bool   `json:"unsound,omitempty"` // rejected by the soundness gate, verifier never called
}

// ProofAttempt is one synthesized proof body and its verification outcome.
// AttemptNumber is 1 for the initial attempt and 2 for the single retry.
type ProofAttempt struct {
	RequirementID string        `json:"requirement_id"`
	AttemptNumber int           `json:"attempt_number"`
	Body          string        `json:"body"`
	Outcome       VerifyOutcome `json:"outcome"`
}

// Obligation is the terminal artifact for a requirement that could not be
// proved automatically. Exactly one of Signature or Proof is set when a lemma
// was produced at all; LemmaText is the rendered best attempt.
type Obligation struct {
	RequirementID string        `json:"requirement_id"`
	Stage         Stage         `json:"stage"`
	Signature     *Signature    `json:"signature,omitempty"`
	Proof         *ProofAttempt `json:"proof,omitempty"`
	LemmaText     string        `json:"lemma_text,omitempty"`
	Error         string        `json:"error"`
	StubText      string        `json:"stub_text"`
}

// TrailEvent records one step taken for one requirement.
//
// Artifact holds the full lemma text produced or checked at this step, if any.
// The obligation builder picks the latest event with an artifact as the best attempt.
type TrailEvent struct {
	ID            string    `json:"id"` // Content-addressed hash
	RequirementID string    `json:"requirement_id"`
	Seq           int64     `json:"seq"` // Logical clock
	Stage         Stage     `json:"stage"`
	Attempt       int       `json:"attempt,omitempty"`
	OK            bool      `json:"ok"`
	Artifact      string    `json:"artifact,omitempty"`
	Body          string    `json:"body,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
}

// RequirementResult is the final state of one requirement after a run.
type RequirementResult struct {
	Requirement Requirement  `json:"requirement"`
	Disposition Disposition  `json:"disposition"`
	Signature   *Signature   `json:"signature,omitempty"`
	LemmaText   string       `json:"lemma_text,omitempty"`
	Trail       []TrailEvent `json:"trail"`
	Obligation  *Obligation  `json:"obligation,omitempty"`
}

// Run is the complete record of one pipeline run, requirements in input order.
type Run struct {
	ID              string              `json:"id"`
	DomainPath      string              `json:"domain_path,omitempty"`
	Module          string              `json:"module,omitempty"`
	PipelineVersion string              `json:"pipeline_version"`
	IRVersion       string              `json:"ir_version"`
	Requirements    []RequirementResult `json:"requirements"`
}

// Counts tallies dispositions across the run.
func (r Run) Counts() map[Disposition]int {
	counts := make(map[Disposition]int, len(AllDispositions))
	for _, d := range AllDispositions {
		counts[d] = 0
	}
	for _, rr := range r.Requirements {
		counts[rr.Disposition]++
	}
	return counts
}

// Obligations returns the obligations of the run in requirement order.
func (r Run) Obligations() []Obligation {
	var out []Obligation
	for _, rr := range r.Requirements {
		if rr.Obligation != nil {
			out = append(out, *rr.Obligation)
		}
	}
	return out
}
