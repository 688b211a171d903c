package ir

import "fmt"

// Disposition records which strategy ultimately resolved a requirement.
// The zero value means the requirement is still pending.
type Disposition string

const (
	DispositionPending    Disposition = ""
	DispositionDirect     Disposition = "direct"      // verified with an empty body
	DispositionProof      Disposition = "proof"       // verified with the first synthesized body
	DispositionProofRetry Disposition = "proof_retry" // verified with the retried body
	DispositionObligation Disposition = "obligation"  // automation exhausted
)

// AllDispositions lists the terminal dispositions in reporting order.
var AllDispositions = []Disposition{
	DispositionDirect,
	DispositionProof,
	DispositionProofRetry,
	DispositionObligation,
}

// IsTerminal reports whether d is one of the four terminal values.
func (d Disposition) IsTerminal() bool {
	switch d {
	case DispositionDirect, DispositionProof, DispositionProofRetry, DispositionObligation:
		return true
	}
	return false
}

// Proved reports whether d carries a verified lemma.
func (d Disposition) Proved() bool {
	return d.IsTerminal() && d != DispositionObligation
}

// ParseDisposition parses a stored disposition string.
func ParseDisposition(s string) (Disposition, error) {
	d := Disposition(s)
	if !d.IsTerminal() {
		return DispositionPending, fmt.Errorf("unknown disposition %q", s)
	}
	return d, nil
}

// Stage names a step in a requirement's attempt trail.
type Stage string

const (
	StageFormalize      Stage = "formalize"
	StageReformalize    Stage = "reformalize"
	StageSoundness      Stage = "soundness"
	StageTypeCheck      Stage = "typecheck"
	StageCorrect        Stage = "correct"
	StageTypeCheckRetry Stage = "typecheck_retry"
	StageVerifyEmpty    Stage = "verify_empty"
	StageProof          Stage = "proof"
	StageProofRetry     Stage = "proof_retry"
)

// IsProof reports whether the stage belongs to Phase 2.
func (s Stage) IsProof() bool {
	return s == StageProof || s == StageProofRetry
}

// ErrorKind classifies a failure recorded on a trail event.
type ErrorKind string

const (
	KindFormalization ErrorKind = "FORMALIZATION"
	KindTypeCheck     ErrorKind = "TYPECHECK"
	KindSoundness     ErrorKind = "SOUNDNESS"
	KindVerification  ErrorKind = "VERIFICATION"
	KindTransport     ErrorKind = "TRANSPORT"
)
