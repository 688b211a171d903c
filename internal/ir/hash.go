package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTrailEvent = "proofpipe/trail-event/v1"
	DomainLemma      = "proofpipe/lemma/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data). The null byte prevents boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TrailEventID computes the content-addressed ID of a trail event.
// The ID is stable given the same run, seq and content.
func TrailEventID(runID string, ev TrailEvent) (string, error) {
	obj := map[string]any{
		"run_id":         runID,
		"requirement_id": ev.RequirementID,
		"seq":            ev.Seq,
		"stage":          ev.Stage,
		"attempt":        ev.Attempt,
		"ok":             ev.OK,
		"artifact":       ev.Artifact,
		"body":           ev.Body,
		"error":          ev.Error,
		"error_kind":     ev.ErrorKind,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TrailEventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrailEvent, canonical), nil
}

// LemmaHash identifies a signature's contract independently of its body.
// Used to check that proof synthesis never altered requires/ensures.
func LemmaHash(sig Signature) string {
	obj := map[string]any{
		"name":     sig.Name,
		"params":   sig.Params,
		"requires": sig.Requires,
		"ensures":  sig.Ensures,
	}
	if sig.Requires == nil {
		obj["requires"] = []string{}
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Only strings are marshaled; this cannot fail.
		panic(fmt.Sprintf("LemmaHash: %v", err))
	}
	return hashWithDomain(DomainLemma, canonical)
}

// MustTrailEventID is like TrailEventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTrailEventID(runID string, ev TrailEvent) string {
	id, err := TrailEventID(runID, ev)
	if err != nil {
		panic(err)
	}
	return id
}
