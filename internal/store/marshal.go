package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/proofpipe/internal/ir"
)

// marshalSignature converts a signature to canonical JSON TEXT for storage.
// A nil signature is stored as NULL.
func marshalSignature(sig *ir.Signature) (sql.NullString, error) {
	if sig == nil {
		return sql.NullString{}, nil
	}
	requires := sig.Requires
	if requires == nil {
		requires = []string{}
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"requirement_id": sig.RequirementID,
		"name":           sig.Name,
		"params":         sig.Params,
		"requires":       requires,
		"ensures":        sig.Ensures,
		"unsound":        sig.Unsound,
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal signature: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalSignature parses a stored signature. NULL yields nil.
func unmarshalSignature(data sql.NullString) (*ir.Signature, error) {
	if !data.Valid {
		return nil, nil
	}
	var sig ir.Signature
	if err := json.Unmarshal([]byte(data.String), &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signature: %w", err)
	}
	if len(sig.Requires) == 0 {
		sig.Requires = nil
	}
	return &sig, nil
}

// marshalObligation converts an obligation to JSON TEXT.
// Obligation is a nested struct, so it goes through json.Encoder with HTML
// escaping disabled rather than canonical JSON; it is never hashed.
func marshalObligation(ob ir.Obligation) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ob); err != nil {
		return "", fmt.Errorf("marshal obligation: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalObligation parses a stored obligation payload.
func unmarshalObligation(data string) (ir.Obligation, error) {
	var ob ir.Obligation
	if err := json.Unmarshal([]byte(data), &ob); err != nil {
		return ir.Obligation{}, fmt.Errorf("unmarshal obligation: %w", err)
	}
	return ob, nil
}
