// Package verifier runs the formal verifier over lemma source.
//
// A rejection is data, not an error: Result.OK is false and Result.Output
// carries the verifier's message. A non-nil error means the verifier could
// not be run at all (missing binary, timeout, cancellation).
package verifier

import (
	"context"
	"time"
)

// Mode selects how much work the verifier does.
type Mode string

const (
	// ModeTypeCheck resolves and type-checks without proof search.
	ModeTypeCheck Mode = "typecheck"
	// ModeVerify performs full verification.
	ModeVerify Mode = "verify"
)

// Options configures a full verification call.
type Options struct {
	TreatWarningsAsErrors bool
}

// Result is the outcome of one verifier invocation.
type Result struct {
	OK       bool
	Output   string   // combined stdout and stderr, temp paths normalized
	Warnings []string // warning lines found in Output
	ExitCode int
	Duration time.Duration
}

// Verifier is the external formal verifier.
// Implemented by Dafny (production) and testutil.ScriptedVerifier (tests).
type Verifier interface {
	TypeCheck(ctx context.Context, source string) (Result, error)
	Verify(ctx context.Context, source string, opts Options) (Result, error)
}
