package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/proofpipe/internal/lemma"
	"github.com/roach88/proofpipe/internal/verifier"
)

// DefaultVerifyError is reported for lemmas no verify rule accepts.
const DefaultVerifyError = "a postcondition could not be proved on this return path"

// VerifierRule decides the verdict for lemmas it matches.
// Rules are tried in order and the first match wins.
type VerifierRule struct {
	// Mode restricts the rule to one verifier mode. Empty matches both.
	Mode verifier.Mode `yaml:"mode,omitempty"`

	// Lemma is the lemma name to match. Empty or "*" matches any lemma.
	Lemma string `yaml:"lemma,omitempty"`

	// BodyContains requires the lemma text to contain this substring.
	BodyContains string `yaml:"body_contains,omitempty"`

	// BatchOnly restricts the rule to sources holding more than one lemma.
	BatchOnly bool `yaml:"batch_only,omitempty"`

	OK       bool     `yaml:"ok"`
	Error    string   `yaml:"error,omitempty"`
	Warnings []string `yaml:"warnings,omitempty"`

	// Transport, when set, makes the call fail with this error message.
	Transport string `yaml:"transport,omitempty"`
}

// Call records one verifier invocation.
type Call struct {
	Mode   verifier.Mode
	Lemmas []string
	Source string
}

// ScriptedVerifier is a verifier.Verifier driven by rules.
//
// Unmatched lemmas type-check and fail verification with DefaultVerifyError.
// A source holding several lemmas passes only if every lemma passes; its
// failure output is a summary line that names no lemma, like a real batch.
//
// Thread-safety: safe for concurrent use.
type ScriptedVerifier struct {
	mu    sync.Mutex
	rules []VerifierRule
	calls []Call
}

// NewScriptedVerifier creates a verifier with the given rules.
func NewScriptedVerifier(rules ...VerifierRule) *ScriptedVerifier {
	return &ScriptedVerifier{rules: rules}
}

// AddRule appends a rule.
func (v *ScriptedVerifier) AddRule(r VerifierRule) *ScriptedVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, r)
	return v
}

// TypeCheck implements verifier.Verifier.
func (v *ScriptedVerifier) TypeCheck(ctx context.Context, source string) (verifier.Result, error) {
	return v.run(ctx, verifier.ModeTypeCheck, source, false)
}

// Verify implements verifier.Verifier.
func (v *ScriptedVerifier) Verify(ctx context.Context, source string, opts verifier.Options) (verifier.Result, error) {
	return v.run(ctx, verifier.ModeVerify, source, opts.TreatWarningsAsErrors)
}

type verdict struct {
	ok       bool
	err      string
	warnings []string
}

func (v *ScriptedVerifier) run(ctx context.Context, mode verifier.Mode, source string, strict bool) (verifier.Result, error) {
	if err := ctx.Err(); err != nil {
		return verifier.Result{}, err
	}
	decls := lemma.Scan(source)

	v.mu.Lock()
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	v.calls = append(v.calls, Call{Mode: mode, Lemmas: names, Source: source})
	rules := v.rules
	v.mu.Unlock()

	batch := len(decls) > 1
	verdicts := make([]verdict, len(decls))
	for i, d := range decls {
		text := d.Text(source)
		rule, ok := match(rules, mode, d.Name, text, batch)
		switch {
		case !ok && mode == verifier.ModeTypeCheck:
			verdicts[i] = verdict{ok: true}
		case !ok:
			verdicts[i] = verdict{err: DefaultVerifyError}
		case rule.Transport != "":
			return verifier.Result{}, fmt.Errorf("scripted %s: %s", mode, rule.Transport)
		default:
			verdicts[i] = verdict{ok: rule.OK, err: rule.Error, warnings: rule.Warnings}
		}
	}

	var res verifier.Result
	var out []string
	failed := 0
	for i, vd := range verdicts {
		pass := vd.ok && !(strict && len(vd.warnings) > 0)
		for _, w := range vd.warnings {
			line := fmt.Sprintf("%s: Warning: %s", verifier.CandidateFile, w)
			res.Warnings = append(res.Warnings, line)
			if !batch {
				out = append(out, line)
			}
		}
		if pass {
			continue
		}
		failed++
		if !batch {
			msg := vd.err
			if msg == "" && len(vd.warnings) == 0 {
				msg = fmt.Sprintf("lemma %s rejected", decls[i].Name)
			}
			if msg != "" {
				out = append(out, fmt.Sprintf("%s: Error: %s", verifier.CandidateFile, msg))
			}
		}
	}

	res.OK = failed == 0
	if !res.OK {
		res.ExitCode = 4
		if batch {
			out = append(out, fmt.Sprintf("Dafny program verifier finished with %d verified, %d errors", len(decls)-failed, failed))
		}
	}
	res.Output = strings.Join(out, "\n")
	return res, nil
}

func match(rules []VerifierRule, mode verifier.Mode, name, text string, batch bool) (VerifierRule, bool) {
	for _, r := range rules {
		if r.Mode != "" && r.Mode != mode {
			continue
		}
		if r.Lemma != "" && r.Lemma != "*" && r.Lemma != name {
			continue
		}
		if r.BodyContains != "" && !strings.Contains(text, r.BodyContains) {
			continue
		}
		if r.BatchOnly && !batch {
			continue
		}
		return r, true
	}
	return VerifierRule{}, false
}

// Calls returns every invocation, in arrival order.
func (v *ScriptedVerifier) Calls() []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Call, len(v.calls))
	copy(out, v.calls)
	return out
}

// CallsFor counts invocations in mode whose source held exactly the named
// lemma and nothing else.
func (v *ScriptedVerifier) CallsFor(mode verifier.Mode, name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.calls {
		if c.Mode == mode && len(c.Lemmas) == 1 && c.Lemmas[0] == name {
			n++
		}
	}
	return n
}

// BatchCalls counts invocations in mode whose source held more than one lemma.
func (v *ScriptedVerifier) BatchCalls(mode verifier.Mode) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.calls {
		if c.Mode == mode && len(c.Lemmas) > 1 {
			n++
		}
	}
	return n
}
