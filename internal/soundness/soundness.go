// Package soundness rejects generated lemmas that could make the verifier
// accept a goal without proving it.
//
// The gate is a pure textual check. It runs on every lemma before the
// verifier's verdict is trusted: a rejected lemma is reported as an ordinary
// verification failure, never as a pass and never as a warning.
package soundness

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/proofpipe/internal/lemma"
)

// Construct names a forbidden construct.
type Construct string

const (
	// ConstructAssume is an unconditional assumption statement.
	ConstructAssume Construct = "assume statement"

	// ConstructAxiom is an attribute marking a declaration as axiomatically true.
	ConstructAxiom Construct = "{:axiom} attribute"

	// ConstructVerifyFalse is an attribute that switches verification off.
	ConstructVerifyFalse Construct = "{:verify false} attribute"

	// ConstructAssumeAttr is the {:assume} attribute family ({:assumption}, etc.).
	ConstructAssumeAttr Construct = "{:assume} attribute"
)

// Violation is one occurrence of a forbidden construct.
type Violation struct {
	Construct Construct
	Line      int // 1-based
}

// Result is the gate's verdict on one lemma.
type Result struct {
	OK         bool
	Reason     string
	Violations []Violation
}

var (
	axiomAttr       = regexp.MustCompile(`\{\s*:\s*axiom\b`)
	verifyFalseAttr = regexp.MustCompile(`\{\s*:\s*verify\s+false\b`)
	assumeAttr      = regexp.MustCompile(`\{\s*:\s*assume\w*\b`)
)

// Check inspects lemma text. Comments and literals are ignored, so a lemma
// that merely mentions "assume" in a comment is not rejected. When a comment
// or literal is malformed the masking cannot be trusted, and any forbidden
// construct it would hide is reported as well.
func Check(lemmaText string) Result {
	code, clean := lemma.BlankStrict(lemmaText)

	found := findConstructs(code)
	if !clean {
		for _, f := range findConstructs(lemmaText) {
			if code[f.off] != lemmaText[f.off] {
				f.hidden = true
				found = append(found, f)
			}
		}
	}
	if len(found) == 0 {
		return Result{OK: true}
	}

	violations := make([]Violation, len(found))
	hidden := make(map[Violation]bool)
	for i, f := range found {
		violations[i] = Violation{f.construct, lineAt(lemmaText, f.off)}
		if f.hidden {
			hidden[violations[i]] = true
		}
	}
	sortViolations(violations)

	first := violations[0]
	reason := fmt.Sprintf("soundness violation: %s at line %d", first.Construct, first.Line)
	if hidden[first] {
		reason += " inside a malformed comment or literal"
	}
	return Result{OK: false, Reason: reason, Violations: violations}
}

// occurrence is a forbidden construct at a byte offset.
type occurrence struct {
	construct Construct
	off       int
	hidden    bool
}

func findConstructs(code string) []occurrence {
	var found []occurrence
	for _, m := range axiomAttr.FindAllStringIndex(code, -1) {
		found = append(found, occurrence{construct: ConstructAxiom, off: m[0]})
	}
	for _, m := range verifyFalseAttr.FindAllStringIndex(code, -1) {
		found = append(found, occurrence{construct: ConstructVerifyFalse, off: m[0]})
	}
	for _, m := range assumeAttr.FindAllStringIndex(code, -1) {
		found = append(found, occurrence{construct: ConstructAssumeAttr, off: m[0]})
	}
	for _, off := range assumeStatements(code) {
		found = append(found, occurrence{construct: ConstructAssume, off: off})
	}
	return found
}

// assumeStatements returns offsets of `assume` used as a keyword. Identifiers
// that merely contain the word (assumed, assume_ok, NoAssume) are not matched.
// Attribute names are handled separately.
func assumeStatements(code string) []int {
	var offsets []int
	i := 0
	for i < len(code) {
		if !isIdentByte(code[i]) {
			i++
			continue
		}
		start := i
		for i < len(code) && isIdentByte(code[i]) {
			i++
		}
		if code[start:i] != "assume" {
			continue
		}
		if precededByAttrColon(code, start) {
			continue
		}
		offsets = append(offsets, start)
	}
	return offsets
}

// precededByAttrColon reports whether the identifier at off is an attribute
// name, i.e. it follows "{:" with optional whitespace.
func precededByAttrColon(code string, off int) bool {
	j := off - 1
	for j >= 0 && (code[j] == ' ' || code[j] == '\t') {
		j--
	}
	if j < 0 || code[j] != ':' {
		return false
	}
	j--
	for j >= 0 && (code[j] == ' ' || code[j] == '\t') {
		j--
	}
	return j >= 0 && code[j] == '{'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '\'' || c == '?' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c >= 0x80
}

func lineAt(s string, off int) int {
	return strings.Count(s[:off], "\n") + 1
}

// sortViolations orders by line, then by construct name for stable reasons.
func sortViolations(vs []Violation) {
	slices.SortStableFunc(vs, func(a, b Violation) int {
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.Construct, b.Construct)
	})
}
