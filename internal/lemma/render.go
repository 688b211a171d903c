package lemma

import (
	"fmt"
	"strings"

	"github.com/roach88/proofpipe/internal/ir"
)

// Render produces the lemma text for sig with the given body.
// An empty body renders as an empty block.
//
// Example:
//
//	lemma InvImpliesNonNeg(m: Model)
//	  requires Inv(m)
//	  ensures m.balance >= 0
//	{
//	}
func Render(sig ir.Signature, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lemma %s(%s)\n", sig.Name, sig.Params)
	for _, r := range sig.Requires {
		fmt.Fprintf(&b, "  requires %s\n", r)
	}
	fmt.Fprintf(&b, "  ensures %s\n", sig.Ensures)
	b.WriteString("{\n")
	body = strings.Trim(body, "\n")
	if strings.TrimSpace(body) != "" {
		for _, line := range strings.Split(body, "\n") {
			if strings.TrimSpace(line) == "" {
				b.WriteString("\n")
				continue
			}
			b.WriteString("  ")
			b.WriteString(strings.TrimRight(line, " \t"))
			b.WriteString("\n")
		}
	}
	b.WriteString("}")
	return b.String()
}

// Context is the wrapping every lemma gets before it is sent to the verifier:
// an include of the domain file and, when the domain declares a module, an
// opened import of it.
type Context struct {
	// Include is the path of the domain source file. Relative paths are
	// resolved by the verifier against its working directory.
	Include string

	// Module is the domain module to open. Empty means the domain's
	// declarations live in the default module.
	Module string
}

// Wrap returns a complete source file holding the given lemmas.
func (c Context) Wrap(lemmas ...string) string {
	var b strings.Builder
	if c.Include != "" {
		fmt.Fprintf(&b, "include %q\n", c.Include)
	}
	if c.Module != "" {
		fmt.Fprintf(&b, "import opened %s\n", c.Module)
	}
	for _, l := range lemmas {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// StripBraces removes one pair of outer braces from a synthesized body, if
// the model returned a full block instead of its contents.
func StripBraces(body string) string {
	t := strings.TrimSpace(body)
	if len(t) < 2 || t[0] != '{' || t[len(t)-1] != '}' {
		return body
	}
	// Only strip when the outer braces match each other.
	mask := Blank(t)
	depth := 0
	for i := 0; i < len(mask); i++ {
		switch mask[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 && i != len(mask)-1 {
				return body
			}
		}
	}
	return strings.TrimSpace(t[1 : len(t)-1])
}

// Balanced reports whether braces in body nest properly, ignoring comments
// and strings. A body that closes the lemma early could smuggle in other
// declarations.
func Balanced(body string) bool {
	depth := 0
	for _, c := range []byte(Blank(body)) {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
