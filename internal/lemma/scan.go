package lemma

import (
	"strings"
	"unicode/utf8"
)

// Decl is one lemma declaration found in source.
type Decl struct {
	Name string
	// Start and End delimit the whole declaration, End exclusive.
	Start, End int
	// BodyStart and BodyEnd delimit the body including its braces.
	// Both are -1 for a lemma without a body.
	BodyStart, BodyEnd int
}

// Text returns the declaration's source text.
func (d Decl) Text(src string) string {
	return src[d.Start:d.End]
}

// Blank replaces comments and literals with spaces, keeping newlines and
// literal delimiters, so offsets in the result map one-to-one onto src.
// Block comments nest.
func Blank(src string) string {
	mask, _ := BlankStrict(src)
	return mask
}

// BlankStrict is Blank that also reports whether every comment and literal
// in src was well formed. It returns false for an unterminated block comment
// or string, and for an ordinary string that runs across a line break.
func BlankStrict(src string) (string, bool) {
	var b strings.Builder
	b.Grow(len(src))
	clean := true
	depth := 0
	inLine := false
	inString := false
	inVerbatim := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		case depth > 0:
			if c == '/' && i+1 < len(src) && src[i+1] == '*' {
				depth++
				b.WriteString("  ")
				i++
			} else if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				depth--
				b.WriteString("  ")
				i++
			} else if c == '\n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		case inString:
			switch {
			case c == '\\' && i+1 < len(src) && src[i+1] != '\n':
				b.WriteString("  ")
				i++
			case c == '"':
				inString = false
				b.WriteByte('"')
			case c == '\n':
				clean = false
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		case inVerbatim:
			// Backslash is literal; a doubled quote is the only escape.
			switch {
			case c == '"' && i+1 < len(src) && src[i+1] == '"':
				b.WriteString("  ")
				i++
			case c == '"':
				inVerbatim = false
				b.WriteByte('"')
			case c == '\n':
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			inLine = true
			b.WriteString("  ")
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			depth = 1
			b.WriteString("  ")
			i++
		case c == '@' && i+1 < len(src) && src[i+1] == '"':
			inVerbatim = true
			b.WriteString("@\"")
			i++
		case c == '"':
			inString = true
			b.WriteByte('"')
		case c == '\'' && (i == 0 || !isIdentByte(src[i-1])):
			// A quote after an identifier byte is a prime, as in x'.
			n := charLiteralLen(src, i)
			if n == 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteByte('\'')
			b.WriteString(strings.Repeat(" ", n-2))
			b.WriteByte('\'')
			i += n - 1
		default:
			b.WriteByte(c)
		}
	}
	if depth > 0 || inString || inVerbatim {
		clean = false
	}
	return b.String(), clean
}

// charLiteralLen returns the length of the char literal starting at the quote
// at i, or 0 if none starts there. Escapes cover \', \n, \u0041 and \U{1F600}.
func charLiteralLen(src string, i int) int {
	if i+2 >= len(src) {
		return 0
	}
	if src[i+1] == '\\' {
		for j := i + 3; j < len(src) && j <= i+13; j++ {
			switch src[j] {
			case '\n', '\r':
				return 0
			case '\'':
				return j - i + 1
			}
		}
		return 0
	}
	if src[i+1] == '\'' || src[i+1] == '\n' || src[i+1] == '\r' {
		return 0
	}
	_, size := utf8.DecodeRuneInString(src[i+1:])
	if i+1+size < len(src) && src[i+1+size] == '\'' {
		return size + 2
	}
	return 0
}

// declKeywords end a bodiless lemma's declaration.
var declKeywords = map[string]bool{
	"lemma": true, "function": true, "predicate": true, "method": true,
	"datatype": true, "codatatype": true, "module": true, "class": true,
	"trait": true, "const": true, "type": true, "ghost": true, "import": true,
	"include": true, "twostate": true, "least": true, "greatest": true,
	"newtype": true, "iterator": true, "opaque": true, "static": true,
}

// bodyOpeners are words after which '{' starts an expression, not a body.
var bodyOpeners = map[string]bool{
	"in": true, "then": true, "else": true, "requires": true, "ensures": true,
	"decreases": true, "reads": true, "modifies": true, "return": true,
}

// Scan finds every lemma declaration in src, in source order.
func Scan(src string) []Decl {
	mask := Blank(src)
	var decls []Decl
	i := 0
	for i < len(mask) {
		if !isIdentByte(mask[i]) {
			i++
			continue
		}
		start := i
		word := readIdent(mask, &i)
		if word != "lemma" {
			continue
		}
		d, ok := scanDecl(mask, start, i)
		if !ok {
			continue
		}
		decls = append(decls, d)
		i = d.End
	}
	return decls
}

// scanDecl parses a lemma declaration whose keyword spans [start, after).
func scanDecl(mask string, start, after int) (Decl, bool) {
	i := skipSpaceAndAttrs(mask, after)
	if i >= len(mask) || !isIdentByte(mask[i]) {
		return Decl{}, false
	}
	name := readIdent(mask, &i)
	d := Decl{Name: name, Start: start, End: len(mask), BodyStart: -1, BodyEnd: -1}

	parens := 0
	for i < len(mask) {
		c := mask[i]
		switch {
		case c == '(' || c == '[':
			parens++
			i++
		case c == ')' || c == ']':
			parens--
			i++
		case c == '{' && isAttr(mask, i):
			i = matchBrace(mask, i)
		case c == '{' && parens == 0 && startsBody(mask, i):
			end := matchBrace(mask, i)
			d.BodyStart, d.BodyEnd, d.End = i, end, end
			return d, true
		case c == '{':
			i = matchBrace(mask, i)
		case c == '}' && parens == 0:
			// End of the enclosing module.
			d.End = trimEnd(mask, start, i)
			return d, true
		case isIdentByte(c):
			wordStart := i
			word := readIdent(mask, &i)
			if parens == 0 && declKeywords[word] {
				d.End = trimEnd(mask, start, wordStart)
				return d, true
			}
		default:
			i++
		}
	}
	d.End = trimEnd(mask, start, len(mask))
	return d, true
}

func trimEnd(mask string, start, end int) int {
	for end > start && (mask[end-1] == ' ' || mask[end-1] == '\t' || mask[end-1] == '\n' || mask[end-1] == '\r') {
		end--
	}
	return end
}

// startsBody reports whether the '{' at i opens a declaration body rather
// than a set display or other expression.
func startsBody(mask string, i int) bool {
	j := i - 1
	for j >= 0 && isSpace(mask[j]) {
		j--
	}
	if j < 0 {
		return true
	}
	c := mask[j]
	if strings.IndexByte("=<>!+-*/%&|^:(,[{;.", c) >= 0 {
		return false
	}
	if isIdentByte(c) {
		k := j
		for k >= 0 && isIdentByte(mask[k]) {
			k--
		}
		if bodyOpeners[mask[k+1:j+1]] {
			return false
		}
	}
	return true
}

// isAttr reports whether the '{' at i opens an attribute such as {:axiom}.
func isAttr(mask string, i int) bool {
	j := i + 1
	for j < len(mask) && isSpace(mask[j]) {
		j++
	}
	return j < len(mask) && mask[j] == ':'
}

// matchBrace returns the offset just past the '}' matching the '{' at i.
func matchBrace(mask string, i int) int {
	depth := 0
	for ; i < len(mask); i++ {
		switch mask[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(mask)
}

func skipSpaceAndAttrs(mask string, i int) int {
	for i < len(mask) {
		switch {
		case isSpace(mask[i]):
			i++
		case mask[i] == '{' && isAttr(mask, i):
			i = matchBrace(mask, i)
		default:
			return i
		}
	}
	return i
}

func readIdent(s string, i *int) string {
	start := *i
	for *i < len(s) && isIdentByte(s[*i]) {
		*i++
	}
	return s[start:*i]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '\'' || c == '?' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c >= 0x80
}

// ElideProofBodies replaces the body of every lemma in src with an empty
// block, keeping names, parameters and contracts. Non-lemma declarations are
// left untouched, including function bodies, which carry definitions.
func ElideProofBodies(src string) string {
	decls := Scan(src)
	if len(decls) == 0 {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, d := range decls {
		if d.BodyStart < 0 {
			continue
		}
		b.WriteString(src[last:d.BodyStart])
		b.WriteString("{}")
		last = d.BodyEnd
	}
	b.WriteString(src[last:])
	return b.String()
}

// Names returns the lemma names declared in src, in source order.
func Names(src string) []string {
	decls := Scan(src)
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	return names
}
