// Package lemma renders signatures into Dafny lemma text and works with
// Dafny source at the declaration level.
//
// Rendering is the only place lemma text is produced. Everything downstream
// (soundness gate, verifier, obligations, stubs) sees the same text.
//
// The source scanner is deliberately shallow: it understands comments,
// string literals, attributes and brace nesting, which is enough to find
// lemma names and bodies. It is not a Dafny parser.
package lemma
