package completion

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schemas.cue
var schemaSource string

// Schema is one CUE definition a response must satisfy.
type Schema struct {
	// Name is the definition name, e.g. "#Signature".
	Name string

	// Source is the definition's CUE text, shown to the model in prompts.
	Source string

	value cue.Value
}

// SchemaSet holds the compiled response schemas.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so all
// validation goes through a mutex.
type SchemaSet struct {
	mu  sync.Mutex
	ctx *cue.Context

	Signature      *Schema
	SignatureBatch *Schema
	ProofBody      *Schema
}

// LoadSchemas compiles the embedded response schemas.
func LoadSchemas() (*SchemaSet, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schemas.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	set := &SchemaSet{ctx: ctx}
	for _, s := range []struct {
		name string
		dst  **Schema
	}{
		{"#Signature", &set.Signature},
		{"#SignatureBatch", &set.SignatureBatch},
		{"#ProofBody", &set.ProofBody},
	} {
		v := root.LookupPath(cue.ParsePath(s.name))
		if !v.Exists() {
			return nil, fmt.Errorf("schema %s not defined", s.name)
		}
		*s.dst = &Schema{Name: s.name, Source: definitionSource(schemaSource, s.name), value: v}
	}
	return set, nil
}

// Validate checks data against schema and decodes it into out.
// A validation failure is returned as *SchemaError listing every problem.
func (s *SchemaSet) Validate(schema *Schema, data []byte, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr, err := cuejson.Extract(schema.Name, data)
	if err != nil {
		return &SchemaError{Schema: schema.Name, Problems: []string{"invalid JSON: " + err.Error()}, Raw: string(data)}
	}
	v := s.ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return &SchemaError{Schema: schema.Name, Problems: problems(err), Raw: string(data)}
	}

	unified := schema.value.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Schema: schema.Name, Problems: problems(err), Raw: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := unified.Decode(out); err != nil {
		return &SchemaError{Schema: schema.Name, Problems: []string{"decode: " + err.Error()}, Raw: string(data)}
	}
	return nil
}

func problems(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// definitionSource cuts one top-level definition out of the schema file.
// Definitions start at column 0 and end with a closing brace at column 0.
func definitionSource(src, name string) string {
	start := strings.Index(src, "\n"+name+":")
	if start < 0 {
		return ""
	}
	start++
	end := strings.Index(src[start:], "\n}")
	if end < 0 {
		return src[start:]
	}
	return src[start : start+end+2]
}

// SchemaError reports a response that does not satisfy its schema.
type SchemaError struct {
	Schema   string
	Problems []string
	Raw      string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response does not match %s: %s", e.Schema, strings.Join(e.Problems, "; "))
}
