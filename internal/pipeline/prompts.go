package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/roach88/proofpipe/internal/ir"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Prompts renders the completion prompts.
//
// Thread-safety: safe for concurrent use (templates are read-only after parse).
type Prompts struct {
	system string
	tmpl   *template.Template
}

// LoadPrompts parses the embedded prompt templates.
func LoadPrompts() (*Prompts, error) {
	tmpl, err := template.ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	system, err := promptFS.ReadFile("prompts/system.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read system prompt: %w", err)
	}
	return &Prompts{system: strings.TrimSpace(string(system)), tmpl: tmpl}, nil
}

// System returns the system prompt shared by every request.
func (p *Prompts) System() string {
	return p.system
}

type formalizeData struct {
	Domain       string
	Requirements []ir.Requirement
}

type correctData struct {
	Domain      string
	Requirement ir.Requirement
	Previous    string
	Error       string
}

type synthesizeData struct {
	Domain        string
	RequirementID string
	Lemma         string
	Error         string
	PreviousBody  string
}

// Formalize renders the batch formalization prompt.
func (p *Prompts) Formalize(domain string, reqs []ir.Requirement) (string, error) {
	return p.render("formalize.tmpl", formalizeData{Domain: domain, Requirements: reqs})
}

// Correct renders the one-shot correction prompt. previous is the rendered
// failing signature, or empty when none was produced.
func (p *Prompts) Correct(domain string, req ir.Requirement, previous, errMsg string) (string, error) {
	return p.render("correct.tmpl", correctData{Domain: domain, Requirement: req, Previous: previous, Error: errMsg})
}

// Synthesize renders the proof synthesis prompt. previousBody is empty on
// the first attempt.
func (p *Prompts) Synthesize(domain, requirementID, lemmaText, errMsg, previousBody string) (string, error) {
	return p.render("synthesize.tmpl", synthesizeData{
		Domain:        domain,
		RequirementID: requirementID,
		Lemma:         lemmaText,
		Error:         errMsg,
		PreviousBody:  previousBody,
	})
}

func (p *Prompts) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
