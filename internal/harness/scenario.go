package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/testutil"
	"github.com/roach88/proofpipe/internal/verifier"
)

// Scenario defines a pipeline conformance scenario.
// A scenario runs the real orchestrator against a scripted model and a
// scripted verifier, then asserts on the dispositions, trails and calls.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run id. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Domain is the domain source the lemmas are stated against.
	Domain DomainSpec `yaml:"domain"`

	// Requirements are the pipeline input, in order.
	Requirements []ir.Requirement `yaml:"requirements"`

	// Model lists scripted model replies, queued in order per (purpose, key).
	Model []ModelStep `yaml:"model"`

	// Verifier lists verdict rules, first match wins.
	Verifier []testutil.VerifierRule `yaml:"verifier,omitempty"`

	// Options tunes the orchestrator.
	Options Options `yaml:"options,omitempty"`

	// Assertions validate the run.
	Assertions []Assertion `yaml:"assertions"`
}

// DomainSpec is the scenario's domain.
type DomainSpec struct {
	Path   string `yaml:"path,omitempty"`
	Module string `yaml:"module,omitempty"`
	Source string `yaml:"source"`

	// File loads Source from a file, relative to the scenario file.
	File string `yaml:"file,omitempty"`
}

// Options mirrors the orchestrator options a scenario may set.
type Options struct {
	Concurrency   int           `yaml:"concurrency,omitempty"`
	EraseProofs   bool          `yaml:"erase_proofs,omitempty"`
	Reformalize   *bool         `yaml:"reformalize,omitempty"`
	Phase2Timeout time.Duration `yaml:"phase2_timeout,omitempty"`
}

// ModelStep is one scripted model reply. Exactly one of Signatures,
// Signature, Body, Text or Error must be set.
type ModelStep struct {
	Purpose completion.Purpose `yaml:"purpose"`

	// Key is the requirement id. Empty for the batch formalization prompt,
	// "*" for any key.
	Key string `yaml:"key,omitempty"`

	Signatures []SignatureSpec `yaml:"signatures,omitempty"` // a formalization batch
	Signature  *SignatureSpec  `yaml:"signature,omitempty"`  // a correction
	Body       *string         `yaml:"body,omitempty"`       // a proof body for Key
	Text       string          `yaml:"text,omitempty"`       // raw reply text
	Error      string          `yaml:"error,omitempty"`      // transport failure
}

// SignatureSpec is a signature as written in scenario YAML.
type SignatureSpec struct {
	RequirementID string   `yaml:"requirement_id"`
	Name          string   `yaml:"name"`
	Params        string   `yaml:"params,omitempty"`
	Requires      []string `yaml:"requires,omitempty"`
	Ensures       string   `yaml:"ensures"`
}

// Signature converts s to an ir.Signature.
func (s SignatureSpec) Signature() ir.Signature {
	return ir.Signature{
		RequirementID: s.RequirementID,
		Name:          s.Name,
		Params:        s.Params,
		Requires:      s.Requires,
		Ensures:       s.Ensures,
	}
}

// Response renders the step as a scripted model response.
func (m ModelStep) Response() testutil.Response {
	switch {
	case m.Error != "":
		return testutil.Response{Err: errors.New(m.Error)}
	case len(m.Signatures) > 0:
		sigs := make([]ir.Signature, len(m.Signatures))
		for i, s := range m.Signatures {
			sigs[i] = s.Signature()
		}
		return testutil.Response{Text: testutil.SignatureBatchJSON(sigs...)}
	case m.Signature != nil:
		return testutil.Response{Text: testutil.SignatureJSON(m.Signature.Signature())}
	case m.Body != nil:
		return testutil.Response{Text: testutil.ProofJSON(m.Key, *m.Body)}
	default:
		return testutil.Response{Text: m.Text}
	}
}

// Assertion type constants.
const (
	AssertDisposition   = "disposition"    // requirement ended with disposition
	AssertStages        = "stages"         // requirement's trail stages, in order
	AssertObligation    = "obligation"     // obligation stage and error substring
	AssertModelCalls    = "model_calls"    // prompts received for (purpose, key)
	AssertVerifierCalls = "verifier_calls" // verifier calls for (mode, lemma)
	AssertStored        = "stored"         // run read back from the store matches
)

// Assertion validates one aspect of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Requirement is the requirement id (disposition, stages, obligation, stored).
	Requirement string `yaml:"requirement,omitempty"`

	// Disposition is the expected disposition (disposition, stored).
	Disposition ir.Disposition `yaml:"disposition,omitempty"`

	// Stages is the expected trail stage sequence (stages).
	Stages []ir.Stage `yaml:"stages,omitempty"`

	// Stage is the expected obligation stage (obligation).
	Stage ir.Stage `yaml:"stage,omitempty"`

	// ErrorContains must appear in the obligation error (obligation).
	ErrorContains string `yaml:"error_contains,omitempty"`

	// Purpose and Key select model prompts (model_calls).
	Purpose completion.Purpose `yaml:"purpose,omitempty"`
	Key     string             `yaml:"key,omitempty"`

	// Mode and Lemma select verifier calls (verifier_calls). An empty
	// Lemma counts batch calls.
	Mode  verifier.Mode `yaml:"mode,omitempty"`
	Lemma string        `yaml:"lemma,omitempty"`

	// Count is the expected call count (model_calls, verifier_calls).
	Count int `yaml:"count"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Domain.File != "" {
		domainPath := scenario.Domain.File
		if !filepath.IsAbs(domainPath) {
			domainPath = filepath.Join(filepath.Dir(path), domainPath)
		}
		src, err := os.ReadFile(domainPath)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: domain file: %w", err)
		}
		scenario.Domain.Source = string(src)
		if scenario.Domain.Path == "" {
			scenario.Domain.Path, _ = filepath.Abs(domainPath)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Requirements) == 0 {
		return fmt.Errorf("requirements list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Requirements))
	for i, r := range s.Requirements {
		if r.ID == "" || r.Text == "" {
			return fmt.Errorf("requirements[%d]: id and text are required", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("requirements[%d]: duplicate id %q", i, r.ID)
		}
		ids[r.ID] = true
	}

	for i, m := range s.Model {
		if err := validateModelStep(i, m); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, ids); err != nil {
			return err
		}
	}
	return nil
}

func validateModelStep(index int, m ModelStep) error {
	switch m.Purpose {
	case completion.PurposeFormalize, completion.PurposeCorrect, completion.PurposeSynthesize:
	default:
		return fmt.Errorf("model[%d]: unknown purpose %q", index, m.Purpose)
	}

	set := 0
	for _, present := range []bool{len(m.Signatures) > 0, m.Signature != nil, m.Body != nil, m.Text != "", m.Error != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("model[%d]: exactly one of signatures, signature, body, text or error is required", index)
	}
	if m.Body != nil && (m.Key == "" || m.Key == "*") {
		return fmt.Errorf("model[%d]: body requires a requirement key", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, ids map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needsRequirement := func() error {
		if a.Requirement == "" {
			return fmt.Errorf("assertions[%d]: requirement is required for %s", index, a.Type)
		}
		if !ids[a.Requirement] {
			return fmt.Errorf("assertions[%d]: unknown requirement %q", index, a.Requirement)
		}
		return nil
	}

	switch a.Type {
	case AssertDisposition, AssertStored:
		if err := needsRequirement(); err != nil {
			return err
		}
		if !a.Disposition.IsTerminal() {
			return fmt.Errorf("assertions[%d]: disposition must be one of %v", index, ir.AllDispositions)
		}
	case AssertStages:
		if err := needsRequirement(); err != nil {
			return err
		}
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for stages", index)
		}
	case AssertObligation:
		if err := needsRequirement(); err != nil {
			return err
		}
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for obligation", index)
		}
	case AssertModelCalls:
		if a.Purpose == "" {
			return fmt.Errorf("assertions[%d]: purpose is required for model_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for model_calls", index)
		}
	case AssertVerifierCalls:
		if a.Mode == "" {
			return fmt.Errorf("assertions[%d]: mode is required for verifier_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for verifier_calls", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
