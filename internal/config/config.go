// Package config loads proofpipe.yaml and the requirements file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
	"github.com/roach88/proofpipe/internal/verifier"
)

// Config is the full proofpipe configuration.
type Config struct {
	Completion CompletionConfig `yaml:"completion"`
	Verifier   VerifierConfig   `yaml:"verifier"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Domain     DomainConfig     `yaml:"domain"`
	Store      StoreConfig      `yaml:"store"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// CompletionConfig configures the OpenAI-compatible completion service.
type CompletionConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKeyEnv         string        `yaml:"api_key_env" validate:"required"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// VerifierConfig configures the Dafny subprocess.
type VerifierConfig struct {
	Binary                string        `yaml:"binary" validate:"required"`
	WorkDir               string        `yaml:"work_dir"`
	Timeout               time.Duration `yaml:"timeout" validate:"gt=0"`
	VerificationTimeLimit int           `yaml:"verification_time_limit" validate:"gte=0"`
	ExtraArgs             []string      `yaml:"extra_args"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	Concurrency                  int           `yaml:"concurrency" validate:"gte=1,lte=32"`
	EraseProofsInPhase2          bool          `yaml:"erase_proofs_in_phase2"`
	ReformalizeOnMajorityFailure bool          `yaml:"reformalize_on_majority_failure"`
	Phase2Timeout                time.Duration `yaml:"phase2_timeout" validate:"gte=0"`
}

// DomainConfig names the domain source file and its module.
type DomainConfig struct {
	Path   string `yaml:"path"`
	Module string `yaml:"module"`
}

// StoreConfig configures the run ledger.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// MetricsConfig configures the metrics textfile export.
// An empty Textfile disables the export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Completion: CompletionConfig{
			Model:       "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		},
		Verifier: VerifierConfig{
			Binary:  "dafny",
			Timeout: 2 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Concurrency:                  4,
			ReformalizeOnMajorityFailure: true,
		},
		Store: StoreConfig{Path: "proofpipe.db"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a config file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OpenAI returns the completion model configuration. The API key is read
// from the configured environment variable.
func (c Config) OpenAI() completion.OpenAIConfig {
	return completion.OpenAIConfig{
		BaseURL:           c.Completion.BaseURL,
		APIKey:            os.Getenv(c.Completion.APIKeyEnv),
		Model:             c.Completion.Model,
		Temperature:       float32(c.Completion.Temperature),
		MaxTokens:         c.Completion.MaxTokens,
		Timeout:           c.Completion.Timeout,
		RequestsPerSecond: c.Completion.RequestsPerSecond,
	}
}

// Dafny returns the verifier configuration.
func (c Config) Dafny() verifier.DafnyConfig {
	return verifier.DafnyConfig{
		Binary:                c.Verifier.Binary,
		WorkDir:               c.Verifier.WorkDir,
		Timeout:               c.Verifier.Timeout,
		VerificationTimeLimit: c.Verifier.VerificationTimeLimit,
		ExtraArgs:             c.Verifier.ExtraArgs,
	}
}

// RequirementsFile is the on-disk requirements list.
type RequirementsFile struct {
	Requirements []ir.Requirement `yaml:"requirements" validate:"required,min=1,unique=ID,dive"`
}

// LoadRequirements reads a requirements YAML file. Ids must be non-empty
// and unique; every requirement needs text.
func LoadRequirements(path string) ([]ir.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements file: %w", err)
	}
	reqs, err := ParseRequirements(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// ParseRequirements decodes and validates a requirements document.
func ParseRequirements(data []byte) ([]ir.Requirement, error) {
	var f RequirementsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid requirements: %w", err)
	}
	return f.Requirements, nil
}

// ResolvePath makes path absolute relative to base, leaving absolute and
// empty paths alone. Candidate files include the domain by absolute path.
func ResolvePath(base, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	abs, err := filepath.Abs(filepath.Join(base, path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
