package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/roach88/proofpipe/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigPath string
	Domain     string
}

// ValidationError is one problem found by validate.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Requirements int               `json:"requirements"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <requirements.yaml>",
		Short: "Check inputs without calling the model",
		Long: `Check a requirements file, the config and the domain source without
running the pipeline.

Requirements need unique non-empty ids and text. The config must pass its
field constraints. The domain source must exist and, when a module is
configured, declare it.

Exit codes:
  0 - Inputs valid
  1 - Validation failed
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to proofpipe.yaml")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "domain source file (overrides domain.path)")

	return cmd
}

func runValidate(opts *ValidateOptions, requirementsPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var result ValidationResult
	fail := func(field, code string, err error) {
		result.Errors = append(result.Errors, ValidationError{Field: field, Code: code, Message: err.Error()})
	}

	reqs, err := config.LoadRequirements(requirementsPath)
	if err != nil {
		fail("requirements", ErrCodeRequirements, err)
	} else {
		result.Requirements = len(reqs)
		formatter.VerboseLog("Found %d requirement(s) in %s", len(reqs), requirementsPath)
	}

	cfg, err := loadRunConfig(&RunOptions{ConfigPath: opts.ConfigPath, Domain: opts.Domain})
	if err != nil {
		fail("config", ErrCodeConfig, err)
	} else {
		for _, e := range validateDomain(cfg.Domain) {
			fail("domain", ErrCodeDomain, e)
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validateDomain checks the domain file exists and declares the module.
func validateDomain(d config.DomainConfig) []error {
	if d.Path == "" {
		return []error{fmt.Errorf("no domain source: set domain.path or pass --domain")}
	}
	src, err := os.ReadFile(d.Path)
	if err != nil {
		return []error{fmt.Errorf("failed to read domain source: %w", err)}
	}
	if d.Module != "" {
		decl := regexp.MustCompile(`(?m)^\s*module\s+` + regexp.QuoteMeta(d.Module) + `\b`)
		if !decl.Match(src) {
			return []error{fmt.Errorf("%s does not declare module %s", d.Path, d.Module)}
		}
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d requirement(s) valid\n", result.Requirements)
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
