package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// CandidateFile is the name temp files are reported under in Result.Output,
// so messages do not depend on where the temp file happened to live.
const CandidateFile = "candidate.dfy"

// DafnyConfig configures the Dafny CLI.
type DafnyConfig struct {
	// Binary is the dafny executable. Default "dafny".
	Binary string

	// WorkDir is where candidate files are written. Default os.TempDir().
	WorkDir string

	// Timeout bounds each invocation. Default 2m.
	Timeout time.Duration

	// VerificationTimeLimit is passed as --verification-time-limit (seconds).
	// Zero leaves Dafny's default.
	VerificationTimeLimit int

	// ExtraArgs are appended to every invocation before the file name.
	ExtraArgs []string
}

// Dafny runs the dafny CLI as a subprocess.
//
// Each call writes the source to its own temp file, so calls may run
// concurrently.
type Dafny struct {
	cfg    DafnyConfig
	logger *slog.Logger
}

// NewDafny creates a Dafny verifier. A nil logger means slog.Default().
func NewDafny(cfg DafnyConfig, logger *slog.Logger) *Dafny {
	if cfg.Binary == "" {
		cfg.Binary = "dafny"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dafny{cfg: cfg, logger: logger}
}

// TypeCheck implements Verifier using `dafny resolve`.
func (d *Dafny) TypeCheck(ctx context.Context, source string) (Result, error) {
	return d.run(ctx, ModeTypeCheck, source, []string{"resolve"}, false)
}

// Verify implements Verifier using `dafny verify`.
func (d *Dafny) Verify(ctx context.Context, source string, opts Options) (Result, error) {
	args := []string{"verify"}
	if d.cfg.VerificationTimeLimit > 0 {
		args = append(args, "--verification-time-limit", strconv.Itoa(d.cfg.VerificationTimeLimit))
	}
	if opts.TreatWarningsAsErrors {
		args = append(args, "--warn-as-errors")
	}
	return d.run(ctx, ModeVerify, source, args, opts.TreatWarningsAsErrors)
}

func (d *Dafny) run(ctx context.Context, mode Mode, source string, args []string, strict bool) (Result, error) {
	f, err := os.CreateTemp(d.cfg.WorkDir, "proofpipe-*.dfy")
	if err != nil {
		return Result{}, fmt.Errorf("dafny %s: create temp file: %w", mode, err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(source); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("dafny %s: write temp file: %w", mode, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("dafny %s: close temp file: %w", mode, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	argv := append(append(args, d.cfg.ExtraArgs...), path)
	cmd := exec.CommandContext(timeoutCtx, d.cfg.Binary, argv...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// Own process group, so a timeout also kills the solver children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if timeoutCtx.Err() != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("dafny %s: %w", mode, ctx.Err())
		}
		return Result{}, fmt.Errorf("dafny %s: timed out after %s: %w", mode, d.cfg.Timeout, context.DeadlineExceeded)
	}

	res := Result{
		Output:   strings.TrimSpace(strings.ReplaceAll(out.String(), path, CandidateFile)),
		Duration: elapsed,
	}
	res.Warnings = ParseWarnings(res.Output)

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.OK = true
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return Result{}, fmt.Errorf("dafny %s: %w", mode, runErr)
	}
	if strict && len(res.Warnings) > 0 {
		res.OK = false
	}

	d.logger.Debug("dafny finished",
		"mode", mode,
		"ok", res.OK,
		"exit_code", res.ExitCode,
		"warnings", len(res.Warnings),
		"duration", elapsed)
	return res, nil
}

// ParseWarnings returns the lines of verifier output that report warnings.
func ParseWarnings(output string) []string {
	var warnings []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, ": Warning:") || strings.HasPrefix(line, "Warning:") {
			warnings = append(warnings, line)
		}
	}
	return warnings
}

// Message returns the diagnostic text of a failed result: every error and
// warning line, or the whole output when the verifier printed neither.
func Message(res Result) string {
	var lines []string
	for _, line := range strings.Split(res.Output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, ": Error:") || strings.HasPrefix(line, "Error:") ||
			strings.Contains(line, ": Warning:") || strings.HasPrefix(line, "Warning:") {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if res.Output == "" {
		return fmt.Sprintf("verifier exited with code %d", res.ExitCode)
	}
	return res.Output
}
