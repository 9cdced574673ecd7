package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"rmcloud/internal/logging"
)

var commandContext = exec.CommandContext

const (
	// MaxDiagnosticBytes bounds the stderr text kept from one run.
	MaxDiagnosticBytes = 64 << 10
	defaultTimeout     = 2 * time.Minute
	waitDelay          = 2 * time.Second
)

// ErrUnsupported reports a conversion request while no converter is configured.
var ErrUnsupported = errors.New("conversion not configured")

// Job is one conversion request.
type Job struct {
	Input      []byte
	DocumentID string
	Version    int
	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Runner executes the configured converter command.
type Runner struct {
	argv    []string
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.NewComponentLogger(logger, "convert")
	}
}

// WithTempDir places per-job scratch directories under dir instead of os.TempDir.
func WithTempDir(dir string) Option {
	return func(r *Runner) {
		r.tempDir = strings.TrimSpace(dir)
	}
}

// NewRunner builds a runner for command. An empty command yields a disabled runner.
func NewRunner(command string, timeout time.Duration, opts ...Option) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Runner{
		argv:    strings.Fields(command),
		timeout: timeout,
		logger:  logging.NewComponentLogger(nil, "convert"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a converter command is configured.
func (r *Runner) Enabled() bool {
	return r != nil && len(r.argv) > 0
}

// Command returns the configured executable, or "" when disabled.
func (r *Runner) Command() string {
	if !r.Enabled() {
		return ""
	}
	return r.argv[0]
}

// Timeout returns the default execution ceiling.
func (r *Runner) Timeout() time.Duration {
	if r == nil {
		return 0
	}
	return r.timeout
}

// Convert runs the converter on job.Input and returns its stdout. Converter
// faults are returned as *Failure. Caller cancellation returns an error
// wrapping ctx.Err(). Scratch files are removed on every path.
func (r *Runner) Convert(ctx context.Context, job Job) ([]byte, error) {
	if !r.Enabled() {
		return nil, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("convert %s: %w", label(job), err)
	}

	scratch, err := os.MkdirTemp(r.tempDir, "rmcloud-convert-*")
	if err != nil {
		return nil, r.fail(job, -1, "", false, fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	inputPath := filepath.Join(scratch, inputName(job))
	if err := os.WriteFile(inputPath, job.Input, 0o600); err != nil {
		return nil, r.fail(job, -1, "", false, fmt.Errorf("write input: %w", err))
	}

	timeout := r.timeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), r.argv[1:]...), inputPath)
	cmd := commandContext(runCtx, r.argv[0], args...) //nolint:gosec
	cmd.Dir = scratch
	cmd.WaitDelay = waitDelay
	var stdout bytes.Buffer
	stderr := &boundedBuffer{limit: MaxDiagnosticBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, r.fail(job, -1, "", false, fmt.Errorf("start %s: %w", r.argv[0], err))
	}
	runErr := cmd.Wait()
	elapsed := time.Since(started)
	diagnostic := strings.TrimSpace(stderr.String())

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("convert %s: %w", label(job), ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, r.fail(job, -1, diagnostic, true, fmt.Errorf("exceeded %s", timeout))
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, r.fail(job, exitCode, diagnostic, false, runErr)
	}
	if stdout.Len() == 0 {
		return nil, r.fail(job, 0, diagnostic, false, errors.New("converter produced empty output"))
	}

	r.logger.Debug("conversion complete",
		logging.String(logging.FieldDocumentID, job.DocumentID),
		logging.Int(logging.FieldVersion, job.Version),
		logging.Int("input_bytes", len(job.Input)),
		logging.Int("output_bytes", stdout.Len()),
		logging.Duration("elapsed", elapsed),
	)
	return stdout.Bytes(), nil
}

func (r *Runner) fail(job Job, exitCode int, diagnostic string, timedOut bool, cause error) *Failure {
	failure := &Failure{
		DocumentID: job.DocumentID,
		Version:    job.Version,
		ExitCode:   exitCode,
		Diagnostic: diagnostic,
		TimedOut:   timedOut,
		Err:        cause,
	}
	logging.WarnWithContext(r.logger, "conversion failed", "convert_failed",
		logging.String(logging.FieldDocumentID, job.DocumentID),
		logging.Int(logging.FieldVersion, job.Version),
		logging.Int("exit_code", exitCode),
		logging.Bool("timed_out", timedOut),
		logging.String("diagnostic", Truncate(diagnostic, 2048)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "run the converter command manually on the downloaded archive"),
		logging.String(logging.FieldImpact, "converted download unavailable for this document"),
	)
	return failure
}

func label(job Job) string {
	return fmt.Sprintf("%s@%d", job.DocumentID, job.Version)
}

// inputName keeps the document attribution in the scratch file name when the
// id is path-safe.
func inputName(job Job) string {
	id := job.DocumentID
	if id == "" || strings.ContainsAny(id, "./\\\x00") || len(id) > 200 {
		return "document.zip"
	}
	return fmt.Sprintf("%s.%d.zip", id, job.Version)
}

// boundedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes so the child never blocks on stderr.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[truncated]"
	}
	return b.buf.String()
}
