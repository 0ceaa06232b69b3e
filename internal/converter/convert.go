package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result is what a finished conversion reports back to its caller. On
// failure Detail carries the engine's stderr verbatim.
type Result struct {
	OutputPath string
	Detail     string
	Err        error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) (stderr string, err error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stderr.String()), err
}

// Option configures the converter.
type Option func(*Converter)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(c *Converter) {
		if e != nil {
			c.exec = e
		}
	}
}

// Converter wraps headless LibreOffice invocations. One call converts one
// spreadsheet to PDF in the output directory, blocking until the engine
// exits.
type Converter struct {
	binary  string
	outDir  string
	timeout time.Duration
	exec    Executor
}

func New(binary, outDir string, timeout time.Duration, opts ...Option) (*Converter, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("converter binary required")
	}
	c := &Converter{
		binary:  binary,
		outDir:  outDir,
		timeout: timeout,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OutputName derives the PDF name from a spreadsheet name by replacing the
// ".xlsx" substring. Inputs without it pass through unchanged: the caller
// gets the input name back and the engine's real output is never found.
func OutputName(input string) string {
	return strings.Replace(input, ".xlsx", ".pdf", 1)
}

// Convert runs the engine against inputPath. When options are supplied they
// are composed into a calc PDF export filter instead of the plain target.
// A non-zero exit yields an error Result carrying the captured stderr.
func (c *Converter) Convert(ctx context.Context, inputPath, options string) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := "pdf"
	if options != "" {
		target = fmt.Sprintf("pdf:calc_pdf_Export:%s", options)
	}
	args := []string{"--headless", "--convert-to", target, inputPath, "--outdir", c.outDir}

	stderr, err := c.exec.Run(ctx, c.binary, args)
	out := filepath.Join(c.outDir, OutputName(filepath.Base(inputPath)))
	if err != nil {
		return Result{
			OutputPath: out,
			Detail:     stderr,
			Err:        fmt.Errorf("conversion engine failed: %w", err),
		}
	}
	return Result{OutputPath: out}
}
