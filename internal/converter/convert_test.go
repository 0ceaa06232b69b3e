package converter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type fakeExecutor struct {
	binary string
	args   []string
	stderr string
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string) (string, error) {
	f.binary = binary
	f.args = args
	return f.stderr, f.err
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.xlsx", "report.pdf"},
		{"q1 totals.xlsx", "q1 totals.pdf"},
		// no .xlsx substring: derivation silently passes the name through
		{"report.ods", "report.ods"},
		{"report", "report"},
	}
	for _, c := range cases {
		if got := OutputName(c.in); got != c.want {
			t.Errorf("OutputName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestConvertDefaultTarget(t *testing.T) {
	exec := &fakeExecutor{}
	conv, err := New("libreoffice", "/shared", 0, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}

	res := conv.Convert(context.Background(), "/shared/report.xlsx", "")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if exec.binary != "libreoffice" {
		t.Fatalf("unexpected binary: %s", exec.binary)
	}
	want := []string{"--headless", "--convert-to", "pdf", "/shared/report.xlsx", "--outdir", "/shared"}
	if len(exec.args) != len(want) {
		t.Fatalf("args = %v, want %v", exec.args, want)
	}
	for i := range want {
		if exec.args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, exec.args[i], want[i])
		}
	}
	if res.OutputPath != filepath.Join("/shared", "report.pdf") {
		t.Fatalf("unexpected output path: %s", res.OutputPath)
	}
}

func TestConvertWithOptionsUsesExportFilter(t *testing.T) {
	exec := &fakeExecutor{}
	conv, err := New("libreoffice", "/shared", 0, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}

	conv.Convert(context.Background(), "/shared/report.xlsx", `{"PageRange":{"type":"string","value":"1"}}`)
	if exec.args[2] != `pdf:calc_pdf_Export:{"PageRange":{"type":"string","value":"1"}}` {
		t.Fatalf("unexpected convert target: %s", exec.args[2])
	}
}

func TestConvertEngineFailureCarriesStderr(t *testing.T) {
	exec := &fakeExecutor{stderr: "Error: source file could not be loaded", err: errors.New("exit status 1")}
	conv, err := New("libreoffice", "/shared", 0, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}

	res := conv.Convert(context.Background(), "/shared/report.xlsx", "")
	if res.Err == nil {
		t.Fatalf("expected error result")
	}
	if res.Detail != "Error: source file could not be loaded" {
		t.Fatalf("stderr not carried verbatim: %q", res.Detail)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New("  ", "/shared", 0); err == nil {
		t.Fatalf("expected error for empty binary")
	}
}
