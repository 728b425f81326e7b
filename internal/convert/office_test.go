package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func unavailableProbe() *Probe {
	p := NewProbe(ProbeOptions{})
	p.UseLookPath(func(string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	})
	return p
}

func availableProbe(path string) *Probe {
	p := NewProbe(ProbeOptions{})
	p.UseLookPath(func(string) (string, error) { return path, nil })
	return p
}

func TestOfficeWorkerFailsFastWithoutTool(t *testing.T) {
	w := NewOfficeWorker(unavailableProbe(), time.Second)
	w.UseRunner(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("tool must not be invoked when the probe reports it missing")
		return nil, nil
	})

	started := time.Now()
	_, err := w.Convert(context.Background(), Request{
		Data: []byte("PK\x03\x04"), Filename: "r.docx", TargetFormat: "pdf", Category: CategoryDoc,
	})
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Fatal("unavailable tool must fail fast, not hang")
	}
}

func TestOfficeWorkerRejectsNonPDFTargets(t *testing.T) {
	w := NewOfficeWorker(availableProbe("/usr/bin/soffice"), time.Second)
	_, err := w.Convert(context.Background(), Request{
		Data: []byte("PK\x03\x04"), Filename: "r.docx", TargetFormat: "svg", Category: CategoryDoc,
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOfficeWorkerRunsConverter(t *testing.T) {
	w := NewOfficeWorker(availableProbe("/usr/bin/soffice"), time.Second)

	var gotBin string
	var gotArgs []string
	w.UseRunner(func(_ context.Context, bin string, args ...string) ([]byte, error) {
		gotBin = bin
		gotArgs = args
		// The real soffice writes <input stem>.pdf into --outdir.
		inputPath := args[len(args)-1]
		outPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".pdf"
		if err := os.WriteFile(outPath, []byte("%PDF-1.7 fake"), 0o600); err != nil {
			return nil, err
		}
		return []byte("convert ok"), nil
	})

	res, err := w.Convert(context.Background(), Request{
		Data: []byte("PK\x03\x04 docx bytes"), Filename: "report.docx", TargetFormat: "pdf", Category: CategoryDoc,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.MIME != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", res.MIME)
	}
	if !strings.HasPrefix(string(res.Data), "%PDF") {
		t.Fatalf("expected pdf payload, got %q", res.Data)
	}
	if gotBin != "/usr/bin/soffice" {
		t.Fatalf("unexpected binary: %s", gotBin)
	}
	if len(gotArgs) == 0 || gotArgs[0] != "--headless" {
		t.Fatalf("expected headless invocation, got %v", gotArgs)
	}
}

func TestOfficeWorkerToolFailureIsWrapped(t *testing.T) {
	w := NewOfficeWorker(availableProbe("/usr/bin/soffice"), time.Second)
	w.UseRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Error: source file could not be loaded"), errors.New("exit status 1")
	})

	_, err := w.Convert(context.Background(), Request{
		Data: []byte("PK\x03\x04"), Filename: "r.docx", TargetFormat: "pdf", Category: CategoryDoc,
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrToolUnavailable) || errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("tool crash must not masquerade as admission/probe error: %v", err)
	}
	if !strings.Contains(err.Error(), "could not be loaded") {
		t.Fatalf("expected tool output in the error, got %v", err)
	}
}

func TestOfficeWorkerMissingOutputIsError(t *testing.T) {
	w := NewOfficeWorker(availableProbe("/usr/bin/soffice"), time.Second)
	w.UseRunner(func(context.Context, string, ...string) ([]byte, error) {
		// Exit 0 but produce nothing; soffice does this on some inputs.
		return []byte(""), nil
	})

	_, err := w.Convert(context.Background(), Request{
		Data: []byte("PK\x03\x04"), Filename: "r.docx", TargetFormat: "pdf", Category: CategoryDoc,
	})
	if err == nil || !strings.Contains(err.Error(), "produced no output") {
		t.Fatalf("expected missing-output error, got %v", err)
	}
}
