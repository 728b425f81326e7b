package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	fileutil "fileforge/internal/file"
)

const defaultConvertTimeout = 2 * time.Minute

// OfficeWorker converts office documents by shelling out to a headless
// LibreOffice. The probe runs first so a missing binary fails fast instead of
// hanging the request.
type OfficeWorker struct {
	probe   *Probe
	timeout time.Duration
	run     runFunc
}

func NewOfficeWorker(probe *Probe, timeout time.Duration) *OfficeWorker {
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	return &OfficeWorker{probe: probe, timeout: timeout, run: runCommand}
}

// UseRunner allows tests to fake the tool invocation.
// Intended for test setup only.
func (w *OfficeWorker) UseRunner(run runFunc) { w.run = run }

func (w *OfficeWorker) Convert(ctx context.Context, req Request) (Result, error) {
	bin, ok := w.probe.Path(CategoryDoc)
	if !ok {
		return Result{}, ErrToolUnavailable
	}
	if req.TargetFormat != "pdf" {
		return Result{}, fmt.Errorf("%w: doc conversions only target pdf, got %q", ErrUnsupportedFormat, req.TargetFormat)
	}

	workDir, err := os.MkdirTemp("", "fileforge-doc-")
	if err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input"+strings.ToLower(filepath.Ext(req.Filename)))
	if err := fileutil.WriteFileAtomic(inputPath, req.Data); err != nil {
		return Result{}, fmt.Errorf("stage input: %w", err)
	}
	req.report(40)

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	output, err := w.run(runCtx, bin,
		"--headless", "--convert-to", "pdf", "--outdir", workDir, inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("office converter failed: %w: %s", err, outputTail(output))
	}
	req.report(90)

	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".pdf"
	data, err := os.ReadFile(outputPath) //nolint:gosec // path built from our own work dir
	if err != nil {
		return Result{}, fmt.Errorf("office converter produced no output: %w: %s", err, outputTail(output))
	}
	return Result{Data: data, MIME: "application/pdf"}, nil
}
