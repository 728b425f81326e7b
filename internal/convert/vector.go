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

// VectorWorker renders EPS/AI inputs to SVG or PNG via Inkscape.
type VectorWorker struct {
	probe   *Probe
	timeout time.Duration
	run     runFunc
}

func NewVectorWorker(probe *Probe, timeout time.Duration) *VectorWorker {
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	return &VectorWorker{probe: probe, timeout: timeout, run: runCommand}
}

// UseRunner allows tests to fake the tool invocation.
// Intended for test setup only.
func (w *VectorWorker) UseRunner(run runFunc) { w.run = run }

func (w *VectorWorker) Convert(ctx context.Context, req Request) (Result, error) {
	bin, ok := w.probe.Path(CategoryVector)
	if !ok {
		return Result{}, ErrToolUnavailable
	}

	var mime string
	switch req.TargetFormat {
	case "svg":
		mime = "image/svg+xml"
	case "png":
		mime = "image/png"
	default:
		return Result{}, fmt.Errorf("%w: vector conversions target svg or png, got %q", ErrUnsupportedFormat, req.TargetFormat)
	}

	workDir, err := os.MkdirTemp("", "fileforge-vector-")
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

	outputPath := filepath.Join(workDir, "output."+req.TargetFormat)
	output, err := w.run(runCtx, bin,
		"--export-type="+req.TargetFormat, "--export-filename="+outputPath, inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("vector renderer failed: %w: %s", err, outputTail(output))
	}
	req.report(90)

	data, err := os.ReadFile(outputPath) //nolint:gosec // path built from our own work dir
	if err != nil {
		return Result{}, fmt.Errorf("vector renderer produced no output: %w: %s", err, outputTail(output))
	}
	return Result{Data: data, MIME: mime}, nil
}
