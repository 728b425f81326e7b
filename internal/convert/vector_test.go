package convert

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestVectorWorkerFailsFastWithoutTool(t *testing.T) {
	w := NewVectorWorker(unavailableProbe(), time.Second)
	w.UseRunner(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("tool must not be invoked when the probe reports it missing")
		return nil, nil
	})

	for i := 0; i < 2; i++ {
		_, err := w.Convert(context.Background(), Request{
			Data: []byte("%!PS-Adobe-3.0"), Filename: "logo.eps", TargetFormat: "svg", Category: CategoryVector,
		})
		if !errors.Is(err, ErrToolUnavailable) {
			t.Fatalf("attempt %d: expected ErrToolUnavailable, got %v", i+1, err)
		}
	}
}

func TestVectorWorkerTargets(t *testing.T) {
	cases := []struct {
		target string
		mime   string
	}{
		{"svg", "image/svg+xml"},
		{"png", "image/png"},
	}
	for _, tc := range cases {
		w := NewVectorWorker(availableProbe("/usr/bin/inkscape"), time.Second)
		w.UseRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
			for _, arg := range args {
				if path, ok := strings.CutPrefix(arg, "--export-filename="); ok {
					return nil, os.WriteFile(path, []byte("rendered-"+tc.target), 0o600)
				}
			}
			return nil, errors.New("no export path in args")
		})

		res, err := w.Convert(context.Background(), Request{
			Data: []byte("%!PS-Adobe-3.0"), Filename: "logo.eps", TargetFormat: tc.target, Category: CategoryVector,
		})
		if err != nil {
			t.Fatalf("convert to %s: %v", tc.target, err)
		}
		if res.MIME != tc.mime {
			t.Fatalf("convert to %s: expected %s, got %s", tc.target, tc.mime, res.MIME)
		}
		if string(res.Data) != "rendered-"+tc.target {
			t.Fatalf("convert to %s: unexpected payload %q", tc.target, res.Data)
		}
	}
}

func TestVectorWorkerUnknownTarget(t *testing.T) {
	w := NewVectorWorker(availableProbe("/usr/bin/inkscape"), time.Second)
	_, err := w.Convert(context.Background(), Request{
		Data: []byte("%!PS-Adobe-3.0"), Filename: "logo.eps", TargetFormat: "pdf", Category: CategoryVector,
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestVectorWorkerToolFailureIsWrapped(t *testing.T) {
	w := NewVectorWorker(availableProbe("/usr/bin/inkscape"), time.Second)
	w.UseRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("inkscape: unable to parse input"), errors.New("exit status 1")
	})

	_, err := w.Convert(context.Background(), Request{
		Data: []byte("garbage"), Filename: "logo.eps", TargetFormat: "svg", Category: CategoryVector,
	})
	if err == nil || !strings.Contains(err.Error(), "unable to parse") {
		t.Fatalf("expected wrapped tool error, got %v", err)
	}
}
