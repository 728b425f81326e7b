package convert

import (
	"bytes"
	"context"
	"os/exec"
)

// runFunc executes an external binary and returns its combined output.
// Extracted so worker tests can fake tool invocations.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).CombinedOutput() //nolint:gosec // bin resolved by the probe, args are built internally
}

// outputTail trims tool output to a single line suitable for an error message.
func outputTail(output []byte) string {
	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		return ""
	}
	lines := bytes.Split(output, []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	const maxLen = 200
	if len(last) > maxLen {
		last = last[:maxLen]
	}
	return string(last)
}
