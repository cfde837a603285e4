package mission

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// runVerify runs cmd as a shell command in workDir with a bounded
// deadline (spec.md §6.4). Output is stdout+stderr concatenated with a
// newline separator and trimmed; pass iff exit code zero and no launch
// error.
func runVerify(ctx context.Context, cmd, workDir string) (passed bool, output string) {
	callCtx, cancel := context.WithTimeout(ctx, VerifyDeadline)
	defer cancel()

	c := exec.CommandContext(callCtx, "sh", "-c", cmd)
	c.Dir = workDir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	combined := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(stdout.String()),
		strings.TrimSpace(stderr.String()),
	}, "\n"))

	return err == nil, combined
}
