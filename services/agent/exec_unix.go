//go:build !windows

package agent

import (
	"context"
	"os/exec"
	"strings"
)

func runCommand(ctx context.Context, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "sh", "-c", command).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
